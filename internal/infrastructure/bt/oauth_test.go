package bt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestOAuth(t *testing.T, handler http.HandlerFunc) *OAuth {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewOAuth(OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      "https://auth.bt.test/oauth/authorize",
		TokenURL:     srv.URL + "/oauth/token",
		RedirectURI:  "https://app.test/bt/callback",
		Timeout:      2 * time.Second,
	})
}

func writeToken(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(body))
}

func TestAuthorizationURL(t *testing.T) {
	o := newTestOAuth(t, func(w http.ResponseWriter, r *http.Request) {})

	raw := o.AuthorizationURL("consent-1", "state-1", "nonce-1", "challenge-1")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "auth.bt.test", u.Host)
	assert.Equal(t, "/oauth/authorize", u.Path)

	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "https://app.test/bt/callback", q.Get("redirect_uri"))
	assert.Equal(t, "AIS:consent-1", q.Get("scope"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "nonce-1", q.Get("nonce"))
	assert.Equal(t, "challenge-1", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Empty(t, q.Get("client_secret"))
}

func TestExchange(t *testing.T) {
	o := newTestOAuth(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "code-1", r.PostForm.Get("code"))
		assert.Equal(t, "verifier-1", r.PostForm.Get("code_verifier"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "https://app.test/bt/callback", r.PostForm.Get("redirect_uri"))

		writeToken(w, `{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600}`)
	})

	tok, err := o.Exchange(context.Background(), "code-1", "verifier-1")
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok.AccessToken)
	assert.Equal(t, "rt-1", tok.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)
}

func TestExchange_Rejected(t *testing.T) {
	o := newTestOAuth(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	})

	_, err := o.Exchange(context.Background(), "bad", "verifier")
	var re *oauth2.RetrieveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadRequest, re.Response.StatusCode)
}

func TestRefresh(t *testing.T) {
	o := newTestOAuth(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-old", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))

		writeToken(w, `{"access_token":"at-new","token_type":"Bearer","expires_in":600}`)
	})

	tok, err := o.Refresh(context.Background(), "rt-old")
	require.NoError(t, err)
	assert.Equal(t, "at-new", tok.AccessToken)
	// not rotated by the server, so the old refresh token is carried over
	assert.Equal(t, "rt-old", tok.RefreshToken)
}

func TestRefresh_Failure(t *testing.T) {
	o := newTestOAuth(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := o.Refresh(context.Background(), "rt-revoked")
	assert.Error(t, err)
}
