package bt

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURI  string
	Timeout      time.Duration
}

// OAuth drives the authorization code flow with PKCE against the BT
// authorization server. Client credentials travel in the form body.
type OAuth struct {
	config     *oauth2.Config
	httpClient *http.Client
}

var _ OAuthInterface = (*OAuth)(nil)

func NewOAuth(cfg OAuthConfig) *OAuth {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &OAuth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// AuthorizationURL builds the browser redirect that asks the user to approve
// the consent at the bank.
func (o *OAuth) AuthorizationURL(consentID, state, nonce, codeChallenge string) string {
	return o.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("scope", "AIS:"+consentID),
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Exchange trades an authorization code for tokens. A non-2xx answer is
// returned as *oauth2.RetrieveError.
func (o *OAuth) Exchange(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error) {
	tok, err := o.config.Exchange(o.withClient(ctx), code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return tok, nil
}

// Refresh obtains a new access token. When the server does not rotate the
// refresh token, the returned token carries the one passed in.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	tok, err := o.config.TokenSource(o.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh access token: %w", err)
	}
	return tok, nil
}

func (o *OAuth) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}
