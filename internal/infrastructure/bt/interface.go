package bt

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// ClientInterface defines the account information calls made against the BT API.
type ClientInterface interface {
	CreateConsent(ctx context.Context, validUntil time.Time) (*ConsentResponse, error)
	GetAccounts(ctx context.Context, consentID, accessToken string) (*AccountsResponse, error)
	GetTransactions(ctx context.Context, q TransactionsQuery) (*TransactionsResponse, error)
}

// OAuthInterface defines the authorization-server side of the consent flow.
type OAuthInterface interface {
	AuthorizationURL(consentID, state, nonce, codeChallenge string) string
	Exchange(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}
