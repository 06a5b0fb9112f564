package openfinance

import "errors"

var (
	// ErrUnknownState is returned when a callback state matches no pending consent.
	ErrUnknownState = errors.New("unknown authorization state")
	// ErrTokenExchange is returned when the token endpoint rejects an authorization code.
	ErrTokenExchange = errors.New("token exchange failed")
	// ErrAuthExpired means the access token was rejected and could not be refreshed.
	// The user has to grant a new consent.
	ErrAuthExpired = errors.New("bank authorization expired")
	// ErrProviderUnavailable covers non-2xx answers other than 401, transport
	// failures and timeouts.
	ErrProviderUnavailable = errors.New("bank provider unavailable")
	// ErrMalformedRecord marks a single provider transaction that could not be
	// parsed. It is counted, never returned from a sync.
	ErrMalformedRecord = errors.New("malformed provider record")
)
