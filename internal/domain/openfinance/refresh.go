package openfinance

import (
	"context"
	"errors"
	"fmt"

	"ingest/internal/domain/consent"
	"ingest/internal/infrastructure/bt"
)

// TokenRefresher renews the access token held by a consent record in place.
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, record *consent.Record) bool
}

// callWithRefresh runs call with the record's access token. A 401 triggers
// exactly one refresh and one retry; anything else maps to the sentinel the
// sync and discovery callers abort with.
func callWithRefresh[T any](ctx context.Context, tokens TokenRefresher, record *consent.Record, call func(accessToken string) (T, error)) (T, error) {
	var zero T

	res, err := call(record.AccessToken)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, bt.ErrUnauthorized) {
		return zero, providerError(err)
	}

	if !tokens.RefreshAccessToken(ctx, record) {
		return zero, fmt.Errorf("%w: consent %s: refresh failed", ErrAuthExpired, record.ConsentID)
	}

	res, err = call(record.AccessToken)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, bt.ErrUnauthorized) {
		return zero, fmt.Errorf("%w: consent %s: %w", ErrAuthExpired, record.ConsentID, err)
	}
	return zero, providerError(err)
}

func providerError(err error) error {
	return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
}
