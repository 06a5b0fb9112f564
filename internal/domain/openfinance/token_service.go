package openfinance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/oauth2"

	"ingest/internal/domain/consent"
	"ingest/internal/infrastructure/bt"
)

// Discoverer is run once a consent has become usable.
type Discoverer interface {
	DiscoverAccounts(ctx context.Context, record *consent.Record) (*DiscoveryResult, error)
}

// TokenService completes the authorization code flow and keeps access
// tokens fresh. Refreshes for one consent never run concurrently.
type TokenService struct {
	consents  consent.Repository
	oauth     bt.OAuthInterface
	discovery Discoverer
	locks     *keyedMutex
	now       func() time.Time
}

var _ TokenRefresher = (*TokenService)(nil)

func NewTokenService(consents consent.Repository, oauth bt.OAuthInterface) *TokenService {
	return &TokenService{
		consents: consents,
		oauth:    oauth,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

// SetDiscovery wires the account discovery run after a successful exchange.
// Discovery depends on the token service for refreshes, so it is attached
// after construction.
func (s *TokenService) SetDiscovery(d Discoverer) {
	s.discovery = d
}

// ExchangeCodeForTokens finishes the callback for the consent waiting on
// state. On success the consent is valid and account discovery has run.
func (s *TokenService) ExchangeCodeForTokens(ctx context.Context, code, state string) error {
	if state == "" {
		return ErrUnknownState
	}

	record, err := s.consents.GetByState(ctx, state)
	if err != nil {
		if errors.Is(err, consent.ErrNotFound) {
			return ErrUnknownState
		}
		return fmt.Errorf("failed to get consent by state: %w", err)
	}

	tok, err := s.oauth.Exchange(ctx, code, record.CodeVerifier)
	if err != nil {
		log.Printf("User %d: token exchange for consent %s failed: %v", record.UserID, record.ConsentID, err)
		return fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}

	applyToken(record, tok)
	record.CodeVerifier = ""
	record.State = ""
	record.Status = consent.StatusValid
	record.ModifiedAt = s.now()

	if err := s.consents.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to save consent: %w", err)
	}

	log.Printf("User %d: consent %s authorized", record.UserID, record.ConsentID)

	if s.discovery == nil {
		return nil
	}
	if _, err := s.discovery.DiscoverAccounts(ctx, record); err != nil {
		log.Printf("User %d: account discovery for consent %s failed: %v", record.UserID, record.ConsentID, err)
	}
	return nil
}

// RefreshAccessToken renews the record's access token. It returns false and
// leaves the record untouched when the token endpoint refuses. A caller whose
// token was already rotated by a concurrent refresh picks up the stored one.
func (s *TokenService) RefreshAccessToken(ctx context.Context, record *consent.Record) bool {
	unlock := s.locks.Lock(record.ConsentID)
	defer unlock()

	stored, err := s.consents.GetByID(ctx, record.ConsentID)
	if err != nil {
		log.Printf("Consent %s: failed to reload before refresh: %v", record.ConsentID, err)
	} else if stored.AccessToken != "" && stored.AccessToken != record.AccessToken {
		record.AccessToken = stored.AccessToken
		record.RefreshToken = stored.RefreshToken
		record.TokenExpiry = stored.TokenExpiry
		record.ModifiedAt = stored.ModifiedAt
		return true
	}

	if record.RefreshToken == "" {
		log.Printf("Consent %s: no refresh token stored", record.ConsentID)
		return false
	}

	tok, err := s.oauth.Refresh(ctx, record.RefreshToken)
	if err != nil {
		log.Printf("Consent %s: token refresh failed: %v", record.ConsentID, err)
		return false
	}

	updated := *record
	applyToken(&updated, tok)
	updated.ModifiedAt = s.now()

	if err := s.consents.Save(ctx, &updated); err != nil {
		// The new token is still good for this run; the next run refreshes again.
		log.Printf("Consent %s: failed to save refreshed token: %v", record.ConsentID, err)
	}

	*record = updated
	return true
}

func applyToken(record *consent.Record, tok *oauth2.Token) {
	record.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		record.RefreshToken = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		record.TokenExpiry = &expiry
	} else {
		record.TokenExpiry = nil
	}
}
