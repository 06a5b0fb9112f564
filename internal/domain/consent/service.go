package consent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"ingest/internal/infrastructure/bt"
	"ingest/internal/shared/auth"
)

const defaultValidityDays = 150

// Service creates consents at the bank, builds the authorization redirect and
// answers whether a user currently has usable consent.
type Service struct {
	repo         Repository
	client       bt.ClientInterface
	oauth        bt.OAuthInterface
	validityDays int
	now          func() time.Time
}

func NewService(repo Repository, client bt.ClientInterface, oauth bt.OAuthInterface, validityDays int) *Service {
	if validityDays <= 0 {
		validityDays = defaultValidityDays
	}
	return &Service{
		repo:         repo,
		client:       client,
		oauth:        oauth,
		validityDays: validityDays,
		now:          time.Now,
	}
}

// CreateConsent registers a new consent with the provider. The returned
// record is not persisted.
func (s *Service) CreateConsent(ctx context.Context, userID int64) (*Record, error) {
	now := s.now()
	validUntil := DateOf(now).AddDate(0, 0, s.validityDays)

	resp, err := s.client.CreateConsent(ctx, validUntil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	log.Printf("User %d: consent %s created with provider status %q", userID, resp.ConsentID, resp.ConsentStatus)

	return &Record{
		ConsentID:  resp.ConsentID,
		UserID:     userID,
		Status:     ParseStatus(resp.ConsentStatus),
		ValidUntil: validUntil,
		CreatedAt:  now,
		ModifiedAt: now,
	}, nil
}

// BuildAuthorizationRedirect creates a consent, binds a fresh PKCE pair and
// state to it, persists it and returns the URL the browser must visit.
func (s *Service) BuildAuthorizationRedirect(ctx context.Context, userID int64) (string, error) {
	record, err := s.CreateConsent(ctx, userID)
	if err != nil {
		return "", err
	}

	verifier := auth.GenerateVerifier()
	challenge := auth.GenerateChallenge(verifier)
	state := auth.GenerateState()
	nonce := auth.GenerateState()

	record.CodeVerifier = verifier
	record.State = state

	if err := s.repo.Save(ctx, record); err != nil {
		return "", fmt.Errorf("failed to save consent: %w", err)
	}

	return s.oauth.AuthorizationURL(record.ConsentID, state, nonce, challenge), nil
}

// GetConsentStatus reports whether the user's most recent valid consent can
// still be used today. It never writes.
func (s *Service) GetConsentStatus(ctx context.Context, userID int64) (Availability, error) {
	record, err := s.repo.GetLatestValidByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AvailabilityNotFound, nil
		}
		return "", fmt.Errorf("failed to get consent: %w", err)
	}

	if record.ExpiredOn(s.now()) {
		return AvailabilityExpired, nil
	}
	return AvailabilityValid, nil
}

// GetValidConsent returns the user's most recent valid consent if it has not
// expired. Callers get ErrNotFound otherwise.
func (s *Service) GetValidConsent(ctx context.Context, userID int64) (*Record, error) {
	record, err := s.repo.GetLatestValidByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if record.ExpiredOn(s.now()) {
		return nil, ErrNotFound
	}
	return record, nil
}
