package openfinance

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ingest/internal/domain/bankaccount"
	"ingest/internal/domain/consent"
	"ingest/internal/domain/currency"
	"ingest/internal/infrastructure/bt"
)

var tracer = otel.Tracer("ingest/openfinance")

// Dispatcher queues a transaction sync for one linked account. It must not
// wait for the sync to finish.
type Dispatcher interface {
	DispatchSync(ctx context.Context, link *bankaccount.Link, record *consent.Record) error
}

// ExpiryNotifier tells a user their consent can no longer be used.
type ExpiryNotifier interface {
	NotifyConsentExpired(ctx context.Context, userID int64, consentID string) error
}

// DiscoveryResult contains the results of an account discovery run
type DiscoveryResult struct {
	ConsentID     string
	UserID        int64
	Skipped       bool // consent was not valid
	AccountsFound int
	Created       int
	Existing      int
	Dispatched    int
	Errors        []string
}

// AccountDiscoveryService lists the accounts a consent covers, links each one
// and queues a sync for it.
type AccountDiscoveryService struct {
	client     bt.ClientInterface
	tokens     TokenRefresher
	links      bankaccount.Repository
	currencies currency.Repository
	dispatcher Dispatcher
	notifier   ExpiryNotifier
}

// NewAccountDiscoveryService creates a discovery service. notifier may be nil.
func NewAccountDiscoveryService(
	client bt.ClientInterface,
	tokens TokenRefresher,
	links bankaccount.Repository,
	currencies currency.Repository,
	dispatcher Dispatcher,
	notifier ExpiryNotifier,
) *AccountDiscoveryService {
	return &AccountDiscoveryService{
		client:     client,
		tokens:     tokens,
		links:      links,
		currencies: currencies,
		dispatcher: dispatcher,
		notifier:   notifier,
	}
}

// DiscoverAccounts links every account visible through the consent and
// dispatches one sync per link. A failing account never stops the others.
func (s *AccountDiscoveryService) DiscoverAccounts(ctx context.Context, record *consent.Record) (*DiscoveryResult, error) {
	result := &DiscoveryResult{
		ConsentID: record.ConsentID,
		UserID:    record.UserID,
		Errors:    []string{},
	}

	if !record.Status.IsValid() {
		log.Printf("User %d: consent %s has status %s, skipping account discovery", record.UserID, record.ConsentID, record.Status)
		result.Skipped = true
		return result, nil
	}

	ctx, span := tracer.Start(ctx, "openfinance.DiscoverAccounts",
		trace.WithAttributes(
			attribute.String("consent.id", record.ConsentID),
			attribute.Int64("user.id", record.UserID),
		),
	)
	defer span.End()

	resp, err := callWithRefresh(ctx, s.tokens, record, func(accessToken string) (*bt.AccountsResponse, error) {
		return s.client.GetAccounts(ctx, record.ConsentID, accessToken)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list accounts")
		if errors.Is(err, ErrAuthExpired) {
			log.Printf("User %d: consent %s no longer authorized", record.UserID, record.ConsentID)
			s.notifyExpired(ctx, record)
		}
		return result, err
	}

	result.AccountsFound = len(resp.Accounts)
	log.Printf("User %d: Discovering %d accounts for consent %s", record.UserID, result.AccountsFound, record.ConsentID)

	for _, account := range resp.Accounts {
		link, err := s.linkAccount(ctx, record, account, result)
		if err != nil {
			errMsg := fmt.Sprintf("failed to link account %s: %v", account.ResourceID, err)
			result.Errors = append(result.Errors, errMsg)
			log.Printf("User %d: %s", record.UserID, errMsg)
			continue
		}

		if s.dispatcher == nil {
			continue
		}
		if err := s.dispatcher.DispatchSync(ctx, link, record); err != nil {
			errMsg := fmt.Sprintf("failed to dispatch sync for account %s: %v", link.ResourceID, err)
			result.Errors = append(result.Errors, errMsg)
			log.Printf("User %d: %s", record.UserID, errMsg)
			continue
		}
		result.Dispatched++
	}

	span.SetAttributes(
		attribute.Int("accounts.found", result.AccountsFound),
		attribute.Int("accounts.created", result.Created),
		attribute.Int("accounts.dispatched", result.Dispatched),
	)

	log.Printf("User %d: Discovery complete - Found: %d, Created: %d, Existing: %d, Dispatched: %d, Errors: %d",
		record.UserID, result.AccountsFound, result.Created, result.Existing, result.Dispatched, len(result.Errors))

	return result, nil
}

// linkAccount returns the link for the account, creating it on first sight.
// A link found under an older consent is moved to this one.
func (s *AccountDiscoveryService) linkAccount(ctx context.Context, record *consent.Record, account bt.Account, result *DiscoveryResult) (*bankaccount.Link, error) {
	if account.ResourceID == "" {
		return nil, fmt.Errorf("%w: account without resourceId", ErrMalformedRecord)
	}

	link, err := s.links.GetByResourceID(ctx, account.ResourceID)
	switch {
	case err == nil:
		result.Existing++
		if link.ConsentID != record.ConsentID {
			if err := s.links.Reassign(ctx, link.ID, record.ConsentID); err != nil {
				return nil, fmt.Errorf("failed to reassign link: %w", err)
			}
			link.ConsentID = record.ConsentID
		}
		return link, nil
	case !errors.Is(err, bankaccount.ErrNotFound):
		return nil, fmt.Errorf("failed to get link: %w", err)
	}

	params := bankaccount.CreateParams{
		ResourceID: account.ResourceID,
		IBAN:       account.IBAN,
		Name:       account.Name,
		CurrencyID: s.currencyID(ctx, account.Currency),
		ConsentID:  record.ConsentID,
	}
	link, err = s.links.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create link: %w", err)
	}

	result.Created++
	log.Printf("User %d: Linked account %s (%s)", record.UserID, account.Name, account.ResourceID)
	return link, nil
}

func (s *AccountDiscoveryService) currencyID(ctx context.Context, code string) *int64 {
	if code == "" {
		return nil
	}
	c, err := s.currencies.FindByCode(ctx, code)
	if err != nil {
		log.Printf("Warning: failed to resolve currency %q: %v", code, err)
		return nil
	}
	if c == nil {
		return nil
	}
	id := c.ID
	return &id
}

func (s *AccountDiscoveryService) notifyExpired(ctx context.Context, record *consent.Record) {
	if s.notifier == nil {
		return
	}
	// NotifyConsentExpired logs its own failures.
	_ = s.notifier.NotifyConsentExpired(ctx, record.UserID, record.ConsentID)
}
