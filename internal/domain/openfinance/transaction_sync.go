package openfinance

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ingest/internal/domain/bankaccount"
	"ingest/internal/domain/consent"
	"ingest/internal/domain/currency"
	"ingest/internal/domain/ledger"
	"ingest/internal/infrastructure/bt"
)

const (
	defaultInitialSyncDays = 90
	pageSize               = 100
)

// ImportNotifier is told how many entries an account sync added.
type ImportNotifier interface {
	NotifyImportComplete(ctx context.Context, userID int64, accountLabel string, count int) error
}

// TransactionSyncResult contains the results of a transaction sync operation
type TransactionSyncResult struct {
	ResourceID string
	UserID     int64
	Pages      int
	Fetched    int
	Income     int
	Expenses   int
	Duplicates int
	Skipped    int // transactions without an id
	Malformed  int
	Errors     []string
}

// Imported is the number of new ledger entries written.
func (r *TransactionSyncResult) Imported() int {
	return r.Income + r.Expenses
}

// TransactionSyncService pulls booked transactions for a linked account and
// writes the ones not seen before into the ledger.
type TransactionSyncService struct {
	client      bt.ClientInterface
	tokens      TokenRefresher
	links       bankaccount.Repository
	entries     ledger.Repository
	currencies  currency.Repository
	publisher   ledger.Publisher
	notifier    ImportNotifier
	locks       *keyedMutex
	initialDays int
	pageSize    int
	now         func() time.Time
}

// NewTransactionSyncService creates a sync service. publisher may be nil.
func NewTransactionSyncService(
	client bt.ClientInterface,
	tokens TokenRefresher,
	links bankaccount.Repository,
	entries ledger.Repository,
	currencies currency.Repository,
	publisher ledger.Publisher,
	initialDays int,
) *TransactionSyncService {
	if initialDays <= 0 {
		initialDays = defaultInitialSyncDays
	}
	if publisher == nil {
		publisher = ledger.NopPublisher{}
	}
	return &TransactionSyncService{
		client:      client,
		tokens:      tokens,
		links:       links,
		entries:     entries,
		currencies:  currencies,
		publisher:   publisher,
		locks:       newKeyedMutex(),
		initialDays: initialDays,
		pageSize:    pageSize,
		now:         time.Now,
	}
}

// SetNotifier enables a push after every sync that imported something.
func (s *TransactionSyncService) SetNotifier(n ImportNotifier) {
	s.notifier = n
}

// SyncAccount imports transactions booked between from and today. A nil from
// starts the configured number of days back. Syncs of one account run one at
// a time; pages are fetched in order and lastSyncDate records the last page
// committed.
func (s *TransactionSyncService) SyncAccount(ctx context.Context, link *bankaccount.Link, record *consent.Record, from *time.Time) (*TransactionSyncResult, error) {
	unlock := s.locks.Lock(link.ResourceID)
	defer unlock()

	result := &TransactionSyncResult{
		ResourceID: link.ResourceID,
		UserID:     record.UserID,
		Errors:     []string{},
	}

	ctx, span := tracer.Start(ctx, "openfinance.SyncAccount",
		trace.WithAttributes(
			attribute.String("account.resource_id", link.ResourceID),
			attribute.String("consent.id", record.ConsentID),
			attribute.Int64("user.id", record.UserID),
		),
	)
	defer span.End()

	today := consent.DateOf(s.now())
	start := today.AddDate(0, 0, -s.initialDays)
	if from != nil {
		start = consent.DateOf(*from)
	}

	log.Printf("Account %s: Syncing transactions %s..%s", link.ResourceID, start.Format(time.DateOnly), today.Format(time.DateOnly))

	for page := 1; ; page++ {
		q := bt.TransactionsQuery{
			ConsentID:  record.ConsentID,
			ResourceID: link.ResourceID,
			From:       start,
			To:         today,
			Page:       page,
			Limit:      s.pageSize,
		}
		resp, err := callWithRefresh(ctx, s.tokens, record, func(accessToken string) (*bt.TransactionsResponse, error) {
			q.AccessToken = accessToken
			return s.client.GetTransactions(ctx, q)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "transaction page failed")
			log.Printf("Account %s: page %d aborted: %v", link.ResourceID, page, err)
			return result, err
		}

		booked := resp.Booked()
		result.Pages++
		result.Fetched += len(booked)

		if len(booked) > 0 {
			if err := s.importPage(ctx, link, record, booked, result); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "import failed")
				return result, err
			}
		}

		syncedAt := s.now()
		if err := s.links.UpdateLastSyncDate(ctx, link.ID, syncedAt); err != nil {
			return result, fmt.Errorf("failed to update last sync date: %w", err)
		}
		link.LastSyncDate = &syncedAt

		if len(booked) < s.pageSize {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("sync.pages", result.Pages),
		attribute.Int("sync.income", result.Income),
		attribute.Int("sync.expenses", result.Expenses),
		attribute.Int("sync.duplicates", result.Duplicates),
	)

	log.Printf("Account %s: Sync complete - pages=%d, fetched=%d, income=%d, expenses=%d, duplicates=%d, skipped=%d, malformed=%d",
		link.ResourceID, result.Pages, result.Fetched, result.Income, result.Expenses, result.Duplicates, result.Skipped, result.Malformed)

	if s.notifier != nil && result.Imported() > 0 {
		_ = s.notifier.NotifyImportComplete(ctx, record.UserID, accountLabel(link), result.Imported())
	}

	return result, nil
}

// importPage classifies one page and writes it with at most one bulk insert
// per ledger table.
func (s *TransactionSyncService) importPage(ctx context.Context, link *bankaccount.Link, record *consent.Record, booked []bt.Transaction, result *TransactionSyncResult) error {
	ids := make([]string, 0, len(booked))
	for i := range booked {
		if booked[i].TransactionID != "" {
			ids = append(ids, booked[i].TransactionID)
		}
	}

	existing := map[string]struct{}{}
	if len(ids) > 0 {
		var err error
		existing, err = s.entries.ExistingExternalIDs(ctx, record.UserID, ids)
		if err != nil {
			return fmt.Errorf("failed to look up existing entries: %w", err)
		}
	}

	now := s.now()
	clock := syntheticClock{}
	currencies := map[string]*int64{}
	accepted := make(map[string]struct{}, len(ids))

	var incomes []ledger.IncomeEntry
	var expenses []ledger.ExpenseEntry

	for i := range booked {
		tx := &booked[i]
		id := tx.TransactionID

		if id == "" {
			result.Skipped++
			continue
		}
		if _, ok := existing[id]; ok {
			result.Duplicates++
			continue
		}
		if _, ok := accepted[id]; ok {
			result.Duplicates++
			continue
		}

		raw := strings.TrimSpace(string(tx.TransactionAmount.Amount))
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			result.Malformed++
			errMsg := fmt.Sprintf("transaction %s: %v", id, fmt.Errorf("%w: amount %q", ErrMalformedRecord, raw))
			result.Errors = append(result.Errors, errMsg)
			log.Printf("Account %s: %s", link.ResourceID, errMsg)
			continue
		}
		accepted[id] = struct{}{}

		currencyID := s.resolveCurrency(ctx, tx.TransactionAmount.Currency, currencies)
		kind, entry := ledger.NewEntry(record.UserID, id, amount, currencyID, tx.Description(), clock.next(tx.BookingDate))
		entry.CreatedAt = now

		if kind == ledger.KindIncome {
			incomes = append(incomes, ledger.IncomeEntry{Entry: entry})
		} else {
			expenses = append(expenses, ledger.ExpenseEntry{Entry: entry})
		}
	}

	if len(incomes) > 0 {
		if err := s.entries.InsertIncome(ctx, incomes); err != nil {
			return fmt.Errorf("failed to insert income entries: %w", err)
		}
		result.Income += len(incomes)
		entries := make([]ledger.Entry, len(incomes))
		for i := range incomes {
			entries[i] = incomes[i].Entry
		}
		s.publish(ctx, link, record, ledger.KindIncome, entries, now)
	}

	if len(expenses) > 0 {
		if err := s.entries.InsertExpenses(ctx, expenses); err != nil {
			return fmt.Errorf("failed to insert expense entries: %w", err)
		}
		result.Expenses += len(expenses)
		entries := make([]ledger.Entry, len(expenses))
		for i := range expenses {
			entries[i] = expenses[i].Entry
		}
		s.publish(ctx, link, record, ledger.KindExpense, entries, now)
	}

	return nil
}

// resolveCurrency looks the code up once per page. Missing or unknown codes
// leave the entry without a currency.
func (s *TransactionSyncService) resolveCurrency(ctx context.Context, code string, cache map[string]*int64) *int64 {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}
	if id, ok := cache[code]; ok {
		return id
	}

	var id *int64
	c, err := s.currencies.FindByCode(ctx, code)
	if err != nil {
		log.Printf("Warning: failed to resolve currency %q: %v", code, err)
	} else if c != nil {
		cid := c.ID
		id = &cid
	}
	cache[code] = id
	return id
}

func (s *TransactionSyncService) publish(ctx context.Context, link *bankaccount.Link, record *consent.Record, kind ledger.Kind, entries []ledger.Entry, at time.Time) {
	event := ledger.ImportedEvent{
		UserID:     record.UserID,
		ResourceID: link.ResourceID,
		Kind:       kind,
		Entries:    entries,
		ImportedAt: at,
	}
	if err := s.publisher.PublishImported(ctx, event); err != nil {
		log.Printf("Account %s: failed to publish %s import: %v", link.ResourceID, kind, err)
	}
}

func accountLabel(link *bankaccount.Link) string {
	if link.Name != "" {
		return link.Name
	}
	return link.IBAN
}
