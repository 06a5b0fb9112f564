package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CategoryBank tags every entry imported from the bank.
const CategoryBank = "bank"

type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

// Classify routes strictly positive amounts to income. Zero and negative
// amounts are expenses.
func Classify(amount decimal.Decimal) Kind {
	if amount.IsPositive() {
		return KindIncome
	}
	return KindExpense
}

// Entry holds the fields shared by both ledger tables. Amount is always the
// absolute value; the table an entry lives in carries the sign.
type Entry struct {
	ID          uuid.UUID       `json:"id"`
	ExternalID  string          `json:"externalId"`
	UserID      int64           `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	CurrencyID  *int64          `json:"currencyId,omitempty"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	OccurredAt  *time.Time      `json:"occurredAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type IncomeEntry struct {
	Entry
}

type ExpenseEntry struct {
	Entry
}

// NewEntry builds an entry of the kind the signed amount classifies to.
func NewEntry(userID int64, externalID string, signed decimal.Decimal, currencyID *int64, description string, occurredAt *time.Time) (Kind, Entry) {
	return Classify(signed), Entry{
		ID:          uuid.New(),
		ExternalID:  externalID,
		UserID:      userID,
		Amount:      signed.Abs(),
		CurrencyID:  currencyID,
		Description: description,
		Category:    CategoryBank,
		OccurredAt:  occurredAt,
	}
}

// Repository defines ledger persistence used by the bank import.
type Repository interface {
	// ExistingExternalIDs returns which of the given provider ids are already
	// stored for the user, in either table.
	ExistingExternalIDs(ctx context.Context, userID int64, externalIDs []string) (map[string]struct{}, error)

	// InsertIncome and InsertExpenses write a batch in one call.
	InsertIncome(ctx context.Context, entries []IncomeEntry) error
	InsertExpenses(ctx context.Context, entries []ExpenseEntry) error
}

// ImportedEvent is emitted after a batch of entries has been written, so
// reporting can pick them up.
type ImportedEvent struct {
	UserID     int64     `json:"userId"`
	ResourceID string    `json:"resourceId"`
	Kind       Kind      `json:"kind"`
	Entries    []Entry   `json:"entries"`
	ImportedAt time.Time `json:"importedAt"`
}

// Publisher delivers ImportedEvents. Delivery failures never undo the import.
type Publisher interface {
	PublishImported(ctx context.Context, event ImportedEvent) error
}

// NopPublisher drops events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishImported(ctx context.Context, event ImportedEvent) error { return nil }
