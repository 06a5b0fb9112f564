package consent

import (
	"context"
	"time"
)

// Repository persists consent records. Implementations return ErrNotFound
// when a lookup matches nothing.
type Repository interface {
	// Save inserts the record or updates it by consent id.
	Save(ctx context.Context, record *Record) error

	GetByID(ctx context.Context, consentID string) (*Record, error)

	// GetByState finds the pending record waiting for the given callback state.
	GetByState(ctx context.Context, state string) (*Record, error)

	// GetLatestValidByUserID returns the most recent record with status valid.
	GetLatestValidByUserID(ctx context.Context, userID int64) (*Record, error)

	// ListValid returns, per user, the most recent valid record whose validity
	// has not ended on the given day.
	ListValid(ctx context.Context, day time.Time) ([]*Record, error)
}
