package bankaccount

import (
	"context"
	"time"
)

// Repository defines the interface for bank account link storage.
type Repository interface {
	// GetByResourceID returns ErrNotFound when no link exists.
	GetByResourceID(ctx context.Context, resourceID string) (*Link, error)

	// Create inserts a link. A concurrent insert of the same resource id
	// returns the existing link instead of failing.
	Create(ctx context.Context, params CreateParams) (*Link, error)

	ListByConsentID(ctx context.Context, consentID string) ([]*Link, error)

	// Reassign moves an existing link to a newer consent.
	Reassign(ctx context.Context, id int64, consentID string) error

	UpdateLastSyncDate(ctx context.Context, id int64, syncedAt time.Time) error
}
