package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ingest/internal/domain/bankaccount"
)

type BankAccountRepository struct {
	db *DB
}

var _ bankaccount.Repository = (*BankAccountRepository)(nil)

func NewBankAccountRepository(db *DB) *BankAccountRepository {
	return &BankAccountRepository{db: db}
}

const linkColumns = `id, resource_id, iban, name, currency_id, consent_id, last_sync_date`

func (r *BankAccountRepository) GetByResourceID(ctx context.Context, resourceID string) (*bankaccount.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM bank_accounts WHERE resource_id = $1`

	link, err := scanLink(r.db.QueryRowContext(ctx, query, resourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bankaccount.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bank account: %w", err)
	}
	return link, nil
}

// Create inserts the link. When another sync inserted the same resource id
// first, the stored row is returned unchanged.
func (r *BankAccountRepository) Create(ctx context.Context, params bankaccount.CreateParams) (*bankaccount.Link, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO bank_accounts (resource_id, iban, name, currency_id, consent_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (resource_id) DO NOTHING
		RETURNING ` + linkColumns

	link, err := scanLink(r.db.QueryRowContext(ctx, query,
		params.ResourceID, params.IBAN, params.Name, params.CurrencyID, params.ConsentID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return r.GetByResourceID(ctx, params.ResourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create bank account: %w", err)
	}
	return link, nil
}

func (r *BankAccountRepository) ListByConsentID(ctx context.Context, consentID string) ([]*bankaccount.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM bank_accounts WHERE consent_id = $1 ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, consentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bank accounts: %w", err)
	}
	defer rows.Close()

	var links []*bankaccount.Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bank account: %w", err)
		}
		links = append(links, link)
	}

	return links, rows.Err()
}

func (r *BankAccountRepository) Reassign(ctx context.Context, id int64, consentID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE bank_accounts SET consent_id = $1 WHERE id = $2`,
		consentID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to reassign bank account: %w", err)
	}
	return requireAffected(result, bankaccount.ErrNotFound)
}

func (r *BankAccountRepository) UpdateLastSyncDate(ctx context.Context, id int64, syncedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE bank_accounts SET last_sync_date = $1 WHERE id = $2`,
		syncedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update last sync date: %w", err)
	}
	return requireAffected(result, bankaccount.ErrNotFound)
}

func scanLink(row rowScanner) (*bankaccount.Link, error) {
	var (
		link       bankaccount.Link
		currencyID sql.NullInt64
		lastSync   sql.NullTime
	)

	if err := row.Scan(&link.ID, &link.ResourceID, &link.IBAN, &link.Name, &currencyID, &link.ConsentID, &lastSync); err != nil {
		return nil, err
	}

	if currencyID.Valid {
		id := currencyID.Int64
		link.CurrencyID = &id
	}
	if lastSync.Valid {
		t := lastSync.Time
		link.LastSyncDate = &t
	}
	return &link, nil
}

func requireAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
