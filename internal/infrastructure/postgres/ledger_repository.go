package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"ingest/internal/domain/ledger"
)

const (
	incomeTable  = "income_entries"
	expenseTable = "expense_entries"
)

var entryColumns = []string{
	"id", "external_id", "user_id", "amount", "currency_id",
	"description", "category", "occurred_at", "created_at",
}

// LedgerRepository writes imported bank entries. Inserts use COPY inside a
// transaction so a page lands completely or not at all.
type LedgerRepository struct {
	db *DB
}

var _ ledger.Repository = (*LedgerRepository)(nil)

func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// ExistingExternalIDs checks both ledger tables in one round trip.
func (r *LedgerRepository) ExistingExternalIDs(ctx context.Context, userID int64, externalIDs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(externalIDs) == 0 {
		return existing, nil
	}

	query := `
		SELECT external_id FROM income_entries
		WHERE user_id = $1 AND external_id = ANY($2)
		UNION
		SELECT external_id FROM expense_entries
		WHERE user_id = $1 AND external_id = ANY($2)
	`

	rows, err := r.db.QueryContext(ctx, query, userID, pq.Array(externalIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query existing entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan external id: %w", err)
		}
		existing[id] = struct{}{}
	}

	return existing, rows.Err()
}

func (r *LedgerRepository) InsertIncome(ctx context.Context, entries []ledger.IncomeEntry) error {
	rows := make([]ledger.Entry, len(entries))
	for i := range entries {
		rows[i] = entries[i].Entry
	}
	return r.copyEntries(ctx, incomeTable, rows)
}

func (r *LedgerRepository) InsertExpenses(ctx context.Context, entries []ledger.ExpenseEntry) error {
	rows := make([]ledger.Entry, len(entries))
	for i := range entries {
		rows[i] = entries[i].Entry
	}
	return r.copyEntries(ctx, expenseTable, rows)
}

func (r *LedgerRepository) copyEntries(ctx context.Context, table string, entries []ledger.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, entryColumns...))
		if err != nil {
			return fmt.Errorf("failed to prepare copy into %s: %w", table, err)
		}
		defer stmt.Close()

		for _, e := range entries {
			_, err := stmt.ExecContext(ctx,
				e.ID, e.ExternalID, e.UserID, e.Amount, e.CurrencyID,
				e.Description, e.Category, e.OccurredAt, e.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to buffer %s row %s: %w", table, e.ExternalID, err)
			}
		}

		if _, err := stmt.ExecContext(ctx); err != nil {
			return fmt.Errorf("failed to copy into %s: %w", table, err)
		}
		return nil
	})
}
