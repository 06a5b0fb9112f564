package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"ingest/internal/domain/currency"
)

type CurrencyRepository struct {
	db *DB
}

var _ currency.Repository = (*CurrencyRepository)(nil)

func NewCurrencyRepository(db *DB) *CurrencyRepository {
	return &CurrencyRepository{db: db}
}

func (r *CurrencyRepository) FindByCode(ctx context.Context, code string) (*currency.Currency, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}

	var c currency.Currency
	err := r.db.QueryRowContext(ctx,
		`SELECT id, code, name FROM currencies WHERE UPPER(code) = UPPER($1)`,
		code,
	).Scan(&c.ID, &c.Code, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find currency: %w", err)
	}
	return &c, nil
}
