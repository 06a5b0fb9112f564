package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ingest/internal/domain/consent"
	"ingest/internal/infrastructure/crypto"
)

// ConsentRepository stores consents with token and verifier columns
// encrypted at rest.
type ConsentRepository struct {
	db        *DB
	encryptor *crypto.Encryptor
}

var _ consent.Repository = (*ConsentRepository)(nil)

func NewConsentRepository(db *DB, encryptor *crypto.Encryptor) *ConsentRepository {
	return &ConsentRepository{db: db, encryptor: encryptor}
}

const consentColumns = `consent_id, user_id, status, access_token, refresh_token, token_expiry,
	state, code_verifier, valid_until, created_at, modified_at`

func (r *ConsentRepository) Save(ctx context.Context, record *consent.Record) error {
	accessToken, err := r.encryptor.Encrypt(record.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshToken, err := r.encryptor.Encrypt(record.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	verifier, err := r.encryptor.Encrypt(record.CodeVerifier)
	if err != nil {
		return fmt.Errorf("failed to encrypt code verifier: %w", err)
	}

	var state sql.NullString
	if record.State != "" {
		state = sql.NullString{String: record.State, Valid: true}
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	modifiedAt := record.ModifiedAt
	if modifiedAt.IsZero() {
		modifiedAt = createdAt
	}

	query := `
		INSERT INTO consents (` + consentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (consent_id) DO UPDATE
			SET status = EXCLUDED.status,
			    access_token = EXCLUDED.access_token,
			    refresh_token = EXCLUDED.refresh_token,
			    token_expiry = EXCLUDED.token_expiry,
			    state = EXCLUDED.state,
			    code_verifier = EXCLUDED.code_verifier,
			    valid_until = EXCLUDED.valid_until,
			    modified_at = EXCLUDED.modified_at
	`

	_, err = r.db.ExecContext(ctx, query,
		record.ConsentID, record.UserID, record.Status.String(), accessToken, refreshToken, record.TokenExpiry,
		state, verifier, record.ValidUntil, createdAt, modifiedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save consent: %w", err)
	}
	return nil
}

func (r *ConsentRepository) GetByID(ctx context.Context, consentID string) (*consent.Record, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE consent_id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, consentID))
}

func (r *ConsentRepository) GetByState(ctx context.Context, state string) (*consent.Record, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE state = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, state))
}

func (r *ConsentRepository) GetLatestValidByUserID(ctx context.Context, userID int64) (*consent.Record, error) {
	query := `
		SELECT ` + consentColumns + `
		FROM consents
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, userID, consent.StatusValid.String()))
}

func (r *ConsentRepository) ListValid(ctx context.Context, day time.Time) ([]*consent.Record, error) {
	query := `
		SELECT DISTINCT ON (user_id) ` + consentColumns + `
		FROM consents
		WHERE status = $1 AND valid_until >= $2
		ORDER BY user_id, created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, consent.StatusValid.String(), consent.DateOf(day))
	if err != nil {
		return nil, fmt.Errorf("failed to list valid consents: %w", err)
	}
	defer rows.Close()

	var records []*consent.Record
	for rows.Next() {
		record, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ConsentRepository) scanOne(row rowScanner) (*consent.Record, error) {
	record, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, consent.ErrNotFound
	}
	return record, err
}

func (r *ConsentRepository) scan(row rowScanner) (*consent.Record, error) {
	var (
		record                        consent.Record
		status                        string
		accessToken, refreshToken, cv string
		state                         sql.NullString
		tokenExpiry                   sql.NullTime
	)

	err := row.Scan(
		&record.ConsentID, &record.UserID, &status, &accessToken, &refreshToken, &tokenExpiry,
		&state, &cv, &record.ValidUntil, &record.CreatedAt, &record.ModifiedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan consent: %w", err)
	}

	record.Status = consent.ParseStatus(status)
	record.State = state.String
	if tokenExpiry.Valid {
		t := tokenExpiry.Time
		record.TokenExpiry = &t
	}

	if record.AccessToken, err = r.encryptor.Decrypt(accessToken); err != nil {
		return nil, fmt.Errorf("failed to decrypt access token for consent %s: %w", record.ConsentID, err)
	}
	if record.RefreshToken, err = r.encryptor.Decrypt(refreshToken); err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token for consent %s: %w", record.ConsentID, err)
	}
	if record.CodeVerifier, err = r.encryptor.Decrypt(cv); err != nil {
		return nil, fmt.Errorf("failed to decrypt code verifier for consent %s: %w", record.ConsentID, err)
	}

	return &record, nil
}
