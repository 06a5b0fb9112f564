package bankaccount

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("bank account link not found")

// Link ties a provider account (by resource id) to a consent. Links are never
// deleted; LastSyncDate is when the last page was committed.
type Link struct {
	ID           int64      `json:"id"`
	ResourceID   string     `json:"resourceId"`
	IBAN         string     `json:"iban"`
	Name         string     `json:"name"`
	CurrencyID   *int64     `json:"currencyId,omitempty"`
	ConsentID    string     `json:"consentId"`
	LastSyncDate *time.Time `json:"lastSyncDate,omitempty"`
}

type CreateParams struct {
	ResourceID string
	IBAN       string
	Name       string
	CurrencyID *int64
	ConsentID  string
}

func (p CreateParams) Validate() error {
	if p.ResourceID == "" {
		return errors.New("resource ID is required")
	}
	if p.ConsentID == "" {
		return errors.New("consent ID is required")
	}
	return nil
}
