package currency

import "context"

type Currency struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Repository resolves currencies by ISO code.
type Repository interface {
	// FindByCode matches case-insensitively and returns nil, nil when no
	// currency has the code.
	FindByCode(ctx context.Context, code string) (*Currency, error)
}
