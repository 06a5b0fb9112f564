package consent

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Domain errors
var (
	ErrNotFound = errors.New("consent not found")
	ErrProvider = errors.New("consent provider error")
)

// Kind enumerates the consent states this service understands.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindCreated
	KindValid
	KindExpired
	KindRejected
)

// Status is the provider-reported consent status. Strings the provider sends
// that do not map to a known Kind are kept verbatim as Unknown(raw).
type Status struct {
	kind Kind
	raw  string
}

var (
	StatusCreated  = Status{kind: KindCreated, raw: "created"}
	StatusValid    = Status{kind: KindValid, raw: "valid"}
	StatusExpired  = Status{kind: KindExpired, raw: "expired"}
	StatusRejected = Status{kind: KindRejected, raw: "rejected"}
)

// Unknown wraps a provider status string with no known meaning.
func Unknown(raw string) Status {
	return Status{kind: KindUnknown, raw: raw}
}

// ParseStatus maps a provider or stored status string onto a Status.
// "received" is what the provider reports for a freshly created consent.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "created", "received":
		return Status{kind: KindCreated, raw: raw}
	case "valid":
		return StatusValid
	case "expired":
		return StatusExpired
	case "rejected", "revokedbypsu", "terminatedbytpp":
		return Status{kind: KindRejected, raw: raw}
	default:
		return Unknown(raw)
	}
}

func (s Status) Kind() Kind { return s.kind }

func (s Status) IsValid() bool { return s.kind == KindValid }

// String returns the value persisted for this status.
func (s Status) String() string {
	if s.kind == KindUnknown && s.raw == "" {
		return "unknown"
	}
	return s.raw
}

func (k Kind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindValid:
		return "valid"
	case KindExpired:
		return "expired"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Availability is the answer to "can this user's data be read right now".
type Availability string

const (
	AvailabilityNotFound Availability = "not_found"
	AvailabilityExpired  Availability = "expired"
	AvailabilityValid    Availability = "valid"
)

// Record is a consent granted by the user at the bank, together with the
// OAuth material needed to use it.
type Record struct {
	ConsentID    string
	UserID       int64
	Status       Status
	AccessToken  string
	RefreshToken string
	TokenExpiry  *time.Time
	// State correlates the authorization redirect with the callback. Cleared
	// once the code has been exchanged.
	State string
	// CodeVerifier is the PKCE secret, kept only until the token exchange.
	CodeVerifier string
	ValidUntil   time.Time
	CreatedAt    time.Time
	ModifiedAt   time.Time
}

// ExpiredOn reports whether the consent validity ended before the given day.
func (r *Record) ExpiredOn(now time.Time) bool {
	return DateOf(r.ValidUntil).Before(DateOf(now))
}

// String never includes token or verifier values.
func (r *Record) String() string {
	if r == nil {
		return "consent(nil)"
	}
	return fmt.Sprintf("consent(id=%s user=%d status=%s validUntil=%s)",
		r.ConsentID, r.UserID, r.Status, r.ValidUntil.Format(time.DateOnly))
}

func (r *Record) GoString() string {
	return r.String()
}

func (r *Record) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("consent_id", r.ConsentID),
		slog.Int64("user_id", r.UserID),
		slog.String("status", r.Status.String()),
		slog.String("valid_until", r.ValidUntil.Format(time.DateOnly)),
	)
}

// DateOf truncates t to midnight UTC of its calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
