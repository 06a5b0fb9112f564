package bt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultTimeout   = 30 * time.Second
	consentsPath     = "/bt-psd2-aisp/v2/consents"
	accountsPath     = "/bt-psd2-aisp/v2/accounts"
	transactionsPath = "/bt-psd2-aisp/v2/accounts/%s/transactions"
	dateLayout       = "2006-01-02"
	maxErrorBody     = 512
)

var (
	// ErrUnauthorized matches a StatusError carrying HTTP 401.
	ErrUnauthorized = errors.New("provider rejected access token")
	// ErrMalformedResponse is returned when a 2xx body cannot be decoded.
	ErrMalformedResponse = errors.New("malformed provider response")
)

var (
	btMeter          = otel.Meter("ingest/bt")
	providerCalls, _ = btMeter.Int64Counter("bt.requests.total",
		metric.WithDescription("Requests sent to the BT API by endpoint and status"),
	)
	providerLatency, _ = btMeter.Float64Histogram("bt.request.duration",
		metric.WithDescription("BT API request duration in seconds"),
		metric.WithUnit("s"),
	)
)

// StatusError is returned for any non-2xx provider response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("BT %s failed with status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

type Config struct {
	APIBase      string
	RedirectURI  string
	PSUIPAddress string
	GeoLocation  string
	Timeout      time.Duration
}

// Client talks to the BT PSD2 account information API.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cfg: cfg,
	}
}

type ConsentAccess struct {
	AvailableAccounts string `json:"availableAccounts"`
}

type ConsentRequest struct {
	Access                   ConsentAccess `json:"access"`
	RecurringIndicator       bool          `json:"recurringIndicator"`
	ValidUntil               string        `json:"validUntil"`
	CombinedServiceIndicator bool          `json:"combinedServiceIndicator"`
	FrequencyPerDay          int           `json:"frequencyPerDay"`
}

type ConsentResponse struct {
	ConsentID     string `json:"consentId"`
	ConsentStatus string `json:"consentStatus"`
}

type AccountsResponse struct {
	Accounts []Account `json:"accounts"`
}

type Account struct {
	ResourceID string `json:"resourceId"`
	IBAN       string `json:"iban"`
	Currency   string `json:"currency"`
	Name       string `json:"name"`
}

type TransactionsQuery struct {
	ConsentID   string
	AccessToken string
	ResourceID  string
	From        time.Time
	To          time.Time
	Page        int
	Limit       int
}

type TransactionsResponse struct {
	Transactions *TransactionList `json:"transactions"`
}

// Booked returns the booked transactions, nil when the list is absent.
func (r *TransactionsResponse) Booked() []Transaction {
	if r == nil || r.Transactions == nil {
		return nil
	}
	return r.Transactions.Booked
}

type TransactionList struct {
	Booked []Transaction `json:"booked"`
}

type Transaction struct {
	TransactionID                     string `json:"transactionId"`
	TransactionAmount                 Amount `json:"transactionAmount"`
	BookingDate                       string `json:"bookingDate"`
	Details                           string `json:"details"`
	RemittanceInformationUnstructured string `json:"remittanceInformationUnstructured"`
}

// Description prefers details and falls back to the remittance text.
func (t *Transaction) Description() string {
	if t.Details != "" {
		return t.Details
	}
	return t.RemittanceInformationUnstructured
}

type Amount struct {
	Amount   RawNumber `json:"amount"`
	Currency string    `json:"currency"`
}

// RawNumber keeps an amount exactly as sent, whether the provider encoded it
// as a JSON string or a JSON number. Parsing is left to the caller so one bad
// value does not fail the whole page.
type RawNumber string

func (n *RawNumber) UnmarshalJSON(data []byte) error {
	switch {
	case bytes.Equal(data, []byte("null")):
		*n = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = RawNumber(s)
	default:
		*n = RawNumber(data)
	}
	return nil
}

// CreateConsent registers an all-accounts, recurring consent valid until the given day.
func (c *Client) CreateConsent(ctx context.Context, validUntil time.Time) (*ConsentResponse, error) {
	body := ConsentRequest{
		Access:                   ConsentAccess{AvailableAccounts: "allAccounts"},
		RecurringIndicator:       true,
		ValidUntil:               validUntil.Format(dateLayout),
		CombinedServiceIndicator: false,
		FrequencyPerDay:          4,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal consent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBase+consentsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("TPP-Redirect-URI", c.cfg.RedirectURI)

	var resp ConsentResponse
	if err := c.do(req, "consents", &resp); err != nil {
		return nil, err
	}
	if resp.ConsentID == "" {
		return nil, fmt.Errorf("%w: consent response without consentId", ErrMalformedResponse)
	}

	return &resp, nil
}

func (c *Client) GetAccounts(ctx context.Context, consentID, accessToken string) (*AccountsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBase+accountsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req, consentID, accessToken)

	var resp AccountsResponse
	if err := c.do(req, "accounts", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTransactions fetches one page of booked transactions for an account.
func (c *Client) GetTransactions(ctx context.Context, q TransactionsQuery) (*TransactionsResponse, error) {
	params := url.Values{}
	params.Set("bookingStatus", "booked")
	params.Set("dateFrom", q.From.Format(dateLayout))
	params.Set("dateTo", q.To.Format(dateLayout))
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("limit", strconv.Itoa(q.Limit))

	endpoint := c.cfg.APIBase + fmt.Sprintf(transactionsPath, url.PathEscape(q.ResourceID)) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req, q.ConsentID, q.AccessToken)

	var resp TransactionsResponse
	if err := c.do(req, "transactions", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) authorize(req *http.Request, consentID, accessToken string) {
	req.Header.Set("Consent-ID", consentID)
	req.Header.Set("Authorization", "Bearer "+accessToken)
}

// do sends the request with the PSU headers every BT call requires and
// decodes a 2xx JSON body into out.
func (c *Client) do(req *http.Request, endpoint string, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("PSU-IP-Address", c.cfg.PSUIPAddress)
	req.Header.Set("PSU-Geo-Location", c.cfg.GeoLocation)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(req.Context(), endpoint, 0, start)
		return fmt.Errorf("failed to execute %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()
	c.record(req.Context(), endpoint, resp.StatusCode, start)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response body: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(body)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: text}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, endpoint, err)
	}
	return nil
}

func (c *Client) record(ctx context.Context, endpoint string, status int, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("bt.endpoint", endpoint),
		attribute.Int("http.status_code", status),
	)
	providerCalls.Add(ctx, 1, attrs)
	providerLatency.Record(ctx, time.Since(start).Seconds(), attrs)
}
