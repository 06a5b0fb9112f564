package openfinance

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"ingest/internal/domain/bankaccount"
	"ingest/internal/domain/consent"
	"ingest/internal/domain/currency"
	"ingest/internal/domain/ledger"
	"ingest/internal/infrastructure/bt"
)

// MockClient implements bt.ClientInterface
type MockClient struct {
	CreateConsentFunc   func(ctx context.Context, validUntil time.Time) (*bt.ConsentResponse, error)
	GetAccountsFunc     func(ctx context.Context, consentID, accessToken string) (*bt.AccountsResponse, error)
	GetTransactionsFunc func(ctx context.Context, q bt.TransactionsQuery) (*bt.TransactionsResponse, error)

	mu      sync.Mutex
	queries []bt.TransactionsQuery
}

func (m *MockClient) CreateConsent(ctx context.Context, validUntil time.Time) (*bt.ConsentResponse, error) {
	if m.CreateConsentFunc != nil {
		return m.CreateConsentFunc(ctx, validUntil)
	}
	return &bt.ConsentResponse{ConsentID: "c-1", ConsentStatus: "received"}, nil
}

func (m *MockClient) GetAccounts(ctx context.Context, consentID, accessToken string) (*bt.AccountsResponse, error) {
	if m.GetAccountsFunc != nil {
		return m.GetAccountsFunc(ctx, consentID, accessToken)
	}
	return &bt.AccountsResponse{}, nil
}

func (m *MockClient) GetTransactions(ctx context.Context, q bt.TransactionsQuery) (*bt.TransactionsResponse, error) {
	m.mu.Lock()
	m.queries = append(m.queries, q)
	m.mu.Unlock()
	if m.GetTransactionsFunc != nil {
		return m.GetTransactionsFunc(ctx, q)
	}
	return &bt.TransactionsResponse{}, nil
}

func (m *MockClient) calls() []bt.TransactionsQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bt.TransactionsQuery(nil), m.queries...)
}

// MockOAuth implements bt.OAuthInterface
type MockOAuth struct {
	ExchangeFunc func(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error)
	RefreshFunc  func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	mu        sync.Mutex
	refreshes int
}

func (m *MockOAuth) AuthorizationURL(consentID, state, nonce, codeChallenge string) string {
	return "https://auth.bt.test/authorize?state=" + state
}

func (m *MockOAuth) Exchange(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error) {
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, code, codeVerifier)
	}
	return &oauth2.Token{AccessToken: "access-1", RefreshToken: "refresh-1"}, nil
}

func (m *MockOAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	m.mu.Lock()
	m.refreshes++
	m.mu.Unlock()
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return &oauth2.Token{AccessToken: "access-2"}, nil
}

func (m *MockOAuth) refreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes
}

// MockConsentRepo is an in-memory consent.Repository
type MockConsentRepo struct {
	SaveFunc func(ctx context.Context, record *consent.Record) error

	mu      sync.Mutex
	records map[string]consent.Record
	saves   int
}

func newMockConsentRepo(records ...*consent.Record) *MockConsentRepo {
	m := &MockConsentRepo{records: map[string]consent.Record{}}
	for _, r := range records {
		m.records[r.ConsentID] = *r
	}
	return m
}

func (m *MockConsentRepo) Save(ctx context.Context, record *consent.Record) error {
	if m.SaveFunc != nil {
		if err := m.SaveFunc(ctx, record); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ConsentID] = *record
	m.saves++
	return nil
}

func (m *MockConsentRepo) GetByID(ctx context.Context, consentID string) (*consent.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[consentID]
	if !ok {
		return nil, consent.ErrNotFound
	}
	return &r, nil
}

func (m *MockConsentRepo) GetByState(ctx context.Context, state string) (*consent.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.State != "" && r.State == state {
			return &r, nil
		}
	}
	return nil, consent.ErrNotFound
}

func (m *MockConsentRepo) GetLatestValidByUserID(ctx context.Context, userID int64) (*consent.Record, error) {
	return nil, consent.ErrNotFound
}

func (m *MockConsentRepo) ListValid(ctx context.Context, day time.Time) ([]*consent.Record, error) {
	return nil, nil
}

func (m *MockConsentRepo) get(id string) consent.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id]
}

// MockLinkRepo is an in-memory bankaccount.Repository
type MockLinkRepo struct {
	CreateFunc             func(ctx context.Context, params bankaccount.CreateParams) (*bankaccount.Link, error)
	UpdateLastSyncDateFunc func(ctx context.Context, id int64, syncedAt time.Time) error

	mu        sync.Mutex
	links     map[string]*bankaccount.Link
	nextID    int64
	syncDates []time.Time
}

func newMockLinkRepo(links ...*bankaccount.Link) *MockLinkRepo {
	m := &MockLinkRepo{links: map[string]*bankaccount.Link{}, nextID: 100}
	for _, l := range links {
		cp := *l
		m.links[l.ResourceID] = &cp
	}
	return m
}

func (m *MockLinkRepo) GetByResourceID(ctx context.Context, resourceID string) (*bankaccount.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[resourceID]
	if !ok {
		return nil, bankaccount.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MockLinkRepo) Create(ctx context.Context, params bankaccount.CreateParams) (*bankaccount.Link, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, params)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	l := &bankaccount.Link{
		ID:         m.nextID,
		ResourceID: params.ResourceID,
		IBAN:       params.IBAN,
		Name:       params.Name,
		CurrencyID: params.CurrencyID,
		ConsentID:  params.ConsentID,
	}
	m.links[l.ResourceID] = l
	cp := *l
	return &cp, nil
}

func (m *MockLinkRepo) ListByConsentID(ctx context.Context, consentID string) ([]*bankaccount.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*bankaccount.Link
	for _, l := range m.links {
		if l.ConsentID == consentID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockLinkRepo) Reassign(ctx context.Context, id int64, consentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.ID == id {
			l.ConsentID = consentID
		}
	}
	return nil
}

func (m *MockLinkRepo) UpdateLastSyncDate(ctx context.Context, id int64, syncedAt time.Time) error {
	if m.UpdateLastSyncDateFunc != nil {
		return m.UpdateLastSyncDateFunc(ctx, id, syncedAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncDates = append(m.syncDates, syncedAt)
	return nil
}

func (m *MockLinkRepo) syncUpdates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.syncDates)
}

// MockCurrencyRepo resolves a fixed set of codes
type MockCurrencyRepo struct {
	codes   map[string]int64
	lookups int
}

func (m *MockCurrencyRepo) FindByCode(ctx context.Context, code string) (*currency.Currency, error) {
	m.lookups++
	id, ok := m.codes[strings.ToUpper(code)]
	if !ok {
		return nil, nil
	}
	return &currency.Currency{ID: id, Code: strings.ToUpper(code)}, nil
}

// MockLedgerRepo is an in-memory ledger.Repository keyed by user and external id
type MockLedgerRepo struct {
	InsertIncomeFunc func(ctx context.Context, entries []ledger.IncomeEntry) error

	mu             sync.Mutex
	income         []ledger.IncomeEntry
	expenses       []ledger.ExpenseEntry
	incomeBatches  int
	expenseBatches int
}

func (m *MockLedgerRepo) ExistingExternalIDs(ctx context.Context, userID int64, externalIDs []string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]struct{}, len(externalIDs))
	for _, id := range externalIDs {
		want[id] = struct{}{}
	}
	found := map[string]struct{}{}
	for _, e := range m.income {
		if _, ok := want[e.ExternalID]; ok && e.UserID == userID {
			found[e.ExternalID] = struct{}{}
		}
	}
	for _, e := range m.expenses {
		if _, ok := want[e.ExternalID]; ok && e.UserID == userID {
			found[e.ExternalID] = struct{}{}
		}
	}
	return found, nil
}

func (m *MockLedgerRepo) InsertIncome(ctx context.Context, entries []ledger.IncomeEntry) error {
	if m.InsertIncomeFunc != nil {
		if err := m.InsertIncomeFunc(ctx, entries); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.income = append(m.income, entries...)
	m.incomeBatches++
	return nil
}

func (m *MockLedgerRepo) InsertExpenses(ctx context.Context, entries []ledger.ExpenseEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expenses = append(m.expenses, entries...)
	m.expenseBatches++
	return nil
}

func (m *MockLedgerRepo) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.income) + len(m.expenses)
}

// MockPublisher records published events
type MockPublisher struct {
	mu     sync.Mutex
	events []ledger.ImportedEvent
	err    error
}

func (m *MockPublisher) PublishImported(ctx context.Context, event ledger.ImportedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.err
}

// MockDispatcher records dispatched links
type MockDispatcher struct {
	DispatchSyncFunc func(ctx context.Context, link *bankaccount.Link, record *consent.Record) error
	links            []*bankaccount.Link
}

func (m *MockDispatcher) DispatchSync(ctx context.Context, link *bankaccount.Link, record *consent.Record) error {
	if m.DispatchSyncFunc != nil {
		if err := m.DispatchSyncFunc(ctx, link, record); err != nil {
			return err
		}
	}
	m.links = append(m.links, link)
	return nil
}

// MockNotifier records expiry and import notifications
type MockNotifier struct {
	expired  []string
	imported []int
}

func (m *MockNotifier) NotifyConsentExpired(ctx context.Context, userID int64, consentID string) error {
	m.expired = append(m.expired, consentID)
	return nil
}

func (m *MockNotifier) NotifyImportComplete(ctx context.Context, userID int64, accountLabel string, count int) error {
	m.imported = append(m.imported, count)
	return nil
}

// MockRefresher implements TokenRefresher with a fixed outcome
type MockRefresher struct {
	ok    bool
	token string
	calls int
}

func (m *MockRefresher) RefreshAccessToken(ctx context.Context, record *consent.Record) bool {
	m.calls++
	if m.ok {
		record.AccessToken = m.token
	}
	return m.ok
}

func validRecord() *consent.Record {
	return &consent.Record{
		ConsentID:    "c-1",
		UserID:       7,
		Status:       consent.StatusValid,
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ValidUntil:   time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
	}
}

func unauthorized(endpoint string) error {
	return &bt.StatusError{Endpoint: endpoint, StatusCode: 401}
}

func tx(id, amount, date string) bt.Transaction {
	return bt.Transaction{
		TransactionID:     id,
		TransactionAmount: bt.Amount{Amount: bt.RawNumber(amount), Currency: "RON"},
		BookingDate:       date,
		Details:           "tx " + id,
	}
}

func page(txs ...bt.Transaction) *bt.TransactionsResponse {
	return &bt.TransactionsResponse{Transactions: &bt.TransactionList{Booked: txs}}
}
