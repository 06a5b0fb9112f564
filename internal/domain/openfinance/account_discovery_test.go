package openfinance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingest/internal/domain/bankaccount"
	"ingest/internal/domain/consent"
	"ingest/internal/infrastructure/bt"
)

func accountsResponse(accounts ...bt.Account) *bt.AccountsResponse {
	return &bt.AccountsResponse{Accounts: accounts}
}

func TestDiscoverAccounts_SkipsInvalidConsent(t *testing.T) {
	client := &MockClient{GetAccountsFunc: func(ctx context.Context, consentID, accessToken string) (*bt.AccountsResponse, error) {
		t.Fatal("accounts must not be fetched for a consent that is not valid")
		return nil, nil
	}}
	svc := NewAccountDiscoveryService(client, &MockRefresher{}, newMockLinkRepo(), &MockCurrencyRepo{}, &MockDispatcher{}, nil)

	rec := validRecord()
	rec.Status = consent.StatusCreated

	result, err := svc.DiscoverAccounts(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
}

func TestDiscoverAccounts_LinksAndDispatches(t *testing.T) {
	client := &MockClient{GetAccountsFunc: func(ctx context.Context, consentID, accessToken string) (*bt.AccountsResponse, error) {
		assert.Equal(t, "c-1", consentID)
		assert.Equal(t, "access-1", accessToken)
		return accountsResponse(
			bt.Account{ResourceID: "acc-new", IBAN: "RO49BTRL1", Currency: "ron", Name: "Current"},
			bt.Account{ResourceID: "acc-old", IBAN: "RO49BTRL2", Currency: "EUR", Name: "Savings"},
			bt.Account{ResourceID: "", Name: "Broken"},
		), nil
	}}
	links := newMockLinkRepo(&bankaccount.Link{ID: 1, ResourceID: "acc-old", ConsentID: "c-0"})
	dispatcher := &MockDispatcher{}
	svc := NewAccountDiscoveryService(client, &MockRefresher{}, links, &MockCurrencyRepo{codes: map[string]int64{"RON": 1}}, dispatcher, nil)

	result, err := svc.DiscoverAccounts(context.Background(), validRecord())
	require.NoError(t, err)

	assert.Equal(t, 3, result.AccountsFound)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Existing)
	assert.Equal(t, 2, result.Dispatched)
	assert.Len(t, result.Errors, 1)

	created, err := links.GetByResourceID(context.Background(), "acc-new")
	require.NoError(t, err)
	require.NotNil(t, created.CurrencyID)
	assert.Equal(t, int64(1), *created.CurrencyID)

	moved, err := links.GetByResourceID(context.Background(), "acc-old")
	require.NoError(t, err)
	assert.Equal(t, "c-1", moved.ConsentID)

	require.Len(t, dispatcher.links, 2)
	assert.Equal(t, "acc-new", dispatcher.links[0].ResourceID)
	assert.Equal(t, "acc-old", dispatcher.links[1].ResourceID)
}

func TestDiscoverAccounts_UnknownCurrencyLinksWithoutCurrency(t *testing.T) {
	client := &MockClient{GetAccountsFunc: func(ctx context.Context, consentID, accessToken string) (*bt.AccountsResponse, error) {
		return accountsResponse(bt.Account{ResourceID: "acc-1", Currency: "XYZ"}), nil
	}}
	links := newMockLinkRepo()
	svc := NewAccountDiscoveryService(client, &MockRefresher{}, links, &MockCurrencyRepo{}, nil, nil)

	result, err := svc.DiscoverAccounts(context.Background(), validRecord())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)

	link, err := links.GetByResourceID(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Nil(t, link.CurrencyID)
}

func TestDiscoverAccounts_OneFailureDoesNotAbortOthers(t *testing.T) {
	client := &MockClient{GetAccountsFunc: func(ctx context.Context, consentID, accessToken string) (*bt.AccountsResponse, error) {
		return accountsResponse(bt.Account{ResourceID: "acc-1"}, bt.Account{ResourceID: "acc-2"}), nil
	}}
	dispatcher := &MockDispatcher{DispatchSyncFunc: func(ctx context.Context, link *bankaccount.Link, record *consent.Record) error {
		if link.ResourceID == "acc-1" {
			return errors.New("queue is full")
		}
		return nil
	}}
	svc := NewAccountDiscoveryService(client, &MockRefresher{}, newMockLinkRepo(), &MockCurrencyRepo{}, dispatcher, nil)

	result, err := svc.DiscoverAccounts(context.Background(), validRecord())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Dispatched)
	assert.Len(t, result.Errors, 1)
	assert.Equal(t, 2, result.Created)
}

func TestDiscoverAccounts_RetriesOnceAfterRefresh(t *testing.T) {
	var tokens []string
	client := &MockClient{GetAccountsFunc: func(ctx context.Context, consentID, accessToken string) (*bt.AccountsResponse, error) {
		tokens = append(tokens, accessToken)
		if accessToken == "access-1" {
			return nil, unauthorized("accounts")
		}
		return accountsResponse(bt.Account{ResourceID: "acc-1"}), nil
	}}
	refresher := &MockRefresher{ok: true, token: "access-2"}
	svc := NewAccountDiscoveryService(client, refresher, newMockLinkRepo(), &MockCurrencyRepo{}, &MockDispatcher{}, nil)

	result, err := svc.DiscoverAccounts(context.Background(), validRecord())
	require.NoError(t, err)
	assert.Equal(t, []string{"access-1", "access-2"}, tokens)
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, 1, result.Created)
}

func TestDiscoverAccounts_RefreshFailureNotifiesUser(t *testing.T) {
	client := &MockClient{GetAccountsFunc: func(ctx context.Context, consentID, accessToken string) (*bt.AccountsResponse, error) {
		return nil, unauthorized("accounts")
	}}
	links := newMockLinkRepo()
	notifier := &MockNotifier{}
	svc := NewAccountDiscoveryService(client, &MockRefresher{ok: false}, links, &MockCurrencyRepo{}, &MockDispatcher{}, notifier)

	_, err := svc.DiscoverAccounts(context.Background(), validRecord())
	assert.ErrorIs(t, err, ErrAuthExpired)
	assert.Equal(t, []string{"c-1"}, notifier.expired)
	assert.Empty(t, links.links)
}

func TestDiscoverAccounts_ProviderDown(t *testing.T) {
	client := &MockClient{GetAccountsFunc: func(ctx context.Context, consentID, accessToken string) (*bt.AccountsResponse, error) {
		return nil, &bt.StatusError{Endpoint: "accounts", StatusCode: 503}
	}}
	refresher := &MockRefresher{ok: true}
	notifier := &MockNotifier{}
	svc := NewAccountDiscoveryService(client, refresher, newMockLinkRepo(), &MockCurrencyRepo{}, &MockDispatcher{}, notifier)

	_, err := svc.DiscoverAccounts(context.Background(), validRecord())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Zero(t, refresher.calls)
	assert.Empty(t, notifier.expired)
}
