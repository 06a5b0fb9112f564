package scheduler

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"ingest/internal/domain/bankaccount"
	"ingest/internal/domain/consent"
	"ingest/internal/domain/openfinance"
)

// AccountSyncer is the transaction import run by AccountSyncJob.
type AccountSyncer interface {
	SyncAccount(ctx context.Context, link *bankaccount.Link, record *consent.Record, from *time.Time) (*openfinance.TransactionSyncResult, error)
}

// AccountSyncJob imports transactions for one linked account over the full
// initial window. Entries already in the ledger are skipped, so a pass that
// aborted halfway is completed by the next one.
type AccountSyncJob struct {
	link   bankaccount.Link
	record consent.Record
	syncer AccountSyncer
}

// NewAccountSyncJob copies link and record so the job owns its state.
func NewAccountSyncJob(link *bankaccount.Link, record *consent.Record, syncer AccountSyncer) *AccountSyncJob {
	return &AccountSyncJob{link: *link, record: *record, syncer: syncer}
}

func (j *AccountSyncJob) Execute(ctx context.Context) error {
	result, err := j.syncer.SyncAccount(ctx, &j.link, &j.record, nil)
	if err != nil {
		return fmt.Errorf("sync of account %s failed: %w", j.link.ResourceID, err)
	}

	if len(result.Errors) > 0 {
		log.Printf("Account %s: sync completed with %d skipped records", j.link.ResourceID, len(result.Errors))
	}
	return nil
}

func (j *AccountSyncJob) UserID() string {
	return strconv.FormatInt(j.record.UserID, 10)
}

func (j *AccountSyncJob) Description() string {
	return fmt.Sprintf("Transaction sync for account %s", j.link.ResourceID)
}

// DiscoveryJob re-runs account discovery for a consent, which in turn queues
// one AccountSyncJob per linked account.
type DiscoveryJob struct {
	record    consent.Record
	discovery openfinance.Discoverer
}

func NewDiscoveryJob(record *consent.Record, discovery openfinance.Discoverer) *DiscoveryJob {
	return &DiscoveryJob{record: *record, discovery: discovery}
}

func (j *DiscoveryJob) Execute(ctx context.Context) error {
	result, err := j.discovery.DiscoverAccounts(ctx, &j.record)
	if err != nil {
		return fmt.Errorf("discovery for consent %s failed: %w", j.record.ConsentID, err)
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("discovery for consent %s completed with %d errors", j.record.ConsentID, len(result.Errors))
	}
	return nil
}

func (j *DiscoveryJob) UserID() string {
	return strconv.FormatInt(j.record.UserID, 10)
}

func (j *DiscoveryJob) Description() string {
	return fmt.Sprintf("Account discovery for consent %s", j.record.ConsentID)
}

// SyncDispatcher queues account syncs on a worker pool.
type SyncDispatcher struct {
	pool   *WorkerPool
	syncer AccountSyncer
	wait   bool
}

var _ openfinance.Dispatcher = (*SyncDispatcher)(nil)

func NewSyncDispatcher(pool *WorkerPool, syncer AccountSyncer) *SyncDispatcher {
	return &SyncDispatcher{pool: pool, syncer: syncer}
}

// WithBackPressure makes DispatchSync wait for queue room instead of
// dropping the sync. Meant for batch callers that must not lose work.
func (d *SyncDispatcher) WithBackPressure() *SyncDispatcher {
	return &SyncDispatcher{pool: d.pool, syncer: d.syncer, wait: true}
}

func (d *SyncDispatcher) DispatchSync(ctx context.Context, link *bankaccount.Link, record *consent.Record) error {
	job := NewAccountSyncJob(link, record, d.syncer)
	if d.wait {
		return d.pool.SubmitWait(ctx, job)
	}
	return d.pool.Submit(job)
}

// ValidConsentJobs returns a job provider that yields one DiscoveryJob per
// consent still valid today.
func ValidConsentJobs(consents consent.Repository, discovery openfinance.Discoverer) func(context.Context) ([]Job, error) {
	return func(ctx context.Context) ([]Job, error) {
		records, err := consents.ListValid(ctx, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to list valid consents: %w", err)
		}

		jobs := make([]Job, 0, len(records))
		for _, record := range records {
			jobs = append(jobs, NewDiscoveryJob(record, discovery))
		}
		return jobs, nil
	}
}
