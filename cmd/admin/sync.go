package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"ingest/internal/domain/consent"
	"ingest/internal/domain/ledger"
	"ingest/internal/domain/openfinance"
	"ingest/internal/infrastructure/bt"
	"ingest/internal/infrastructure/crypto"
	"ingest/internal/infrastructure/kafka"
	"ingest/internal/infrastructure/postgres"
	"ingest/internal/interfaces/scheduler"
	"ingest/internal/shared/config"
)

func newSyncCommand() *cobra.Command {
	var (
		userIDs string
		all     bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Discover accounts and import transactions for users with a valid consent",
		Example: `  admin sync --user-id=1
  admin sync --user-id=1,2,3
  admin sync --all --timeout=1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userIDs == "" && !all {
				return errors.New("must specify --user-id or --all")
			}

			var ids []int64
			if !all {
				var err error
				if ids, err = parseUserIDs(userIDs); err != nil {
					return err
				}
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			return runSync(ctx, cfg, ids)
		},
	}

	cmd.Flags().StringVar(&userIDs, "user-id", "", "User ID(s) to sync (comma-separated for multiple)")
	cmd.Flags().BoolVar(&all, "all", false, "Sync every user with a valid consent")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "Timeout for the operation (e.g., 5m, 1h)")

	return cmd
}

// syncRuntime is the subset of the API wiring the sync command needs.
type syncRuntime struct {
	db        *postgres.DB
	consents  *postgres.ConsentRepository
	consent   *consent.Service
	discovery *openfinance.AccountDiscoveryService
	pool      *scheduler.WorkerPool
	results   chan scheduler.JobResult
	publisher *kafka.Publisher
}

func newSyncRuntime(cfg *config.Config) (*syncRuntime, error) {
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		db.Close()
		return nil, err
	}

	consentRepo := postgres.NewConsentRepository(db, encryptor)
	linkRepo := postgres.NewBankAccountRepository(db)
	currencyRepo := postgres.NewCurrencyRepository(db)
	ledgerRepo := postgres.NewLedgerRepository(db)

	btClient := bt.NewClient(bt.Config{
		APIBase:      cfg.BT.APIBase,
		RedirectURI:  cfg.BT.RedirectURI,
		PSUIPAddress: cfg.BT.PSUIPAddress,
		GeoLocation:  cfg.BT.GeoLocation,
		Timeout:      cfg.BT.HTTPTimeout,
	})
	btOAuth := bt.NewOAuth(bt.OAuthConfig{
		ClientID:     cfg.BT.ClientID,
		ClientSecret: cfg.BT.ClientSecret,
		AuthURL:      cfg.BT.OAuthBase,
		TokenURL:     cfg.BT.TokenURL,
		RedirectURI:  cfg.BT.RedirectURI,
		Timeout:      cfg.BT.HTTPTimeout,
	})

	rt := &syncRuntime{db: db, consents: consentRepo}

	var publisher ledger.Publisher = ledger.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		rt.publisher = kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publisher = rt.publisher
	}

	tokenService := openfinance.NewTokenService(consentRepo, btOAuth)
	syncService := openfinance.NewTransactionSyncService(
		btClient, tokenService, linkRepo, ledgerRepo, currencyRepo, publisher, cfg.BT.InitialSyncDays,
	)

	rt.results = make(chan scheduler.JobResult, cfg.Scheduler.QueueSize+cfg.Scheduler.WorkerCount)
	rt.pool = scheduler.NewWorkerPool(scheduler.PoolConfig{
		Workers:    cfg.Scheduler.WorkerCount,
		QueueSize:  cfg.Scheduler.QueueSize,
		JobTimeout: cfg.Scheduler.JobTimeout,
		Results:    rt.results,
	})

	rt.discovery = openfinance.NewAccountDiscoveryService(
		btClient, tokenService, linkRepo, currencyRepo, scheduler.NewSyncDispatcher(rt.pool, syncService).WithBackPressure(), nil,
	)
	rt.consent = consent.NewService(consentRepo, btClient, btOAuth, cfg.BT.ConsentValidityDays)

	return rt, nil
}

func (rt *syncRuntime) close() {
	if rt.publisher != nil {
		rt.publisher.Close()
	}
	rt.db.Close()
}

func runSync(ctx context.Context, cfg *config.Config, userIDs []int64) error {
	rt, err := newSyncRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	var records []*consent.Record
	if len(userIDs) == 0 {
		records, err = rt.consents.ListValid(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("failed to list valid consents: %w", err)
		}
		log.Printf("Found %d users with a valid consent", len(records))
	} else {
		for _, userID := range userIDs {
			record, err := rt.consent.GetValidConsent(ctx, userID)
			if err != nil {
				log.Printf("User %d: no usable consent: %v", userID, err)
				continue
			}
			records = append(records, record)
		}
	}

	if len(records) == 0 {
		log.Println("No users to process")
		return nil
	}

	rt.pool.Start()
	collector := collectResults(rt.results)

	startTime := time.Now()
	dispatched := 0
	for _, record := range records {
		result, err := rt.discovery.DiscoverAccounts(ctx, record)
		if err != nil {
			log.Printf("User %d: account discovery failed: %v", record.UserID, err)
			continue
		}
		printDiscoveryResult(result)
		dispatched += result.Dispatched
	}

	drained := make(chan struct{})
	go func() {
		rt.pool.Shutdown()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		rt.pool.ShutdownWithTimeout(5 * time.Second)
		<-drained
		ok, failed := collector.wait()
		return fmt.Errorf("sync interrupted with %d of %d account syncs finished: %w", ok+failed, dispatched, ctx.Err())
	}

	_, failed := collector.wait()
	log.Printf("Sync completed in %v: %d account syncs, %d failed", time.Since(startTime), dispatched, failed)
	if failed > 0 {
		return fmt.Errorf("%d account syncs failed", failed)
	}
	return nil
}

// resultCollector prints job results while discovery is still queueing work,
// so workers never block on a full results channel.
type resultCollector struct {
	stop       chan struct{}
	done       chan struct{}
	ok, failed int
}

func collectResults(results <-chan scheduler.JobResult) *resultCollector {
	c := &resultCollector{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(c.done)
		for {
			select {
			case r := <-results:
				c.record(r)
			case <-c.stop:
				for {
					select {
					case r := <-results:
						c.record(r)
					default:
						return
					}
				}
			}
		}
	}()
	return c
}

func (c *resultCollector) record(r scheduler.JobResult) {
	if r.Err != nil {
		c.failed++
		fmt.Printf("  FAILED %s: %v\n", r.Description, r.Err)
		return
	}
	c.ok++
	fmt.Printf("  ok     %s (%v)\n", r.Description, r.Duration.Round(time.Millisecond))
}

// wait must only be called once the pool has shut down.
func (c *resultCollector) wait() (ok, failed int) {
	close(c.stop)
	<-c.done
	return c.ok, c.failed
}

func printDiscoveryResult(result *openfinance.DiscoveryResult) {
	fmt.Printf("\n=== User %d (consent %s) ===\n", result.UserID, result.ConsentID)
	if result.Skipped {
		fmt.Println("  Skipped: consent is not valid")
		return
	}
	fmt.Printf("  Accounts found:  %d\n", result.AccountsFound)
	fmt.Printf("  Accounts linked: %d\n", result.Created)
	fmt.Printf("  Syncs queued:    %d\n", result.Dispatched)

	if len(result.Errors) > 0 {
		fmt.Printf("  Errors:          %d\n", len(result.Errors))
		for i, e := range result.Errors {
			if i >= 5 {
				fmt.Printf("    ... and %d more errors\n", len(result.Errors)-5)
				break
			}
			fmt.Printf("    - %s\n", e)
		}
	}
}
