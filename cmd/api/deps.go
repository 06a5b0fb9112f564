package main

import (
	"context"
	"log"

	"ingest/internal/domain/consent"
	"ingest/internal/domain/ledger"
	"ingest/internal/domain/notification"
	"ingest/internal/domain/openfinance"
	"ingest/internal/infrastructure/bt"
	"ingest/internal/infrastructure/crypto"
	"ingest/internal/infrastructure/firebase"
	"ingest/internal/infrastructure/kafka"
	"ingest/internal/infrastructure/postgres"
	httphandlers "ingest/internal/interfaces/http"
	"ingest/internal/interfaces/scheduler"
	"ingest/internal/shared/auth"
	"ingest/internal/shared/config"
	"ingest/internal/shared/messages"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	BankHandler         *httphandlers.BankHandler
	NotificationHandler *httphandlers.NotificationHandler

	// Auth
	JWT *auth.JWT

	// Shared by the callback path and the scheduler
	Pool       *scheduler.WorkerPool
	JobResults <-chan scheduler.JobResult
	Consents   *postgres.ConsentRepository

	Discovery *openfinance.AccountDiscoveryService

	publisher *kafka.Publisher
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(cfg.Database.URL()); err != nil {
			return nil, err
		}
		log.Println("Database migrations applied")
	}

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

	// Repositories
	consentRepo := postgres.NewConsentRepository(db, encryptor)
	linkRepo := postgres.NewBankAccountRepository(db)
	currencyRepo := postgres.NewCurrencyRepository(db)
	ledgerRepo := postgres.NewLedgerRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)

	// Bank API
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

	// Notifications
	texts := messages.Default()
	if cfg.Messages.File != "" {
		texts, err = messages.Load(cfg.Messages.File)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	var messenger notification.Messenger
	if cfg.Firebase.CredentialsFile != "" {
		fcm, err := firebase.NewClient(ctx, cfg.Firebase.CredentialsFile, notificationRepo.DeactivateToken)
		if err != nil {
			log.Printf("Warning: Failed to initialize Firebase, push notifications disabled: %v", err)
		} else {
			messenger = fcm
		}
	} else {
		log.Println("FIREBASE_CREDENTIALS_FILE not set, push notifications disabled")
	}
	notificationService := notification.NewService(notificationRepo, messenger, texts)

	// Ledger events
	var publisher ledger.Publisher = ledger.NopPublisher{}
	var kafkaPublisher *kafka.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher = kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publisher = kafkaPublisher
		log.Printf("Publishing ledger events to %s on %v", cfg.Kafka.Topic, cfg.Kafka.Brokers)
	}

	// Open finance services
	tokenService := openfinance.NewTokenService(consentRepo, btOAuth)

	syncService := openfinance.NewTransactionSyncService(
		btClient, tokenService, linkRepo, ledgerRepo, currencyRepo, publisher, cfg.BT.InitialSyncDays,
	)
	syncService.SetNotifier(notificationService)

	results := make(chan scheduler.JobResult, cfg.Scheduler.QueueSize)
	pool := scheduler.NewWorkerPool(scheduler.PoolConfig{
		Workers:    cfg.Scheduler.WorkerCount,
		JobDelay:   cfg.Scheduler.JobDelay,
		QueueSize:  cfg.Scheduler.QueueSize,
		JobTimeout: cfg.Scheduler.JobTimeout,
		Results:    results,
	})
	dispatcher := scheduler.NewSyncDispatcher(pool, syncService)

	discovery := openfinance.NewAccountDiscoveryService(
		btClient, tokenService, linkRepo, currencyRepo, dispatcher, notificationService,
	)
	tokenService.SetDiscovery(discovery)

	consentService := consent.NewService(consentRepo, btClient, btOAuth, cfg.BT.ConsentValidityDays)

	return &Dependencies{
		DB:                  db,
		BankHandler:         httphandlers.NewBankHandler(consentService, tokenService, discovery, cfg.Server.ConsentSuccessURL),
		NotificationHandler: httphandlers.NewNotificationHandler(notificationService),
		JWT:                 auth.NewJWT(cfg.JWT.Secret),
		Pool:                pool,
		JobResults:          results,
		Consents:            consentRepo,
		Discovery:           discovery,
		publisher:           kafkaPublisher,
	}, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			log.Printf("Error closing ledger publisher: %v", err)
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}
