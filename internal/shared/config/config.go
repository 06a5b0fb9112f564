package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	BT         BTConfig
	JWT        JWTConfig
	Encryption EncryptionConfig
	Scheduler  SchedulerConfig
	Kafka      KafkaConfig
	Firebase   FirebaseConfig
	Messages   MessagesConfig
	Telemetry  TelemetryConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
	// Where the bank callback sends the browser after a successful consent.
	ConsentSuccessURL string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	// Run embedded migrations on startup.
	AutoMigrate bool
}

// BTConfig holds the open banking provider settings.
type BTConfig struct {
	APIBase      string
	OAuthBase    string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	PSUIPAddress string
	GeoLocation  string
	HTTPTimeout  time.Duration
	// Days of history pulled on the first sync of an account.
	InitialSyncDays int
	// Validity requested for new consents, in days.
	ConsentValidityDays int
}

type JWTConfig struct {
	Secret string
}

type EncryptionConfig struct {
	Key string
}

type SchedulerConfig struct {
	Enabled       bool
	ScheduleTimes []string
	WorkerCount   int
	JobDelay      time.Duration
	JobTimeout    time.Duration
	QueueSize     int
	RunOnStartup  bool
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type FirebaseConfig struct {
	CredentialsFile string
}

// MessagesConfig points at an optional JSON file overriding notification texts.
type MessagesConfig struct {
	File string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

func Load() (*Config, error) {
	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	schedulerWorkers, err := strconv.Atoi(getEnv("SCHEDULER_WORKERS", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_WORKERS: %w", err)
	}
	schedulerQueueSize, err := strconv.Atoi(getEnv("SCHEDULER_QUEUE_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_QUEUE_SIZE: %w", err)
	}
	schedulerJobDelay, err := getDurationEnv("SCHEDULER_JOB_DELAY", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	schedulerJobTimeout, err := getDurationEnv("SCHEDULER_JOB_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	btTimeout, err := getDurationEnv("BT_HTTP_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	initialSyncDays, err := strconv.Atoi(getEnv("BT_INITIAL_SYNC_DAYS", "90"))
	if err != nil {
		return nil, fmt.Errorf("invalid BT_INITIAL_SYNC_DAYS: %w", err)
	}
	consentValidityDays, err := strconv.Atoi(getEnv("BT_CONSENT_VALIDITY_DAYS", "150"))
	if err != nil {
		return nil, fmt.Errorf("invalid BT_CONSENT_VALIDITY_DAYS: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnv("PORT", "8080"),
			Host:              getEnv("HOST", "0.0.0.0"),
			AllowedHosts:      splitList(getEnv("ALLOWED_HOSTS", "")),
			ConsentSuccessURL: getEnv("CONSENT_SUCCESS_URL", "http://localhost:9527/import"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        dbPort,
			User:        getEnv("DB_USER", "ingest"),
			Password:    getEnv("DB_PASSWORD", ""),
			DBName:      getEnv("DB_NAME", "ingest"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			AutoMigrate: getBoolEnv("DB_AUTO_MIGRATE", true),
		},
		BT: BTConfig{
			APIBase:             getEnv("BT_API_BASE", ""),
			OAuthBase:           getEnv("BT_OAUTH_BASE", ""),
			TokenURL:            getEnv("BT_TOKEN_URL", ""),
			ClientID:            getEnv("BT_CLIENT_ID", ""),
			ClientSecret:        getEnv("BT_CLIENT_SECRET", ""),
			RedirectURI:         getEnv("BT_REDIRECT_URI", ""),
			PSUIPAddress:        getEnv("BT_PSU_IP_ADDRESS", "127.0.0.1"),
			GeoLocation:         getEnv("BT_PSU_GEO_LOCATION", ""),
			HTTPTimeout:         btTimeout,
			InitialSyncDays:     initialSyncDays,
			ConsentValidityDays: consentValidityDays,
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		Scheduler: SchedulerConfig{
			Enabled:       getBoolEnv("SCHEDULER_ENABLED", true),
			ScheduleTimes: splitList(getEnv("SCHEDULER_TIMES", "06:00,18:00")),
			WorkerCount:   schedulerWorkers,
			JobDelay:      schedulerJobDelay,
			JobTimeout:    schedulerJobTimeout,
			QueueSize:     schedulerQueueSize,
			RunOnStartup:  getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_LEDGER_TOPIC", "ledger.imported"),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		},
		Messages: MessagesConfig{
			File: getEnv("MESSAGES_FILE", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "ingest-api"),
			Environment:  getEnv("OTEL_ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9090"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Encryption.Key == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(c.Encryption.Key) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	required := map[string]string{
		"BT_API_BASE":      c.BT.APIBase,
		"BT_OAUTH_BASE":    c.BT.OAuthBase,
		"BT_TOKEN_URL":     c.BT.TokenURL,
		"BT_CLIENT_ID":     c.BT.ClientID,
		"BT_CLIENT_SECRET": c.BT.ClientSecret,
		"BT_REDIRECT_URI":  c.BT.RedirectURI,
	}
	for _, key := range []string{"BT_API_BASE", "BT_OAUTH_BASE", "BT_TOKEN_URL", "BT_CLIENT_ID", "BT_CLIENT_SECRET", "BT_REDIRECT_URI"} {
		if required[key] == "" {
			return fmt.Errorf("%s is required", key)
		}
	}

	if c.BT.InitialSyncDays <= 0 {
		return fmt.Errorf("BT_INITIAL_SYNC_DAYS must be positive")
	}
	if c.BT.ConsentValidityDays <= 0 {
		return fmt.Errorf("BT_CONSENT_VALIDITY_DAYS must be positive")
	}
	if c.Scheduler.WorkerCount <= 0 {
		return fmt.Errorf("SCHEDULER_WORKERS must be positive")
	}
	if c.Scheduler.QueueSize <= 0 {
		return fmt.Errorf("SCHEDULER_QUEUE_SIZE must be positive")
	}

	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as expected by the migrator.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
