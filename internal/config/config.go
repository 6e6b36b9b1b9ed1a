package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"payments/internal/provider"
)

// Config holds all configuration for the application.
type Config struct {
	Env      string
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	Kafka    KafkaConfig
	Tracing  TracingConfig
	Log      LogConfig
	Payments PaymentsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host        string
	Port        string
	User        string
	Password    string
	DBName      string
	SSLMode     string
	AutoMigrate bool
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// IdempotencyTTL is how long a response is replayable for its key.
	IdempotencyTTL time.Duration
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// KafkaConfig holds the transaction event publisher configuration.
// Publishing is disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers string
	Topic   string
}

// TracingConfig holds OpenTelemetry exporter configuration.
// Tracing is disabled when Endpoint is empty.
type TracingConfig struct {
	ServiceName string
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level string
}

// PaymentsConfig holds provider routing and resilience configuration.
type PaymentsConfig struct {
	Primary  string
	Fallback string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeBaseURL       string

	MockEnabled       bool
	MockWebhookSecret string
	MockLatency       time.Duration

	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryMultiplier   float64

	BreakerThreshold int
	BreakerTimeout   time.Duration

	HealthTimeout     time.Duration
	FlagsFile         string
	MetricsInterval   time.Duration
	ReconcileInterval time.Duration
	ReconcileAge      time.Duration
	ReconcileBatch    int
}

// StripeEnabled reports whether Stripe credentials are configured.
func (p PaymentsConfig) StripeEnabled() bool {
	return p.StripeSecretKey != ""
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Env: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnv("DB_PORT", "5432"),
			User:        getEnv("DB_USER", "postgres"),
			Password:    getEnv("DB_PASSWORD", "postgres"),
			DBName:      getEnv("DB_NAME", "payments"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			AutoMigrate: getBoolEnv("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),

			IdempotencyTTL: getDurationEnv("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "payments-service"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Kafka: KafkaConfig{
			Brokers: getEnv("KAFKA_BROKERS", ""),
			Topic:   getEnv("KAFKA_TOPIC", "payments.transaction.updated"),
		},
		Tracing: TracingConfig{
			ServiceName: getEnv("OTEL_SERVICE_NAME", "payments-service"),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure:    getBoolEnv("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio: getFloatEnv("OTEL_SAMPLE_RATIO", 1),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", ""),
		},
		Payments: PaymentsConfig{
			Primary:  getEnv("PAYMENTS_PRIMARY_PROVIDER", "stripe"),
			Fallback: getEnv("PAYMENTS_FALLBACK_PROVIDER", "mock"),

			StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			StripeBaseURL:       getEnv("STRIPE_BASE_URL", ""),

			MockEnabled:       getBoolEnv("MOCK_PROVIDER_ENABLED", true),
			MockWebhookSecret: getEnv("MOCK_WEBHOOK_SECRET", "whsec_mock"),
			MockLatency:       getDurationEnv("MOCK_PROVIDER_LATENCY", 0),

			RetryMaxAttempts:  getIntEnv("PAYMENTS_RETRY_MAX_ATTEMPTS", 3),
			RetryInitialDelay: getDurationEnv("PAYMENTS_RETRY_INITIAL_DELAY", 200*time.Millisecond),
			RetryMaxDelay:     getDurationEnv("PAYMENTS_RETRY_MAX_DELAY", 2*time.Second),
			RetryMultiplier:   getFloatEnv("PAYMENTS_RETRY_MULTIPLIER", 2),

			BreakerThreshold: getIntEnv("PAYMENTS_BREAKER_THRESHOLD", 5),
			BreakerTimeout:   getDurationEnv("PAYMENTS_BREAKER_TIMEOUT", 60*time.Second),

			HealthTimeout:     getDurationEnv("PAYMENTS_HEALTH_TIMEOUT", 5*time.Second),
			FlagsFile:         getEnv("PAYMENTS_FLAGS_FILE", ""),
			MetricsInterval:   getDurationEnv("PAYMENTS_METRICS_INTERVAL", time.Minute),
			ReconcileInterval: getDurationEnv("PAYMENTS_RECONCILE_INTERVAL", 5*time.Minute),
			ReconcileAge:      getDurationEnv("PAYMENTS_RECONCILE_AGE", 15*time.Minute),
			ReconcileBatch:    getIntEnv("PAYMENTS_RECONCILE_BATCH", 100),
		},
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	for _, p := range []struct{ name, value string }{
		{"PAYMENTS_PRIMARY_PROVIDER", c.Payments.Primary},
		{"PAYMENTS_FALLBACK_PROVIDER", c.Payments.Fallback},
	} {
		if p.value == "" {
			continue
		}
		if _, err := provider.ParseType(p.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
		}
	}
	if c.Payments.StripeEnabled() && c.Payments.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set"))
	}
	if !c.Payments.StripeEnabled() && !c.Payments.MockEnabled {
		errs = append(errs, errors.New("no payment provider enabled: set STRIPE_SECRET_KEY or MOCK_PROVIDER_ENABLED"))
	}
	if c.Payments.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("PAYMENTS_RETRY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Payments.BreakerThreshold < 1 {
		errs = append(errs, errors.New("PAYMENTS_BREAKER_THRESHOLD must be at least 1"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
