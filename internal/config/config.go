// Package config reads process configuration from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreModePostgres = "postgres"
	StoreModeMemory   = "memory"
)

type Config struct {
	Port               string
	StoreMode          string
	PostgresURL        string
	DBSchema           string
	MigrationsPath     string
	KafkaBrokers       []string
	OTLPEndpoint       string
	TxTimeout          time.Duration
	LockTimeout        time.Duration
	OrderRetryAttempts uint
	Currency           string
	StoreName          string
	StripeAPIKey       string
	AlertWebhookURL    string
}

// Load reads the given .env files (".env" when none are named) without
// overriding variables already set, then builds and validates a Config.
// Missing .env files are ignored.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	cfg := Config{
		Port:           getenv("PORT", "8080"),
		StoreMode:      strings.ToLower(getenv("STORE_MODE", StoreModePostgres)),
		PostgresURL:    os.Getenv("POSTGRES_URL"),
		DBSchema:       os.Getenv("DB_SCHEMA"),
		MigrationsPath: getenv("MIGRATIONS_PATH", "file://migrations"),
		OTLPEndpoint:   getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Currency:       strings.ToLower(getenv("CURRENCY", "usd")),
		StoreName:      getenv("STORE_NAME", "RETAILCORE"),
		StripeAPIKey:   os.Getenv("STRIPE_API_KEY"),

		AlertWebhookURL: os.Getenv("ALERT_WEBHOOK_URL"),
	}

	for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	var errs []error
	cfg.TxTimeout = duration("TX_TIMEOUT", 5*time.Second, &errs)
	cfg.LockTimeout = duration("LOCK_TIMEOUT", 2*time.Second, &errs)

	attempts, err := strconv.ParseUint(getenv("ORDER_RETRY_ATTEMPTS", "3"), 10, 32)
	if err != nil || attempts == 0 {
		errs = append(errs, errors.New("ORDER_RETRY_ATTEMPTS must be a positive integer"))
	}
	cfg.OrderRetryAttempts = uint(attempts)

	if cfg.StoreMode != StoreModePostgres && cfg.StoreMode != StoreModeMemory {
		errs = append(errs, fmt.Errorf("STORE_MODE must be %q or %q, got %q", StoreModePostgres, StoreModeMemory, cfg.StoreMode))
	}

	if len(cfg.Currency) != 3 {
		errs = append(errs, fmt.Errorf("CURRENCY must be an ISO 4217 code, got %q", cfg.Currency))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("%s must be a positive duration, got %q", key, raw))
		return fallback
	}
	return d
}

// ValidateStore checks the settings needed by processes that open the ledger.
func (c Config) ValidateStore() error {
	if c.StoreMode == StoreModePostgres && c.PostgresURL == "" {
		return errors.New("POSTGRES_URL is required when STORE_MODE=postgres")
	}
	return nil
}
