// Package config holds the collector service configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"billingstack/pkg/config"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is built once in main and passed to constructors.
type Config struct {
	Port string

	StorageDriver      string
	DatabaseURL        string
	FieldEncryptionKey string

	JWTSecret    string
	ServiceToken string

	Providers            []string
	SyncProvidersOnStart bool
	ProviderTimeout      time.Duration
	BreakerFailureRatio  float64
	BreakerMinRequests   int
	BreakerDelay         time.Duration

	KafkaBrokers  []string
	KafkaClientID string
	EventsTopic   string

	RedisURL       string
	IdempotencyTTL time.Duration

	NATSURL        string
	RPCTopic       string
	RPCConcurrency int

	StuckThreshold time.Duration
	SweepInterval  time.Duration
}

// FromEnv reads the configuration from the environment. Call config.LoadEnv
// first so .env files are applied.
func FromEnv() (Config, error) {
	c := Config{
		Port:                 config.GetEnv("COLLECTOR_PORT", "18040"),
		StorageDriver:        strings.ToLower(config.GetEnv("STORAGE_DRIVER", DriverPostgres)),
		DatabaseURL:          config.GetEnv("DATABASE_URL", ""),
		FieldEncryptionKey:   config.GetEnv("FIELD_ENCRYPTION_KEY", ""),
		JWTSecret:            config.GetEnv("JWT_SECRET", ""),
		ServiceToken:         config.GetEnv("SERVICE_TOKEN", ""),
		Providers:            config.GetEnvList("COLLECTOR_PROVIDERS"),
		SyncProvidersOnStart: config.GetEnvBool("SYNC_PROVIDERS_ON_START", true),
		ProviderTimeout:      config.GetEnvDuration("PROVIDER_TIMEOUT", 15*time.Second),
		BreakerFailureRatio:  config.GetEnvFloat("PROVIDER_BREAKER_FAILURE_RATIO", 0.5),
		BreakerMinRequests:   config.GetEnvInt("PROVIDER_BREAKER_MIN_REQUESTS", 10),
		BreakerDelay:         config.GetEnvDuration("PROVIDER_BREAKER_DELAY", 30*time.Second),
		KafkaBrokers:         config.GetEnvList("KAFKA_BROKERS"),
		KafkaClientID:        config.GetEnv("KAFKA_CLIENT_ID", "collector"),
		EventsTopic:          config.GetEnv("COLLECTOR_EVENTS_TOPIC", "collector_state_events"),
		RedisURL:             config.GetEnv("REDIS_URL", ""),
		IdempotencyTTL:       config.GetEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		NATSURL:              config.GetEnv("NATS_URL", ""),
		RPCTopic:             config.GetEnv("COLLECTOR_RPC_TOPIC", "collector"),
		RPCConcurrency:       config.GetEnvInt("COLLECTOR_RPC_CONCURRENCY", 64),
		StuckThreshold:       config.GetEnvDuration("STUCK_THRESHOLD", 30*time.Minute),
		SweepInterval:        config.GetEnvDuration("STUCK_SWEEP_INTERVAL", 5*time.Minute),
	}
	if len(c.Providers) == 0 {
		c.Providers = []string{"dummy", "stripe", "mollie"}
	}
	return c, c.Validate()
}

// Validate checks required settings and ranges.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres storage driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}
	if c.JWTSecret == "" && c.ServiceToken == "" {
		errs = append(errs, errors.New("one of JWT_SECRET or SERVICE_TOKEN is required"))
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT must be positive"))
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		errs = append(errs, errors.New("PROVIDER_BREAKER_FAILURE_RATIO must be in (0, 1]"))
	}
	if c.RPCConcurrency <= 0 {
		errs = append(errs, errors.New("COLLECTOR_RPC_CONCURRENCY must be positive"))
	}
	if c.StuckThreshold <= 0 || c.SweepInterval <= 0 {
		errs = append(errs, errors.New("STUCK_THRESHOLD and STUCK_SWEEP_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

// RequiredSettings returns the settings the configuration health check
// reports, each under its own name. Auth settings are listed when set; with
// neither set both are reported missing.
func (c Config) RequiredSettings() map[string]string {
	out := map[string]string{"STORAGE_DRIVER": c.StorageDriver}
	if c.StorageDriver == DriverPostgres {
		out["DATABASE_URL"] = c.DatabaseURL
	}
	if c.JWTSecret != "" || c.ServiceToken == "" {
		out["JWT_SECRET"] = c.JWTSecret
	}
	if c.ServiceToken != "" || c.JWTSecret == "" {
		out["SERVICE_TOKEN"] = c.ServiceToken
	}
	return out
}

// KafkaEnabled reports whether state events should be published.
func (c Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// RedisEnabled reports whether idempotency keys are enforced.
func (c Config) RedisEnabled() bool { return c.RedisURL != "" }

// NATSEnabled reports whether the RPC server should start.
func (c Config) NATSEnabled() bool { return c.NATSURL != "" }
