package config

import (
	"strings"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("SERVICE_TOKEN", "svc")

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Port != "18040" || c.EventsTopic != "collector_state_events" || c.RPCTopic != "collector" {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if c.RPCConcurrency != 64 {
		t.Fatalf("expected 64 rpc workers, got %d", c.RPCConcurrency)
	}
	if c.IdempotencyTTL != 24*time.Hour {
		t.Fatalf("expected 24h idempotency ttl, got %s", c.IdempotencyTTL)
	}
	if strings.Join(c.Providers, ",") != "dummy,stripe,mollie" {
		t.Fatalf("unexpected providers %v", c.Providers)
	}
	if c.KafkaEnabled() || c.RedisEnabled() || c.NATSEnabled() {
		t.Fatal("optional integrations should be off by default")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/billing")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("COLLECTOR_PROVIDERS", "stripe")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("PROVIDER_TIMEOUT", "3s")

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.Providers) != 1 || c.Providers[0] != "stripe" {
		t.Fatalf("unexpected providers %v", c.Providers)
	}
	if !c.KafkaEnabled() || len(c.KafkaBrokers) != 2 {
		t.Fatalf("expected two brokers, got %v", c.KafkaBrokers)
	}
	if c.ProviderTimeout != 3*time.Second {
		t.Fatalf("unexpected timeout %s", c.ProviderTimeout)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SERVICE_TOKEN", "")
	t.Setenv("JWT_SECRET", "")

	_, err := FromEnv()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"DATABASE_URL", "JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}

	c := Config{StorageDriver: "sqlite", ServiceToken: "x", ProviderTimeout: time.Second, BreakerFailureRatio: 0.5, StuckThreshold: time.Minute, SweepInterval: time.Minute}
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "sqlite") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}

func TestRequiredSettingsNameEachAuthSetting(t *testing.T) {
	tokenOnly := Config{StorageDriver: DriverMemory, ServiceToken: "svc"}
	got := tokenOnly.RequiredSettings()
	if _, ok := got["JWT_SECRET"]; ok {
		t.Fatalf("JWT_SECRET must not be reported when only the service token is set: %v", got)
	}
	if got["SERVICE_TOKEN"] != "svc" || got["STORAGE_DRIVER"] != DriverMemory {
		t.Fatalf("unexpected settings %v", got)
	}

	jwtOnly := Config{StorageDriver: DriverPostgres, DatabaseURL: "postgres://db", JWTSecret: "s"}
	got = jwtOnly.RequiredSettings()
	if _, ok := got["SERVICE_TOKEN"]; ok || got["JWT_SECRET"] != "s" || got["DATABASE_URL"] != "postgres://db" {
		t.Fatalf("unexpected settings %v", got)
	}

	got = Config{StorageDriver: DriverMemory}.RequiredSettings()
	if v, ok := got["JWT_SECRET"]; !ok || v != "" {
		t.Fatalf("missing auth must be reported: %v", got)
	}
	if v, ok := got["SERVICE_TOKEN"]; !ok || v != "" {
		t.Fatalf("missing auth must be reported: %v", got)
	}
}
