package app

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected HTTPAddr :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("expected MetricsAddr :9090, got %s", cfg.MetricsAddr)
	}
	if cfg.StorageDriver != StorageDriverMemory {
		t.Errorf("expected StorageDriver %s, got %s", StorageDriverMemory, cfg.StorageDriver)
	}
	if !cfg.PostgresAutoMigrate {
		t.Error("expected PostgresAutoMigrate to be true")
	}
	if !cfg.SeedDemo {
		t.Error("expected SeedDemo to be true")
	}
	if cfg.OutboxPollInterval <= 0 || cfg.OutboxBatchSize <= 0 || cfg.OutboxMaxAttempts <= 0 {
		t.Errorf("unexpected outbox defaults: %+v", cfg)
	}
	if cfg.IdempotencyTTL != 24*time.Hour {
		t.Errorf("expected IdempotencyTTL 24h, got %v", cfg.IdempotencyTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "empty http addr", mutate: func(c *Config) { c.HTTPAddr = " " }, want: "http address"},
		{name: "empty metrics addr", mutate: func(c *Config) { c.MetricsAddr = "" }, want: "metrics address"},
		{name: "unknown driver", mutate: func(c *Config) { c.StorageDriver = "sqlite" }, want: "unsupported storage driver"},
		{
			name:   "json without path",
			mutate: func(c *Config) { c.StorageDriver = StorageDriverJSON; c.JSONPath = "" },
			want:   "file path",
		},
		{name: "postgres without dsn", mutate: func(c *Config) { c.StorageDriver = StorageDriverPostgres }, want: "DSN"},
		{
			name:   "postgres without connections",
			mutate: func(c *Config) { c.StorageDriver = StorageDriverPostgres; c.PostgresDSN = "postgres://x"; c.PostgresMaxConns = 0 },
			want:   "max conns",
		},
		{
			name:   "delivery topic without brokers",
			mutate: func(c *Config) { c.KafkaDeliveryTopic = "rms.stock.deliveries" },
			want:   "requires brokers",
		},
		{name: "zero poll interval", mutate: func(c *Config) { c.OutboxPollInterval = 0 }, want: "poll interval"},
		{name: "negative retry delay", mutate: func(c *Config) { c.OutboxRetryDelay = -time.Second }, want: "retry delay"},
		{name: "sample ratio", mutate: func(c *Config) { c.OTelSampleRatio = 1.5 }, want: "sample ratio"},
		{name: "zero idempotency ttl", mutate: func(c *Config) { c.IdempotencyTTL = 0 }, want: "idempotency ttl"},
		{name: "zero cleanup interval", mutate: func(c *Config) { c.IdempotencyCleanupInterval = 0 }, want: "cleanup interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := Config{}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("zero config must be invalid")
	}
	for _, want := range []string{"http address", "metrics address", "unsupported storage driver", "poll interval"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestConfig_BrokerList(t *testing.T) {
	cfg := Config{KafkaBrokers: " broker1:9092, ,broker2:9092 "}

	got := cfg.brokerList()
	if len(got) != 2 || got[0] != "broker1:9092" || got[1] != "broker2:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
	if len((Config{}).brokerList()) != 0 {
		t.Fatal("empty brokers must produce empty list")
	}
}

func TestConfig_Comparison(t *testing.T) {
	cfg1 := DefaultConfig()
	cfg2 := DefaultConfig()

	if cfg1 != cfg2 {
		t.Error("two DefaultConfig instances should be equal")
	}

	cfg2.HTTPAddr = ":8081"
	if cfg1 == cfg2 {
		t.Error("modified config should not be equal to original")
	}
}
