package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/rms/internal/messaging/kafka"
)

// Поддерживаемые хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverJSON     = "json"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения. Значение сравнимо (==), поэтому без срезов:
// брокеры Kafka хранятся строкой через запятую.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	JSONPath            string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int

	// SeedPath — JSON с начальным меню; пустой путь означает встроенное демо-меню.
	SeedPath string
	SeedDemo bool

	KafkaBrokers       string
	KafkaTopic         string
	KafkaDeliveryTopic string
	KafkaConsumerGroup string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending — порог backlog для /healthz; 0 отключает проверку.
	OutboxMaxPending int

	// IdempotencyTTL — сколько хранится ключ Idempotency-Key и delivery_id.
	IdempotencyTTL             time.Duration
	IdempotencyCleanupInterval time.Duration

	OTelEndpoint    string
	OTelInsecure    bool
	OTelSampleRatio float64

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                   ":8080",
		MetricsAddr:                ":9090",
		StorageDriver:              StorageDriverMemory,
		JSONPath:                   "data/rms.json",
		PostgresAutoMigrate:        true,
		PostgresMaxConns:           25,
		SeedDemo:                   true,
		KafkaTopic:                 kafka.TopicOrderEvents,
		KafkaConsumerGroup:         kafka.DefaultConsumerGroup,
		OutboxPollInterval:         time.Second,
		OutboxBatchSize:            100,
		OutboxMaxAttempts:          3,
		OutboxRetryDelay:           100 * time.Millisecond,
		OutboxMaxPending:           1000,
		IdempotencyTTL:             24 * time.Hour,
		IdempotencyCleanupInterval: 10 * time.Minute,
		OTelSampleRatio:            1,
		ShutdownTimeout:            5 * time.Second,
	}
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if strings.TrimSpace(c.MetricsAddr) == "" {
		errs = append(errs, errors.New("metrics address is required"))
	}

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverJSON:
		if strings.TrimSpace(c.JSONPath) == "" {
			errs = append(errs, errors.New("json storage requires a file path"))
		}
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres storage requires a DSN"))
		}
		if c.PostgresMaxConns <= 0 {
			errs = append(errs, errors.New("postgres max conns must be > 0"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if c.KafkaBrokers != "" && strings.TrimSpace(c.KafkaTopic) == "" {
		errs = append(errs, errors.New("kafka topic is required when brokers are set"))
	}
	if c.KafkaDeliveryTopic != "" && c.KafkaBrokers == "" {
		errs = append(errs, errors.New("kafka delivery topic requires brokers"))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval must be > 0"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be > 0"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox max attempts must be > 0"))
	}
	if c.OutboxRetryDelay < 0 {
		errs = append(errs, errors.New("outbox retry delay must be >= 0"))
	}
	if c.OutboxMaxPending < 0 {
		errs = append(errs, errors.New("outbox max pending must be >= 0"))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("idempotency ttl must be > 0"))
	}
	if c.IdempotencyCleanupInterval <= 0 {
		errs = append(errs, errors.New("idempotency cleanup interval must be > 0"))
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		errs = append(errs, errors.New("otel sample ratio must be within [0, 1]"))
	}

	return errors.Join(errs...)
}

// brokerList разбирает KafkaBrokers.
func (c Config) brokerList() []string {
	chunks := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
