package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/rms/internal/app"
	"github.com/vladislavdragonenkov/rms/internal/version"
)

const (
	envHTTPAddr            = "RMS_HTTP_ADDR"
	envMetricsAddr         = "RMS_METRICS_ADDR"
	envStorageDriver       = "RMS_STORAGE_DRIVER"
	envJSONPath            = "RMS_JSON_PATH"
	envPostgresDSN         = "RMS_POSTGRES_DSN"
	envPostgresAutoMigrate = "RMS_POSTGRES_AUTO_MIGRATE"
	envPostgresMaxConns    = "RMS_POSTGRES_MAX_CONNS"
	envSeedPath            = "RMS_SEED_PATH"
	envSeedDemo            = "RMS_SEED_DEMO"
	envKafkaBrokers        = "RMS_KAFKA_BROKERS"
	envKafkaTopic          = "RMS_KAFKA_TOPIC"
	envKafkaDeliveryTopic  = "RMS_KAFKA_DELIVERY_TOPIC"
	envKafkaConsumerGroup  = "RMS_KAFKA_CONSUMER_GROUP"
	envOutboxPollInterval  = "RMS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize     = "RMS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts   = "RMS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay    = "RMS_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending    = "RMS_OUTBOX_MAX_PENDING"
	envIdempotencyTTL      = "RMS_IDEMPOTENCY_TTL"
	envIdempotencyCleanup  = "RMS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envOTelEndpoint        = "RMS_OTEL_ENDPOINT"
	envOTelInsecure        = "RMS_OTEL_INSECURE"
	envOTelSampleRatio     = "RMS_OTEL_SAMPLE_RATIO"
	envShutdownTimeout     = "RMS_SHUTDOWN_TIMEOUT"
	envLogLevel            = "RMS_LOG_LEVEL"
)

type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	raw, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	level, err := log.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", envLogLevel, err)
	}
	log.SetLevel(level)
	return nil
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не прерывают запуск: остаётся значение по умолчанию, а ошибка
// возвращается предупреждением.
func readConfigFromEnv(lookup envLookup) (app.Config, []error) {
	cfg := app.DefaultConfig()
	var warnings []error

	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setBool := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}
	setInt := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}
	setDuration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}

	setString(envHTTPAddr, &cfg.HTTPAddr)
	setString(envMetricsAddr, &cfg.MetricsAddr)
	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v))
	}
	setString(envJSONPath, &cfg.JSONPath)
	setString(envPostgresDSN, &cfg.PostgresDSN)
	setBool(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	setString(envSeedPath, &cfg.SeedPath)
	setBool(envSeedDemo, &cfg.SeedDemo)

	setString(envKafkaBrokers, &cfg.KafkaBrokers)
	setString(envKafkaTopic, &cfg.KafkaTopic)
	setString(envKafkaDeliveryTopic, &cfg.KafkaDeliveryTopic)
	setString(envKafkaConsumerGroup, &cfg.KafkaConsumerGroup)

	positive := func(v int) bool { return v > 0 }
	setInt(envPostgresMaxConns, &cfg.PostgresMaxConns, positive, "must be > 0")
	setDuration(envOutboxPollInterval, &cfg.OutboxPollInterval, func(v time.Duration) bool { return v > 0 }, "must be > 0")
	setInt(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	setInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	setDuration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, func(v time.Duration) bool { return v >= 0 }, "must be >= 0")
	setInt(envOutboxMaxPending, &cfg.OutboxMaxPending, func(v int) bool { return v >= 0 }, "must be >= 0")

	setDuration(envIdempotencyTTL, &cfg.IdempotencyTTL, func(v time.Duration) bool { return v > 0 }, "must be > 0")
	setDuration(envIdempotencyCleanup, &cfg.IdempotencyCleanupInterval, func(v time.Duration) bool { return v > 0 }, "must be > 0")

	setString(envOTelEndpoint, &cfg.OTelEndpoint)
	setBool(envOTelInsecure, &cfg.OTelInsecure)
	if v, ok := lookup(envOTelSampleRatio); ok && strings.TrimSpace(v) != "" {
		ratio, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		switch {
		case err != nil:
			warnings = append(warnings, fmt.Errorf("%s: %w", envOTelSampleRatio, err))
		case ratio < 0 || ratio > 1:
			warnings = append(warnings, fmt.Errorf("%s: must be within [0, 1]", envOTelSampleRatio))
		default:
			cfg.OTelSampleRatio = ratio
		}
	}
	setDuration(envShutdownTimeout, &cfg.ShutdownTimeout, func(v time.Duration) bool { return v > 0 }, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", raw, err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}

func main() {
	if err := setupLogger(os.LookupEnv); err != nil {
		log.WithError(err).Warn("invalid log level, using info")
	}

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range warnings {
		log.WithError(w).Warn("invalid environment value, using default")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Get().Fields()).WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"kafka_enabled":  cfg.KafkaBrokers != "",
	}).Info("запускаем RMS")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("RMS остановлен")
}
