package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/seed"
	"github.com/vladislavdragonenkov/rms/internal/storage/jsonfile"
	"github.com/vladislavdragonenkov/rms/internal/storage/memory"
	"github.com/vladislavdragonenkov/rms/internal/storage/postgres"
)

// Store — хранилище сервиса: состояние ресторана и outbox в одной транзакции.
type Store interface {
	domain.PersistenceStore
	domain.OutboxRepository
}

var (
	_ Store = (*memory.Store)(nil)
	_ Store = (*jsonfile.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)

// runtimeDependencies — инфраструктура, выбранная конфигурацией.
type runtimeDependencies struct {
	store       Store
	idempotency domain.IdempotencyRepository
	driver      string
	seeded      bool
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.store == nil {
		return
	}
	if err := d.store.Close(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

// initRuntimeDependencies открывает хранилище и при необходимости заполняет его начальными данными.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps := &runtimeDependencies{
		store:       store,
		idempotency: idempotencyRepository(store),
		driver:      cfg.StorageDriver,
	}

	if cfg.SeedDemo || cfg.SeedPath != "" {
		snap, err := seed.LoadFile(cfg.SeedPath)
		if err != nil {
			deps.close(logger)
			return nil, err
		}
		deps.seeded, err = seed.Apply(ctx, store, snap, logger.WithField("component", "seed"))
		if err != nil {
			deps.close(logger)
			return nil, err
		}
	}

	return deps, nil
}

// idempotencyRepository хранит ключи рядом с основными данными, если хранилище это умеет.
// Для memory и json ключи живут только в памяти процесса.
func idempotencyRepository(store Store) domain.IdempotencyRepository {
	if pg, ok := store.(*postgres.Store); ok {
		return postgres.NewIdempotencyRepository(pg)
	}
	return memory.NewIdempotencyRepository()
}

func openStore(ctx context.Context, cfg Config, logger *log.Entry) (Store, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		logger.Info("using in-memory storage")
		return memory.NewStore(), nil

	case StorageDriverJSON:
		if cfg.JSONPath == "" {
			return nil, fmt.Errorf("json storage requires a file path")
		}
		store, err := jsonfile.Open(cfg.JSONPath, jsonfile.WithLogger(logger.WithField("component", "jsonfile-store")))
		if err != nil {
			return nil, fmt.Errorf("open json storage: %w", err)
		}
		logger.WithField("path", cfg.JSONPath).Info("using json file storage")
		return store, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires a DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN,
			postgres.WithLogger(logger.WithField("component", "postgres-store")),
			postgres.WithPool(postgres.Pool{MaxConns: cfg.PostgresMaxConns}),
		)
		if err != nil {
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("using postgres storage")
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
