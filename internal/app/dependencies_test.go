package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/rms/internal/storage/jsonfile"
	"github.com/vladislavdragonenkov/rms/internal/storage/memory"
	"github.com/vladislavdragonenkov/rms/internal/storage/postgres"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "app-test")
}

func TestInitRuntimeDependencies_MemoryWithDemoSeed(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	deps, err := initRuntimeDependencies(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	defer deps.close(quietLogger())

	if _, ok := deps.store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", deps.store)
	}
	if !deps.seeded {
		t.Fatal("empty memory store must be seeded with the demo menu")
	}
	if _, ok := deps.idempotency.(*memory.IdempotencyRepository); !ok {
		t.Fatalf("expected in-memory idempotency keys, got %T", deps.idempotency)
	}
	snap, err := deps.store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.MenuItems) == 0 {
		t.Fatal("demo menu is missing")
	}
}

func TestInitRuntimeDependencies_NoSeed(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SeedDemo = false
	deps, err := initRuntimeDependencies(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if deps.seeded {
		t.Fatal("seed must be skipped")
	}
}

func TestInitRuntimeDependencies_JSONSeedsOnce(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverJSON
	cfg.JSONPath = filepath.Join(t.TempDir(), "state", "rms.json")

	deps, err := initRuntimeDependencies(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("first init: %v", err)
	}
	if _, ok := deps.store.(*jsonfile.Store); !ok {
		t.Fatalf("expected json store, got %T", deps.store)
	}
	if !deps.seeded {
		t.Fatal("first start must seed")
	}
	deps.close(quietLogger())

	if _, err := os.Stat(cfg.JSONPath); err != nil {
		t.Fatalf("json file must exist after seeding: %v", err)
	}

	deps, err = initRuntimeDependencies(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if deps.seeded {
		t.Fatal("restart must reuse stored data instead of seeding")
	}
}

func TestInitRuntimeDependencies_SeedFileErrors(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SeedPath = filepath.Join(t.TempDir(), "missing.json")

	if _, err := initRuntimeDependencies(context.Background(), cfg, quietLogger()); err == nil {
		t.Fatal("expected error for missing seed file")
	}
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, quietLogger())
	if err == nil {
		t.Fatal("expected error when postgres driver is selected without DSN")
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, quietLogger())
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("RMS_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.SeedDemo = false

	deps, err := initRuntimeDependencies(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer deps.close(quietLogger())

	if err := deps.store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, ok := deps.idempotency.(*postgres.IdempotencyRepository); !ok {
		t.Fatalf("expected postgres idempotency keys, got %T", deps.idempotency)
	}
}
