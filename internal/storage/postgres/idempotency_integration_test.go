package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/rms/internal/domain"
)

func TestIdempotencyRepository_PostgresLifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)
	ttl := time.Now().UTC().Add(time.Hour)

	if _, err := repo.CreateProcessing("order-key", "hash-a", ttl); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.CreateProcessing("order-key", "hash-a", ttl); !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if _, err := repo.CreateProcessing("order-key", "hash-b", ttl); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected hash mismatch, got %v", err)
	}

	if err := repo.MarkDone("order-key", []byte(`{"id":"order-1"}`), 201); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	record, err := repo.Get("order-key")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Status != domain.IdempotencyStatusDone || record.HTTPStatus != 201 || string(record.ResponseBody) != `{"id":"order-1"}` {
		t.Fatalf("unexpected record: %+v", record)
	}

	if err := repo.Reset("order-key"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	record, _ = repo.Get("order-key")
	if record.Status != domain.IdempotencyStatusProcessing || record.HTTPStatus != 0 {
		t.Fatalf("reset must clear status: %+v", record)
	}

	if err := repo.MarkDone("missing", nil, 200); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIdempotencyRepository_PostgresExpiry(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)
	past := time.Now().UTC().Add(-time.Hour)

	for _, key := range []string{"old-1", "old-2", "old-3"} {
		if _, err := repo.CreateProcessing(key, "h", past); err != nil {
			t.Fatalf("create %s: %v", key, err)
		}
	}
	if _, err := repo.CreateProcessing("old-3", "other", time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("expired key must be reclaimable: %v", err)
	}

	deleted, err := repo.DeleteExpired(time.Time{}, 1)
	if err != nil || deleted != 1 {
		t.Fatalf("limited delete: deleted=%d err=%v", deleted, err)
	}
	deleted, err = repo.DeleteExpired(time.Time{}, 0)
	if err != nil || deleted != 1 {
		t.Fatalf("unlimited delete: deleted=%d err=%v", deleted, err)
	}
	if _, err := repo.Get("old-3"); err != nil {
		t.Fatalf("reclaimed key must survive cleanup: %v", err)
	}
}

func TestIdempotencyRepository_NilStore(t *testing.T) {
	repo := NewIdempotencyRepository(nil)
	if _, err := repo.Get("k"); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if _, err := repo.DeleteExpired(time.Time{}, 0); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
}
