package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/rms/internal/domain"
)

func TestIdempotencyRepository_Lifecycle(t *testing.T) {
	repo := NewIdempotencyRepository()
	ttl := time.Now().Add(time.Hour)

	record, err := repo.CreateProcessing(" key-1 ", "hash-a", ttl)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if record.Key != "key-1" || record.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("unexpected record: %+v", record)
	}

	existing, err := repo.CreateProcessing("key-1", "hash-a", ttl)
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if existing.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("existing record must be returned, got %+v", existing)
	}

	if _, err := repo.CreateProcessing("key-1", "hash-b", ttl); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected hash mismatch, got %v", err)
	}

	if err := repo.MarkDone("key-1", []byte(`{"id":"order-1"}`), 201); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	got, err := repo.Get("key-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.IdempotencyStatusDone || got.HTTPStatus != 201 || string(got.ResponseBody) != `{"id":"order-1"}` {
		t.Fatalf("unexpected stored response: %+v", got)
	}

	got.ResponseBody[0] = 'X'
	again, _ := repo.Get("key-1")
	if again.ResponseBody[0] != '{' {
		t.Fatal("stored body must not be shared with callers")
	}

	if err := repo.MarkFailed("key-1", nil, 500); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := repo.Reset("key-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, _ = repo.Get("key-1")
	if got.Status != domain.IdempotencyStatusProcessing || got.HTTPStatus != 0 || got.ResponseBody != nil {
		t.Fatalf("reset must clear the response: %+v", got)
	}
}

func TestIdempotencyRepository_Validation(t *testing.T) {
	repo := NewIdempotencyRepository()

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"empty key", func() error { _, err := repo.CreateProcessing(" ", "h", time.Time{}); return err }, domain.ErrIdempotencyKeyRequired},
		{"empty hash", func() error { _, err := repo.CreateProcessing("k", "", time.Time{}); return err }, domain.ErrIdempotencyRequestHashRequired},
		{"get missing", func() error { _, err := repo.Get("missing"); return err }, domain.ErrIdempotencyKeyNotFound},
		{"get empty", func() error { _, err := repo.Get(""); return err }, domain.ErrIdempotencyKeyRequired},
		{"done missing", func() error { return repo.MarkDone("missing", nil, 200) }, domain.ErrIdempotencyKeyNotFound},
		{"reset missing", func() error { return repo.Reset("missing") }, domain.ErrIdempotencyKeyNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIdempotencyRepository_Expiry(t *testing.T) {
	repo := NewIdempotencyRepository()
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	if _, err := repo.CreateProcessing("old-1", "h", now.Add(-time.Minute)); err != nil {
		t.Fatalf("create old-1: %v", err)
	}
	if _, err := repo.CreateProcessing("old-2", "h", now.Add(-time.Second)); err != nil {
		t.Fatalf("create old-2: %v", err)
	}
	if _, err := repo.CreateProcessing("fresh", "h", time.Time{}); err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	// Просроченный ключ можно занять заново с другим телом.
	if _, err := repo.CreateProcessing("old-1", "other", now.Add(time.Hour)); err != nil {
		t.Fatalf("expired key must be reusable: %v", err)
	}

	deleted, err := repo.DeleteExpired(now, 10)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 1 || repo.Len() != 2 {
		t.Fatalf("deleted=%d len=%d, want 1 and 2", deleted, repo.Len())
	}

	fresh, _ := repo.Get("fresh")
	if !fresh.TTLAt.Equal(now.Add(defaultIdempotencyTTL)) {
		t.Fatalf("zero ttl must default to %v, got %v", defaultIdempotencyTTL, fresh.TTLAt)
	}
}

func TestIdempotencyRepository_DeleteExpiredRespectsLimit(t *testing.T) {
	repo := NewIdempotencyRepository()
	past := time.Now().Add(-time.Hour)
	for _, key := range []string{"a", "b", "c"} {
		if _, err := repo.CreateProcessing(key, "h", past); err != nil {
			t.Fatalf("create %s: %v", key, err)
		}
	}

	deleted, _ := repo.DeleteExpired(time.Time{}, 2)
	if deleted != 2 || repo.Len() != 1 {
		t.Fatalf("deleted=%d len=%d, want 2 and 1", deleted, repo.Len())
	}
}
