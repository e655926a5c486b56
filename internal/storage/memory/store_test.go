package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/rms/internal/domain"
)

func seedSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Ingredients: []domain.Ingredient{
			{ID: "tomato", Name: "Tomato", Quantity: decimal.NewFromInt(5)},
		},
		MenuItems: []domain.MenuItem{
			{ID: "tomato-soup", Name: "Tomato Soup", Price: decimal.NewFromInt(4), Available: true},
		},
		Recipes: []domain.RecipeLine{
			{MenuItemID: "tomato-soup", IngredientID: "tomato", QuantityPerServing: decimal.NewFromInt(2)},
		},
	}
}

func placedCommit(id string) domain.Commit {
	order := domain.Order{
		ID:      id,
		Status:  domain.OrderStatusReceived,
		Version: 1,
		Lines:   []domain.OrderLine{{MenuItemID: "tomato-soup", Quantity: 2, UnitPrice: decimal.NewFromInt(4)}},
		Total:   decimal.NewFromInt(8),
	}
	return domain.Commit{
		Order:       &order,
		NewOrder:    true,
		Ingredients: []domain.Ingredient{{ID: "tomato", Name: "Tomato", Quantity: decimal.NewFromInt(1)}},
		FinancialRecords: []domain.FinancialRecord{
			{ID: "rec-" + id, Kind: domain.RecordKindIncome, Amount: decimal.NewFromInt(8), OrderID: id},
		},
		Outbox: []domain.OutboxMessage{
			{ID: "msg-" + id, AggregateType: "order", AggregateID: id, EventType: domain.OutboxEventOrderPlaced},
		},
	}
}

func TestStore_SeedAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	if err := store.Seed(ctx, seedSnapshot()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Seed(ctx, seedSnapshot()); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("second seed should fail with ErrAlreadyExists, got %v", err)
	}

	snap, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Ingredients) != 1 || len(snap.MenuItems) != 1 || len(snap.Recipes) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestStore_CommitVisibleToLoad(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_ = store.Seed(ctx, seedSnapshot())

	if err := store.Commit(ctx, placedCommit("o-1")); err != nil {
		t.Fatalf("commit: %v", err)
	}

	snap, _ := store.Load(ctx)
	if len(snap.Orders) != 1 || snap.Orders[0].ID != "o-1" {
		t.Fatalf("order not visible: %+v", snap.Orders)
	}
	if !snap.Ingredients[0].Quantity.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("ingredient not updated: %s", snap.Ingredients[0].Quantity)
	}
	if len(snap.FinancialRecords) != 1 {
		t.Fatalf("expected 1 record, got %d", len(snap.FinancialRecords))
	}
}

func TestStore_CommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_ = store.Seed(ctx, seedSnapshot())
	_ = store.Commit(ctx, placedCommit("o-1"))

	// Повторный ID записи outbox ломает весь коммит.
	bad := placedCommit("o-2")
	bad.Outbox[0].ID = "msg-o-1"
	bad.Ingredients[0].Quantity = decimal.Zero

	if err := store.Commit(ctx, bad); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	snap, _ := store.Load(ctx)
	if len(snap.Orders) != 1 {
		t.Fatalf("order o-2 must not be stored, got %d orders", len(snap.Orders))
	}
	if !snap.Ingredients[0].Quantity.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("ingredient must not change, got %s", snap.Ingredients[0].Quantity)
	}
}

func TestStore_UpdateOrderVersion(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_ = store.Commit(ctx, placedCommit("o-1"))

	snap, _ := store.Load(ctx)
	order := snap.Orders[0]
	order.Status = domain.OrderStatusAccepted
	order.Version = 2

	if err := store.Commit(ctx, domain.Commit{Order: &order}); err != nil {
		t.Fatalf("update: %v", err)
	}

	stale := order
	stale.Status = domain.OrderStatusCancelled
	if err := store.Commit(ctx, domain.Commit{Order: &stale}); !domain.IsVersionConflict(err) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	missing := order
	missing.ID = "missing"
	if err := store.Commit(ctx, domain.Commit{Order: &missing}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_OrdersKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	for _, id := range []string{"c", "a", "b"} {
		if err := store.Commit(ctx, placedCommit(id)); err != nil {
			t.Fatalf("commit %s: %v", id, err)
		}
	}

	snap, _ := store.Load(ctx)
	got := []string{snap.Orders[0].ID, snap.Orders[1].ID, snap.Orders[2].ID}
	if got[0] != "c" || got[1] != "a" || got[2] != "b" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestStore_OutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_ = store.Commit(ctx, placedCommit("o-1"))
	_ = store.Commit(ctx, placedCommit("o-2"))

	pending, err := store.PullPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "msg-o-1" {
		t.Fatalf("unexpected pending: %+v", pending)
	}

	stats, _ := store.Stats(context.Background())
	if stats.PendingCount != 2 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if err := store.MarkSent(context.Background(), "msg-o-1"); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := store.MarkFailed(context.Background(), "msg-o-2"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkFailed(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing record")
	}

	if got := len(store.AllPending()); got != 0 {
		t.Fatalf("expected no pending messages, got %d", got)
	}

	dump := store.Dump()
	if len(dump.Outbox) != 1 || dump.Outbox[0].Message.ID != "msg-o-2" || dump.Outbox[0].Status != OutboxStatusFailed {
		t.Fatalf("expected only the failed entry to remain, got %+v", dump.Outbox)
	}
	if err := store.MarkSent(context.Background(), "msg-o-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for pruned entry, got %v", err)
	}
}

func TestFromDump_DropsSentEntries(t *testing.T) {
	d := Dump{
		Snapshot: seedSnapshot(),
		Outbox: []OutboxEntry{
			{Message: domain.OutboxMessage{ID: "msg-1"}, Status: OutboxStatusSent, Attempts: 1},
			{Message: domain.OutboxMessage{ID: "msg-2"}, Status: OutboxStatusPending},
			{Message: domain.OutboxMessage{ID: "msg-3"}, Status: OutboxStatusFailed, Attempts: 1},
		},
	}

	store, err := FromDump(d)
	if err != nil {
		t.Fatalf("from dump: %v", err)
	}
	got := store.Dump().Outbox
	if len(got) != 2 || got[0].Message.ID != "msg-2" || got[1].Message.ID != "msg-3" {
		t.Fatalf("unexpected outbox after load: %+v", got)
	}
}

func TestStore_CloneIsIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_ = store.Seed(ctx, seedSnapshot())

	clone := store.Clone()
	if err := clone.Commit(ctx, placedCommit("o-1")); err != nil {
		t.Fatalf("commit clone: %v", err)
	}

	snap, _ := store.Load(ctx)
	if len(snap.Orders) != 0 {
		t.Fatal("original store must not see commits made to the clone")
	}
}

func TestStore_CommitCancelledContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	if err := NewStore().Commit(ctx, placedCommit("o-1")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
