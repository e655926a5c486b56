package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/rms/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedForIntegrationTest(t *testing.T, store *Store) {
	t.Helper()
	err := store.Seed(context.Background(), domain.Snapshot{
		Ingredients: []domain.Ingredient{
			{ID: "tomato", Name: "Tomato", Unit: "pcs", Quantity: dec("5"), MinQuantity: dec("1"), UnitCost: dec("0.4")},
		},
		MenuItems: []domain.MenuItem{
			{ID: "tomato-soup", Name: "Tomato Soup", Price: dec("3.25"), Available: true},
		},
		Recipes: []domain.RecipeLine{
			{MenuItemID: "tomato-soup", IngredientID: "tomato", QuantityPerServing: dec("2")},
		},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func integrationOrder(at time.Time) domain.Order {
	return domain.Order{
		ID:        "order-1",
		Status:    domain.OrderStatusReceived,
		Lines:     []domain.OrderLine{{MenuItemID: "tomato-soup", Name: "Tomato Soup", Quantity: 2, UnitPrice: dec("3.25")}},
		Total:     dec("6.5"),
		Consumed:  []domain.Requirement{{IngredientID: "tomato", Quantity: dec("4")}},
		Version:   1,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestPersistence_CommitAndLoad(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedForIntegrationTest(t, store)
	ctx := context.Background()
	at := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	order := integrationOrder(at)
	err := store.Commit(ctx, domain.Commit{
		Order:       &order,
		NewOrder:    true,
		Ingredients: []domain.Ingredient{{ID: "tomato", Name: "Tomato", Unit: "pcs", Quantity: dec("1"), MinQuantity: dec("1"), UnitCost: dec("0.4"), UpdatedAt: at}},
		FinancialRecords: []domain.FinancialRecord{
			{ID: "rec-1", Kind: domain.RecordKindIncome, Amount: dec("6.5"), OrderID: order.ID, CreatedAt: at},
		},
		Outbox: []domain.OutboxMessage{
			{ID: "msg-1", AggregateType: "order", AggregateID: order.ID, EventType: domain.OutboxEventOrderPlaced, Payload: []byte(`{"order_id":"order-1"}`)},
		},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	snap, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Orders) != 1 || len(snap.Orders[0].Lines) != 1 || len(snap.Orders[0].Consumed) != 1 {
		t.Fatalf("unexpected orders: %+v", snap.Orders)
	}
	if !snap.Orders[0].Total.Equal(dec("6.5")) {
		t.Fatalf("unexpected total: %s", snap.Orders[0].Total)
	}
	if !snap.Ingredients[0].Quantity.Equal(dec("1")) {
		t.Fatalf("unexpected tomato quantity: %s", snap.Ingredients[0].Quantity)
	}
	if len(snap.FinancialRecords) != 1 || snap.FinancialRecords[0].OrderID != order.ID {
		t.Fatalf("unexpected records: %+v", snap.FinancialRecords)
	}

	pending, err := store.PullPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "msg-1" {
		t.Fatalf("unexpected pending: %+v", pending)
	}
	if err := store.MarkSent(context.Background(), "msg-1"); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := store.MarkSent(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 0 {
		t.Fatalf("expected empty backlog, got %d", stats.PendingCount)
	}
}

func TestPersistence_VersionConflictRollsBack(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedForIntegrationTest(t, store)
	ctx := context.Background()
	at := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	order := integrationOrder(at)
	if err := store.Commit(ctx, domain.Commit{Order: &order, NewOrder: true}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	stale := order
	stale.Status = domain.OrderStatusAccepted
	stale.Version = 5
	err := store.Commit(ctx, domain.Commit{
		Order:            &stale,
		FinancialRecords: []domain.FinancialRecord{{ID: "rec-x", Kind: domain.RecordKindRefund, Amount: dec("1"), CreatedAt: at}},
	})
	if !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	missing := order
	missing.ID = "order-missing"
	missing.Version = 2
	if err := store.Commit(ctx, domain.Commit{Order: &missing}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Commit(ctx, domain.Commit{Order: &order, NewOrder: true}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	snap, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.FinancialRecords) != 0 {
		t.Fatalf("rolled back commit left records: %+v", snap.FinancialRecords)
	}
	if snap.Orders[0].Status != domain.OrderStatusReceived {
		t.Fatalf("rolled back commit changed status: %s", snap.Orders[0].Status)
	}
}

func TestPersistence_SeedTwiceFails(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedForIntegrationTest(t, store)

	err := store.Seed(context.Background(), domain.Snapshot{
		MenuItems: []domain.MenuItem{{ID: "extra", Name: "Extra", Price: dec("1"), Available: true}},
	})
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestPersistence_NilGuards(t *testing.T) {
	var store *Store
	if _, err := store.Load(context.Background()); err == nil {
		t.Fatal("expected load error for nil store")
	}
	if err := store.Commit(context.Background(), domain.Commit{}); err == nil {
		t.Fatal("expected commit error for nil store")
	}
	if _, err := store.PullPending(context.Background(), 1); err == nil {
		t.Fatal("expected pull error for nil store")
	}
}
