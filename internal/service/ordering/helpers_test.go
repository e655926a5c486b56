package ordering

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/notify"
	"github.com/vladislavdragonenkov/rms/internal/storage/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "ordering-test")
}

// restaurantSnapshot — Tomato=5, Tomato Soup расходует 2 Tomato на порцию.
func restaurantSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Ingredients: []domain.Ingredient{
			{ID: "tomato", Name: "Tomato", Unit: "pcs", Quantity: dec("5"), MinQuantity: dec("2"), UnitCost: dec("0.40")},
			{ID: "basil", Name: "Basil", Unit: "g", Quantity: dec("100"), MinQuantity: dec("10"), UnitCost: dec("0.05")},
			{ID: "cheese", Name: "Cheese", Unit: "kg", Quantity: dec("1"), MinQuantity: dec("0.5"), UnitCost: dec("12")},
		},
		MenuItems: []domain.MenuItem{
			{ID: "tomato-soup", Name: "Tomato Soup", Price: dec("4.50"), Available: true},
			{ID: "caprese", Name: "Caprese", Price: dec("7.00"), Available: true},
			{ID: "lemonade", Name: "Lemonade", Price: dec("2.00"), Available: true},
			{ID: "seasonal-pie", Name: "Seasonal Pie", Price: dec("6.00"), Available: false},
		},
		Recipes: []domain.RecipeLine{
			{MenuItemID: "tomato-soup", IngredientID: "tomato", QuantityPerServing: dec("2")},
			{MenuItemID: "tomato-soup", IngredientID: "basil", QuantityPerServing: dec("5")},
			{MenuItemID: "caprese", IngredientID: "tomato", QuantityPerServing: dec("2")},
			{MenuItemID: "caprese", IngredientID: "cheese", QuantityPerServing: dec("0.125")},
			// Ингредиент без складского учёта.
			{MenuItemID: "caprese", IngredientID: "olive-oil", QuantityPerServing: dec("0.01")},
		},
	}
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

func fixedClock() func() time.Time {
	at := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func newTestService(t *testing.T, store domain.PersistenceStore) (*Service, *notify.Hub) {
	t.Helper()

	if store == nil {
		mem := memory.NewStore()
		if err := mem.Seed(context.Background(), restaurantSnapshot()); err != nil {
			t.Fatalf("seed: %v", err)
		}
		store = mem
	}
	hub := notify.NewHub(notify.WithLogger(quietLogger()))
	svc, err := Open(context.Background(), store, hub,
		WithLogger(quietLogger()),
		WithIDGenerator(sequentialIDs()),
		WithClock(fixedClock()),
	)
	if err != nil {
		t.Fatalf("open service: %v", err)
	}
	return svc, hub
}

func quantityOf(t *testing.T, svc *Service, id string) decimal.Decimal {
	t.Helper()
	ing, err := svc.Ingredient(id)
	if err != nil {
		t.Fatalf("ingredient %s: %v", id, err)
	}
	return ing.Quantity
}

// failingStore оборачивает memory.Store и ломает Commit по запросу.
type failingStore struct {
	*memory.Store
	mu   sync.Mutex
	fail bool
}

var errDiskFull = errors.New("disk full")

func (f *failingStore) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *failingStore) Commit(ctx context.Context, c domain.Commit) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errDiskFull
	}
	return f.Store.Commit(ctx, c)
}

func newFailingStore(t *testing.T) *failingStore {
	t.Helper()
	mem := memory.NewStore()
	if err := mem.Seed(context.Background(), restaurantSnapshot()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return &failingStore{Store: mem}
}
