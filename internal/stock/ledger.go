// Package stock ведёт остатки ингредиентов. Любое изменение количества
// проходит через Ledger.
package stock

import (
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/rms/internal/domain"
)

// ThresholdPolicy возвращает порог, на котором ингредиент считается заканчивающимся.
type ThresholdPolicy func(domain.Ingredient) decimal.Decimal

// OwnMinimum — политика по умолчанию: у каждого ингредиента свой минимум.
func OwnMinimum(i domain.Ingredient) decimal.Decimal {
	return i.MinQuantity
}

// Ledger хранит текущие остатки по идентификатору ингредиента.
type Ledger struct {
	mu    sync.RWMutex
	items map[string]domain.Ingredient
	now   func() time.Time
}

// New создаёт ledger из начального набора ингредиентов.
func New(ingredients []domain.Ingredient) (*Ledger, error) {
	l := &Ledger{
		items: make(map[string]domain.Ingredient, len(ingredients)),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, ing := range ingredients {
		if err := l.add(ing); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Add регистрирует новый ингредиент.
func (l *Ledger) Add(ing domain.Ingredient) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.add(ing)
}

func (l *Ledger) add(ing domain.Ingredient) error {
	if errs := ing.Validate(); len(errs) > 0 {
		return fmt.Errorf("%w: ingredient %q: %w", domain.ErrInvalidArgument, ing.ID, errors.Join(errs...))
	}
	if _, exists := l.items[ing.ID]; exists {
		return fmt.Errorf("ingredient %q: %w", ing.ID, domain.ErrAlreadyExists)
	}
	l.items[ing.ID] = ing
	return nil
}

// Get возвращает ингредиент целиком.
func (l *Ledger) Get(id string) (domain.Ingredient, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ing, ok := l.items[id]
	if !ok {
		return domain.Ingredient{}, &domain.NotFoundError{Entity: "ingredient", ID: id}
	}
	return ing, nil
}

// Contains сообщает, ведётся ли учёт ингредиента.
func (l *Ledger) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.items[id]
	return ok
}

// Quantity возвращает текущий остаток.
func (l *Ledger) Quantity(id string) (decimal.Decimal, error) {
	ing, err := l.Get(id)
	if err != nil {
		return decimal.Zero, err
	}
	return ing.Quantity, nil
}

// HasSufficient проверяет, что остатка хватает на required.
func (l *Ledger) HasSufficient(id string, required decimal.Decimal) (bool, error) {
	if required.IsNegative() {
		return false, domain.InvalidArgument("required quantity must be non-negative, got %s", required)
	}
	qty, err := l.Quantity(id)
	if err != nil {
		return false, err
	}
	return qty.GreaterThanOrEqual(required), nil
}

// Decrement списывает qty. Остаток повторно проверяется здесь же, даже если
// вызывающий уже проверил достаточность.
func (l *Ledger) Decrement(id string, qty decimal.Decimal) error {
	return l.DecrementAll([]domain.Requirement{{IngredientID: id, Quantity: qty}})
}

// Increment возвращает qty на склад. Верхняя граница не проверяется.
func (l *Ledger) Increment(id string, qty decimal.Decimal) error {
	return l.IncrementAll([]domain.Requirement{{IngredientID: id, Quantity: qty}})
}

// DecrementAll списывает все позиции или ни одной. Повторы одного ингредиента суммируются.
func (l *Ledger) DecrementAll(reqs []domain.Requirement) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	totals, order, err := l.collect(reqs)
	if err != nil {
		return err
	}
	for _, id := range order {
		ing := l.items[id]
		if ing.Quantity.LessThan(totals[id]) {
			return &domain.InsufficientStockError{
				IngredientID: id,
				Required:     totals[id],
				Available:    ing.Quantity,
			}
		}
	}

	now := l.now()
	for _, id := range order {
		ing := l.items[id]
		ing.Quantity = ing.Quantity.Sub(totals[id])
		ing.UpdatedAt = now
		l.items[id] = ing
	}
	return nil
}

// IncrementAll возвращает на склад все позиции или ни одной.
func (l *Ledger) IncrementAll(reqs []domain.Requirement) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	totals, order, err := l.collect(reqs)
	if err != nil {
		return err
	}

	now := l.now()
	for _, id := range order {
		ing := l.items[id]
		ing.Quantity = ing.Quantity.Add(totals[id])
		ing.UpdatedAt = now
		l.items[id] = ing
	}
	return nil
}

// collect проверяет аргументы и суммирует количества по ингредиенту в порядке первого появления.
// Возвращаемые идентификаторы всегда совпадают с ключами l.items.
func (l *Ledger) collect(reqs []domain.Requirement) (map[string]decimal.Decimal, []string, error) {
	totals := make(map[string]decimal.Decimal, len(reqs))
	order := make([]string, 0, len(reqs))
	for _, req := range reqs {
		if req.Quantity.IsNegative() {
			return nil, nil, domain.InvalidArgument("quantity for %q must be non-negative, got %s", req.IngredientID, req.Quantity)
		}
		ing, ok := l.items[req.IngredientID]
		if !ok {
			return nil, nil, &domain.NotFoundError{Entity: "ingredient", ID: req.IngredientID}
		}
		// ключи и порядок берутся из хранимой строки, а не из строки вызывающего
		id := ing.ID
		if _, seen := totals[id]; !seen {
			order = append(order, id)
			totals[id] = decimal.Zero
		}
		totals[id] = totals[id].Add(req.Quantity)
	}
	return totals, order, nil
}

// Rows возвращает актуальные строки для перечисленных ингредиентов (неизвестные пропускаются).
func (l *Ledger) Rows(ids []string) []domain.Ingredient {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows := make([]domain.Ingredient, 0, len(ids))
	for _, id := range ids {
		if ing, ok := l.items[id]; ok {
			rows = append(rows, ing)
		}
	}
	return rows
}

// Restore записывает строки обратно как есть; используется для отката неудачной транзакции.
func (l *Ledger) Restore(rows []domain.Ingredient) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, row := range rows {
		l.items[row.ID] = row
	}
}

// Remove удаляет ингредиент; нужен только для отката Add.
func (l *Ledger) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.items, id)
}

// Snapshot возвращает копию всех ингредиентов, отсортированную по ID.
func (l *Ledger) Snapshot() []domain.Ingredient {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]domain.Ingredient, 0, len(l.items))
	for _, ing := range l.items {
		result = append(result, ing)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// LowStock возвращает ленивую последовательность ингредиентов с остатком не выше порога.
// Порядок: по возрастанию остатка, затем по ID. Каждый обход заново читает текущее состояние.
func (l *Ledger) LowStock(policy ThresholdPolicy) iter.Seq[domain.Ingredient] {
	if policy == nil {
		policy = OwnMinimum
	}
	return func(yield func(domain.Ingredient) bool) {
		for _, ing := range l.lowStock(policy) {
			if !yield(ing) {
				return
			}
		}
	}
}

func (l *Ledger) lowStock(policy ThresholdPolicy) []domain.Ingredient {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var low []domain.Ingredient
	for _, ing := range l.items {
		if ing.Quantity.LessThanOrEqual(policy(ing)) {
			low = append(low, ing)
		}
	}
	sort.Slice(low, func(i, j int) bool {
		if c := low[i].Quantity.Cmp(low[j].Quantity); c != 0 {
			return c < 0
		}
		return low[i].ID < low[j].ID
	})
	return low
}
