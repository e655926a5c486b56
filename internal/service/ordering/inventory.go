package ordering

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/notify"
)

// Restock пополняет ингредиент и записывает расход qty * unitCost.
// Нулевой unitCost означает закупку по текущей цене ингредиента.
func (s *Service) Restock(ctx context.Context, ingredientID string, qty, unitCost decimal.Decimal) (domain.Ingredient, error) {
	ctx, span := s.tracer.Start(ctx, "ordering.Restock")
	defer span.End()
	span.SetAttributes(
		attribute.String("ingredient.id", ingredientID),
		attribute.String("restock.quantity", qty.String()),
	)

	if !qty.IsPositive() {
		return domain.Ingredient{}, domain.InvalidArgument("restock quantity must be positive, got %s", qty)
	}
	if unitCost.IsNegative() {
		return domain.Ingredient{}, domain.InvalidArgument("unit cost must be non-negative, got %s", unitCost)
	}

	s.mu.Lock()
	before, err := s.ledger.Get(ingredientID)
	if err != nil {
		s.mu.Unlock()
		return domain.Ingredient{}, err
	}
	ingredientID = before.ID
	if err := s.ledger.Increment(ingredientID, qty); err != nil {
		s.mu.Unlock()
		return domain.Ingredient{}, err
	}
	after, _ := s.ledger.Get(ingredientID)

	now := s.now()
	if unitCost.IsZero() {
		unitCost = before.UnitCost
	}
	commit := domain.Commit{Ingredients: []domain.Ingredient{after}}
	var expense *domain.FinancialRecord
	if amount := qty.Mul(unitCost); amount.IsPositive() {
		expense = &domain.FinancialRecord{
			ID:          s.newID(),
			Kind:        domain.RecordKindExpense,
			Amount:      amount,
			Description: fmt.Sprintf("restock %s %s %s", qty, before.Unit, before.Name),
			CreatedAt:   now,
		}
		commit.FinancialRecords = []domain.FinancialRecord{*expense}
	}

	msg, err := s.outboxMessage(domain.OutboxEventStockRestocked, "ingredient", ingredientID, restockPayload{
		IngredientID: ingredientID,
		Quantity:     qty.String(),
		NewQuantity:  after.Quantity.String(),
		UnitCost:     unitCost.String(),
		RestockedAt:  now,
	}, now)
	if err != nil {
		s.ledger.Restore([]domain.Ingredient{before})
		s.mu.Unlock()
		return domain.Ingredient{}, err
	}
	commit.Outbox = []domain.OutboxMessage{msg}

	if err := s.store.Commit(ctx, commit); err != nil {
		s.ledger.Restore([]domain.Ingredient{before})
		s.mu.Unlock()
		return domain.Ingredient{}, fmt.Errorf("commit restock of %s: %w", ingredientID, err)
	}
	if expense != nil {
		s.records = append(s.records, *expense)
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordRestock()
		s.metrics.RecordOutboxEvents(1)
	}
	s.logger.WithFields(log.Fields{
		"ingredient_id": ingredientID,
		"quantity":      qty.String(),
		"new_quantity":  after.Quantity.String(),
	}).Info("ingredient restocked")

	s.hub.Publish(notify.Event{
		Kind:       notify.InventoryChanged,
		Inventory:  notify.InventoryChange{IngredientIDs: []string{ingredientID}, Reason: "restock"},
		OccurredAt: now,
	})
	return after, nil
}

// AddIngredient регистрирует новую складскую позицию.
func (s *Service) AddIngredient(ctx context.Context, ing domain.Ingredient) (domain.Ingredient, error) {
	now := s.now()
	ing.UpdatedAt = now

	s.mu.Lock()
	if err := s.ledger.Add(ing); err != nil {
		s.mu.Unlock()
		return domain.Ingredient{}, err
	}
	if err := s.store.Commit(ctx, domain.Commit{Ingredients: []domain.Ingredient{ing}}); err != nil {
		s.ledger.Remove(ing.ID)
		s.mu.Unlock()
		return domain.Ingredient{}, fmt.Errorf("commit ingredient %s: %w", ing.ID, err)
	}
	s.mu.Unlock()

	s.logger.WithField("ingredient_id", ing.ID).Info("ingredient added")
	s.hub.Publish(notify.Event{
		Kind:       notify.InventoryChanged,
		Inventory:  notify.InventoryChange{IngredientIDs: []string{ing.ID}, Reason: "ingredient_added"},
		OccurredAt: now,
	})
	return ing, nil
}
