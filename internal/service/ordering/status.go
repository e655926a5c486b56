package ordering

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/notify"
)

// UpdateStatus переводит заказ в новый статус по таблице переходов.
// Отмена возвращает на склад списанные ингредиенты и добавляет запись о возврате.
// При ошибке заказ, склад и журнал не меняются.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, next domain.OrderStatus) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "ordering.UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status.next", string(next)),
	)

	order, prev, events, err := s.updateStatus(ctx, orderID, next)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update status failed")
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"status":   string(next),
		}).Info("status update rejected")
		return domain.Order{}, err
	}

	span.SetStatus(codes.Ok, "status updated")
	if s.metrics != nil {
		s.metrics.RecordTransition(string(prev), string(next))
		if next == domain.OrderStatusCancelled {
			s.metrics.RecordOrderCancelled(order.Total)
			s.metrics.RecordOutboxEvents(2)
		} else {
			s.metrics.RecordOutboxEvents(1)
		}
	}
	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"from":     string(prev),
		"to":       string(next),
	}).Info("order status changed")

	s.publish(events)
	return order, nil
}

func (s *Service) updateStatus(ctx context.Context, orderID string, next domain.OrderStatus) (domain.Order, domain.OrderStatus, []notify.Event, error) {
	if !next.Valid() {
		return domain.Order{}, "", nil, domain.InvalidArgument("unknown order status %q", next)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, "", nil, &domain.NotFoundError{Entity: "order", ID: orderID}
	}
	// дальше работаем только с хранимым идентификатором
	orderID = current.ID
	prev := current.Status
	if !prev.CanTransitionTo(next) {
		return domain.Order{}, "", nil, &domain.InvalidTransitionError{OrderID: orderID, From: prev, To: next}
	}

	now := s.now()
	updated := current.Clone()
	updated.Status = next
	updated.Version++
	updated.UpdatedAt = now

	changed, err := s.outboxMessage(domain.OutboxEventOrderStatusChanged, "order", orderID,
		statusChangedPayload{OrderID: orderID, From: string(prev), To: string(next), ChangedAt: now}, now)
	if err != nil {
		return domain.Order{}, "", nil, err
	}
	commit := domain.Commit{
		Order:  &updated,
		Outbox: []domain.OutboxMessage{changed},
	}

	var (
		refund *domain.FinancialRecord
		ids    []string
		before []domain.Ingredient
	)
	if next == domain.OrderStatusCancelled {
		restock := s.restorable(updated.Consumed)
		ids = trackedIDs(restock)
		before = s.ledger.Rows(ids)
		if err := s.ledger.IncrementAll(restock); err != nil {
			return domain.Order{}, "", nil, err
		}

		refund = &domain.FinancialRecord{
			ID:          s.newID(),
			Kind:        domain.RecordKindRefund,
			Amount:      updated.Total,
			Description: fmt.Sprintf("refund for order %s", orderID),
			OrderID:     orderID,
			CreatedAt:   now,
		}
		cancelled, err := s.outboxMessage(domain.OutboxEventOrderCancelled, "order", orderID,
			newOrderPayload(updated), now)
		if err != nil {
			s.ledger.Restore(before)
			return domain.Order{}, "", nil, err
		}
		commit.Ingredients = s.ledger.Rows(ids)
		commit.FinancialRecords = []domain.FinancialRecord{*refund}
		commit.Outbox = append(commit.Outbox, cancelled)
	}

	if err := s.store.Commit(ctx, commit); err != nil {
		s.ledger.Restore(before)
		s.logger.WithError(err).WithField("order_id", orderID).Warn("status commit failed, state restored")
		return domain.Order{}, "", nil, fmt.Errorf("commit status of order %s: %w", orderID, err)
	}

	s.orders[orderID] = updated
	if refund != nil {
		s.records = append(s.records, *refund)
	}

	events := []notify.Event{{
		Kind:       notify.OrderStatusChanged,
		Order:      updated.Clone(),
		OldStatus:  prev,
		NewStatus:  next,
		OccurredAt: now,
	}}
	if len(ids) > 0 {
		events = append(events, notify.Event{
			Kind:       notify.InventoryChanged,
			Order:      updated.Clone(),
			Inventory:  notify.InventoryChange{IngredientIDs: ids, Reason: "order_cancelled", OrderID: orderID},
			OccurredAt: now,
		})
	}
	return updated.Clone(), prev, events, nil
}

// restorable отбрасывает ингредиенты, которых больше нет на складе.
func (s *Service) restorable(consumed []domain.Requirement) []domain.Requirement {
	result := make([]domain.Requirement, 0, len(consumed))
	for _, req := range consumed {
		if !s.ledger.Contains(req.IngredientID) {
			s.logger.WithField("ingredient_id", req.IngredientID).Warn("consumed ingredient is no longer tracked, skipping reversal")
			continue
		}
		result = append(result, req)
	}
	return result
}
