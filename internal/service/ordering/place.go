package ordering

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/notify"
)

// PlaceOrder оформляет заказ: проверяет корзину, суммирует потребность в ингредиентах,
// списывает склад, создаёт заказ и запись о выручке. Либо всё, либо ничего.
func (s *Service) PlaceOrder(ctx context.Context, cart domain.Cart, opts PlaceOrderOptions) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "ordering.PlaceOrder")
	defer span.End()
	span.SetAttributes(attribute.Int("cart.lines", len(cart)))

	start := s.now()
	order, events, err := s.placeOrder(ctx, cart, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "place order failed")
		if s.metrics != nil {
			s.metrics.RecordOrderRejected(rejectReason(err))
		}
		s.logger.WithError(err).WithField("cart_lines", len(cart)).Info("order rejected")
		return domain.Order{}, err
	}

	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("order.total", order.Total.String()),
	)
	span.SetStatus(codes.Ok, "order placed")
	if s.metrics != nil {
		s.metrics.RecordOrderPlaced(order.Total, s.now().Sub(start))
		s.metrics.RecordOutboxEvents(1)
	}
	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"total":    order.Total.String(),
		"lines":    len(order.Lines),
	}).Info("order placed")

	s.publish(events)
	return order, nil
}

func (s *Service) placeOrder(ctx context.Context, cart domain.Cart, opts PlaceOrderOptions) (domain.Order, []notify.Event, error) {
	if len(cart) == 0 {
		return domain.Order{}, nil, domain.ErrEmptyCart
	}
	for i, line := range cart {
		if line.MenuItemID == "" {
			return domain.Order{}, nil, domain.InvalidArgument("cart line %d: menu item id is required", i)
		}
		if line.Quantity <= 0 {
			return domain.Order{}, nil, domain.InvalidArgument("cart line %d: quantity must be a positive integer, got %d", i, line.Quantity)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]domain.OrderLine, 0, len(cart))
	total := decimal.Zero
	var required []domain.Requirement
	for _, line := range cart {
		item, ok := s.catalog.MenuItem(line.MenuItemID)
		if !ok {
			return domain.Order{}, nil, &domain.UnknownMenuItemError{MenuItemID: line.MenuItemID}
		}
		if !item.Available {
			return domain.Order{}, nil, &domain.ItemUnavailableError{MenuItemID: item.ID}
		}

		scaled, err := s.catalog.ScaleRequirements(item.ID, line.Quantity)
		if err != nil {
			return domain.Order{}, nil, err
		}
		required = append(required, scaled...)

		// Цена фиксируется в момент оформления.
		orderLine := domain.OrderLine{
			MenuItemID: item.ID,
			Name:       item.Name,
			Quantity:   line.Quantity,
			UnitPrice:  item.Price,
		}
		lines = append(lines, orderLine)
		total = total.Add(orderLine.Subtotal())
	}

	consumed, err := s.checkSufficiency(aggregate(required))
	if err != nil {
		return domain.Order{}, nil, err
	}

	ids := trackedIDs(consumed)
	before := s.ledger.Rows(ids)
	if err := s.ledger.DecrementAll(consumed); err != nil {
		return domain.Order{}, nil, err
	}

	now := s.now()
	order := domain.Order{
		ID:         s.newID(),
		CustomerID: opts.CustomerID,
		Note:       opts.Note,
		Status:     domain.OrderStatusReceived,
		Lines:      lines,
		Total:      total,
		Consumed:   consumed,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	income := domain.FinancialRecord{
		ID:          s.newID(),
		Kind:        domain.RecordKindIncome,
		Amount:      total,
		Description: fmt.Sprintf("order %s", order.ID),
		OrderID:     order.ID,
		CreatedAt:   now,
	}
	msg, err := s.outboxMessage(domain.OutboxEventOrderPlaced, "order", order.ID, newOrderPayload(order), now)
	if err != nil {
		s.ledger.Restore(before)
		return domain.Order{}, nil, err
	}

	commit := domain.Commit{
		Order:            &order,
		NewOrder:         true,
		Ingredients:      s.ledger.Rows(ids),
		FinancialRecords: []domain.FinancialRecord{income},
		Outbox:           []domain.OutboxMessage{msg},
	}
	if err := s.store.Commit(ctx, commit); err != nil {
		s.ledger.Restore(before)
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("order commit failed, stock restored")
		return domain.Order{}, nil, fmt.Errorf("commit order %s: %w", order.ID, err)
	}

	s.orders[order.ID] = order
	s.orderSeq = append(s.orderSeq, order.ID)
	s.records = append(s.records, income)

	events := []notify.Event{{
		Kind:       notify.OrderAdded,
		Order:      order.Clone(),
		NewStatus:  order.Status,
		OccurredAt: now,
	}}
	if len(ids) > 0 {
		events = append(events, notify.Event{
			Kind:       notify.InventoryChanged,
			Order:      order.Clone(),
			Inventory:  notify.InventoryChange{IngredientIDs: ids, Reason: "order_placed", OrderID: order.ID},
			OccurredAt: now,
		})
	}
	return order.Clone(), events, nil
}

// aggregate суммирует потребности по ингредиенту в порядке первого появления.
func aggregate(reqs []domain.Requirement) []domain.Requirement {
	index := make(map[string]int, len(reqs))
	result := make([]domain.Requirement, 0, len(reqs))
	for _, req := range reqs {
		if i, ok := index[req.IngredientID]; ok {
			result[i].Quantity = result[i].Quantity.Add(req.Quantity)
			continue
		}
		index[req.IngredientID] = len(result)
		result = append(result, req)
	}
	return result
}

// checkSufficiency проверяет каждую суммарную потребность и возвращает те,
// что ведутся на складе. Неучтённые ингредиенты считаются всегда доступными.
func (s *Service) checkSufficiency(reqs []domain.Requirement) ([]domain.Requirement, error) {
	tracked := make([]domain.Requirement, 0, len(reqs))
	for _, req := range reqs {
		ok, err := s.ledger.HasSufficient(req.IngredientID, req.Quantity)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			available, _ := s.ledger.Quantity(req.IngredientID)
			return nil, &domain.InsufficientStockError{
				IngredientID: req.IngredientID,
				Required:     req.Quantity,
				Available:    available,
			}
		}
		tracked = append(tracked, req)
	}
	return tracked, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrUnknownMenuItem):
		return "unknown_menu_item"
	case errors.Is(err, domain.ErrItemUnavailable):
		return "item_unavailable"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "storage"
	}
}
