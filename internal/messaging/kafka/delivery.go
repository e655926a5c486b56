package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/service/idempotency"
)

// Restocker — операция пополнения склада.
type Restocker interface {
	Restock(ctx context.Context, ingredientID string, qty, unitCost decimal.Decimal) (domain.Ingredient, error)
}

// Deduper запоминает обработанные delivery_id; реализуется idempotency.Guard.
type Deduper interface {
	Begin(key string, request []byte) (idempotency.Decision, domain.IdempotencyRecord, error)
	Complete(key string, httpStatus int, body []byte) error
	Abandon(key string) error
}

var _ Deduper = (*idempotency.Guard)(nil)

// DeliveryHandler применяет поставки из TopicStockDeliveries к складу.
type DeliveryHandler struct {
	restocker Restocker
	dedupe    Deduper
	logger    *log.Entry
}

// NewDeliveryHandler создаёт обработчик поставок. Без dedupe повторная
// доставка сообщения пополнит склад повторно.
func NewDeliveryHandler(restocker Restocker, dedupe Deduper, logger *log.Entry) *DeliveryHandler {
	if logger == nil {
		logger = log.New().WithField("component", "stock-deliveries")
	}
	if dedupe == nil {
		logger.Warn("delivery deduplication is disabled")
	}
	return &DeliveryHandler{
		restocker: restocker,
		dedupe:    dedupe,
		logger:    logger,
	}
}

// Handle реализует MessageHandler.
func (h *DeliveryHandler) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, err := ParseDeliveryEvent(message)
	if err != nil {
		return Permanent(err)
	}
	entry := h.logger.WithField("delivery_id", event.DeliveryID)

	if h.dedupe != nil {
		decision, _, err := h.dedupe.Begin(event.DeliveryID, event.fingerprint())
		switch {
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			return Permanent(fmt.Errorf("delivery %q was already applied with different contents: %w", event.DeliveryID, err))
		case err != nil:
			return err
		case decision == idempotency.DecisionReplay:
			entry.Debug("duplicate delivery skipped")
			return nil
		case decision == idempotency.DecisionInFlight:
			// Прошлая попытка оборвалась между захватом ключа и записью результата.
			return Permanent(fmt.Errorf("delivery %q has an unfinished previous attempt", event.DeliveryID))
		}
	}

	ing, err := h.restocker.Restock(ctx, event.IngredientID, event.Quantity, event.UnitCost)
	if err != nil {
		h.release(event.DeliveryID)
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidArgument) {
			return Permanent(err)
		}
		return err
	}

	if h.dedupe != nil {
		// Склад уже пополнен: ошибку записи ключа только логируем.
		_ = h.dedupe.Complete(event.DeliveryID, 200, nil)
	}

	entry.WithFields(log.Fields{
		"ingredient_id": ing.ID,
		"quantity":      event.Quantity.String(),
		"new_quantity":  ing.Quantity.String(),
		"supplier":      event.Supplier,
	}).Info("stock delivery applied")
	return nil
}

func (h *DeliveryHandler) release(deliveryID string) {
	if h.dedupe != nil {
		_ = h.dedupe.Abandon(deliveryID)
	}
}

// fingerprint не зависит от форматирования JSON: только поля, влияющие на склад.
func (e *DeliveryEvent) fingerprint() []byte {
	return []byte(e.IngredientID + "|" + e.Quantity.String() + "|" + e.UnitCost.String())
}
