package app

import (
	"context"
	"slices"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/notify"
	"github.com/vladislavdragonenkov/rms/internal/service/ordering"
)

// watchLowStock подписывается на изменения склада и предупреждает о заканчивающихся ингредиентах.
// Заодно обновляет gauge rms_low_stock_ingredients.
func watchLowStock(svc *ordering.Service, logger *log.Entry) (notify.Subscription, error) {
	return svc.Hub().Subscribe(notify.InventoryChanged, func(event notify.Event) error {
		changed := event.Inventory.IngredientIDs
		for ing := range svc.LowStock(nil) {
			if !slices.Contains(changed, ing.ID) {
				continue
			}
			logger.WithFields(log.Fields{
				"ingredient_id": ing.ID,
				"quantity":      ing.Quantity.String(),
				"min_quantity":  ing.MinQuantity.String(),
				"reason":        event.Inventory.Reason,
			}).Warn("ingredient is running low")
		}
		return nil
	})
}

// logPublisher — publisher outbox без брокера: события только пишутся в лог.
type logPublisher struct {
	logger *log.Entry
}

var _ domain.OutboxPublisher = (*logPublisher)(nil)

func newLogPublisher(logger *log.Entry) *logPublisher {
	return &logPublisher{logger: logger}
}

func (p *logPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
	}).Debug("outbox event (kafka disabled)")
	return nil
}
