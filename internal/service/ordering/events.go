package ordering

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/rms/internal/domain"
)

// orderPayload — тело событий OrderPlaced и OrderCancelled.
type orderPayload struct {
	OrderID    string             `json:"order_id"`
	CustomerID string             `json:"customer_id,omitempty"`
	Status     string             `json:"status"`
	Total      string             `json:"total"`
	Lines      []orderLinePayload `json:"lines"`
	Consumed   []consumedPayload  `json:"consumed,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

type orderLinePayload struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int32  `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
}

type consumedPayload struct {
	IngredientID string `json:"ingredient_id"`
	Quantity     string `json:"quantity"`
}

type statusChangedPayload struct {
	OrderID   string    `json:"order_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ChangedAt time.Time `json:"changed_at"`
}

type restockPayload struct {
	IngredientID string    `json:"ingredient_id"`
	Quantity     string    `json:"quantity"`
	NewQuantity  string    `json:"new_quantity"`
	UnitCost     string    `json:"unit_cost"`
	RestockedAt  time.Time `json:"restocked_at"`
}

func newOrderPayload(o domain.Order) orderPayload {
	p := orderPayload{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Status:     string(o.Status),
		Total:      o.Total.String(),
		Lines:      make([]orderLinePayload, 0, len(o.Lines)),
		CreatedAt:  o.CreatedAt,
	}
	for _, line := range o.Lines {
		p.Lines = append(p.Lines, orderLinePayload{
			MenuItemID: line.MenuItemID,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice.String(),
		})
	}
	for _, req := range o.Consumed {
		p.Consumed = append(p.Consumed, consumedPayload{IngredientID: req.IngredientID, Quantity: req.Quantity.String()})
	}
	return p
}

func (s *Service) outboxMessage(eventType, aggregateType, aggregateID string, payload any, at time.Time) (domain.OutboxMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return domain.OutboxMessage{
		ID:            s.newID(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
		CreatedAt:     at,
	}, nil
}
