// Package notify содержит типизированную шину уведомлений между сервисом заказов и его наблюдателями.
package notify

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/metrics"
)

// EventKind — тип события шины.
type EventKind string

const (
	// OrderAdded — создан новый заказ.
	OrderAdded EventKind = "order_added"
	// OrderStatusChanged — заказ перешёл в новый статус.
	OrderStatusChanged EventKind = "order_status_changed"
	// InventoryChanged — изменились остатки на складе.
	InventoryChanged EventKind = "inventory_changed"
)

// Valid проверяет, что тип события поддерживается.
func (k EventKind) Valid() bool {
	switch k {
	case OrderAdded, OrderStatusChanged, InventoryChanged:
		return true
	default:
		return false
	}
}

// InventoryChange описывает, какие ингредиенты изменились и почему.
type InventoryChange struct {
	IngredientIDs []string
	// Reason: order_placed, order_cancelled, restock, ingredient_added.
	Reason  string
	OrderID string
}

// Event — полезная нагрузка уведомления. Отражает уже зафиксированное состояние.
type Event struct {
	Kind       EventKind
	Order      domain.Order
	OldStatus  domain.OrderStatus
	NewStatus  domain.OrderStatus
	Inventory  InventoryChange
	OccurredAt time.Time
}

// Handler обрабатывает событие. Возвращённая ошибка логируется и не влияет на других подписчиков.
type Handler func(Event) error

// Subscription позволяет отписаться. Повторный Unsubscribe безопасен.
type Subscription struct {
	hub  *Hub
	kind EventKind
	id   uint64
	once *sync.Once
}

// Unsubscribe удаляет подписчика из шины.
func (s Subscription) Unsubscribe() {
	if s.hub == nil || s.once == nil {
		return
	}
	s.once.Do(func() { s.hub.remove(s.kind, s.id) })
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Hub хранит подписчиков по типам событий.
type Hub struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[EventKind][]subscriber
	logger   *log.Entry
	metrics  *metrics.HubMetrics
}

// Option настраивает Hub.
type Option func(*Hub)

// WithLogger задаёт logger шины.
func WithLogger(logger *log.Entry) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics включает prometheus-метрики доставки.
func WithMetrics(m *metrics.HubMetrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// NewHub создаёт пустую шину.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		handlers: make(map[EventKind][]subscriber),
		logger:   log.New().WithField("component", "notify-hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe регистрирует обработчик для одного типа событий.
func (h *Hub) Subscribe(kind EventKind, handler Handler) (Subscription, error) {
	if !kind.Valid() {
		return Subscription{}, domain.InvalidArgument("unknown event kind %q", kind)
	}
	if handler == nil {
		return Subscription{}, domain.InvalidArgument("handler is nil")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.handlers[kind] = append(h.handlers[kind], subscriber{id: id, handler: handler})
	return Subscription{hub: h, kind: kind, id: id, once: &sync.Once{}}, nil
}

func (h *Hub) remove(kind EventKind, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.handlers[kind]
	for i, sub := range subs {
		if sub.id == id {
			// Копируем, чтобы не портить срез, который сейчас обходит Publish.
			next := make([]subscriber, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			h.handlers[kind] = next
			return
		}
	}
}

// Subscribers возвращает число подписчиков на тип событий.
func (h *Hub) Subscribers(kind EventKind) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers[kind])
}

// Publish синхронно вызывает подписчиков в порядке регистрации.
// Ошибки и паники обработчиков перехватываются по отдельности и не возвращаются вызывающему.
func (h *Hub) Publish(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	h.mu.RLock()
	subs := h.handlers[event.Kind]
	h.mu.RUnlock()

	for _, sub := range subs {
		if err := h.invoke(sub.handler, event); err != nil {
			h.logger.WithError(err).WithFields(log.Fields{
				"event":         string(event.Kind),
				"subscriber_id": sub.id,
				"order_id":      event.Order.ID,
			}).Warn("notification handler failed")
			if h.metrics != nil {
				h.metrics.RecordFailure(string(event.Kind))
			}
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordDelivered(string(event.Kind))
		}
	}
}

func (h *Hub) invoke(handler Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(event)
}
