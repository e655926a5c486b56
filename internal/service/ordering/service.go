// Package ordering реализует транзакционное ядро: оформление заказа со списанием
// ингредиентов, смена статусов и возвраты при отмене.
package ordering

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/rms/internal/catalog"
	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/metrics"
	"github.com/vladislavdragonenkov/rms/internal/notify"
	"github.com/vladislavdragonenkov/rms/internal/stock"
)

const tracerName = "github.com/vladislavdragonenkov/rms/internal/service/ordering"

// PlaceOrderOptions — необязательные поля заказа.
type PlaceOrderOptions struct {
	CustomerID string
	Note       string
}

// Service — единственный писатель заказов, финансовых записей и складских списаний по заказам.
// Все изменения выполняются под одной блокировкой вместе с записью в хранилище.
type Service struct {
	mu       sync.RWMutex
	store    domain.PersistenceStore
	catalog  *catalog.Catalog
	ledger   *stock.Ledger
	hub      *notify.Hub
	orders   map[string]domain.Order
	orderSeq []string
	records  []domain.FinancialRecord

	logger  *log.Entry
	metrics *metrics.OrderMetrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает prometheus-метрики.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTracer задаёт tracer; по умолчанию берётся глобальный провайдер.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов (для тестов).
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// Open загружает состояние из хранилища и собирает сервис.
func Open(ctx context.Context, store domain.PersistenceStore, hub *notify.Hub, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, domain.InvalidArgument("persistence store is nil")
	}

	snapshot, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	cat, err := catalog.New(snapshot.MenuItems, snapshot.Recipes)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	ledger, err := stock.New(snapshot.Ingredients)
	if err != nil {
		return nil, fmt.Errorf("build stock ledger: %w", err)
	}

	if hub == nil {
		hub = notify.NewHub()
	}

	s := &Service{
		store:   store,
		catalog: cat,
		ledger:  ledger,
		hub:     hub,
		orders:  make(map[string]domain.Order, len(snapshot.Orders)),
		records: append([]domain.FinancialRecord(nil), snapshot.FinancialRecords...),
		logger:  log.New().WithField("component", "ordering"),
		tracer:  otel.Tracer(tracerName),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, order := range snapshot.Orders {
		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return nil, fmt.Errorf("stored order %q is invalid: %v", order.ID, errs)
		}
		s.orders[order.ID] = order.Clone()
		s.orderSeq = append(s.orderSeq, order.ID)
	}

	s.logger.WithFields(log.Fields{
		"ingredients": len(snapshot.Ingredients),
		"menu_items":  len(snapshot.MenuItems),
		"orders":      len(snapshot.Orders),
	}).Info("ordering service state loaded")

	return s, nil
}

// Hub возвращает шину уведомлений сервиса.
func (s *Service) Hub() *notify.Hub { return s.hub }

// Catalog возвращает каталог меню для хуков управления меню.
func (s *Service) Catalog() *catalog.Catalog { return s.catalog }

// ListOrders возвращает заказы в порядке создания; пустой фильтр возвращает все заказы.
func (s *Service) ListOrders(filter domain.OrderFilter) []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, len(s.orderSeq))
	for _, id := range s.orderSeq {
		order := s.orders[id]
		if filter.Match(order) {
			result = append(result, order.Clone())
		}
	}
	return result
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, &domain.NotFoundError{Entity: "order", ID: id}
	}
	return order.Clone(), nil
}

// LowStock возвращает заканчивающиеся ингредиенты на момент вызова.
// Последовательность можно обходить повторно, она не видит последующих изменений.
func (s *Service) LowStock(policy stock.ThresholdPolicy) iter.Seq[domain.Ingredient] {
	s.mu.RLock()
	items := slices.Collect(s.ledger.LowStock(policy))
	s.mu.RUnlock()

	if s.metrics != nil && policy == nil {
		s.metrics.SetLowStock(len(items))
	}
	return slices.Values(items)
}

// Ingredients возвращает все складские позиции.
func (s *Service) Ingredients() []domain.Ingredient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Snapshot()
}

// Ingredient возвращает одну складскую позицию.
func (s *Service) Ingredient(id string) (domain.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Get(id)
}

// MenuItems возвращает меню.
func (s *Service) MenuItems() []domain.MenuItem {
	return s.catalog.MenuItems()
}

// FinancialRecords возвращает журнал в порядке добавления.
func (s *Service) FinancialRecords() []domain.FinancialRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.FinancialRecord(nil), s.records...)
}

// Summary сворачивает журнал и заказы в статистику дашборда.
func (s *Service) Summary() domain.FinancialSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, len(s.orderSeq))
	for _, id := range s.orderSeq {
		orders = append(orders, s.orders[id])
	}
	return domain.Summarize(s.records, orders)
}

func (s *Service) publish(events []notify.Event) {
	for _, event := range events {
		s.hub.Publish(event)
	}
}

// trackedIDs возвращает идентификаторы ингредиентов из потребностей.
func trackedIDs(reqs []domain.Requirement) []string {
	ids := make([]string, 0, len(reqs))
	for _, req := range reqs {
		ids = append(ids, req.IngredientID)
	}
	return ids
}
