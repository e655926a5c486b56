// Package httpapi публикует сервис заказов через REST API на fiber.
package httpapi

import (
	"context"
	"iter"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/rms/internal/catalog"
	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/metrics"
	"github.com/vladislavdragonenkov/rms/internal/service/ordering"
	"github.com/vladislavdragonenkov/rms/internal/stock"
)

// OrderingService — операции сервиса заказов, доступные через API.
type OrderingService interface {
	PlaceOrder(ctx context.Context, cart domain.Cart, opts ordering.PlaceOrderOptions) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, next domain.OrderStatus) (domain.Order, error)
	GetOrder(id string) (domain.Order, error)
	ListOrders(filter domain.OrderFilter) []domain.Order
	Ingredients() []domain.Ingredient
	Ingredient(id string) (domain.Ingredient, error)
	LowStock(policy stock.ThresholdPolicy) iter.Seq[domain.Ingredient]
	Restock(ctx context.Context, ingredientID string, qty, unitCost decimal.Decimal) (domain.Ingredient, error)
	AddIngredient(ctx context.Context, ing domain.Ingredient) (domain.Ingredient, error)
	Catalog() *catalog.Catalog
	FinancialRecords() []domain.FinancialRecord
	Summary() domain.FinancialSummary
}

var _ OrderingService = (*ordering.Service)(nil)

// Server — обработчики API поверх OrderingService.
type Server struct {
	svc     OrderingService
	logger  *log.Entry
	metrics *metrics.HTTPMetrics
	guard   RequestGuard
}

// Option настраивает Server.
type Option func(*Server)

// WithLogger задаёт logger для доступа и ошибок.
func WithLogger(logger *log.Entry) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает учёт запросов в Prometheus.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithIdempotency включает поддержку заголовка Idempotency-Key при оформлении заказа.
func WithIdempotency(guard RequestGuard) Option {
	return func(s *Server) {
		s.guard = guard
	}
}

// NewServer создаёт набор обработчиков.
func NewServer(svc OrderingService, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		logger: log.New().WithField("component", "http-api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// App собирает fiber-приложение со всеми маршрутами.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "rms",
		// строки из c.Params и c.Get переживают запрос: они становятся ключами в сервисе
		Immutable:             true,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(s.accessLog)

	s.Register(app.Group("/api"))
	return app
}

// Register вешает маршруты на router (обычно группа /api).
func (s *Server) Register(r fiber.Router) {
	orders := r.Group("/orders")
	orders.Post("/", s.idempotent, s.placeOrder)
	orders.Get("/", s.listOrders)
	orders.Get("/:id", s.getOrder)
	orders.Patch("/:id/status", s.updateStatus)

	inventory := r.Group("/inventory")
	inventory.Get("/", s.listInventory)
	inventory.Post("/", s.addIngredient)
	inventory.Get("/low-stock", s.lowStock)
	inventory.Get("/:id", s.getIngredient)
	inventory.Post("/:id/restock", s.restock)

	r.Get("/menu", s.listMenu)

	finance := r.Group("/finance")
	finance.Get("/records", s.listRecords)
	finance.Get("/summary", s.summary)
}

func (s *Server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	if err != nil {
		// Ошибку сразу превращаем в ответ, чтобы залогировать итоговый код.
		if herr := s.handleError(c, err); herr != nil {
			return herr
		}
	}

	code := c.Response().StatusCode()
	elapsed := time.Since(start)
	route := c.Route().Path
	if s.metrics != nil {
		s.metrics.Observe(c.Method(), route, code, elapsed)
	}

	entry := s.logger.WithFields(log.Fields{
		"method":      c.Method(),
		"path":        c.Path(),
		"status":      code,
		"duration_ms": elapsed.Milliseconds(),
		"request_id":  c.GetRespHeader(fiber.HeaderXRequestID),
	})
	if code >= fiber.StatusInternalServerError {
		entry.Warn("request failed")
	} else {
		entry.Debug("request served")
	}
	return nil
}
