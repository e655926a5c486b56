package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// OrderMetrics содержит метрики транзакций заказа и склада.
type OrderMetrics struct {
	// Счётчики операций
	ordersPlaced    prometheus.Counter
	ordersRejected  *prometheus.CounterVec
	ordersCancelled prometheus.Counter
	transitions     *prometheus.CounterVec
	restocks        prometheus.Counter
	revenue         prometheus.Counter
	refunds         prometheus.Counter

	placeDuration prometheus.Histogram

	outboxEvents prometheus.Counter

	lowStockIngredients prometheus.Gauge
}

// NewOrderMetrics создаёт метрики в глобальном реестре.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer создаёт метрики в переданном реестре (изолированные тесты).
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "rms_orders_placed_total",
			Help: "Total number of orders placed successfully",
		}),
		ordersRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "rms_orders_rejected_total",
			Help: "Total number of rejected place-order attempts grouped by reason",
		}, []string{"reason"}),
		ordersCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "rms_orders_cancelled_total",
			Help: "Total number of cancelled orders",
		}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "rms_order_status_transitions_total",
			Help: "Total number of order status transitions",
		}, []string{"from", "to"}),
		restocks: registerCounter(registerer, prometheus.CounterOpts{
			Name: "rms_stock_restocks_total",
			Help: "Total number of ingredient restocks",
		}),
		revenue: registerCounter(registerer, prometheus.CounterOpts{
			Name: "rms_revenue_total",
			Help: "Income recorded for placed orders",
		}),
		refunds: registerCounter(registerer, prometheus.CounterOpts{
			Name: "rms_refunds_total",
			Help: "Refunds recorded for cancelled orders",
		}),
		placeDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "rms_place_order_duration_seconds",
			Help:    "Duration of the place-order transaction in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "rms_outbox_events_total",
			Help: "Total number of outbox events written with commits",
		}),
		lowStockIngredients: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "rms_low_stock_ingredients",
			Help: "Number of ingredients at or below their minimum threshold",
		}),
	}
}

// RecordOrderPlaced учитывает успешный заказ и его сумму.
func (m *OrderMetrics) RecordOrderPlaced(total decimal.Decimal, duration time.Duration) {
	m.ordersPlaced.Inc()
	m.revenue.Add(total.InexactFloat64())
	m.placeDuration.Observe(duration.Seconds())
}

// RecordOrderRejected учитывает отказ с причиной.
func (m *OrderMetrics) RecordOrderRejected(reason string) {
	m.ordersRejected.WithLabelValues(reason).Inc()
}

// RecordTransition учитывает смену статуса.
func (m *OrderMetrics) RecordTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordOrderCancelled учитывает отмену и сумму возврата.
func (m *OrderMetrics) RecordOrderCancelled(refund decimal.Decimal) {
	m.ordersCancelled.Inc()
	m.refunds.Add(refund.InexactFloat64())
}

// RecordRestock увеличивает счётчик пополнений.
func (m *OrderMetrics) RecordRestock() {
	m.restocks.Inc()
}

// RecordOutboxEvents увеличивает счётчик событий outbox.
func (m *OrderMetrics) RecordOutboxEvents(n int) {
	m.outboxEvents.Add(float64(n))
}

// SetLowStock выставляет число заканчивающихся ингредиентов.
func (m *OrderMetrics) SetLowStock(n int) {
	m.lowStockIngredients.Set(float64(n))
}
