package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestNewOrderMetrics(t *testing.T) {
	m := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	if m.ordersPlaced == nil || m.ordersRejected == nil || m.transitions == nil {
		t.Fatal("counters should not be nil")
	}
	if m.placeDuration == nil {
		t.Fatal("placeDuration histogram should not be nil")
	}
	if m.lowStockIngredients == nil {
		t.Fatal("lowStock gauge should not be nil")
	}
}

func TestRecordOrderPlaced(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetricsWithRegisterer(reg)

	m.RecordOrderPlaced(decimal.RequireFromString("9.50"), 3*time.Millisecond)
	m.RecordOrderPlaced(decimal.RequireFromString("0.50"), time.Millisecond)

	if got := counterValue(t, m.ordersPlaced); got != 2 {
		t.Fatalf("expected 2 placed orders, got %v", got)
	}
	if got := counterValue(t, m.revenue); got != 10 {
		t.Fatalf("expected revenue 10, got %v", got)
	}

	histogram := &dto.Metric{}
	if err := m.placeDuration.Write(histogram); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	if got := histogram.GetHistogram().GetSampleCount(); got != 2 {
		t.Fatalf("expected 2 samples, got %d", got)
	}
}

func TestRecordOrderRejected_ByReason(t *testing.T) {
	m := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordOrderRejected("insufficient_stock")
	m.RecordOrderRejected("insufficient_stock")
	m.RecordOrderRejected("empty_cart")

	if got := counterValue(t, m.ordersRejected.WithLabelValues("insufficient_stock")); got != 2 {
		t.Fatalf("expected 2 insufficient_stock rejections, got %v", got)
	}
	if got := counterValue(t, m.ordersRejected.WithLabelValues("empty_cart")); got != 1 {
		t.Fatalf("expected 1 empty_cart rejection, got %v", got)
	}
}

func TestRecordOrderCancelledAndGauge(t *testing.T) {
	m := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordOrderCancelled(decimal.NewFromInt(4))
	m.RecordTransition("received", "cancelled")
	m.SetLowStock(3)

	if got := counterValue(t, m.ordersCancelled); got != 1 {
		t.Fatalf("expected 1 cancellation, got %v", got)
	}
	if got := counterValue(t, m.refunds); got != 4 {
		t.Fatalf("expected refunds 4, got %v", got)
	}
	gauge := &dto.Metric{}
	if err := m.lowStockIngredients.Write(gauge); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if got := gauge.GetGauge().GetValue(); got != 3 {
		t.Fatalf("expected gauge 3, got %v", got)
	}
}

func TestRegisterTwice_ReturnsExistingCollector(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewHubMetricsWithRegisterer(reg)
	second := NewHubMetricsWithRegisterer(reg)

	first.RecordFailure("order_added")
	second.RecordFailure("order_added")

	if got := counterValue(t, first.failures.WithLabelValues("order_added")); got != 2 {
		t.Fatalf("expected shared counter value 2, got %v", got)
	}
}

func TestHTTPMetrics_Observe(t *testing.T) {
	m := NewHTTPMetricsWithRegisterer(prometheus.NewRegistry())

	m.Observe("POST", "/api/orders", 201, 2*time.Millisecond)
	m.Observe("POST", "/api/orders", 201, time.Millisecond)
	m.Observe("POST", "/api/orders", 409, time.Millisecond)

	if got := counterValue(t, m.requests.WithLabelValues("POST", "/api/orders", "201")); got != 2 {
		t.Fatalf("expected 2 created requests, got %v", got)
	}
	if got := counterValue(t, m.requests.WithLabelValues("POST", "/api/orders", "409")); got != 1 {
		t.Fatalf("expected 1 conflict, got %v", got)
	}
}

func TestIdempotencyMetrics(t *testing.T) {
	m := NewIdempotencyMetricsWithRegisterer(prometheus.NewRegistry())

	m.ObserveDecision("orders", "replay")
	m.ObserveDecision("orders", "replay")
	m.ObserveCleanup(nil, 3)
	m.ObserveCleanup(errors.New("db down"), 0)

	if got := counterValue(t, m.decisions.WithLabelValues("orders", "replay")); got != 2 {
		t.Fatalf("expected 2 replays, got %v", got)
	}
	if got := counterValue(t, m.cleanupRuns.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 failed cleanup, got %v", got)
	}
	if got := counterValue(t, m.deleted); got != 3 {
		t.Fatalf("expected 3 deleted, got %v", got)
	}

	var nilMetrics *IdempotencyMetrics
	nilMetrics.ObserveDecision("orders", "proceed")
	nilMetrics.ObserveCleanup(nil, 1)
}

func TestOutboxMetrics(t *testing.T) {
	m := NewOutboxMetricsWithRegisterer(prometheus.NewRegistry())

	m.ObserveAttempt("OrderPlaced", "sent")
	m.ObserveAttempt("OrderPlaced", "error")
	m.ObserveAttempt("OrderPlaced", "error")
	m.ObserveDeadLetter("published")

	if got := counterValue(t, m.attempts.WithLabelValues("OrderPlaced", "error")); got != 2 {
		t.Fatalf("expected 2 failed attempts, got %v", got)
	}
	if got := counterValue(t, m.deadLetters.WithLabelValues("published")); got != 1 {
		t.Fatalf("expected 1 dead letter, got %v", got)
	}

	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	m.SetBacklog(3, now.Add(-90*time.Second), now)
	gauge := &dto.Metric{}
	if err := m.oldestAge.Write(gauge); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if got := gauge.GetGauge().GetValue(); got != 90 {
		t.Fatalf("expected age 90s, got %v", got)
	}

	// Часы отстают: возраст не уходит в минус.
	m.SetBacklog(1, now.Add(time.Minute), now)
	if err := m.oldestAge.Write(gauge); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if got := gauge.GetGauge().GetValue(); got != 0 {
		t.Fatalf("expected clamped age 0, got %v", got)
	}

	var nilMetrics *OutboxMetrics
	nilMetrics.ObserveAttempt("x", "sent")
	nilMetrics.SetBacklog(1, now, now)
}

func TestKafkaMetrics(t *testing.T) {
	m := NewKafkaMetricsWithRegisterer(prometheus.NewRegistry())

	m.ObserveProduced("rms.order.events", "sent")
	m.ObserveProduced("rms.order.events", "sent")
	m.ObserveProduced("rms.dlq", "error")
	m.ObserveRetry("rms.stock.deliveries")
	m.ObserveConsumed("rms.stock.deliveries", "dead_lettered", 20*time.Millisecond)

	if got := counterValue(t, m.produced.WithLabelValues("rms.order.events", "sent")); got != 2 {
		t.Fatalf("expected 2 sent, got %v", got)
	}
	if got := counterValue(t, m.produced.WithLabelValues("rms.dlq", "error")); got != 1 {
		t.Fatalf("expected 1 produce error, got %v", got)
	}
	if got := counterValue(t, m.retries.WithLabelValues("rms.stock.deliveries")); got != 1 {
		t.Fatalf("expected 1 retry, got %v", got)
	}
	if got := counterValue(t, m.consumed.WithLabelValues("rms.stock.deliveries", "dead_lettered")); got != 1 {
		t.Fatalf("expected 1 dead lettered, got %v", got)
	}

	var nilMetrics *KafkaMetrics
	nilMetrics.ObserveProduced("t", "sent")
	nilMetrics.ObserveConsumed("t", "handled", time.Second)
	nilMetrics.ObserveRetry("t")
}
