package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics описывает публикацию outbox и размер backlog.
type OutboxMetrics struct {
	attempts    *prometheus.CounterVec
	deadLetters *prometheus.CounterVec
	pending     prometheus.Gauge
	oldestAge   prometheus.Gauge
}

// NewOutboxMetrics создаёт метрики outbox в глобальном реестре.
func NewOutboxMetrics() *OutboxMetrics {
	return NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOutboxMetricsWithRegisterer создаёт метрики outbox в переданном реестре.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OutboxMetrics{
		attempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "rms_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by event type and result",
		}, []string{"event_type", "result"}),
		deadLetters: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "rms_outbox_dead_letters_total",
			Help: "Outbox messages that exhausted retries grouped by DLQ outcome",
		}, []string{"outcome"}),
		pending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "rms_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox",
		}),
		oldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "rms_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		}),
	}
}

// ObserveAttempt учитывает одну попытку публикации: sent или error.
func (m *OutboxMetrics) ObserveAttempt(eventType, result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(eventType, result).Inc()
}

// ObserveDeadLetter учитывает исчерпавшее попытки сообщение.
// outcome: published, skipped (DLQ не настроен) или failed.
func (m *OutboxMetrics) ObserveDeadLetter(outcome string) {
	if m == nil {
		return
	}
	m.deadLetters.WithLabelValues(outcome).Inc()
}

// SetBacklog обновляет gauges backlog. Нулевой oldest означает пустую очередь.
func (m *OutboxMetrics) SetBacklog(pending int, oldest time.Time, now time.Time) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	if pending == 0 || oldest.IsZero() {
		m.oldestAge.Set(0)
		return
	}
	m.oldestAge.Set(max(now.Sub(oldest).Seconds(), 0))
}
