package metrics

import "github.com/prometheus/client_golang/prometheus"

// HubMetrics считает доставки и сбои подписчиков шины уведомлений.
type HubMetrics struct {
	delivered *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

// NewHubMetrics создаёт метрики шины в глобальном реестре.
func NewHubMetrics() *HubMetrics {
	return NewHubMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewHubMetricsWithRegisterer создаёт метрики шины в переданном реестре.
func NewHubMetricsWithRegisterer(registerer prometheus.Registerer) *HubMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &HubMetrics{
		delivered: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "rms_hub_deliveries_total",
			Help: "Total number of successful handler invocations grouped by event kind",
		}, []string{"event"}),
		failures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "rms_hub_handler_failures_total",
			Help: "Total number of failed or panicked handler invocations grouped by event kind",
		}, []string{"event"}),
	}
}

// RecordDelivered учитывает успешный вызов подписчика.
func (m *HubMetrics) RecordDelivered(event string) {
	m.delivered.WithLabelValues(event).Inc()
}

// RecordFailure учитывает ошибку или панику подписчика.
func (m *HubMetrics) RecordFailure(event string) {
	m.failures.WithLabelValues(event).Inc()
}
