package metrics

import "github.com/prometheus/client_golang/prometheus"

// IdempotencyMetrics — решения по ключам идемпотентности и работа очистки.
type IdempotencyMetrics struct {
	decisions   *prometheus.CounterVec
	cleanupRuns *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
}

func NewIdempotencyMetrics() *IdempotencyMetrics {
	return NewIdempotencyMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewIdempotencyMetricsWithRegisterer(registerer prometheus.Registerer) *IdempotencyMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &IdempotencyMetrics{
		decisions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "rms_idempotency_decisions_total",
			Help: "Idempotency key lookups grouped by scope and outcome",
		}, []string{"scope", "outcome"}),
		cleanupRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "rms_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result",
		}, []string{"result"}),
		deleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "rms_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records",
		}),
		lastDeleted: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "rms_idempotency_cleanup_last_deleted",
			Help: "Number of records deleted during the last cleanup run",
		}),
	}
}

// ObserveDecision учитывает исход Begin: proceed, replay, in_flight, mismatch, error.
func (m *IdempotencyMetrics) ObserveDecision(scope, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(scope, outcome).Inc()
}

// ObserveCleanup учитывает один проход очистки.
func (m *IdempotencyMetrics) ObserveCleanup(err error, deleted int) {
	if m == nil {
		return
	}
	if err != nil {
		m.cleanupRuns.WithLabelValues("error").Inc()
		return
	}
	m.cleanupRuns.WithLabelValues("ok").Inc()
	m.deleted.Add(float64(deleted))
	m.lastDeleted.Set(float64(deleted))
}
