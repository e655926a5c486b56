package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// KafkaMetrics считает отправленные и прочитанные сообщения по топикам.
type KafkaMetrics struct {
	produced *prometheus.CounterVec
	consumed *prometheus.CounterVec
	retries  *prometheus.CounterVec
	handle   *prometheus.HistogramVec
}

// NewKafkaMetrics создаёт метрики Kafka в глобальном реестре.
func NewKafkaMetrics() *KafkaMetrics {
	return NewKafkaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewKafkaMetricsWithRegisterer создаёт метрики Kafka в переданном реестре.
func NewKafkaMetricsWithRegisterer(registerer prometheus.Registerer) *KafkaMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &KafkaMetrics{
		produced: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "rms_kafka_produced_total",
			Help: "Messages sent to Kafka grouped by topic and result",
		}, []string{"topic", "result"}),
		consumed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "rms_kafka_consumed_total",
			Help: "Consumed Kafka messages grouped by topic and final outcome",
		}, []string{"topic", "outcome"}),
		retries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "rms_kafka_handler_retries_total",
			Help: "Handler retries performed by the consumer",
		}, []string{"topic"}),
		handle: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "rms_kafka_handle_duration_seconds",
			Help:    "Time spent handling one consumed message including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"topic"}),
	}
}

// ObserveProduced учитывает отправку: sent или error.
func (m *KafkaMetrics) ObserveProduced(topic, result string) {
	if m == nil {
		return
	}
	m.produced.WithLabelValues(topic, result).Inc()
}

// ObserveConsumed учитывает итог обработки сообщения и её длительность.
// outcome: handled, dead_lettered, dlq_failed, unhandled или aborted.
func (m *KafkaMetrics) ObserveConsumed(topic, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(topic, outcome).Inc()
	m.handle.WithLabelValues(topic).Observe(took.Seconds())
}

// ObserveRetry учитывает повторный вызов handler.
func (m *KafkaMetrics) ObserveRetry(topic string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(topic).Inc()
}
