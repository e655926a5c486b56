package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/rms/internal/metrics"
)

const clientID = "rms"

// Producer отправляет записи в Kafka синхронно: Send возвращается после подтверждения всех реплик.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
	metrics  *metrics.KafkaMetrics
	now      func() time.Time
}

// ProducerOption настраивает Producer.
type ProducerOption func(*Producer)

// WithProducerLogger задаёт логгер producer.
func WithProducerLogger(logger *log.Entry) ProducerOption {
	return func(p *Producer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithProducerMetrics включает учёт отправок.
func WithProducerMetrics(m *metrics.KafkaMetrics) ProducerOption {
	return func(p *Producer) { p.metrics = m }
}

// NewProducer подключается к брокерам идемпотентным producer.
func NewProducer(brokers []string, opts ...ProducerOption) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return newProducer(producer, opts...), nil
}

func producerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

func newProducer(sync sarama.SyncProducer, opts ...ProducerOption) *Producer {
	p := &Producer{
		producer: sync,
		logger:   log.New().WithField("component", "kafka-producer"),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// PublishEvent сериализует event в JSON и отправляет его в topic.
func (p *Producer) PublishEvent(topic string, key string, event any, headers ...sarama.RecordHeader) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for %s: %w", topic, err)
	}
	return p.Send(topic, key, value, headers...)
}

// Send отправляет готовое значение. Пустой key оставляет выбор партиции partitioner'у.
func (p *Producer) Send(topic string, key string, value []byte, headers ...sarama.RecordHeader) error {
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(value),
		Headers:   headers,
		Timestamp: p.now(),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	fields := log.Fields{"topic": topic, "key": key}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.metrics.ObserveProduced(topic, "error")
		p.logger.WithError(err).WithFields(fields).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message to %s: %w", topic, err)
	}

	p.metrics.ObserveProduced(topic, "sent")
	fields["partition"] = partition
	fields["offset"] = offset
	p.logger.WithFields(fields).Debug("message sent to kafka")
	return nil
}

// Close закрывает producer
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
