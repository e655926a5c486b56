package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/rms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/rms/internal/metrics"
)

// initKafkaProducer создаёт producer, если брокеры заданы. Пустая строка означает работу без Kafka.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	if strings.TrimSpace(brokers) == "" {
		return nil, nil
	}

	brokerList := Config{KafkaBrokers: brokers}.brokerList()
	producer, err := kafka.NewProducer(brokerList,
		kafka.WithProducerLogger(logger.WithField("component", "kafka-producer")),
		kafka.WithProducerMetrics(metrics.NewKafkaMetrics()),
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// initDeliveryConsumer подписывается на поставки, если задан топик.
// Необработанные сообщения уходят в DLQ через тот же producer.
func initDeliveryConsumer(cfg Config, restocker kafka.Restocker, dedupe kafka.Deduper, dlq *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	if cfg.KafkaDeliveryTopic == "" || dlq == nil {
		return nil, nil
	}

	handler := kafka.NewDeliveryHandler(restocker, dedupe, logger.WithField("component", "stock-deliveries"))
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.brokerList(),
		GroupID: cfg.KafkaConsumerGroup,
		Topics:  []string{cfg.KafkaDeliveryTopic},
		Logger:  logger.WithField("component", "kafka-consumer"),
		Metrics: metrics.NewKafkaMetrics(),
	}, handler.Handle, dlq)
	if err != nil {
		return nil, err
	}
	return consumer, nil
}

// closeKafka закрывает producer, если он был создан.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
