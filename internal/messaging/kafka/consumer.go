package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/rms/internal/metrics"
)

// maxConsumerRetryDelay ограничивает паузу между повторами одного сообщения.
const maxConsumerRetryDelay = 5 * time.Second

// Итоги обработки сообщения, они же значения метки outcome.
const (
	outcomeHandled      = "handled"
	outcomeDeadLettered = "dead_lettered"
	outcomeDLQFailed    = "dlq_failed"
	outcomeUnhandled    = "unhandled"
	outcomeAborted      = "aborted"
)

// MessageHandler обрабатывает сообщение из Kafka
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer читает consumer group и передаёт сообщения в handler.
// Временные ошибки повторяются с экспоненциальной паузой; после maxRetries
// неудач или сразу для ErrPermanent сообщение уходит в DLQ как DeadLetter.
type Consumer struct {
	group      sarama.ConsumerGroup
	topics     []string
	handler    MessageHandler
	logger     *log.Entry
	metrics    *metrics.KafkaMetrics
	dlq        *Producer
	maxRetries int
	retryDelay time.Duration
	now        func() time.Time
	wg         sync.WaitGroup
}

// ConsumerConfig описывает подключение consumer group.
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	Topics     []string
	MaxRetries int
	RetryDelay time.Duration
	Logger     *log.Entry
	Metrics    *metrics.KafkaMetrics
}

func (cfg ConsumerConfig) validate(handler MessageHandler) error {
	var errs []error
	if handler == nil {
		errs = append(errs, errors.New("kafka consumer handler is required"))
	}
	if len(cfg.Topics) == 0 {
		errs = append(errs, errors.New("kafka consumer needs at least one topic"))
	}
	if cfg.RetryDelay < 0 {
		errs = append(errs, errors.New("kafka consumer retry delay must not be negative"))
	}
	return errors.Join(errs...)
}

// NewConsumer создает consumer group. dlq может быть nil: тогда необработанные
// сообщения только логируются.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, dlq *Producer) (*Consumer, error) {
	if err := cfg.validate(handler); err != nil {
		return nil, err
	}
	if cfg.GroupID == "" {
		cfg.GroupID = DefaultConsumerGroup
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, consumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return newConsumer(group, cfg, handler, dlq), nil
}

func consumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	return config
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler MessageHandler, dlq *Producer) *Consumer {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New().WithField("component", "kafka-consumer")
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultConsumeRetries
	}
	return &Consumer{
		group:      group,
		topics:     cfg.Topics,
		handler:    handler,
		logger:     logger,
		metrics:    cfg.Metrics,
		dlq:        dlq,
		maxRetries: maxRetries,
		retryDelay: cfg.RetryDelay,
		now:        time.Now,
	}
}

// Start запускает чтение в фоне. Остановка — через Stop или отмену ctx.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume возвращается при каждом rebalance.
		for ctx.Err() == nil {
			err := c.group.Consume(ctx, c.topics, c)
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if err != nil {
				c.logger.WithError(err).Error("error from consumer")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения партиции. Offset фиксируется только
// после успешной обработки или записи в DLQ.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			started := c.now()
			spanCtx, span := startConsumeSpan(ctx, message)
			outcome, err := c.process(spanCtx, message)
			endConsumeSpan(span, outcome, err)
			c.metrics.ObserveConsumed(message.Topic, outcome, c.now().Sub(started))
			if err != nil {
				c.logger.WithError(err).WithFields(fields).WithField("outcome", outcome).Error("message left uncommitted")
				continue
			}
			session.MarkMessage(message, "")

		case <-ctx.Done():
			return nil
		}
	}
}

// process вызывает handler с повторами и возвращает итог обработки.
// Попытки, сделанные до нас, берутся из заголовка HeaderRetryCount.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) (string, error) {
	attempts := retryCount(message)

	var err error
	for n := 0; attempts < c.maxRetries; n++ {
		err = c.handler(ctx, message)
		attempts++
		if err == nil {
			return outcomeHandled, nil
		}
		if errors.Is(err, ErrPermanent) || attempts >= c.maxRetries {
			break
		}

		delay := c.backoff(n)
		c.logger.WithError(err).WithFields(log.Fields{
			"topic":       message.Topic,
			"attempt":     attempts,
			"max_retries": c.maxRetries,
			"delay":       delay,
		}).Warn("message processing failed, will retry")
		c.metrics.ObserveRetry(message.Topic)

		if waitErr := sleepContext(ctx, delay); waitErr != nil {
			return outcomeAborted, waitErr
		}
	}
	if ctx.Err() != nil {
		return outcomeAborted, ctx.Err()
	}
	if err == nil {
		err = fmt.Errorf("retry budget exhausted: %d of %d", attempts, c.maxRetries)
	}

	if c.dlq == nil {
		return outcomeUnhandled, err
	}
	if dlqErr := c.sendToDLQ(ctx, message, err, attempts); dlqErr != nil {
		return outcomeDLQFailed, fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.logger.WithError(err).WithFields(log.Fields{
		"topic":    message.Topic,
		"attempts": attempts,
	}).Warn("message sent to DLQ")
	return outcomeDeadLettered, nil
}

// backoff возвращает паузу перед n-м повтором: retryDelay, 2×, 4×... не больше maxConsumerRetryDelay.
func (c *Consumer) backoff(n int) time.Duration {
	if c.retryDelay <= 0 {
		return 0
	}
	delay := c.retryDelay << min(n, 16)
	if delay <= 0 || delay > maxConsumerRetryDelay {
		return maxConsumerRetryDelay
	}
	return delay
}

func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, cause error, attempts int) error {
	dead := NewDeadLetter(message, cause, attempts, c.now())
	return c.dlq.PublishEvent(TopicDeadLetterQueue, dead.OriginalKey, dead, injectTrace(ctx, dead.Headers())...)
}

// retryCount читает HeaderRetryCount; некорректное значение считается нулём.
func retryCount(message *sarama.ConsumerMessage) int {
	raw, ok := headerValue(message.Headers, HeaderRetryCount)
	if !ok {
		return 0
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 0 {
		return 0
	}
	return count
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
