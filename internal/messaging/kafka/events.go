package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
)

// Topics для Kafka
const (
	TopicOrderEvents      = "rms.order.events"
	TopicStockDeliveries  = "rms.stock.deliveries"
	TopicDeadLetterQueue  = "rms.dlq"
	DefaultConsumerGroup  = "rms-stock-deliveries"
	defaultConsumeRetries = 3
)

// Kafka headers
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
	HeaderMessageID     = "x-message-id"
)

// ErrPermanent помечает ошибку, повтор которой не имеет смысла.
var ErrPermanent = errors.New("permanent processing error")

// Permanent оборачивает err так, что consumer сразу отправит сообщение в DLQ.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Envelope — формат сообщения в TopicOrderEvents.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// DeadLetter — запись в TopicDeadLetterQueue о сообщении, которое consumer не смог обработать.
// Исходное сообщение хранится целиком, его можно переотправить в OriginalTopic.
type DeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	RetryCount        int       `json:"retry_count"`
}

// NewDeadLetter фиксирует сообщение и причину отказа.
func NewDeadLetter(message *sarama.ConsumerMessage, cause error, retries int, at time.Time) DeadLetter {
	dead := DeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		FailedAt:          at.UTC(),
		RetryCount:        retries,
	}
	if cause != nil {
		dead.ErrorMessage = cause.Error()
	}
	return dead
}

// Headers дублирует топик, причину и время отказа в заголовках записи.
func (d DeadLetter) Headers() []sarama.RecordHeader {
	return []sarama.RecordHeader{
		header(HeaderOriginalTopic, d.OriginalTopic),
		header(HeaderErrorMessage, d.ErrorMessage),
		header(HeaderFailedAt, d.FailedAt.Format(time.RFC3339)),
		header(HeaderRetryCount, strconv.Itoa(d.RetryCount)),
	}
}

// ParseDeadLetter разбирает запись DLQ, оставленную consumer.
// ok=false для сообщений другого формата, например конвертов outbox.
func ParseDeadLetter(value []byte) (dead DeadLetter, ok bool, err error) {
	if err := json.Unmarshal(value, &dead); err != nil {
		return DeadLetter{}, false, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	return dead, dead.OriginalValue != "", nil
}

func header(key, value string) sarama.RecordHeader {
	return sarama.RecordHeader{Key: []byte(key), Value: []byte(value)}
}

// headerValue возвращает первый заголовок с ключом key.
func headerValue(headers []*sarama.RecordHeader, key string) (string, bool) {
	for _, h := range headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value), true
		}
	}
	return "", false
}

// DeliveryEvent — поставка ингредиента от поставщика.
type DeliveryEvent struct {
	DeliveryID   string          `json:"delivery_id"`
	IngredientID string          `json:"ingredient_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	Supplier     string          `json:"supplier,omitempty"`
	DeliveredAt  time.Time       `json:"delivered_at"`
}

// Validate проверяет поля поставки.
func (e DeliveryEvent) Validate() error {
	var problems []string
	if strings.TrimSpace(e.DeliveryID) == "" {
		problems = append(problems, "delivery_id is required")
	}
	if strings.TrimSpace(e.IngredientID) == "" {
		problems = append(problems, "ingredient_id is required")
	}
	if !e.Quantity.IsPositive() {
		problems = append(problems, "quantity must be positive")
	}
	if e.UnitCost.IsNegative() {
		problems = append(problems, "unit_cost must be non-negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid delivery event: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ParseEnvelope парсит Envelope из сообщения
func ParseEnvelope(message *sarama.ConsumerMessage) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return &env, nil
}

// ParseDeliveryEvent парсит и валидирует DeliveryEvent.
func ParseDeliveryEvent(message *sarama.ConsumerMessage) (*DeliveryEvent, error) {
	var event DeliveryEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal delivery event: %w", err)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &event, nil
}
