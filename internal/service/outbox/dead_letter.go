package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/rms/internal/domain"
)

// DeadLetter — тело сообщения, которое worker отправляет в DLQ. Инструмент
// повторной отправки разбирает его обратно в исходное событие.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Attempts       int             `json:"attempts"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// NewDeadLetter описывает сообщение, которое не удалось опубликовать.
func NewDeadLetter(msg domain.OutboxMessage, attempts int, cause error, at time.Time) DeadLetter {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	dl := DeadLetter{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      msg.EventType,
		Payload:        payload,
		Attempts:       attempts,
		DLQPublishedAt: at.UTC(),
	}
	if cause != nil {
		dl.PublishError = cause.Error()
	}
	return dl
}

// Message восстанавливает исходное outbox-сообщение.
func (d DeadLetter) Message() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
	}
}

// envelope упаковывает dead letter в outbox-сообщение с теми же ключом и типом,
// чтобы DLQ партиционировался так же, как основной топик.
func (d DeadLetter) envelope() (domain.OutboxMessage, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal dead letter %s: %w", d.OutboxID, err)
	}
	return domain.OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       body,
		CreatedAt:     d.DLQPublishedAt,
	}, nil
}
