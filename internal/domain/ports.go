package domain

import (
	"context"
	"time"
)

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	// ctx несёт trace текущего батча и отмену при остановке.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository отдаёт воркеру сообщения, сохранённые вместе с коммитом.
// Pending-сообщения возвращаются в порядке записи; MarkSent и MarkFailed
// снимают сообщение из очереди и возвращают ErrNotFound для неизвестного id.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// Типы событий outbox.
const (
	OutboxEventOrderPlaced        = "OrderPlaced"
	OutboxEventOrderStatusChanged = "OrderStatusChanged"
	OutboxEventOrderCancelled     = "OrderCancelled"
	OutboxEventStockRestocked     = "StockRestocked"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
