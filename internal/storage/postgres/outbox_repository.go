package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/rms/internal/domain"
)

const defaultOutboxBatch = 100

const (
	outboxStatusSent   = "sent"
	outboxStatusFailed = "failed"
)

// PullPending возвращает до limit pending-сообщений в порядке seq.
func (s *Store) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	if limit <= 0 {
		limit = defaultOutboxBatch
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox_messages
		WHERE status = 'pending'
		ORDER BY seq
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox messages: %w", err)
	}
	defer rows.Close()

	var batch []domain.OutboxMessage
	for rows.Next() {
		msg, err := scanOutboxMessage(rows)
		if err != nil {
			return nil, err
		}
		batch = append(batch, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return batch, nil
}

func scanOutboxMessage(rows *sql.Rows) (domain.OutboxMessage, error) {
	var msg domain.OutboxMessage
	err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload, &msg.CreatedAt)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("scan outbox message: %w", err)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

// Stats считает backlog одним запросом.
func (s *Store) Stats(ctx context.Context) (domain.OutboxStats, error) {
	if s == nil || s.db == nil {
		return domain.OutboxStats{}, errNotInitialized
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var stats domain.OutboxStats
	var oldest sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = 'pending'`,
	).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats query failed: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

// MarkSent снимает сообщение с очереди после публикации.
func (s *Store) MarkSent(ctx context.Context, id string) error {
	return s.finishOutbox(ctx, id, outboxStatusSent)
}

// MarkFailed снимает сообщение с очереди после исчерпания попыток.
func (s *Store) MarkFailed(ctx context.Context, id string) error {
	return s.finishOutbox(ctx, id, outboxStatusFailed)
}

func (s *Store) finishOutbox(ctx context.Context, id, status string) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var updated string
	err := s.db.QueryRowContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1
		RETURNING id
	`, id, status, s.now().UTC()).Scan(&updated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("outbox message %q: %w", id, domain.ErrNotFound)
	case err != nil:
		return fmt.Errorf("mark outbox message as %s: %w", status, err)
	}
	return nil
}

var _ domain.OutboxRepository = (*Store)(nil)
