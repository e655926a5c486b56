package outbox

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/metrics"
)

// BatchResult — итог одного цикла опроса.
type BatchResult struct {
	Sent   int
	Failed int
}

// Empty сообщает, что в цикле не нашлось ни одного сообщения.
func (r BatchResult) Empty() bool { return r.Sent == 0 && r.Failed == 0 }

func (r *BatchResult) add(other BatchResult) {
	r.Sent += other.Sent
	r.Failed += other.Failed
}

// Worker публикует pending-сообщения outbox в порядке их записи.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	logger    *log.Entry
	tracer    trace.Tracer
	metrics   *metrics.OutboxMetrics

	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	now            func() time.Time
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	cfg := buildConfig(opts)
	tracer := cfg.tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/vladislavdragonenkov/rms/internal/service/outbox")
	}

	return &Worker{
		repo:           repo,
		publisher:      publisher,
		dlq:            cfg.dlq,
		logger:         cfg.logger,
		tracer:         tracer,
		metrics:        cfg.metrics,
		pollInterval:   cfg.pollInterval,
		batchSize:      cfg.batchSize,
		maxAttempts:    cfg.maxAttempts,
		retryBaseDelay: cfg.retryBaseDelay,
		now:            cfg.now,
	}
}

func (w *Worker) enabled() bool {
	return w.repo != nil && w.publisher != nil
}

// Run опрашивает outbox каждые pollInterval до отмены ctx. Если цикл выбрал
// полный батч, следующий запускается сразу.
func (w *Worker) Run(ctx context.Context) {
	if !w.enabled() {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := w.pollInterval
		if result := w.ProcessOnce(ctx); result.Sent+result.Failed >= w.batchSize {
			next = 0
		}
		timer.Reset(next)
	}
}

// Drain публикует backlog до опустошения или отмены ctx. Вызывается при
// остановке, чтобы уже зафиксированные события не ждали следующего запуска.
func (w *Worker) Drain(ctx context.Context) BatchResult {
	var total BatchResult
	if !w.enabled() {
		return total
	}
	for ctx.Err() == nil {
		result := w.ProcessOnce(ctx)
		total.add(result)
		if result.Empty() {
			break
		}
	}
	return total
}

// ProcessOnce выбирает один батч и публикует его.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var result BatchResult
	if ctx.Err() != nil || !w.enabled() {
		return result
	}

	ctx, span := w.tracer.Start(ctx, "outbox.ProcessOnce")
	defer span.End()

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pull pending")
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return result
	}
	span.SetAttributes(attribute.Int("outbox.batch", len(batch)))

	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}
		if w.deliver(ctx, msg) {
			result.Sent++
		} else {
			result.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("outbox.sent", result.Sent),
		attribute.Int("outbox.failed", result.Failed),
	)
	w.refreshBacklog(ctx)
	return result
}

// deliver публикует сообщение с повторами. После исчерпания попыток сообщение
// уходит в DLQ и помечается failed, чтобы не блокировать очередь.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) bool {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
	})

	// Отметка о публикации не должна теряться из-за остановки.
	markCtx := context.WithoutCancel(ctx)

	err := w.publishWithRetry(ctx, msg)
	if err == nil {
		if markErr := w.repo.MarkSent(markCtx, msg.ID); markErr != nil {
			entry.WithError(markErr).Warn("failed to mark outbox message as sent")
		}
		return true
	}
	if ctx.Err() != nil {
		// Остановка: сообщение остаётся pending и уйдёт при следующем запуске.
		return false
	}

	entry.WithError(err).Error("outbox publish failed after retries")
	w.sendToDLQ(ctx, entry, NewDeadLetter(msg, w.maxAttempts, err, w.now()))
	if markErr := w.repo.MarkFailed(markCtx, msg.ID); markErr != nil {
		entry.WithError(markErr).Warn("failed to mark outbox message as failed")
	}
	return false
}

func (w *Worker) publishWithRetry(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		lastErr = w.publisher.Publish(ctx, msg)
		if lastErr == nil {
			w.metrics.ObserveAttempt(msg.EventType, "sent")
			return nil
		}
		w.metrics.ObserveAttempt(msg.EventType, "error")

		if attempt == w.maxAttempts {
			break
		}
		if delay := w.retryBackoff(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", domain.ErrOutboxPublish, w.maxAttempts, lastErr)
}

func (w *Worker) sendToDLQ(ctx context.Context, entry *log.Entry, dl DeadLetter) {
	if w.dlq == nil {
		w.metrics.ObserveDeadLetter("skipped")
		return
	}

	msg, err := dl.envelope()
	if err == nil {
		err = w.dlq.Publish(ctx, msg)
	}
	if err != nil {
		w.metrics.ObserveDeadLetter("failed")
		entry.WithError(err).Warn("failed to publish outbox message to DLQ")
		return
	}
	w.metrics.ObserveDeadLetter("published")
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	if w.metrics == nil || ctx.Err() != nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	w.metrics.SetBacklog(stats.PendingCount, stats.OldestPendingAt, w.now())
}

// retryBackoff: base, 2·base, 4·base, … с потолком maxRetryDelay.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}
