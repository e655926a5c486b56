package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/metrics"
)

// Sweep — итог одного прохода очистки.
type Sweep struct {
	Deleted int
	Batches int
	// Truncated: проход упёрся в лимит батчей, просроченные ключи ещё остались.
	Truncated bool
	Took      time.Duration
}

// CleanupWorker периодически удаляет ключи с истёкшим TTL.
type CleanupWorker struct {
	repo       domain.IdempotencyRepository
	logger     *log.Entry
	metrics    *metrics.IdempotencyMetrics
	interval   time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

func NewCleanupWorker(repo domain.IdempotencyRepository, opts ...Option) *CleanupWorker {
	o := buildOptions("idempotency-cleanup", opts)
	return &CleanupWorker{
		repo:       repo,
		logger:     o.logger,
		metrics:    o.metrics,
		interval:   o.interval,
		batchSize:  o.batchSize,
		maxBatches: o.maxBatches,
		now:        o.now,
	}
}

// Run делает проход сразу после старта и затем раз в interval до отмены ctx.
// Если прошлый проход упёрся в лимит, следующий запускается без ожидания.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup is disabled: repository is nil")
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

		next := w.interval
		if sweep, err := w.sweep(ctx); err == nil && sweep.Truncated {
			next = 0
		}
		timer.Reset(next)
	}
}

func (w *CleanupWorker) sweep(ctx context.Context) (Sweep, error) {
	sweep, err := w.DeleteExpired(ctx, w.now().UTC())
	if errors.Is(err, context.Canceled) {
		return sweep, err
	}
	w.metrics.ObserveCleanup(err, sweep.Deleted)

	entry := w.logger.WithFields(log.Fields{
		"deleted": sweep.Deleted,
		"batches": sweep.Batches,
		"took":    sweep.Took.String(),
	})
	switch {
	case err != nil:
		entry.WithError(err).Warn("idempotency cleanup run failed")
	case sweep.Truncated:
		entry.Info("idempotency cleanup hit batch limit, continuing")
	case sweep.Deleted > 0:
		entry.Info("expired idempotency keys removed")
	}
	return sweep, err
}

// DeleteExpired удаляет ключи с TTL не позже before порциями по batchSize,
// но не больше maxBatches запросов. При ошибке Sweep содержит уже сделанное.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (sweep Sweep, err error) {
	started := w.now()
	if before.IsZero() {
		before = started.UTC()
	}

	defer func() { sweep.Took = w.now().Sub(started) }()

	for sweep.Batches < w.maxBatches {
		if err = ctx.Err(); err != nil {
			return sweep, err
		}
		var n int
		n, err = w.repo.DeleteExpired(before, w.batchSize)
		if err != nil {
			return sweep, err
		}
		sweep.Batches++
		sweep.Deleted += n
		if n < w.batchSize {
			return sweep, nil
		}
	}
	sweep.Truncated = true
	return sweep, nil
}
