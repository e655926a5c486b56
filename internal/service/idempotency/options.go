// Package idempotency защищает повторяемые операции ключами идемпотентности
// и чистит просроченные ключи.
package idempotency

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/rms/internal/metrics"
)

const (
	DefaultTTL              = 24 * time.Hour
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	defaultCleanupMaxBatch  = 100
)

type options struct {
	logger     *log.Entry
	metrics    *metrics.IdempotencyMetrics
	ttl        time.Duration
	interval   time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

// Option настраивает Guard и CleanupWorker.
type Option func(*options)

func WithLogger(logger *log.Entry) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(m *metrics.IdempotencyMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTTL задаёт срок жизни ключа для Guard.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithInterval задаёт паузу между проходами очистки.
func WithInterval(interval time.Duration) Option {
	return func(o *options) { o.interval = interval }
}

// WithBatchSize ограничивает число ключей, удаляемых одним запросом.
func WithBatchSize(batchSize int) Option {
	return func(o *options) { o.batchSize = batchSize }
}

// WithMaxBatches ограничивает число запросов за один проход; остаток дочистит следующий.
func WithMaxBatches(n int) Option {
	return func(o *options) { o.maxBatches = n }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(component string, opts []Option) options {
	o := options{
		ttl:        DefaultTTL,
		interval:   defaultCleanupInterval,
		batchSize:  defaultCleanupBatchSize,
		maxBatches: defaultCleanupMaxBatch,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.New().WithField("component", component)
	}
	if o.ttl <= 0 {
		o.ttl = DefaultTTL
	}
	if o.interval <= 0 {
		o.interval = defaultCleanupInterval
	}
	if o.batchSize <= 0 {
		o.batchSize = defaultCleanupBatchSize
	}
	if o.maxBatches <= 0 {
		o.maxBatches = defaultCleanupMaxBatch
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}
