// Package outbox доставляет сообщения transactional outbox во внешний брокер.
package outbox

import (
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 30 * time.Second
)

type config struct {
	logger         *log.Entry
	tracer         trace.Tracer
	metrics        *metrics.OutboxMetrics
	dlq            domain.OutboxPublisher
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	now            func() time.Time
}

// Option настраивает Worker.
type Option func(*config)

func WithLogger(logger *log.Entry) Option {
	return func(c *config) { c.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *config) { c.tracer = tracer }
}

// WithMetrics подключает метрики публикации и backlog.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithDLQPublisher задаёт publisher, куда уходят сообщения после исчерпания попыток.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(c *config) { c.dlq = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(c *config) { c.pollInterval = interval }
}

func WithBatchSize(size int) Option {
	return func(c *config) { c.batchSize = size }
}

// WithMaxAttempts задаёт число попыток публикации одного сообщения за цикл.
func WithMaxAttempts(attempts int) Option {
	return func(c *config) { c.maxAttempts = attempts }
}

// WithRetryBaseDelay задаёт первую паузу backoff; каждая следующая вдвое длиннее,
// но не больше 30s.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(c *config) { c.retryBaseDelay = delay }
}

func buildConfig(opts []Option) config {
	c := config{
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&c)
	}

	if c.logger == nil {
		c.logger = log.WithField("component", "outbox-worker")
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.batchSize <= 0 {
		c.batchSize = defaultBatchSize
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	c.retryBaseDelay = max(c.retryBaseDelay, 0)
	return c
}
