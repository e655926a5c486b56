package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/metrics"
)

// Decision — что делать с запросом после проверки ключа.
type Decision string

const (
	// DecisionProceed — ключ занят этим вызовом, операцию нужно выполнить.
	DecisionProceed Decision = "proceed"
	// DecisionReplay — операция уже завершена, вернуть сохранённый результат.
	DecisionReplay Decision = "replay"
	// DecisionInFlight — запрос с тем же ключом ещё выполняется.
	DecisionInFlight Decision = "in_flight"
)

// Guard связывает ключи одной области (scope) с результатами операций.
type Guard struct {
	repo    domain.IdempotencyRepository
	scope   string
	ttl     time.Duration
	logger  *log.Entry
	metrics *metrics.IdempotencyMetrics
	now     func() time.Time
}

// NewGuard создаёт Guard для области scope, например "orders" или "deliveries".
func NewGuard(repo domain.IdempotencyRepository, scope string, opts ...Option) *Guard {
	o := buildOptions("idempotency-guard", opts)
	return &Guard{
		repo:    repo,
		scope:   scope,
		ttl:     o.ttl,
		logger:  o.logger.WithField("scope", scope),
		metrics: o.metrics,
		now:     o.now,
	}
}

// RequestHash — отпечаток тела запроса в пределах области.
func RequestHash(scope string, request []byte) string {
	sum := sha256.New()
	sum.Write([]byte(scope))
	sum.Write([]byte{0})
	sum.Write(request)
	return hex.EncodeToString(sum.Sum(nil))
}

// Begin занимает ключ или сообщает, как поступить с повтором.
// Повтор с тем же ключом и другим телом возвращает ErrIdempotencyHashMismatch.
// Неудача с кодом 0 или 5xx считается временной: ключ освобождается для новой попытки.
func (g *Guard) Begin(key string, request []byte) (Decision, domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	record, err := g.repo.CreateProcessing(g.scoped(key), RequestHash(g.scope, request), g.now().UTC().Add(g.ttl))
	switch {
	case err == nil:
		return g.decide(DecisionProceed, record)
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		g.metrics.ObserveDecision(g.scope, "mismatch")
		return "", record, err
	case !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		g.metrics.ObserveDecision(g.scope, "error")
		return "", domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key: %w", err)
	}

	switch record.Status {
	case domain.IdempotencyStatusDone:
		return g.decide(DecisionReplay, record)
	case domain.IdempotencyStatusProcessing:
		return g.decide(DecisionInFlight, record)
	case domain.IdempotencyStatusFailed:
		if !retryable(record) {
			return g.decide(DecisionReplay, record)
		}
		if err := g.repo.Reset(record.Key); err != nil {
			g.metrics.ObserveDecision(g.scope, "error")
			return "", record, fmt.Errorf("reset failed idempotency key: %w", err)
		}
		g.logger.WithField("idempotency_key", key).Debug("retrying after transient failure")
		return g.decide(DecisionProceed, record)
	default:
		g.metrics.ObserveDecision(g.scope, "error")
		return "", record, fmt.Errorf("idempotency key %q has unknown status %q", key, record.Status)
	}
}

// Complete сохраняет результат: коды ниже 400 помечают ключ выполненным, остальные неудачным.
func (g *Guard) Complete(key string, httpStatus int, body []byte) error {
	key = g.scoped(strings.TrimSpace(key))
	var err error
	if httpStatus < 400 {
		err = g.repo.MarkDone(key, body, httpStatus)
	} else {
		err = g.repo.MarkFailed(key, body, httpStatus)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent result")
		return err
	}
	return nil
}

// Abandon освобождает ключ после временной ошибки: следующий повтор выполнит операцию заново.
func (g *Guard) Abandon(key string) error {
	key = g.scoped(strings.TrimSpace(key))
	if err := g.repo.MarkFailed(key, nil, 0); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to release idempotency key")
		return err
	}
	return nil
}

func (g *Guard) decide(d Decision, record domain.IdempotencyRecord) (Decision, domain.IdempotencyRecord, error) {
	g.metrics.ObserveDecision(g.scope, string(d))
	return d, record, nil
}

func (g *Guard) scoped(key string) string {
	return g.scope + ":" + key
}

func retryable(record domain.IdempotencyRecord) bool {
	return record.HTTPStatus == 0 || record.HTTPStatus >= 500
}
