// Package health отдаёт /healthz, /readyz и /livez для сервиса заказов.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"
)

// Status представляет статус компонента
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// severity упорядочивает статусы: итог — худший из результатов.
func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

const defaultCheckTimeout = 2 * time.Second

// Check — результат одной проверки.
type Check struct {
	Name       string        `json:"name"`
	Status     Status        `json:"status"`
	Message    string        `json:"message,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"duration_ms"`
}

// Response — тело /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент.
type Checker interface {
	Check(ctx context.Context) Check
}

// CheckerFunc адаптирует функцию к Checker.
type CheckerFunc func(ctx context.Context) Check

func (f CheckerFunc) Check(ctx context.Context) Check { return f(ctx) }

// Handler обрабатывает /healthz и /readyz.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	version  string
	started  time.Time
	timeout  time.Duration
	now      func() time.Time
}

// Option настраивает Handler.
type Option func(*Handler)

// WithCheckTimeout ограничивает время одного прогона проверок.
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHandler создаёт handler без проверок; version попадает в ответ /healthz.
func NewHandler(version string, opts ...Option) *Handler {
	h := &Handler{
		checkers: make(map[string]Checker),
		version:  version,
		timeout:  defaultCheckTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.started = h.now()
	return h
}

// RegisterChecker добавляет или заменяет проверку с именем name.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Run выполняет все проверки параллельно. Итоговый статус — худший из
// результатов: degraded не снимает готовность, unhealthy снимает.
func (h *Handler) Run(ctx context.Context) Response {
	h.mu.RLock()
	checkers := maps.Clone(h.checkers)
	h.mu.RUnlock()
	names := slices.Sorted(maps.Keys(checkers))

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make([]Check, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runCheck(ctx, name, checkers[name])
		}()
	}
	wg.Wait()

	resp := Response{
		Status:        StatusHealthy,
		Timestamp:     h.now().UTC(),
		Checks:        make(map[string]Check, len(results)),
		Version:       h.version,
		UptimeSeconds: int64(h.now().Sub(h.started).Seconds()),
	}
	for _, check := range results {
		check.DurationMs = check.Duration.Milliseconds()
		resp.Checks[check.Name] = check
		if check.Status.severity() > resp.Status.severity() {
			resp.Status = check.Status
		}
	}
	return resp
}

// runCheck превращает панику проверки в unhealthy и подписывает результат именем регистрации.
func runCheck(ctx context.Context, name string, checker Checker) (check Check) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			check = result(name, start, fmt.Errorf("check panicked: %v", r), StatusUnhealthy)
		}
		check.Name = name
	}()
	return checker.Check(ctx)
}

// ServeHTTP отдаёт Response; 503 только для unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.Run(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode(resp.Status))
	_ = json.NewEncoder(w).Encode(resp)
}

// ReadinessHandler отвечает 503, если хотя бы одна проверка unhealthy.
// Degraded (например, нехватка ингредиентов) не снимает готовность.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	code := statusCode(h.Run(r.Context()).Status)
	body := "ready"
	if code != http.StatusOK {
		body = "not ready"
	}
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// LivenessHandler отвечает 200, пока процесс обслуживает HTTP.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func statusCode(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// FuncChecker выполняет fn; ошибка даёт статус onError.
func FuncChecker(name string, onError Status, fn func(ctx context.Context) error) Checker {
	return CheckerFunc(func(ctx context.Context) Check {
		start := time.Now()
		return result(name, start, fn(ctx), onError)
	})
}

// Pinger — хранилище с проверкой доступности.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StorageChecker сообщает unhealthy, если хранилище не отвечает.
func StorageChecker(name string, p Pinger) Checker {
	return FuncChecker(name, StatusUnhealthy, p.Ping)
}

// LowStockChecker переводит сервис в degraded, пока count() > 0.
func LowStockChecker(count func() int) Checker {
	return FuncChecker("low_stock", StatusDegraded, func(context.Context) error {
		if n := count(); n > 0 {
			return fmt.Errorf("%d ingredient(s) at or below minimum", n)
		}
		return nil
	})
}

// BacklogChecker переводит сервис в degraded, когда outbox накопил больше limit
// сообщений, и в unhealthy, если размер backlog не удалось получить.
func BacklogChecker(pending func(ctx context.Context) (int, error), limit int) Checker {
	return CheckerFunc(func(ctx context.Context) Check {
		start := time.Now()
		n, err := pending(ctx)
		if err != nil {
			return result("outbox", start, err, StatusUnhealthy)
		}
		if n > limit {
			err = fmt.Errorf("outbox backlog %d exceeds %d", n, limit)
		}
		return result("outbox", start, err, StatusDegraded)
	})
}

func result(name string, start time.Time, err error, onError Status) Check {
	check := Check{Name: name, Status: StatusHealthy, Duration: time.Since(start)}
	if err != nil {
		check.Status = onError
		check.Message = err.Error()
	}
	return check
}
