package app

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/rms/internal/health"
	"github.com/vladislavdragonenkov/rms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/rms/internal/metrics"
	"github.com/vladislavdragonenkov/rms/internal/notify"
	"github.com/vladislavdragonenkov/rms/internal/observability"
	"github.com/vladislavdragonenkov/rms/internal/service/idempotency"
	"github.com/vladislavdragonenkov/rms/internal/service/ordering"
	"github.com/vladislavdragonenkov/rms/internal/service/outbox"
	"github.com/vladislavdragonenkov/rms/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/rms/internal/version"
)

// App — собранный сервис со всеми фоновыми компонентами.
type App struct {
	cfg    Config
	logger *log.Entry

	deps     *runtimeDependencies
	service  *ordering.Service
	http     *fiber.App
	health   *healthcheck.Handler
	worker   *outbox.Worker
	cleanup  *idempotency.CleanupWorker
	producer *kafka.Producer
	consumer *kafka.Consumer

	stockWatch    notify.Subscription
	shutdownTrace observability.ShutdownFunc
}

// New собирает приложение по конфигурации. Серверы не запускаются до Run.
func New(ctx context.Context, cfg Config, logger *log.Entry) (*App, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.release()
		}
	}()

	shutdownTrace, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Endpoint:       cfg.OTelEndpoint,
		Insecure:       cfg.OTelInsecure,
		ServiceName:    "rms",
		ServiceVersion: version.GetVersion(),
		SampleRatio:    cfg.OTelSampleRatio,
	}, logger.WithField("component", "tracing"))
	if err != nil {
		return nil, err
	}
	a.shutdownTrace = shutdownTrace

	a.deps, err = initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	hub := notify.NewHub(
		notify.WithLogger(logger.WithField("component", "notify")),
		notify.WithMetrics(metrics.NewHubMetrics()),
	)
	a.service, err = ordering.Open(ctx, a.deps.store, hub,
		ordering.WithLogger(logger.WithField("component", "ordering")),
		ordering.WithMetrics(metrics.NewOrderMetrics()),
	)
	if err != nil {
		return nil, err
	}
	a.stockWatch, err = watchLowStock(a.service, logger.WithField("component", "stock-watch"))
	if err != nil {
		return nil, err
	}

	idemMetrics := metrics.NewIdempotencyMetrics()
	guard := func(scope string) *idempotency.Guard {
		return idempotency.NewGuard(a.deps.idempotency, scope,
			idempotency.WithTTL(cfg.IdempotencyTTL),
			idempotency.WithLogger(logger.WithField("component", "idempotency")),
			idempotency.WithMetrics(idemMetrics),
		)
	}
	a.cleanup = idempotency.NewCleanupWorker(a.deps.idempotency,
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithMetrics(idemMetrics),
	)

	if err := a.initOutbox(guard("deliveries")); err != nil {
		return nil, err
	}

	api := httpapi.NewServer(a.service,
		httpapi.WithLogger(logger.WithField("component", "http-api")),
		httpapi.WithMetrics(metrics.NewHTTPMetrics()),
		httpapi.WithIdempotency(guard("orders")),
	)
	a.http = api.App()
	a.health = a.newHealthHandler()

	ok = true
	return a, nil
}

// initOutbox выбирает publisher: Kafka, если настроена, иначе лог.
func (a *App) initOutbox(deliveries kafka.Deduper) error {
	producer, err := initKafkaProducer(a.cfg.KafkaBrokers, a.logger)
	if err != nil {
		return err
	}
	a.producer = producer

	workerLogger := a.logger.WithField("component", "outbox-worker")
	opts := []outbox.Option{
		outbox.WithLogger(workerLogger),
		outbox.WithPollInterval(a.cfg.OutboxPollInterval),
		outbox.WithBatchSize(a.cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(a.cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(a.cfg.OutboxRetryDelay),
		outbox.WithMetrics(metrics.NewOutboxMetrics()),
	}

	if producer == nil {
		a.worker = outbox.NewWorker(a.deps.store, newLogPublisher(workerLogger), opts...)
		return nil
	}

	opts = append(opts, outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)))
	a.worker = outbox.NewWorker(a.deps.store, kafka.NewOutboxPublisher(producer, a.cfg.KafkaTopic), opts...)

	a.consumer, err = initDeliveryConsumer(a.cfg, a.service, deliveries, producer, a.logger)
	return err
}

func (a *App) newHealthHandler() *healthcheck.Handler {
	h := healthcheck.NewHandler(version.GetVersion())
	h.RegisterChecker("storage", healthcheck.StorageChecker("storage", a.deps.store))
	h.RegisterChecker("low_stock", healthcheck.LowStockChecker(func() int {
		return len(slices.Collect(a.service.LowStock(nil)))
	}))
	h.RegisterChecker("stock_watch", healthcheck.FuncChecker("stock_watch", healthcheck.StatusDegraded, func(context.Context) error {
		if a.service.Hub().Subscribers(notify.InventoryChanged) == 0 {
			return errors.New("low stock watcher is not subscribed")
		}
		return nil
	}))
	if a.cfg.OutboxMaxPending > 0 {
		h.RegisterChecker("outbox", healthcheck.BacklogChecker(func(ctx context.Context) (int, error) {
			stats, err := a.deps.store.Stats(ctx)
			return stats.PendingCount, err
		}, a.cfg.OutboxMaxPending))
	}
	return h
}

// Service возвращает сервис заказов.
func (a *App) Service() *ordering.Service { return a.service }

// HTTP возвращает fiber-приложение API (для тестов и встраивания).
func (a *App) HTTP() *fiber.App { return a.http }

// Run запускает API, сервер метрик и фоновые воркеры до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	defer a.release()

	metricsSrv := startMetricsServer(ctx, a.cfg.MetricsAddr, a.logger, a.health)

	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		a.worker.Run(workerCtx)
	}()
	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		a.cleanup.Run(workerCtx)
	}()

	if a.consumer != nil {
		if err := a.consumer.Start(workerCtx); err != nil {
			a.logger.WithError(err).Warn("failed to start delivery consumer")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("HTTP API слушает %s", a.cfg.HTTPAddr)
		errCh <- a.http.Listen(a.cfg.HTTPAddr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("получен сигнал остановки, останавливаем HTTP API")
		if err := a.http.ShutdownWithTimeout(a.cfg.ShutdownTimeout); err != nil {
			a.logger.WithError(err).Warn("http api shutdown with error")
		}
		runErr = ctx.Err()
	case err := <-errCh:
		runErr = err
	}

	stopWorker()
	<-workerDone
	<-cleanupDone
	if a.consumer != nil {
		if err := a.consumer.Stop(); err != nil {
			a.logger.WithError(err).Warn("failed to stop delivery consumer")
		}
	}
	a.drainOutbox()
	shutdownHTTP(metricsSrv, a.logger)

	return runErr
}

// drainOutbox публикует то, что успело накопиться, пока producer ещё открыт.
func (a *App) drainOutbox() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	result := a.worker.Drain(ctx)
	if !result.Empty() {
		a.logger.WithFields(log.Fields{
			"sent":   result.Sent,
			"failed": result.Failed,
		}).Info("outbox drained on shutdown")
	}
}

// release освобождает ресурсы в обратном порядке создания. Повторный вызов безопасен.
func (a *App) release() {
	a.stockWatch.Unsubscribe()
	closeKafka(a.producer, a.logger)
	a.producer = nil
	a.deps.close(a.logger)
	a.deps = nil

	if a.shutdownTrace != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTrace(ctx); err != nil {
			a.logger.WithError(err).Warn("tracer shutdown with error")
		}
		a.shutdownTrace = nil
	}
}

// Run собирает приложение и работает до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	a, err := New(ctx, cfg, log.WithField("component", "app"))
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// startMetricsServer запускает служебный HTTP-сервер: /metrics, /healthz, /readyz, /livez.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, health *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)
	mux.HandleFunc("/readyz", health.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
