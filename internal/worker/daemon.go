package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Tempest/internal/api"
	"github.com/shaiso/Tempest/internal/config"
	"github.com/shaiso/Tempest/internal/coord"
	"github.com/shaiso/Tempest/internal/engine"
	"github.com/shaiso/Tempest/internal/maintenance"
	"github.com/shaiso/Tempest/internal/mq"
	"github.com/shaiso/Tempest/internal/platform"
	"github.com/shaiso/Tempest/internal/ratelimit"
	"github.com/shaiso/Tempest/internal/registry"
	"github.com/shaiso/Tempest/internal/repo"
	"github.com/shaiso/Tempest/internal/scheduler"
	"github.com/shaiso/Tempest/internal/weather"
)

// shutdownTimeout — бюджет на graceful shutdown.
const shutdownTimeout = 60 * time.Second

// RunDaemon собирает полный процесс воркера и работает до отмены ctx
// или внешнего запроса остановки.
//
// Поднимает: сторы, rate limiter, планировщик, движок, реестр,
// RabbitMQ-consumer (опционально), janitor, HTTP-сервер
// (/healthz, /metrics, ops API). Используется бинарником воркера
// и командой start-worker CLI.
func RunDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Координационный стор
	client, err := coord.NewClient(ctx, cfg.CoordinationURL)
	if err != nil {
		return fmt.Errorf("connect coordination store: %w", err)
	}
	defer client.Close()
	logger.Info("coordination store connected")

	// Durable стор
	pool, err := repo.NewPool(ctx, cfg.DurableURL)
	if err != nil {
		return fmt.Errorf("connect durable store: %w", err)
	}
	defer pool.Close()
	logger.Info("durable store connected")

	ruleRepo := repo.NewRuleRepo(pool)
	executionRepo := repo.NewExecutionRepo(pool)
	credentialsRepo := repo.NewCredentialsRepo(pool)
	workerRegistry := registry.New(pool)

	// RabbitMQ опционален: без него воркер живёт на polling + сверке.
	var mqConn *mq.Connection
	var publisher *mq.Publisher
	if cfg.RabbitURL != "" {
		mqConn, err = mq.NewConnection(cfg.RabbitURL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
			mqConn = nil
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			publisher = mq.NewPublisher(mqConn, logger)
		}
	} else {
		logger.Info("RABBITMQ_URL not set, running in polling-only mode")
	}

	sched := scheduler.New(scheduler.Config{Client: client, Logger: logger})
	limiter := ratelimit.New(ratelimit.Config{Client: client, Logger: logger})

	var events engine.EventPublisher
	if publisher != nil {
		events = publisher
	}

	eng := engine.New(engine.Config{
		Scheduler:  sched,
		Limiter:    limiter,
		Rules:      ruleRepo,
		Executions: executionRepo,
		Creds:      platform.NewCachingLookup(credentialsRepo),
		Weather:    weather.NewClient(cfg.WeatherBaseURL, cfg.WeatherAPIKey),
		PlatformM:  platform.NewMClient(cfg.PlatformMBaseURL),
		PlatformG:  platform.NewGClient(cfg.PlatformGBaseURL),
		Workers:    workerRegistry,
		Events:     events,
		Logger:     logger,
	})

	w := New(Config{
		Engine:            eng,
		Sched:             sched,
		Registry:          workerRegistry,
		Conn:              mqConn,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		HeartbeatInterval: cfg.HeartbeatInterval,
		OnStopRequest:     cancel,
		Logger:            logger,
	})

	// Стартовый скан: активные правила из durable-стора в расписание.
	if _, err := eng.ScheduleActiveRules(ctx); err != nil {
		logger.Warn("initial active rule scan failed", "error", err)
	}

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	// Janitor
	janitor := maintenance.New(maintenance.Config{
		Executions:    executionRepo,
		Workers:       workerRegistry,
		RetentionDays: cfg.ExecutionRetentionDays,
		Spec:          cfg.MaintenanceCron,
		Logger:        logger,
	})
	if err := janitor.Start(); err != nil {
		logger.Warn("failed to start maintenance janitor", "error", err)
	} else {
		defer janitor.Stop()
	}

	// HTTP: /healthz + /metrics + ops API
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	api.NewHandler(api.Config{
		Engine:   eng,
		Sched:    sched,
		Registry: workerRegistry,
		Logger:   logger,
	}).RegisterRoutes(mux)

	srv := &http.Server{Addr: ":" + cfg.WorkerPort, Handler: mux}
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения или внешний stop-request
	<-ctx.Done()

	// Graceful shutdown с бюджетом времени: задания в работе дорабатывают.
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful shutdown timed out, exiting with jobs in flight")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", "error", err)
	}

	logger.Info("worker daemon stopped")
	return nil
}
