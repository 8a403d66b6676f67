// flowruns-orchestrator — оркестратор flow runs.
//
// Orchestrator:
//   - Восстанавливает активные flow runs из PostgreSQL
//   - Принимает события stage runs из RabbitMQ и по HTTP
//   - Отправляет executor'ам команды запуска и отмены stages
//   - Запускает flow runs по расписанию (SCHEDULES)
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/flowruns/internal/api"
	"github.com/shaiso/flowruns/internal/flow"
	"github.com/shaiso/flowruns/internal/flowrun"
	"github.com/shaiso/flowruns/internal/mq"
	"github.com/shaiso/flowruns/internal/orchestrator"
	"github.com/shaiso/flowruns/internal/repo"
	"github.com/shaiso/flowruns/internal/scheduler"
	"github.com/shaiso/flowruns/internal/stagerun"
	"github.com/shaiso/flowruns/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("flowruns-orchestrator")
	logger.Info("starting flowruns-orchestrator")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	// Создаём репозитории
	flowRepo := repo.NewFlowRepo(pool)
	flowRunRepo := repo.NewFlowRunRepo(pool)
	stageRunRepo := repo.NewStageRunRepo(pool)

	// RabbitMQ
	var publisher stagerun.CommandPublisher
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, accepting events over HTTP only", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Ядро
	flowTTL := flow.DefaultTTL
	if v := os.Getenv("FLOW_CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			logger.Error("invalid FLOW_CACHE_TTL", "value", v, "error", err)
			os.Exit(1)
		}
		flowTTL = ttl
	}
	flows := flow.NewService(flow.Config{Source: flowRepo, TTL: flowTTL, Logger: logger})
	stageRuns := stagerun.NewService(stagerun.Config{
		Publisher: publisher,
		Repo:      stageRunRepo,
		Logger:    logger,
	})
	cache := flowrun.NewMemoryCache(flowrun.MemoryCacheConfig{
		Persister: flowRunRepo,
		Logger:    logger,
	})
	flowRuns := flowrun.NewService(flowrun.Config{
		Cache:     cache,
		Flows:     flows,
		StageRuns: stageRuns,
		Logger:    logger,
	})
	dispatcher := stagerun.NewDispatcher(stagerun.DispatcherConfig{
		Computer:  flowRuns,
		Canceller: stageRuns,
		Launcher:  flowRuns,
		Logger:    logger,
	})

	// Consumers
	orch := orchestrator.New(orchestrator.Config{
		Conn:   mqConn,
		Runs:   flowRuns,
		Events: dispatcher,
		Store:  flowRunRepo,
		Cache:  cache,
		Logger: logger,
	})
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// Расписания
	entries, err := scheduler.ParseSchedules(os.Getenv("SCHEDULES"))
	if err != nil {
		logger.Error("failed to parse SCHEDULES", "error", err)
		os.Exit(1)
	}
	leader := repo.NewAdvisoryLock(pool, repo.SchedulerLockKey)
	sched := scheduler.New(scheduler.Config{
		Runs:    flowRuns,
		Flows:   flows,
		Entries: entries,
		Leader:  leader,
		Logger:  logger,
	})
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// HTTP mux: API + /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	api.NewHandler(api.Config{
		FlowRuns: flowRuns,
		Events:   dispatcher,
		Logger:   logger,
	}).RegisterRoutes(mux)

	port := ":8083"
	if v := os.Getenv("ORCH_PORT"); v != "" {
		port = ":" + v
	}
	srv := &http.Server{
		Addr:              port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "error", err)
	}

	sched.Stop()
	orch.Stop()
	leader.Release(shutdownCtx)

	logger.Info("flowruns-orchestrator stopped", "flow_runs_in_cache", cache.Len())
}
