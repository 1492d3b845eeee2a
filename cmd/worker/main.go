package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/envqa/internal/bootstrap"
	"github.com/kirillkom/envqa/internal/config"
	"github.com/kirillkom/envqa/internal/infrastructure/queue/nats"
	"github.com/kirillkom/envqa/internal/observability/logging"
	"github.com/kirillkom/envqa/internal/observability/metrics"
)

const serviceName = "envqa-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Options{Service: serviceName, Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		logger.Error("bootstrap_error", "error", err)
		os.Exit(1)
	}
	defer app.Close()
	if !app.JobsEnabled() {
		logger.Error("worker_jobs_disabled", "error", "POSTGRES_DSN and NATS_URL are required")
		app.Close()
		os.Exit(1)
	}

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject, "max_in_flight", cfg.EvalWorkers)
	err = app.Queue.SubscribeEvaluationRequested(ctx, func(handlerCtx context.Context, runID string) error {
		if requestedAt, ok := nats.RequestedAt(handlerCtx); ok {
			workerMetrics.ObserveQueueLag(serviceName, time.Since(requestedAt))
		} else if run, err := app.Repo.GetByID(handlerCtx, runID); err == nil {
			workerMetrics.ObserveQueueLag(serviceName, time.Since(run.CreatedAt))
		}

		processCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Minute)
		defer cancel()

		workerMetrics.StartEvaluation()
		start := time.Now()
		err := app.ProcessUC.ProcessByID(processCtx, runID)
		workerMetrics.FinishEvaluation(serviceName, time.Since(start), err)
		if err == nil {
			logger.Info("evaluation_run_completed", "run_id", runID, "duration_ms", time.Since(start).Milliseconds())
		}
		return err
	})
	if err != nil {
		logger.Error("worker_subscribe_error", "error", err)
		os.Exit(1)
	}
}
