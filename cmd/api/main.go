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

	httpadapter "github.com/kirillkom/envqa/internal/adapters/http"
	"github.com/kirillkom/envqa/internal/bootstrap"
	"github.com/kirillkom/envqa/internal/config"
	"github.com/kirillkom/envqa/internal/observability/logging"
	"github.com/kirillkom/envqa/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Options{Service: "envqa-api", Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		logger.Error("bootstrap_error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	services := httpadapter.Services{
		Answerer:  app.AnswerUC,
		Evaluator: app.EvaluateUC,
		Grounding: app.GroundingUC,
	}
	if app.JobsEnabled() {
		services.Submitter = app.SubmitUC
		services.Runs = app.SubmitUC
	}
	router := httpadapter.NewRouter(cfg, services, metrics.NewHTTPServerMetrics("envqa-api")).Handler()

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_error", "error", err)
	}
}
