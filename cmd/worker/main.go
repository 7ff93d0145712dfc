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

	"github.com/joho/godotenv"

	"github.com/Trivonta/compress-classify/internal/bootstrap"
	"github.com/Trivonta/compress-classify/internal/config"
	"github.com/Trivonta/compress-classify/internal/observability/logging"
)

// The worker re-evaluates the labeled corpus whenever a core is rebuilt and
// keeps the accuracy gauges and the report history current.
func main() {
	_ = godotenv.Load()
	cfg, err := config.LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{Service: "worker", RequireCorpus: true})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if app.Events == nil {
		logger.Error("worker_requires_nats", "hint", "set NATS_URL")
		os.Exit(1)
	}

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           app.Metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("worker_metrics_listening", "addr", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("worker_metrics_server_failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Events.SubscribeCoreUpdated(ctx, func(handlerCtx context.Context, category string) error {
		evalCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Minute)
		defer cancel()

		report, err := app.EvaluateUC.EvaluateCorpus(evalCtx)
		if err != nil {
			return err
		}
		logger.Info("corpus_reevaluated",
			"trigger", category,
			"run_id", report.RunID,
			"accuracy", report.Accuracy(),
			"undetermined", report.Undetermined,
		)
		return nil
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
