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

	httpadapter "github.com/Trivonta/compress-classify/internal/adapters/http"
	"github.com/Trivonta/compress-classify/internal/bootstrap"
	"github.com/Trivonta/compress-classify/internal/config"
	"github.com/Trivonta/compress-classify/internal/observability/logging"
	"github.com/Trivonta/compress-classify/internal/observability/metrics"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{Service: "api"})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.Catalog.Refresh(ctx); err != nil {
		logger.Warn("core_catalog_initial_load_failed", "error", err)
	}
	if app.Events != nil {
		go func() {
			if err := app.Events.SubscribeCoreUpdated(ctx, app.Catalog.HandleCoreUpdated); err != nil {
				logger.Error("core_update_subscription_failed", "error", err)
			}
		}()
	}

	httpMetrics := metrics.NewHTTPServerMetrics("api", app.Metrics.Registry())
	router := httpadapter.NewRouter(cfg, app.CatalogUC, app.Catalog, httpMetrics, logger).Handler()
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "addr", server.Addr, "compressor", cfg.Compressor)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}
