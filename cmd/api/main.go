package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hszk-dev/vidmaint/internal/api/handler"
	"github.com/hszk-dev/vidmaint/internal/api/middleware"
	"github.com/hszk-dev/vidmaint/internal/app"
	"github.com/hszk-dev/vidmaint/internal/config"
	"github.com/hszk-dev/vidmaint/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := app.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	storageClient, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("connected to object storage", slog.String("bucket", storageClient.Bucket()))

	queueClient, err := app.OpenQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer queueClient.Close()
	logger.Info("connected to RabbitMQ")

	redisClient, coordinator, err := app.OpenRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	svc := usecase.NewMaintenanceService(storageClient, queueClient, coordinator, usecase.MaintenanceServiceConfig{
		MaxRunVideos: cfg.Server.ManualRunMaxVideos,
	})
	maintenance := handler.NewMaintenanceHandler(svc, cfg.Scheduler.DeleteOldKeyByDefault)

	checks := map[string]handler.Checker{
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
		"storage": storageClient.Ping,
	}

	r := setupRouter(logger, maintenance, checks)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func setupRouter(logger *slog.Logger, maintenance *handler.MaintenanceHandler, checks map[string]handler.Checker) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger, "/health", "/metrics"))
	r.Use(middleware.Recoverer(logger))

	r.Get("/health", handler.Health)
	r.Get("/ready", handler.Ready(checks))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", maintenance.Routes)

	return r
}
