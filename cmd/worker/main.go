package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hszk-dev/vidmaint/internal/app"
	"github.com/hszk-dev/vidmaint/internal/config"
	"github.com/hszk-dev/vidmaint/internal/domain/repository"
	"github.com/hszk-dev/vidmaint/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := app.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	// Ensure temp directory exists
	if err := os.MkdirAll(cfg.Worker.TempDir, 0755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}

	// Initialize infrastructure clients
	pgClient, err := app.OpenPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer pgClient.Close()
	logger.Info("connected to PostgreSQL")

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

	orchestrator := app.NewOrchestrator(cfg, storageClient, coordinator, pgClient)
	runner := usecase.NewListRunner(orchestrator, coordinator)
	processor := usecase.NewTaskProcessor(orchestrator, runner, usecase.TaskProcessorConfig{
		MaxRetries:  cfg.Worker.MaxRetries,
		TaskTimeout: cfg.Worker.TaskTimeout,
	})

	// Setup signal handling for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// WaitGroup to track in-flight tasks
	var wg sync.WaitGroup

	errCh := make(chan error, 2)

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", slog.Int("port", cfg.Worker.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	if cfg.Scheduler.Enabled {
		scheduler := usecase.NewScheduler(storageClient, coordinator, queueClient, app.SchedulerConfig(cfg))
		go func() {
			logger.Info("starting scheduler", slog.Duration("interval", cfg.Scheduler.Interval))
			scheduler.Run(ctx, cfg.Scheduler.Interval)
		}()
	}

	// Start consuming messages in a goroutine
	go func() {
		logger.Info("starting worker, consuming maintenance tasks")
		err := queueClient.ConsumeTasks(ctx, func(task repository.MaintenanceTask) error {
			wg.Add(1)
			defer wg.Done()

			logger.Info("processing task",
				slog.String("type", string(task.Type)),
				slog.String("key", task.Key),
				slog.String("run_id", task.RunID),
				slog.Int("retry_count", task.RetryCount),
			)

			// In-flight tasks finish even after shutdown starts
			if err := processor.ProcessTask(context.WithoutCancel(ctx), task); err != nil {
				logger.Error("task processing failed",
					slog.String("type", string(task.Type)),
					slog.String("key", task.Key),
					slog.Int("retry_count", task.RetryCount),
					slog.String("error", err.Error()),
				)
				return err
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("consumer error: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down worker", slog.String("signal", sig.String()))
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Cancel the main context to stop consuming new messages and scheduler ticks
	cancel()

	// Wait for in-flight tasks to complete (or timeout)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all in-flight tasks completed")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, some tasks may not have completed")
	}

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("worker stopped")
	return nil
}
