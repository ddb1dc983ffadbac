package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hszk-dev/vidmaint/internal/app"
	"github.com/hszk-dev/vidmaint/internal/config"
	"github.com/hszk-dev/vidmaint/internal/domain/repository"
	"github.com/hszk-dev/vidmaint/internal/infrastructure/queue"
	"github.com/hszk-dev/vidmaint/internal/usecase"
)

// ticker is the part of the Scheduler the CLI drives.
type ticker interface {
	Tick(ctx context.Context) (*usecase.TickReport, error)
}

// keyResolver turns a video reference into an object key.
type keyResolver interface {
	KeyFromURLOrKey(input string) (string, error)
}

// backend is what the commands run against. In inline mode tasks are
// executed in this process and videos is set; otherwise tasks go to the
// broker and videos is nil.
type backend struct {
	keys        keyResolver
	videos      usecase.VideoProcessor
	maintenance usecase.MaintenanceService
	scheduler   ticker

	deleteOldByDefault bool
	close              func()
}

// opener builds a backend. Tests substitute their own.
type opener func(ctx context.Context, inline bool) (*backend, error)

func openBackend(ctx context.Context, inline bool) (*backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	// stdout carries command output
	logger := app.NewLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	storageClient, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	redisClient, coordinator, err := app.OpenRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	b := &backend{
		keys:               storageClient,
		deleteOldByDefault: cfg.Scheduler.DeleteOldKeyByDefault,
		close:              closeAll,
	}

	var q repository.MessageQueue
	if inline {
		if err := os.MkdirAll(cfg.Worker.TempDir, 0755); err != nil {
			closeAll()
			return nil, err
		}
		pgClient, err := app.OpenPostgres(ctx, cfg)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, pgClient.Close)

		orchestrator := app.NewOrchestrator(cfg, storageClient, coordinator, pgClient)
		processor := usecase.NewTaskProcessor(orchestrator, usecase.NewListRunner(orchestrator, coordinator), usecase.TaskProcessorConfig{
			MaxRetries:  cfg.Worker.MaxRetries,
			TaskTimeout: cfg.Worker.TaskTimeout,
		})
		b.videos = orchestrator
		q = queue.NewInline(processor.ProcessTask)
	} else {
		queueClient, err := app.OpenQueue(ctx, cfg)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, func() { _ = queueClient.Close() })
		q = queueClient
	}

	b.maintenance = usecase.NewMaintenanceService(storageClient, q, coordinator, usecase.MaintenanceServiceConfig{
		MaxRunVideos: cfg.Server.ManualRunMaxVideos,
	})
	b.scheduler = usecase.NewScheduler(storageClient, coordinator, q, app.SchedulerConfig(cfg))
	return b, nil
}
