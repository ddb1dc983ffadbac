package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
	"github.com/hszk-dev/vidmaint/internal/domain/repository"
)

const (
	// DefaultMaxRetries is the default maximum number of retry attempts before giving up.
	DefaultMaxRetries = 3
)

// TaskProcessorConfig holds configuration for TaskProcessor.
type TaskProcessorConfig struct {
	// MaxRetries is the maximum number of retry attempts before a task is dropped.
	MaxRetries int
	// TaskTimeout is the soft time limit of one task. Zero disables it.
	TaskTimeout time.Duration
}

// TaskProcessor defines the interface for handling queued maintenance tasks.
type TaskProcessor interface {
	// ProcessTask handles a task from the message queue.
	// Returns nil on success or permanent failure (max retries exceeded).
	// Returns error for transient failures that should trigger a retry.
	ProcessTask(ctx context.Context, task repository.MaintenanceTask) error
}

type taskProcessor struct {
	videos VideoProcessor
	runs   *ListRunner

	maxRetries  int
	taskTimeout time.Duration
}

// NewTaskProcessor creates a new TaskProcessor instance.
func NewTaskProcessor(videos VideoProcessor, runs *ListRunner, cfg TaskProcessorConfig) TaskProcessor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &taskProcessor{
		videos:      videos,
		runs:        runs,
		maxRetries:  cfg.MaxRetries,
		taskTimeout: cfg.TaskTimeout,
	}
}

// ProcessTask dispatches task by type.
func (p *taskProcessor) ProcessTask(ctx context.Context, task repository.MaintenanceTask) error {
	// Max retries exceeded: drop the task and ack the message
	if task.RetryCount >= p.maxRetries {
		slog.Error("giving up on task",
			"type", task.Type,
			"key", task.Key,
			"run_id", task.RunID,
			"retry_count", task.RetryCount,
		)
		return nil
	}

	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()
	}

	switch task.Type {
	case repository.TaskProcessVideo:
		return p.processVideo(ctx, task)
	case repository.TaskListRun:
		if _, err := p.runs.Execute(ctx, task.RunID, task.Videos, task.DryRun, task.DeleteOldKey); err != nil {
			slog.Error("list run interrupted", "run_id", task.RunID, "error", err)
		}
		return nil
	default:
		slog.Error("unknown task type", "type", task.Type)
		return nil
	}
}

// processVideo returns an error only for failures worth retrying.
func (p *taskProcessor) processVideo(ctx context.Context, task repository.MaintenanceTask) error {
	res := p.videos.Process(ctx, ProcessRequest{
		Key:          task.Key,
		DryRun:       task.DryRun,
		DeleteOldKey: task.DeleteOldKey,
	})
	if res.Status == model.StatusError && res.ErrorKind.Retryable() {
		return fmt.Errorf("process %s: %s", task.Key, res.Error)
	}
	return nil
}
