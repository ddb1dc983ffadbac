package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
	"github.com/hszk-dev/vidmaint/internal/domain/repository"
	"github.com/hszk-dev/vidmaint/internal/infrastructure/metrics"
)

// ProcessInput contains the input parameters for a single-key run.
type ProcessInput struct {
	// Video is a bare key or a URL.
	Video        string
	DryRun       bool
	DeleteOldKey bool
}

// RunInput contains the input parameters for a manual list run.
type RunInput struct {
	Videos       []string
	DryRun       bool
	DeleteOldKey bool
}

// MaintenanceService defines the interface for enqueueing maintenance work
// and reading its outcome.
type MaintenanceService interface {
	// EnqueueProcess normalizes the video reference and queues one
	// Orchestrator run. Returns the normalized key.
	EnqueueProcess(ctx context.Context, input ProcessInput) (string, error)

	// SubmitRun validates and normalizes a list of videos, stores initial
	// progress and queues the run.
	SubmitRun(ctx context.Context, input RunInput) (*repository.RunProgress, error)

	// GetRun returns the progress of a list run.
	GetRun(ctx context.Context, runID string) (*repository.RunProgress, error)

	// RecentAudit returns the newest audit records first.
	RecentAudit(ctx context.Context, limit int) ([]*model.Result, error)
}

// MaintenanceServiceConfig holds configuration for MaintenanceService.
type MaintenanceServiceConfig struct {
	MaxRunVideos int
}

// DefaultMaintenanceServiceConfig returns the default configuration.
func DefaultMaintenanceServiceConfig() MaintenanceServiceConfig {
	return MaintenanceServiceConfig{
		MaxRunVideos: 5,
	}
}

type maintenanceService struct {
	storage repository.ObjectStorage
	queue   repository.MessageQueue
	coord   repository.Coordinator

	maxRunVideos int
}

// NewMaintenanceService creates a new MaintenanceService instance.
func NewMaintenanceService(
	storage repository.ObjectStorage,
	queue repository.MessageQueue,
	coord repository.Coordinator,
	cfg MaintenanceServiceConfig,
) MaintenanceService {
	if cfg.MaxRunVideos <= 0 {
		cfg.MaxRunVideos = DefaultMaintenanceServiceConfig().MaxRunVideos
	}
	return &maintenanceService{
		storage:      storage,
		queue:        queue,
		coord:        coord,
		maxRunVideos: cfg.MaxRunVideos,
	}
}

// EnqueueProcess queues one Orchestrator run.
func (s *maintenanceService) EnqueueProcess(ctx context.Context, input ProcessInput) (string, error) {
	key, err := s.normalize(input.Video)
	if err != nil {
		return "", err
	}

	task := repository.MaintenanceTask{
		Type:         repository.TaskProcessVideo,
		Key:          key,
		DryRun:       input.DryRun,
		DeleteOldKey: input.DeleteOldKey,
	}
	if err := s.queue.PublishTask(ctx, task); err != nil {
		return "", fmt.Errorf("publish task: %w", err)
	}
	metrics.TasksDispatchedTotal.WithLabelValues(string(repository.TaskProcessVideo)).Inc()
	return key, nil
}

// SubmitRun queues a manual list run.
func (s *maintenanceService) SubmitRun(ctx context.Context, input RunInput) (*repository.RunProgress, error) {
	if len(input.Videos) == 0 {
		return nil, ErrNoVideos
	}
	if len(input.Videos) > s.maxRunVideos {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyVideos, len(input.Videos), s.maxRunVideos)
	}

	videos := make([]string, 0, len(input.Videos))
	for _, v := range input.Videos {
		key, err := s.normalize(v)
		if err != nil {
			return nil, err
		}
		videos = append(videos, key)
	}

	progress := &repository.RunProgress{
		RunID: uuid.New().String(),
		Total: len(videos),
	}
	if err := s.coord.SaveProgress(ctx, progress); err != nil {
		return nil, fmt.Errorf("save run progress: %w", err)
	}

	task := repository.MaintenanceTask{
		Type:         repository.TaskListRun,
		RunID:        progress.RunID,
		Videos:       videos,
		DryRun:       input.DryRun,
		DeleteOldKey: input.DeleteOldKey,
	}
	if err := s.queue.PublishTask(ctx, task); err != nil {
		return nil, fmt.Errorf("publish task: %w", err)
	}
	metrics.TasksDispatchedTotal.WithLabelValues(string(repository.TaskListRun)).Inc()
	return progress, nil
}

// GetRun returns the progress of a list run.
func (s *maintenanceService) GetRun(ctx context.Context, runID string) (*repository.RunProgress, error) {
	progress, err := s.coord.Progress(ctx, runID)
	if err != nil {
		if errors.Is(err, repository.ErrRunNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get run progress: %w", err)
	}
	return progress, nil
}

// RecentAudit returns up to limit audit records.
func (s *maintenanceService) RecentAudit(ctx context.Context, limit int) ([]*model.Result, error) {
	records, err := s.coord.RecentAudit(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("read audit: %w", err)
	}
	return records, nil
}

func (s *maintenanceService) normalize(ref string) (string, error) {
	key, err := s.storage.KeyFromURLOrKey(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidVideoRef, err)
	}
	return key, nil
}
