package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
	"github.com/hszk-dev/vidmaint/internal/domain/repository"
	"github.com/hszk-dev/vidmaint/internal/infrastructure/metrics"
)

// SchedulerConfig holds configuration for the Scheduler.
type SchedulerConfig struct {
	BatchSize             int
	ListPageSize          int
	DeleteOldKeyByDefault bool
}

// DefaultSchedulerConfig returns the default configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BatchSize:             3,
		ListPageSize:          250,
		DeleteOldKeyByDefault: true,
	}
}

// TickReport describes one scheduler tick.
type TickReport struct {
	Cursor     string   `json:"cursor,omitempty"`
	NextCursor string   `json:"next_cursor,omitempty"`
	Wrapped    bool     `json:"wrapped"`
	Listed     int      `json:"listed"`
	Dispatched []string `json:"dispatched"`
}

// Scheduler walks the bucket one page per tick and dispatches source
// videos onto the queue.
type Scheduler struct {
	storage repository.ObjectStorage
	coord   repository.Coordinator
	queue   repository.MessageQueue
	cfg     SchedulerConfig
}

// NewScheduler creates a new Scheduler.
func NewScheduler(storage repository.ObjectStorage, coord repository.Coordinator, queue repository.MessageQueue, cfg SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.ListPageSize <= 0 {
		cfg.ListPageSize = def.ListPageSize
	}
	return &Scheduler{
		storage: storage,
		coord:   coord,
		queue:   queue,
		cfg:     cfg,
	}
}

// Tick lists one page from the stored cursor, advances or clears the
// cursor and dispatches up to BatchSize source videos.
func (s *Scheduler) Tick(ctx context.Context) (*TickReport, error) {
	report, err := s.tick(ctx)
	if err != nil {
		metrics.SchedulerTicksTotal.WithLabelValues(metrics.TickError).Inc()
		return nil, err
	}
	metrics.SchedulerTicksTotal.WithLabelValues(metrics.TickSuccess).Inc()
	return report, nil
}

func (s *Scheduler) tick(ctx context.Context) (*TickReport, error) {
	cursor, err := s.coord.ScanCursor(ctx)
	if err != nil {
		return nil, fmt.Errorf("read scan cursor: %w", err)
	}

	page, err := s.storage.List(ctx, "", cursor, s.cfg.ListPageSize)
	if err != nil {
		return nil, fmt.Errorf("list bucket: %w", err)
	}

	report := &TickReport{
		Cursor:     cursor,
		Listed:     len(page.Objects),
		Dispatched: []string{},
	}
	if page.IsTruncated && page.NextContinuationToken != "" {
		report.NextCursor = page.NextContinuationToken
		if err := s.coord.SetScanCursor(ctx, page.NextContinuationToken); err != nil {
			slog.Warn("failed to store scan cursor", "error", err)
		}
	} else {
		report.Wrapped = true
		if err := s.coord.ClearScanCursor(ctx); err != nil {
			slog.Warn("failed to clear scan cursor", "error", err)
		}
	}

	for _, obj := range page.Objects {
		if len(report.Dispatched) >= s.cfg.BatchSize {
			break
		}
		if !model.IsSourceVideo(obj.Key) {
			continue
		}
		task := repository.MaintenanceTask{
			Type:         repository.TaskProcessVideo,
			Key:          obj.Key,
			DeleteOldKey: s.cfg.DeleteOldKeyByDefault,
		}
		if err := s.queue.PublishTask(ctx, task); err != nil {
			return report, fmt.Errorf("dispatch %s: %w", obj.Key, err)
		}
		metrics.TasksDispatchedTotal.WithLabelValues(string(repository.TaskProcessVideo)).Inc()
		report.Dispatched = append(report.Dispatched, obj.Key)
	}

	slog.Info("scheduler tick",
		"cursor", cursor,
		"next_cursor", report.NextCursor,
		"listed", report.Listed,
		"dispatched", len(report.Dispatched),
	)
	return report, nil
}

// Run ticks every interval until ctx is done. Tick errors are logged.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil {
			slog.Error("scheduler tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
