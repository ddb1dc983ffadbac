package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
	"github.com/hszk-dev/vidmaint/internal/domain/repository"
)

// VideoProcessor runs the maintenance pipeline for one key.
type VideoProcessor interface {
	Process(ctx context.Context, req ProcessRequest) *model.Result
}

// ListRunner executes a manual list run, publishing progress after each
// video.
type ListRunner struct {
	processor VideoProcessor
	coord     repository.Coordinator
}

// NewListRunner creates a new ListRunner.
func NewListRunner(processor VideoProcessor, coord repository.Coordinator) *ListRunner {
	return &ListRunner{processor: processor, coord: coord}
}

// Execute processes keys in order. Progress write failures are logged and
// do not stop the run. An interrupted run still writes a final finished
// record carrying the results so far and the cause.
func (r *ListRunner) Execute(ctx context.Context, runID string, keys []string, dryRun, deleteOldKey bool) (*repository.RunProgress, error) {
	progress := &repository.RunProgress{
		RunID:   runID,
		Total:   len(keys),
		Results: make([]*model.Result, 0, len(keys)),
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			err = fmt.Errorf("list run %s interrupted: %w", runID, err)
			progress.Current = ""
			progress.Finished = true
			progress.Error = err.Error()
			r.save(ctx, progress)
			return progress, err
		}

		progress.Current = key
		r.save(ctx, progress)

		res := r.processor.Process(ctx, ProcessRequest{
			Key:          key,
			DryRun:       dryRun,
			DeleteOldKey: deleteOldKey,
		})
		progress.Results = append(progress.Results, res)
		progress.Done++
	}

	progress.Current = ""
	progress.Finished = true
	r.save(ctx, progress)
	return progress, nil
}

func (r *ListRunner) save(ctx context.Context, progress *repository.RunProgress) {
	if err := r.coord.SaveProgress(context.WithoutCancel(ctx), progress); err != nil {
		slog.Warn("failed to save run progress", "run_id", progress.RunID, "error", err)
	}
}
