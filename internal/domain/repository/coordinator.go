package repository

import (
	"context"
	"time"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
)

// Lock is a held per-key lock. Release is idempotent and only deletes the
// entry if it still belongs to this holder.
type Lock interface {
	Release(ctx context.Context) error
}

// RunProgress is the observable state of a manual list run. Finished is set
// by the last write of a run, whether it completed or was interrupted; Error
// carries the interruption cause and Done is below Total in that case.
type RunProgress struct {
	RunID    string          `json:"run_id"`
	Current  string          `json:"current"`
	Done     int             `json:"done"`
	Total    int             `json:"total"`
	Finished bool            `json:"finished"`
	Error    string          `json:"error,omitempty"`
	Results  []*model.Result `json:"results,omitempty"`
}

// Coordinator is the key-value coordination store: per-key locks, the scan
// cursor, the capped audit ring and run progress.
type Coordinator interface {
	// AcquireLock atomically takes the lock for key with ttl.
	// Returns ErrLockHeld when another holder owns it.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (Lock, error)

	// ScanCursor returns the stored continuation token, or "" when absent.
	ScanCursor(ctx context.Context) (string, error)
	SetScanCursor(ctx context.Context, token string) error
	ClearScanCursor(ctx context.Context) error

	// AppendAudit pushes a record and trims the ring to its configured length.
	AppendAudit(ctx context.Context, result *model.Result) error
	RecentAudit(ctx context.Context, limit int) ([]*model.Result, error)

	SaveProgress(ctx context.Context, progress *RunProgress) error
	Progress(ctx context.Context, runID string) (*RunProgress, error)
}
