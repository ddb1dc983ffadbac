package queue

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hszk-dev/vidmaint/internal/domain/repository"
)

// ErrInlineConsume is returned by Inline.ConsumeTasks.
var ErrInlineConsume = errors.New("inline queue has no consumer loop")

// Inline is a MessageQueue that runs each published task in the caller's
// goroutine. A handler failure is retried with RetryCount incremented, the
// same way Client republishes, until the handler accepts the task.
type Inline struct {
	handler func(ctx context.Context, task repository.MaintenanceTask) error
}

var _ repository.MessageQueue = (*Inline)(nil)

// NewInline creates an Inline queue. handler must eventually return nil
// for a growing RetryCount, as TaskProcessor does once retries run out.
func NewInline(handler func(ctx context.Context, task repository.MaintenanceTask) error) *Inline {
	return &Inline{handler: handler}
}

// PublishTask runs task to completion.
func (q *Inline) PublishTask(ctx context.Context, task repository.MaintenanceTask) error {
	for {
		err := q.handler(ctx, task)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		task.RetryCount++
		slog.Warn("retrying task inline",
			"type", task.Type,
			"key", task.Key,
			"run_id", task.RunID,
			"retry_count", task.RetryCount,
			"error", err,
		)
	}
}

// ConsumeTasks always fails: tasks are handled at publish time.
func (q *Inline) ConsumeTasks(ctx context.Context, handler func(task repository.MaintenanceTask) error) error {
	return ErrInlineConsume
}

// Close is a no-op.
func (q *Inline) Close() error {
	return nil
}
