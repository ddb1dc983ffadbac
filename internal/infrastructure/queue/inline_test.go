package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/hszk-dev/vidmaint/internal/domain/repository"
)

func TestInline_PublishTask(t *testing.T) {
	tests := []struct {
		name        string
		failUntil   int
		wantRetries []int
	}{
		{
			name:        "handled on first attempt",
			failUntil:   0,
			wantRetries: []int{0},
		},
		{
			name:        "retried with incremented count",
			failUntil:   2,
			wantRetries: []int{0, 1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen []int
			q := NewInline(func(ctx context.Context, task repository.MaintenanceTask) error {
				seen = append(seen, task.RetryCount)
				if task.RetryCount < tt.failUntil {
					return errors.New("transient")
				}
				return nil
			})

			err := q.PublishTask(context.Background(), repository.MaintenanceTask{
				Type: repository.TaskProcessVideo,
				Key:  "videos/a.mp4",
			})
			if err != nil {
				t.Fatalf("PublishTask() unexpected error: %v", err)
			}
			if len(seen) != len(tt.wantRetries) {
				t.Fatalf("handler called with retry counts %v, want %v", seen, tt.wantRetries)
			}
			for i := range seen {
				if seen[i] != tt.wantRetries[i] {
					t.Errorf("attempt %d RetryCount = %d, want %d", i, seen[i], tt.wantRetries[i])
				}
			}
		})
	}
}

func TestInline_PublishTask_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	q := NewInline(func(ctx context.Context, task repository.MaintenanceTask) error {
		calls++
		cancel()
		return errors.New("transient")
	})

	err := q.PublishTask(ctx, repository.MaintenanceTask{Type: repository.TaskProcessVideo})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("PublishTask() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestInline_ConsumeTasks(t *testing.T) {
	q := NewInline(func(ctx context.Context, task repository.MaintenanceTask) error { return nil })

	err := q.ConsumeTasks(context.Background(), func(task repository.MaintenanceTask) error { return nil })
	if !errors.Is(err, ErrInlineConsume) {
		t.Errorf("ConsumeTasks() error = %v, want ErrInlineConsume", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("Close() unexpected error: %v", err)
	}
}
