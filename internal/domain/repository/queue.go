package repository

import (
	"context"
)

// TaskType selects the handler for a queued task.
type TaskType string

const (
	// TaskProcessVideo runs the Orchestrator for one key.
	TaskProcessVideo TaskType = "process_video"
	// TaskListRun runs the Orchestrator for a manual list of videos with progress.
	TaskListRun TaskType = "list_run"
)

// MaintenanceTask represents a video maintenance job message.
type MaintenanceTask struct {
	Type         TaskType `json:"type"`
	RunID        string   `json:"run_id,omitempty"`
	Key          string   `json:"key,omitempty"`
	Videos       []string `json:"videos,omitempty"`
	DryRun       bool     `json:"dry_run"`
	DeleteOldKey bool     `json:"delete_old_key"`
	RetryCount   int      `json:"retry_count"`
}

// MessageQueue defines the interface for message queue operations.
// Implementations should be provided by the infrastructure layer (e.g., RabbitMQ).
type MessageQueue interface {
	// PublishTask sends a maintenance task to the queue.
	// Used by the scheduler, the API and the CLI.
	PublishTask(ctx context.Context, task MaintenanceTask) error

	// ConsumeTasks starts consuming tasks from the queue.
	// The handler function is called for each received task.
	// Used by the worker service.
	ConsumeTasks(ctx context.Context, handler func(task MaintenanceTask) error) error

	// Close gracefully closes the connection to the message queue.
	Close() error
}
