// Package models defines the shared data model for Anvil tasks and runs.
package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle status of a task.
type TaskStatus string

const (
	// TaskPending indicates the task is created but not started.
	TaskPending TaskStatus = "pending"
	// TaskRunning indicates the task is currently executing.
	TaskRunning TaskStatus = "running"
	// TaskCompleted indicates the task finished successfully.
	TaskCompleted TaskStatus = "completed"
	// TaskFailed indicates the task failed with an error.
	TaskFailed TaskStatus = "failed"
	// TaskInterrupted indicates the task was stopped mid-run and can be resumed.
	TaskInterrupted TaskStatus = "interrupted"
)

// IsTerminal reports whether the status is a final state.
// Interrupted is not terminal: interrupted tasks are resumable.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is one unit of iterative work driven to completion by the loop engine.
// A task is mutated only by the loop that owns it.
type Task struct {
	// ID is the unique task identifier (UUID v4).
	ID string `json:"id"`
	// Prompt is the task description handed to the agent executor.
	Prompt string `json:"prompt"`
	// Model is the model alias or full model name to run with.
	Model string `json:"model"`
	// MaxIterations caps the number of executor invocations.
	MaxIterations int `json:"max_iterations"`
	// BudgetUSD is the cost ceiling for this task. Zero means unlimited.
	BudgetUSD float64 `json:"budget_usd"`
	// Status is the current lifecycle status.
	Status TaskStatus `json:"status"`
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`
}

// NewTask creates a pending task with a fresh UUID.
func NewTask(prompt, model string, maxIterations int, budgetUSD float64) *Task {
	return &Task{
		ID:            uuid.New().String(),
		Prompt:        prompt,
		Model:         model,
		MaxIterations: maxIterations,
		BudgetUSD:     budgetUSD,
		Status:        TaskPending,
		CreatedAt:     time.Now().UTC(),
	}
}

// ShortID returns the first 8 characters of the task ID for display.
func (t *Task) ShortID() string {
	if len(t.ID) <= 8 {
		return t.ID
	}
	return t.ID[:8]
}
