package state

import (
	"time"

	"github.com/anvilcode/anvil/pkg/models"
)

// TaskSnapshot is the persisted state of one task run. It carries
// everything needed to resume the run after an interruption.
type TaskSnapshot struct {
	Task models.Task `json:"task"`
	// SessionID is the executor session to resume, if any.
	SessionID string `json:"session_id,omitempty"`
	// Iterations is the append-only per-iteration history.
	Iterations []models.IterationRecord `json:"iterations"`
	// TotalCostUSD is the accrued cost across all iterations.
	TotalCostUSD float64 `json:"total_cost_usd"`
	// TotalUsage is the accrued token usage across all iterations.
	TotalUsage models.TokenUsage `json:"total_usage"`
	// Error holds the failure message when Task.Status is failed.
	Error string `json:"error,omitempty"`
	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`
	// UpdatedAt is bumped on every save.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTaskSnapshot creates the initial snapshot for a task.
func NewTaskSnapshot(task *models.Task) *TaskSnapshot {
	now := time.Now().UTC()
	return &TaskSnapshot{
		Task:      *task,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// IterationsDone returns the number of completed iterations.
func (s *TaskSnapshot) IterationsDone() int {
	return len(s.Iterations)
}

// RecordIteration appends an iteration record and accrues totals.
func (s *TaskSnapshot) RecordIteration(rec models.IterationRecord) {
	s.Iterations = append(s.Iterations, rec)
	s.TotalCostUSD += rec.CostUSD
	s.TotalUsage.Add(rec.Usage)
	s.UpdatedAt = time.Now().UTC()
}

// Resumable reports whether the task can be picked up again.
func (s *TaskSnapshot) Resumable() bool {
	return !s.Task.Status.IsTerminal()
}
