package state

import (
	"time"

	"github.com/anvilcode/anvil/pkg/models"
)

// StepStatus is the lifecycle status of one workflow step.
type StepStatus string

const (
	// StepPending indicates the step has not started.
	StepPending StepStatus = "pending"
	// StepRunning indicates the step is executing.
	StepRunning StepStatus = "running"
	// StepCompleted indicates the step finished successfully.
	StepCompleted StepStatus = "completed"
	// StepFailed indicates the step failed.
	StepFailed StepStatus = "failed"
	// StepSkipped indicates the step was not run because a dependency
	// failed or was itself skipped.
	StepSkipped StepStatus = "skipped"
)

// StepState is the persisted state of one workflow step.
type StepState struct {
	Status StepStatus `json:"status"`
	// TaskID links to the task snapshot created for this step, if it ran.
	TaskID string `json:"task_id,omitempty"`
	// CostUSD is the cost accrued by this step.
	CostUSD float64 `json:"cost_usd"`
	// Usage is the token usage accrued by this step.
	Usage models.TokenUsage `json:"usage"`
	// Error holds the failure message when Status is failed.
	Error string `json:"error,omitempty"`
	// Iterations is how many iterations the step ran.
	Iterations int `json:"iterations"`
}

// WorkflowSnapshot is the persisted state of one workflow run.
type WorkflowSnapshot struct {
	// ID is the unique run identifier (UUID v4).
	ID string `json:"id"`
	// Name is the workflow name from the definition.
	Name string `json:"name"`
	// Path is the definition file path the run was started from.
	Path string `json:"path,omitempty"`
	// Status is the overall run status.
	Status models.TaskStatus `json:"status"`
	// Steps maps step name to its state.
	Steps map[string]*StepState `json:"steps"`
	// TotalCostUSD is the accrued cost across all steps.
	TotalCostUSD float64 `json:"total_cost_usd"`
	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`
	// UpdatedAt is bumped on every save.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkflowSnapshot creates the initial snapshot for a workflow run with
// all named steps pending.
func NewWorkflowSnapshot(id, name, path string, stepNames []string) *WorkflowSnapshot {
	now := time.Now().UTC()
	steps := make(map[string]*StepState, len(stepNames))
	for _, name := range stepNames {
		steps[name] = &StepState{Status: StepPending}
	}
	return &WorkflowSnapshot{
		ID:        id,
		Name:      name,
		Path:      path,
		Status:    models.TaskRunning,
		Steps:     steps,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Resumable reports whether the run can be picked up again.
func (s *WorkflowSnapshot) Resumable() bool {
	return !s.Status.IsTerminal()
}

// Touch bumps UpdatedAt.
func (s *WorkflowSnapshot) Touch() {
	s.UpdatedAt = time.Now().UTC()
}
