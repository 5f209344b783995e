package parallel

import "github.com/anvilcode/anvil/internal/looper"

// Halt reasons recorded on an early-stopped run.
const (
	HaltBudgetExceeded = "BudgetExceeded"
	HaltTaskFailed     = "TaskFailed"
)

// Result aggregates the outcome of one parallel run.
type Result struct {
	// PerTask maps task ID to its loop result. Tasks never dispatched
	// (cut off by fail-fast or budget) have an interrupted result.
	PerTask map[string]*looper.Result
	// TotalCostUSD is the shared ledger total.
	TotalCostUSD float64
	// Succeeded counts tasks that completed.
	Succeeded int
	// Failed counts tasks that failed.
	Failed int
	// HaltedEarly is set when dispatch was suppressed before all tasks
	// finished naturally.
	HaltedEarly bool
	// HaltReason is HaltBudgetExceeded or HaltTaskFailed when HaltedEarly.
	HaltReason string
	// DroppedEvents counts progress events discarded by a slow consumer.
	DroppedEvents int
}
