package looper

// DispatchGate is consulted before every iteration dispatch. It is the
// seam through which a coordinator imposes cross-task limits (shared
// budget, fail-fast) on individual loops.
type DispatchGate interface {
	// AllowDispatch reports whether a new iteration may start. A refusal
	// carries a human-readable reason; the loop stops with an
	// interrupted result so the task stays resumable.
	AllowDispatch(taskID string) (ok bool, reason string)
	// RecordCost accrues the cost of one completed iteration. Called
	// exactly once per iteration, after the iteration finishes.
	RecordCost(taskID string, costUSD float64)
}

// openGate admits every dispatch. Used for standalone runs.
type openGate struct{}

func (openGate) AllowDispatch(string) (bool, string) { return true, "" }
func (openGate) RecordCost(string, float64)          {}
