package parallel

import "sync"

// CostLedger is the single shared cost counter for a parallel run. It is
// the only cross-task mutable state; every mutation and every dispatch
// decision goes through its mutex.
type CostLedger struct {
	mu     sync.Mutex
	total  float64
	budget float64
}

// NewCostLedger creates a ledger with an optional budget. Zero budget
// means unlimited.
func NewCostLedger(budgetUSD float64) *CostLedger {
	return &CostLedger{budget: budgetUSD}
}

// Add accrues the cost of one completed iteration.
func (l *CostLedger) Add(costUSD float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total += costUSD
}

// Total returns the accrued cost.
func (l *CostLedger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Exceeded reports whether accrued cost has reached the budget.
func (l *CostLedger) Exceeded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.budget > 0 && l.total >= l.budget
}
