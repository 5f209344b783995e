package looper

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/anvilcode/anvil/internal/executor"
	"github.com/anvilcode/anvil/internal/state"
	"github.com/anvilcode/anvil/pkg/models"
)

// scriptedExecutor replays canned responses in order and counts calls.
type scriptedExecutor struct {
	mu        sync.Mutex
	responses []*executor.Response
	errs      []error
	calls     int
	requests  []executor.Request
}

func (s *scriptedExecutor) Execute(_ context.Context, req executor.Request) (*executor.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.requests = append(s.requests, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		return &executor.Response{Output: "still working"}, nil
	}
	return s.responses[i], nil
}

func (s *scriptedExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	store, err := state.NewStore(filepath.Join(t.TempDir(), ".anvil"), nil)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestCompletionMarkerOnThirdCall(t *testing.T) {
	exec := &scriptedExecutor{responses: []*executor.Response{
		{Output: "working", CostUSD: 0.01},
		{Output: "more work", CostUSD: 0.01},
		{Output: "done " + DefaultMarker, CostUSD: 0.01},
		{Output: "should never happen", CostUSD: 0.01},
	}}

	l := New(exec, newTestStore(t), nil, nil)
	task := models.NewTask("do the thing", "sonnet", 10, 0)
	result, err := l.Run(context.Background(), task, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", result.Status)
	}
	if result.Iterations != 3 {
		t.Errorf("expected 3 iterations, got %d", result.Iterations)
	}
	if exec.callCount() != 3 {
		t.Errorf("expected exactly 3 executor calls, got %d", exec.callCount())
	}
}

func TestMaxIterationsReached(t *testing.T) {
	exec := &scriptedExecutor{}

	l := New(exec, newTestStore(t), nil, nil)
	task := models.NewTask("never finishes", "sonnet", 5, 0)
	result, err := l.Run(context.Background(), task, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != StatusMaxIterations {
		t.Errorf("expected max_iterations, got %s", result.Status)
	}
	if result.Iterations != 5 {
		t.Errorf("expected 5 iterations, got %d", result.Iterations)
	}
	if exec.callCount() != 5 {
		t.Errorf("expected exactly 5 executor calls, no 6th, got %d", exec.callCount())
	}
}

func TestBudgetCheckedBeforeDispatch(t *testing.T) {
	// Costs 0.40 then 0.70: cumulative 1.10 >= 1.00 after iteration 2,
	// so iteration 3 must never be dispatched, but both prior iterations
	// run fully.
	exec := &scriptedExecutor{responses: []*executor.Response{
		{Output: "a", CostUSD: 0.40},
		{Output: "b", CostUSD: 0.70},
		{Output: "c", CostUSD: 0.10},
	}}

	l := New(exec, newTestStore(t), nil, nil)
	task := models.NewTask("expensive", "sonnet", 10, 1.00)
	result, err := l.Run(context.Background(), task, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != StatusBudgetExceeded {
		t.Errorf("expected budget_exceeded, got %s", result.Status)
	}
	if exec.callCount() != 2 {
		t.Errorf("expected exactly 2 executor calls, got %d", exec.callCount())
	}
	if result.TotalCostUSD != 1.10 {
		t.Errorf("expected total cost 1.10, got %f", result.TotalCostUSD)
	}
}

func TestExecutorFailureStopsLoop(t *testing.T) {
	boom := errors.New("transport exploded")
	exec := &scriptedExecutor{
		responses: []*executor.Response{{Output: "ok", CostUSD: 0.01}, nil},
		errs:      []error{nil, boom},
	}

	l := New(exec, newTestStore(t), nil, nil)
	task := models.NewTask("fragile", "sonnet", 10, 0)
	result, err := l.Run(context.Background(), task, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != StatusFailed {
		t.Errorf("expected failed, got %s", result.Status)
	}
	if !errors.Is(result.Err, boom) {
		t.Errorf("expected wrapped cause, got %v", result.Err)
	}
	if exec.callCount() != 2 {
		t.Errorf("expected 2 calls (no retry), got %d", exec.callCount())
	}
}

func TestResumeContinuesWithoutRepeatingWork(t *testing.T) {
	store := newTestStore(t)
	task := models.NewTask("long haul", "sonnet", 10, 0)
	task.Status = models.TaskInterrupted

	snap := state.NewTaskSnapshot(task)
	snap.SessionID = "sess-old"
	snap.RecordIteration(models.IterationRecord{Iteration: 1, CostUSD: 0.30, OutputExcerpt: "partial work"})
	snap.RecordIteration(models.IterationRecord{Iteration: 2, CostUSD: 0.30, OutputExcerpt: "more partial work"})
	if err := store.SaveTask(snap); err != nil {
		t.Fatal(err)
	}

	exec := &scriptedExecutor{responses: []*executor.Response{
		{Output: "finished " + DefaultMarker, CostUSD: 0.10, SessionID: "sess-new"},
	}}

	l := New(exec, store, nil, nil)
	result, err := l.Resume(context.Background(), snap, Config{ContextCarryOver: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", result.Status)
	}
	if result.Iterations != 3 {
		t.Errorf("expected resume to continue at iteration 3, got %d", result.Iterations)
	}
	if exec.callCount() != 1 {
		t.Errorf("expected 1 call after resume, got %d", exec.callCount())
	}
	if got := exec.requests[0].SessionID; got != "sess-old" {
		t.Errorf("expected resumed session sess-old, got %q", got)
	}
	if result.TotalCostUSD != 0.70 {
		t.Errorf("expected accrued cost 0.70, got %f", result.TotalCostUSD)
	}
}

func TestResumeRejectsCompleted(t *testing.T) {
	task := models.NewTask("done already", "sonnet", 10, 0)
	task.Status = models.TaskCompleted
	snap := state.NewTaskSnapshot(task)

	l := New(&scriptedExecutor{}, nil, nil, nil)
	if _, err := l.Resume(context.Background(), snap, Config{}); err == nil {
		t.Error("expected error resuming a completed task")
	}
}

// refusingGate refuses dispatch after a fixed number of admissions.
type refusingGate struct {
	mu    sync.Mutex
	admit int
}

func (g *refusingGate) AllowDispatch(string) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.admit > 0 {
		g.admit--
		return true, ""
	}
	return false, "shared budget exhausted"
}

func (g *refusingGate) RecordCost(string, float64) {}

func TestGateRefusalInterrupts(t *testing.T) {
	exec := &scriptedExecutor{}
	l := New(exec, newTestStore(t), nil, nil)

	task := models.NewTask("gated", "sonnet", 10, 0)
	result, err := l.Run(context.Background(), task, Config{Gate: &refusingGate{admit: 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != StatusInterrupted {
		t.Errorf("expected interrupted, got %s", result.Status)
	}
	if result.Reason != "shared budget exhausted" {
		t.Errorf("unexpected reason: %q", result.Reason)
	}
	if exec.callCount() != 2 {
		t.Errorf("expected 2 calls before refusal, got %d", exec.callCount())
	}
	if task.Status != models.TaskInterrupted {
		t.Errorf("expected task interrupted, got %s", task.Status)
	}
}

func TestFirstPromptCarriesCompletionInstruction(t *testing.T) {
	exec := &scriptedExecutor{responses: []*executor.Response{
		{Output: DefaultMarker},
	}}
	l := New(exec, nil, nil, nil)

	task := models.NewTask("say hi", "sonnet", 3, 0)
	if _, err := l.Run(context.Background(), task, Config{}); err != nil {
		t.Fatal(err)
	}

	prompt := exec.requests[0].Prompt
	if !strings.Contains(prompt, "say hi") || !strings.Contains(prompt, DefaultMarker) {
		t.Errorf("prompt missing task text or marker instruction: %q", prompt)
	}
}

func TestContinuePromptEmbedsPreviousTail(t *testing.T) {
	exec := &scriptedExecutor{responses: []*executor.Response{
		{Output: "previous partial result"},
		{Output: DefaultMarker},
	}}
	l := New(exec, nil, nil, nil)

	task := models.NewTask("iterate", "sonnet", 5, 0)
	if _, err := l.Run(context.Background(), task, Config{}); err != nil {
		t.Fatal(err)
	}

	second := exec.requests[1].Prompt
	if !strings.Contains(second, "previous partial result") {
		t.Errorf("continuation prompt missing previous output tail: %q", second)
	}
}
