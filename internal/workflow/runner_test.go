package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/anvilcode/anvil/internal/dag"
	"github.com/anvilcode/anvil/internal/executor"
	"github.com/anvilcode/anvil/internal/looper"
	"github.com/anvilcode/anvil/internal/state"
	"github.com/anvilcode/anvil/pkg/models"
)

// promptExecutor completes or fails based on the step prompt and records
// the order in which prompts were executed.
type promptExecutor struct {
	mu       sync.Mutex
	executed []string
	failOn   map[string]bool
}

func (e *promptExecutor) Execute(_ context.Context, req executor.Request) (*executor.Response, error) {
	// Prompts are "step:<name>" plus the appended completion instruction.
	name := req.Prompt
	if i := strings.IndexByte(name, '\n'); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimPrefix(strings.TrimSpace(name), "step:")

	e.mu.Lock()
	e.executed = append(e.executed, name)
	e.mu.Unlock()

	if e.failOn[name] {
		return nil, errors.New("step blew up")
	}
	return &executor.Response{Output: looper.DefaultMarker, CostUSD: 0.05}, nil
}

func (e *promptExecutor) ran() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.executed))
	copy(out, e.executed)
	return out
}

func newTestRunner(t *testing.T, exec executor.Executor) (*Runner, *state.Store) {
	t.Helper()
	store, err := state.NewStore(filepath.Join(t.TempDir(), ".anvil"), nil)
	if err != nil {
		t.Fatal(err)
	}
	loops := looper.New(exec, store, nil, nil)
	return NewRunner(loops, store, nil, nil), store
}

func stepDef(name string, deps ...string) Step {
	return Step{Name: name, Prompt: "step:" + name, DependsOn: deps}
}

func TestRunRespectsDependencyOrder(t *testing.T) {
	exec := &promptExecutor{}
	runner, _ := newTestRunner(t, exec)

	def := &Definition{
		Name: "pipeline",
		Steps: []Step{
			stepDef("deploy", "test"),
			stepDef("build"),
			stepDef("test", "build"),
		},
	}

	result, err := runner.Run(context.Background(), def, Options{Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != models.TaskCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}

	order := exec.ran()
	pos := make(map[string]int)
	for i, name := range order {
		pos[name] = i
	}
	if pos["build"] > pos["test"] || pos["test"] > pos["deploy"] {
		t.Errorf("dependency order violated: %v", order)
	}
}

func TestFailedDependencySkipsDependents(t *testing.T) {
	exec := &promptExecutor{failOn: map[string]bool{"test": true}}
	runner, _ := newTestRunner(t, exec)

	def := &Definition{
		Name: "pipeline",
		Steps: []Step{
			stepDef("build"),
			stepDef("test", "build"),
			stepDef("deploy", "test"),
			stepDef("docs"),
		},
	}

	result, err := runner.Run(context.Background(), def, Options{Workers: 1})
	if err != nil {
		t.Fatal(err)
	}

	if result.Status != models.TaskFailed {
		t.Errorf("expected failed, got %s", result.Status)
	}
	if result.Steps["test"].Status != state.StepFailed {
		t.Errorf("expected test failed, got %s", result.Steps["test"].Status)
	}
	if result.Steps["deploy"].Status != state.StepSkipped {
		t.Errorf("expected deploy skipped, got %s", result.Steps["deploy"].Status)
	}
	if result.Steps["docs"].Status != state.StepCompleted {
		t.Errorf("unrelated step docs should still run, got %s", result.Steps["docs"].Status)
	}

	for _, name := range exec.ran() {
		if name == "deploy" {
			t.Error("skipped step deploy must never be dispatched")
		}
	}
}

func TestResumeRunsOnlyUnfinishedSteps(t *testing.T) {
	exec := &promptExecutor{}
	runner, store := newTestRunner(t, exec)

	def := &Definition{
		Name: "pipeline",
		Steps: []Step{
			stepDef("A"),
			stepDef("B", "A"),
			stepDef("C", "B"),
		},
	}

	snap := state.NewWorkflowSnapshot("wf-resume", "pipeline", "", def.StepNames())
	snap.Steps["A"].Status = state.StepCompleted
	snap.Steps["A"].CostUSD = 0.10
	snap.Steps["B"].Status = state.StepFailed
	snap.Steps["B"].Error = "flaked"
	snap.TotalCostUSD = 0.10
	snap.Status = models.TaskFailed
	if err := store.SaveWorkflow(snap); err != nil {
		t.Fatal(err)
	}

	result, err := runner.Resume(context.Background(), def, snap, Options{Workers: 1})
	if err != nil {
		t.Fatal(err)
	}

	ran := exec.ran()
	for _, name := range ran {
		if name == "A" {
			t.Error("completed step A must not re-execute on resume")
		}
	}
	if len(ran) != 2 {
		t.Errorf("expected exactly B and C to run, got %v", ran)
	}
	if result.Status != models.TaskCompleted {
		t.Errorf("expected completed, got %s", result.Status)
	}
	if result.Steps["A"].CostUSD != 0.10 {
		t.Errorf("A's recorded result must be unchanged, got %+v", result.Steps["A"])
	}
}

func TestResumeFromStepForcesRerun(t *testing.T) {
	exec := &promptExecutor{}
	runner, store := newTestRunner(t, exec)

	def := &Definition{
		Name: "pipeline",
		Steps: []Step{
			stepDef("A"),
			stepDef("B", "A"),
			stepDef("C", "B"),
		},
	}

	snap := state.NewWorkflowSnapshot("wf-from", "pipeline", "", def.StepNames())
	for _, name := range def.StepNames() {
		snap.Steps[name].Status = state.StepCompleted
	}
	snap.Status = models.TaskCompleted
	if err := store.SaveWorkflow(snap); err != nil {
		t.Fatal(err)
	}

	result, err := runner.Resume(context.Background(), def, snap, Options{Workers: 1, FromStep: "B"})
	if err != nil {
		t.Fatal(err)
	}

	ran := exec.ran()
	if len(ran) != 2 {
		t.Fatalf("expected B and C to re-run, got %v", ran)
	}
	for _, name := range ran {
		if name == "A" {
			t.Error("step A precedes fromStep and must not re-run")
		}
	}
	if result.Status != models.TaskCompleted {
		t.Errorf("expected completed, got %s", result.Status)
	}
}

func TestRunRejectsCyclicDefinition(t *testing.T) {
	runner, _ := newTestRunner(t, &promptExecutor{})

	def := &Definition{
		Name: "broken",
		Steps: []Step{
			stepDef("A", "B"),
			stepDef("B", "A"),
		},
	}

	_, err := runner.Run(context.Background(), def, Options{})
	var cyc *dag.CircularDependencyError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CircularDependencyError before any execution, got %v", err)
	}
}

func TestSharedBudgetInterruptsWorkflow(t *testing.T) {
	exec := &promptExecutor{}
	runner, _ := newTestRunner(t, exec)

	// Each step costs 0.05. The first dispatch is always admitted (the
	// ledger is empty); after it the ledger holds 0.05 >= 0.04, so the
	// second step's iteration is refused before dispatch.
	def := &Definition{
		Name: "capped",
		Steps: []Step{
			stepDef("one"),
			stepDef("two", "one"),
		},
	}

	result, err := runner.Run(context.Background(), def, Options{Workers: 1, GlobalBudgetUSD: 0.04})
	if err != nil {
		t.Fatal(err)
	}

	if !result.HaltedEarly {
		t.Error("expected early halt")
	}
	if result.Status != models.TaskInterrupted {
		t.Errorf("expected interrupted, got %s", result.Status)
	}
	if result.Steps["two"].Status != state.StepPending {
		t.Errorf("halted step should stay pending for resume, got %s", result.Steps["two"].Status)
	}
}
