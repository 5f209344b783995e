package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anvilcode/anvil/internal/dag"
	"github.com/anvilcode/anvil/internal/looper"
	"github.com/anvilcode/anvil/internal/parallel"
	"github.com/anvilcode/anvil/internal/state"
	"github.com/anvilcode/anvil/internal/workspace"
	"github.com/anvilcode/anvil/pkg/models"
)

// Options tunes one workflow run.
type Options struct {
	// Workers bounds concurrent steps. Zero or less means 1.
	Workers int
	// GlobalBudgetUSD caps accrued cost across all steps. Zero means
	// unlimited.
	GlobalBudgetUSD float64
	// FailFast suppresses further dispatch after the first step failure.
	// Dependents of a failed step are skipped regardless of this flag.
	FailFast bool
	// IsolateWorkspaces gives each step an exclusive working directory.
	IsolateWorkspaces bool
	// FromStep forces a resume to re-run the named step and everything
	// depending on it, even if previously completed.
	FromStep string
	// DefinitionPath is recorded in the snapshot so a later resume can
	// reload the definition.
	DefinitionPath string
	// Loop applies to every step's iteration loop.
	Loop looper.Config
}

// Result is the outcome of one workflow run.
type Result struct {
	RunID string
	Name  string
	// Status is completed when every step completed, interrupted when
	// dispatch was halted with work remaining, failed otherwise.
	Status models.TaskStatus
	// Steps holds the final per-step states.
	Steps map[string]*state.StepState
	// TotalCostUSD is the accrued cost across all steps, including cost
	// from prior interrupted runs.
	TotalCostUSD float64
	HaltedEarly  bool
	HaltReason   string
}

// Runner executes workflow definitions step by step, dispatching steps as
// their dependencies complete.
type Runner struct {
	loops  *looper.Looper
	store  *state.Store
	ws     workspace.Provider
	logger *zap.Logger
}

// NewRunner creates a workflow runner. ws may be nil when isolation is off.
func NewRunner(loops *looper.Looper, store *state.Store, ws workspace.Provider, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{loops: loops, store: store, ws: ws, logger: logger}
}

// Run validates the definition and executes it from scratch. Structural
// problems reject the workflow before any step starts.
func (r *Runner) Run(ctx context.Context, def *Definition, opts Options) (*Result, error) {
	if _, err := def.Validate(); err != nil {
		return nil, err
	}
	graph, err := def.Graph()
	if err != nil {
		return nil, err
	}

	snap := state.NewWorkflowSnapshot(uuid.New().String(), def.Name, opts.DefinitionPath, def.StepNames())
	r.persist(snap)
	return r.execute(ctx, def, graph, snap, opts)
}

// Resume re-enters a previously persisted workflow run. Steps recorded as
// completed are never re-executed unless opts.FromStep forces them.
func (r *Runner) Resume(ctx context.Context, def *Definition, snap *state.WorkflowSnapshot, opts Options) (*Result, error) {
	graph, err := def.Graph()
	if err != nil {
		return nil, err
	}

	// Snapshots may predate definition edits; make sure every defined
	// step has a state entry.
	for _, name := range def.StepNames() {
		if _, ok := snap.Steps[name]; !ok {
			snap.Steps[name] = &state.StepState{Status: state.StepPending}
		}
	}

	if opts.FromStep != "" {
		if _, ok := snap.Steps[opts.FromStep]; !ok {
			return nil, fmt.Errorf("workflow %q has no step %q", def.Name, opts.FromStep)
		}
		rerun := graph.SkipSet(map[string]bool{opts.FromStep: true})
		rerun[opts.FromStep] = true
		for name := range rerun {
			snap.Steps[name] = &state.StepState{Status: state.StepPending}
		}
	}

	// Everything not completed goes back to pending for this attempt.
	for _, st := range snap.Steps {
		if st.Status != state.StepCompleted {
			st.Status = state.StepPending
			st.Error = ""
		}
	}
	snap.Status = models.TaskRunning
	r.persist(snap)
	return r.execute(ctx, def, graph, snap, opts)
}

// stepDone is sent by a step worker when its loop finishes.
type stepDone struct {
	name string
	task *models.Task
	res  *looper.Result
}

func (r *Runner) execute(ctx context.Context, def *Definition, graph *dag.Graph, snap *state.WorkflowSnapshot, opts Options) (*Result, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	gate := &runGate{ledger: parallel.NewCostLedger(opts.GlobalBudgetUSD)}

	completed := make(map[string]bool)
	blocked := make(map[string]bool) // started, skipped, or finished this attempt
	anyFailed := false
	for name, st := range snap.Steps {
		if st.Status == state.StepCompleted {
			completed[name] = true
			blocked[name] = true
		}
	}

	done := make(chan stepDone)
	inflight := 0

	for {
		if halted, _ := gate.state(); !halted {
			for _, name := range graph.ReadySteps(completed, blocked) {
				if inflight >= workers {
					break
				}
				step, ok := def.StepByName(name)
				if !ok {
					continue
				}
				blocked[name] = true
				inflight++
				r.dispatch(ctx, def, step, snap, gate, opts, done)
			}
		}

		if inflight == 0 {
			break
		}

		ev := <-done
		inflight--
		r.record(snap, graph, blocked, completed, &anyFailed, gate, opts, ev)
	}

	// Steps that never became ready because of a halt stay pending for a
	// later resume.
	halted, reason := gate.state()

	result := &Result{
		RunID:        snap.ID,
		Name:         snap.Name,
		Steps:        snap.Steps,
		TotalCostUSD: snap.TotalCostUSD,
		HaltedEarly:  halted,
		HaltReason:   reason,
	}

	switch {
	case r.allCompleted(snap):
		result.Status = models.TaskCompleted
	case anyFailed:
		result.Status = models.TaskFailed
	default:
		result.Status = models.TaskInterrupted
	}
	snap.Status = result.Status
	snap.Touch()
	r.persist(snap)

	r.logger.Info("workflow finished",
		zap.String("run_id", snap.ID),
		zap.String("workflow", snap.Name),
		zap.String("status", string(result.Status)),
		zap.Float64("cost_usd", snap.TotalCostUSD))
	return result, nil
}

// dispatch starts one step in its own goroutine.
func (r *Runner) dispatch(ctx context.Context, def *Definition, step *Step, snap *state.WorkflowSnapshot, gate *runGate, opts Options, done chan<- stepDone) {
	model, maxIterations, budget := def.resolve(step)
	task := models.NewTask(step.Prompt, model, maxIterations, budget)

	st := snap.Steps[step.Name]
	st.Status = state.StepRunning
	st.TaskID = task.ID
	snap.Touch()
	r.persist(snap)

	r.logger.Info("step started",
		zap.String("run_id", snap.ID),
		zap.String("step", step.Name),
		zap.String("task_id", task.ShortID()))

	go func() {
		cfg := opts.Loop
		cfg.Gate = gate

		if opts.IsolateWorkspaces && r.ws != nil {
			if dir, err := r.ws.Acquire(task.ID); err == nil {
				cfg.WorkDir = dir
				defer r.ws.Release(task.ID)
			} else {
				r.logger.Error("workspace acquire failed", zap.String("step", step.Name), zap.Error(err))
				task.Status = models.TaskFailed
				done <- stepDone{name: step.Name, task: task, res: &looper.Result{Status: looper.StatusFailed, Err: err}}
				return
			}
		}

		res, err := r.loops.Run(ctx, task, cfg)
		if err != nil {
			res = &looper.Result{Status: looper.StatusFailed, Err: err}
		}
		done <- stepDone{name: step.Name, task: task, res: res}
	}()
}

// record folds one finished step back into the snapshot and scheduling state.
func (r *Runner) record(snap *state.WorkflowSnapshot, graph *dag.Graph, blocked, completed map[string]bool, anyFailed *bool, gate *runGate, opts Options, ev stepDone) {
	st := snap.Steps[ev.name]
	st.CostUSD += ev.res.TotalCostUSD
	st.Usage.Add(ev.res.Usage)
	st.Iterations += ev.res.Iterations
	snap.TotalCostUSD += ev.res.TotalCostUSD

	switch ev.res.Status {
	case looper.StatusCompleted:
		st.Status = state.StepCompleted
		completed[ev.name] = true
		r.logger.Info("step completed",
			zap.String("run_id", snap.ID),
			zap.String("step", ev.name),
			zap.Float64("cost_usd", ev.res.TotalCostUSD))
	case looper.StatusInterrupted:
		// Gate refusal or cancellation: the step goes back to pending so
		// a resume picks it up.
		st.Status = state.StepPending
	default:
		st.Status = state.StepFailed
		*anyFailed = true
		if ev.res.Err != nil {
			st.Error = ev.res.Err.Error()
		} else {
			st.Error = ev.res.Reason
		}
		r.logger.Warn("step failed",
			zap.String("run_id", snap.ID),
			zap.String("step", ev.name),
			zap.String("error", st.Error))

		// A failed dependency propagates as skipped, never executed.
		for name := range graph.SkipSet(map[string]bool{ev.name: true}) {
			if completed[name] || blocked[name] {
				continue
			}
			blocked[name] = true
			snap.Steps[name].Status = state.StepSkipped
		}

		if opts.FailFast {
			gate.halt("step " + ev.name + " failed")
		}
	}

	snap.Touch()
	r.persist(snap)
}

func (r *Runner) allCompleted(snap *state.WorkflowSnapshot) bool {
	for _, st := range snap.Steps {
		if st.Status != state.StepCompleted {
			return false
		}
	}
	return true
}

// persist saves the snapshot, logging instead of failing on write errors.
func (r *Runner) persist(snap *state.WorkflowSnapshot) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveWorkflow(snap); err != nil {
		r.logger.Warn("workflow snapshot write failed", zap.String("run_id", snap.ID), zap.Error(err))
	}
}

// runGate imposes the shared budget and fail-fast halt on step loops.
type runGate struct {
	ledger *parallel.CostLedger

	mu     sync.Mutex
	halted bool
	reason string
}

func (g *runGate) AllowDispatch(string) (bool, string) {
	if g.ledger.Exceeded() {
		g.halt("global budget exhausted")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.halted {
		return false, g.reason
	}
	return true, ""
}

func (g *runGate) RecordCost(_ string, costUSD float64) {
	g.ledger.Add(costUSD)
}

func (g *runGate) halt(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.halted {
		g.halted = true
		g.reason = reason
	}
}

func (g *runGate) state() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.halted, g.reason
}
