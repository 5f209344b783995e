// Package looper drives one task through repeated agent executor
// invocations until a completion marker appears, the budget is exhausted,
// or the iteration cap is reached. Progress is persisted after every
// iteration so an interrupted loop can resume without losing work.
package looper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/anvilcode/anvil/internal/executor"
	"github.com/anvilcode/anvil/internal/pricing"
	"github.com/anvilcode/anvil/internal/state"
	"github.com/anvilcode/anvil/pkg/models"
)

// Status is the final disposition of a loop run.
type Status string

const (
	// StatusCompleted means the completion marker was observed.
	StatusCompleted Status = "completed"
	// StatusMaxIterations means the iteration cap was reached without
	// the marker appearing.
	StatusMaxIterations Status = "max_iterations"
	// StatusBudgetExceeded means accrued cost reached the budget before
	// the next iteration could be dispatched.
	StatusBudgetExceeded Status = "budget_exceeded"
	// StatusFailed means an executor invocation failed.
	StatusFailed Status = "failed"
	// StatusInterrupted means the loop was stopped by cancellation or a
	// dispatch gate refusal. The task remains resumable.
	StatusInterrupted Status = "interrupted"
)

// Result is the outcome of one loop run.
type Result struct {
	Status Status
	// Iterations is how many executor invocations ran in total, including
	// any from a prior interrupted run.
	Iterations int
	// Output is the final iteration's output text.
	Output string
	// TotalCostUSD is the accrued cost across all iterations.
	TotalCostUSD float64
	// Usage is the accrued token usage across all iterations.
	Usage models.TokenUsage
	// SessionID is the executor session for later continuation.
	SessionID string
	// Reason explains interrupted results (gate refusal, cancellation).
	Reason string
	// Err is the underlying error for failed results.
	Err error
}

// Looper owns the iteration loop for tasks.
type Looper struct {
	exec   executor.Executor
	store  *state.Store
	prices *pricing.Table
	logger *zap.Logger

	// sleep is swapped in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Looper. store may be nil for ephemeral runs; prices may be
// nil when the executor reports cost directly.
func New(exec executor.Executor, store *state.Store, prices *pricing.Table, logger *zap.Logger) *Looper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Looper{
		exec:   exec,
		store:  store,
		prices: prices,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Run drives a fresh task to a final result. The returned error is non-nil
// only for setup problems; loop outcomes, including failures, are reported
// through Result.Status.
func (l *Looper) Run(ctx context.Context, task *models.Task, cfg Config) (*Result, error) {
	snap := state.NewTaskSnapshot(task)
	return l.loop(ctx, task, snap, cfg)
}

// Resume re-enters the loop for a previously persisted task. Iterations
// already recorded are never repeated: the loop continues at the next
// iteration with the accrued cost and session restored from the snapshot.
func (l *Looper) Resume(ctx context.Context, snap *state.TaskSnapshot, cfg Config) (*Result, error) {
	if snap.Task.Status.IsTerminal() && snap.Task.Status != models.TaskFailed {
		return nil, fmt.Errorf("task %s is %s and cannot be resumed", snap.Task.ShortID(), snap.Task.Status)
	}
	task := &snap.Task
	l.logger.Info("resuming task",
		zap.String("task_id", task.ShortID()),
		zap.Int("iterations_done", snap.IterationsDone()),
		zap.Float64("cost_so_far", snap.TotalCostUSD))
	return l.loop(ctx, task, snap, cfg)
}

func (l *Looper) loop(ctx context.Context, task *models.Task, snap *state.TaskSnapshot, cfg Config) (*Result, error) {
	completion := cfg.completion()
	sink := cfg.sink()
	gate := cfg.gate()

	maxIterations := task.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	task.Status = models.TaskRunning
	snap.Task = *task
	l.persist(snap)

	iteration := snap.IterationsDone()
	sessionID := snap.SessionID
	var lastOutput string
	if n := len(snap.Iterations); n > 0 {
		lastOutput = snap.Iterations[n-1].OutputExcerpt
	}

	result := &Result{
		Iterations:   iteration,
		TotalCostUSD: snap.TotalCostUSD,
		Usage:        snap.TotalUsage,
		SessionID:    sessionID,
	}

	for {
		// Budget is checked before dispatch using cost accrued through
		// the previous iteration only. An iteration in flight always
		// completes; the crossing iteration is never cut short.
		if task.BudgetUSD > 0 && result.TotalCostUSD >= task.BudgetUSD {
			result.Status = StatusBudgetExceeded
			result.Reason = fmt.Sprintf("cost %.4f reached budget %.4f", result.TotalCostUSD, task.BudgetUSD)
			return l.finish(task, snap, sink, result, models.TaskInterrupted)
		}
		if iteration >= maxIterations {
			result.Status = StatusMaxIterations
			result.Reason = fmt.Sprintf("reached iteration cap %d", maxIterations)
			return l.finish(task, snap, sink, result, models.TaskInterrupted)
		}
		if ok, reason := gate.AllowDispatch(task.ID); !ok {
			result.Status = StatusInterrupted
			result.Reason = reason
			return l.finish(task, snap, sink, result, models.TaskInterrupted)
		}
		if err := ctx.Err(); err != nil {
			result.Status = StatusInterrupted
			result.Reason = err.Error()
			return l.finish(task, snap, sink, result, models.TaskInterrupted)
		}

		iteration++

		req := executor.Request{
			Prompt:       l.buildPrompt(task, cfg, completion, iteration, lastOutput),
			Model:        task.Model,
			AllowedTools: cfg.AllowedTools,
			WorkDir:      cfg.WorkDir,
		}
		if cfg.ContextCarryOver {
			req.SessionID = sessionID
		}

		l.logger.Debug("dispatching iteration",
			zap.String("task_id", task.ShortID()),
			zap.Int("iteration", iteration))

		resp, err := l.exec.Execute(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				result.Status = StatusInterrupted
				result.Reason = ctx.Err().Error()
				result.Iterations = iteration - 1
				return l.finish(task, snap, sink, result, models.TaskInterrupted)
			}
			result.Status = StatusFailed
			result.Err = err
			result.Iterations = iteration
			snap.Error = err.Error()
			sink.LoopFailed(task, err)
			return l.finish(task, snap, sink, result, models.TaskFailed)
		}

		cost := resp.CostUSD
		if cost == 0 && l.prices != nil {
			cost = l.prices.Cost(task.Model, resp.Usage)
		}

		rec := models.IterationRecord{
			Iteration:     iteration,
			CostUSD:       cost,
			Usage:         resp.Usage,
			Timestamp:     time.Now().UTC(),
			OutputExcerpt: models.Excerpt(resp.Output),
		}
		snap.RecordIteration(rec)
		sessionID = resp.SessionID
		snap.SessionID = sessionID
		l.persist(snap)

		gate.RecordCost(task.ID, cost)

		result.Iterations = iteration
		result.TotalCostUSD = snap.TotalCostUSD
		result.Usage = snap.TotalUsage
		result.SessionID = sessionID
		result.Output = resp.Output
		lastOutput = resp.Output

		sink.IterationCompleted(task, rec)

		if completion.Done(resp.Output) {
			result.Status = StatusCompleted
			return l.finish(task, snap, sink, result, models.TaskCompleted)
		}

		if cfg.IterationDelay > 0 {
			if err := l.sleep(ctx, cfg.IterationDelay); err != nil {
				result.Status = StatusInterrupted
				result.Reason = err.Error()
				return l.finish(task, snap, sink, result, models.TaskInterrupted)
			}
		}
	}
}

// finish stamps the final status, persists, emits the finished event, and
// returns the result.
func (l *Looper) finish(task *models.Task, snap *state.TaskSnapshot, sink EventSink, result *Result, status models.TaskStatus) (*Result, error) {
	task.Status = status
	snap.Task = *task
	l.persist(snap)
	sink.LoopFinished(task, result)
	l.logger.Info("loop finished",
		zap.String("task_id", task.ShortID()),
		zap.String("status", string(result.Status)),
		zap.Int("iterations", result.Iterations),
		zap.Float64("cost_usd", result.TotalCostUSD))
	return result, nil
}

// persist saves the snapshot. Write failures are logged, not fatal: a
// dropped snapshot only degrades later resume, it must not kill the loop.
func (l *Looper) persist(snap *state.TaskSnapshot) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveTask(snap); err != nil {
		l.logger.Warn("snapshot write failed",
			zap.String("task_id", snap.Task.ShortID()),
			zap.Error(err))
	}
}

// prevOutputTail caps how much of the previous output is embedded in a
// continuation prompt when session carry-over is off.
const prevOutputTail = 2000

// buildPrompt assembles the iteration prompt. The first iteration carries
// the task prompt plus the completion instruction; later iterations either
// rely on the carried session or embed the tail of the previous output.
func (l *Looper) buildPrompt(task *models.Task, cfg Config, completion Completion, iteration int, lastOutput string) string {
	if iteration == 1 {
		return fmt.Sprintf("%s\n\n%s", task.Prompt, completion.Instruction())
	}
	if cfg.ContextCarryOver {
		return fmt.Sprintf("Continue working on the task. %s", completion.Instruction())
	}
	tail := lastOutput
	if len(tail) > prevOutputTail {
		tail = tail[len(tail)-prevOutputTail:]
	}
	return fmt.Sprintf("%s\n\nPrevious attempt output (tail):\n%s\n\nContinue from where the previous attempt left off. %s",
		task.Prompt, tail, completion.Instruction())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
