// Package parallel runs independent tasks under a bounded worker pool with
// a shared budget ceiling, optional workspace isolation, and fail-fast.
package parallel

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anvilcode/anvil/internal/looper"
	"github.com/anvilcode/anvil/internal/workspace"
	"github.com/anvilcode/anvil/pkg/models"
)

// Config tunes one parallel run.
type Config struct {
	// Workers is the number of concurrent slots. Zero or less means 1.
	Workers int
	// GlobalBudgetUSD caps accrued cost across all tasks. Zero means
	// unlimited.
	GlobalBudgetUSD float64
	// FailFast suppresses all further dispatch after the first task failure.
	FailFast bool
	// IsolateWorkspaces gives each task an exclusive working directory.
	IsolateWorkspaces bool
}

// Pool coordinates concurrent loop runs. It acts as the dispatch gate for
// every loop it owns: shared-budget and fail-fast checks happen before any
// iteration is dispatched, and in-flight iterations always complete.
type Pool struct {
	loops  *looper.Looper
	ws     workspace.Provider
	logger *zap.Logger

	ledger  *CostLedger
	emitter *Emitter

	mu         sync.Mutex
	halted     bool
	haltReason string
}

// NewPool creates a single-use pool. ws may be nil when isolation is off.
func NewPool(loops *looper.Looper, ws workspace.Provider, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		loops:   loops,
		ws:      ws,
		logger:  logger,
		emitter: NewEmitter(0),
	}
}

// Events returns the progress event channel. Subscribe before calling Run;
// the channel is closed when the run finishes.
func (p *Pool) Events() <-chan Event {
	return p.emitter.Events()
}

// AllowDispatch implements looper.DispatchGate. It refuses once the shared
// budget is exhausted or a fail-fast halt has been recorded.
func (p *Pool) AllowDispatch(taskID string) (bool, string) {
	if p.ledger.Exceeded() {
		p.halt(HaltBudgetExceeded)
		return false, "global budget exhausted"
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.halted {
		return false, "run halted: " + p.haltReason
	}
	return true, ""
}

// RecordCost implements looper.DispatchGate.
func (p *Pool) RecordCost(taskID string, costUSD float64) {
	p.ledger.Add(costUSD)
}

func (p *Pool) halt(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.halted {
		p.halted = true
		p.haltReason = reason
		p.logger.Info("halting dispatch", zap.String("reason", reason))
	}
}

func (p *Pool) haltedState() (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted, p.haltReason
}

// Run executes all tasks and blocks until every dispatched iteration has
// finished. loopCfg applies to every task; the pool installs itself as the
// dispatch gate and forwards loop events to the pool event stream.
func (p *Pool) Run(ctx context.Context, tasks []*models.Task, cfg Config, loopCfg looper.Config) (*Result, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	p.ledger = NewCostLedger(cfg.GlobalBudgetUSD)

	result := &Result{PerTask: make(map[string]*looper.Result, len(tasks))}
	var resultMu sync.Mutex

	var g errgroup.Group
	g.SetLimit(workers)

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			res := p.runOne(ctx, task, cfg, loopCfg)

			resultMu.Lock()
			result.PerTask[task.ID] = res
			resultMu.Unlock()
			return nil
		})
	}

	// Workers never return errors; failures land in per-task results.
	_ = g.Wait()
	p.emitter.Close()

	for _, res := range result.PerTask {
		switch res.Status {
		case looper.StatusCompleted:
			result.Succeeded++
		case looper.StatusFailed:
			result.Failed++
		}
	}
	result.TotalCostUSD = p.ledger.Total()
	result.DroppedEvents = p.emitter.Dropped()
	if halted, reason := p.haltedState(); halted {
		result.HaltedEarly = true
		result.HaltReason = reason
	}
	return result, nil
}

// runOne executes a single task, honoring the halt state for tasks that
// have not started yet.
func (p *Pool) runOne(ctx context.Context, task *models.Task, cfg Config, loopCfg looper.Config) *looper.Result {
	if halted, reason := p.haltedState(); halted {
		task.Status = models.TaskInterrupted
		return &looper.Result{Status: looper.StatusInterrupted, Reason: "never dispatched: " + reason}
	}

	next := loopCfg.Sink
	if next == nil {
		next = looper.NopSink{}
	}
	taskCfg := loopCfg
	taskCfg.Gate = p
	taskCfg.Sink = &poolSink{pool: p, next: next}

	if cfg.IsolateWorkspaces && p.ws != nil {
		dir, err := p.ws.Acquire(task.ID)
		if err != nil {
			p.logger.Error("workspace acquire failed", zap.String("task_id", task.ShortID()), zap.Error(err))
			task.Status = models.TaskFailed
			return &looper.Result{Status: looper.StatusFailed, Err: err}
		}
		taskCfg.WorkDir = dir
		defer func() {
			if err := p.ws.Release(task.ID); err != nil {
				p.logger.Warn("workspace release failed", zap.String("task_id", task.ShortID()), zap.Error(err))
			}
		}()
	}

	p.emitter.Emit(Event{Type: EventTaskStarted, TaskID: task.ID})

	res, err := p.loops.Run(ctx, task, taskCfg)
	if err != nil {
		res = &looper.Result{Status: looper.StatusFailed, Err: err}
	}

	switch res.Status {
	case looper.StatusCompleted:
		p.emitter.Emit(Event{Type: EventTaskCompleted, TaskID: task.ID, CostUSD: res.TotalCostUSD})
	case looper.StatusFailed:
		msg := ""
		if res.Err != nil {
			msg = res.Err.Error()
		}
		p.emitter.Emit(Event{Type: EventTaskFailed, TaskID: task.ID, CostUSD: res.TotalCostUSD, Message: msg})
		if cfg.FailFast {
			p.halt(HaltTaskFailed)
		}
	default:
		p.emitter.Emit(Event{Type: EventTaskFailed, TaskID: task.ID, CostUSD: res.TotalCostUSD, Message: res.Reason})
	}
	return res
}

// poolSink forwards per-iteration loop events onto the pool event stream,
// then chains to the caller's sink.
type poolSink struct {
	pool *Pool
	next looper.EventSink
}

func (s *poolSink) IterationCompleted(task *models.Task, rec models.IterationRecord) {
	s.pool.emitter.Emit(Event{
		Type:      EventIterationCompleted,
		TaskID:    task.ID,
		Iteration: rec.Iteration,
		CostUSD:   rec.CostUSD,
	})
	s.next.IterationCompleted(task, rec)
}

func (s *poolSink) LoopFailed(task *models.Task, err error) {
	s.next.LoopFailed(task, err)
}

func (s *poolSink) LoopFinished(task *models.Task, result *looper.Result) {
	s.next.LoopFinished(task, result)
}
