package parallel

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anvilcode/anvil/internal/executor"
	"github.com/anvilcode/anvil/internal/looper"
	"github.com/anvilcode/anvil/internal/state"
	"github.com/anvilcode/anvil/internal/workspace"
	"github.com/anvilcode/anvil/pkg/models"
)

// concurrencyExecutor completes every task after a few iterations while
// tracking the peak number of simultaneously running invocations.
type concurrencyExecutor struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    func() time.Duration

	mu    sync.Mutex
	calls map[string]int
}

func (e *concurrencyExecutor) Execute(_ context.Context, req executor.Request) (*executor.Response, error) {
	cur := e.inFlight.Add(1)
	for {
		p := e.peak.Load()
		if cur <= p || e.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if e.delay != nil {
		time.Sleep(e.delay())
	}
	e.inFlight.Add(-1)

	e.mu.Lock()
	e.calls[req.WorkDir]++
	n := e.calls[req.WorkDir]
	e.mu.Unlock()

	out := "working"
	if n >= 2 {
		out = looper.DefaultMarker
	}
	return &executor.Response{Output: out, CostUSD: 0.01}, nil
}

func newTestPool(t *testing.T, exec executor.Executor) *Pool {
	t.Helper()
	store, err := state.NewStore(filepath.Join(t.TempDir(), ".anvil"), nil)
	if err != nil {
		t.Fatal(err)
	}
	loops := looper.New(exec, store, nil, nil)
	return NewPool(loops, &workspace.TempDirProvider{Base: t.TempDir()}, nil)
}

func makeTasks(n int) []*models.Task {
	tasks := make([]*models.Task, n)
	for i := range tasks {
		tasks[i] = models.NewTask("task", "sonnet", 10, 0)
	}
	return tasks
}

func TestWorkerBoundHolds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var rngMu sync.Mutex
	exec := &concurrencyExecutor{
		calls: make(map[string]int),
		delay: func() time.Duration {
			rngMu.Lock()
			defer rngMu.Unlock()
			return time.Duration(rng.Intn(10)) * time.Millisecond
		},
	}

	pool := newTestPool(t, exec)
	result, err := pool.Run(context.Background(), makeTasks(3),
		Config{Workers: 2, IsolateWorkspaces: true}, looper.Config{})
	if err != nil {
		t.Fatal(err)
	}

	if peak := exec.peak.Load(); peak > 2 {
		t.Errorf("expected at most 2 concurrent tasks, observed %d", peak)
	}
	if result.Succeeded != 3 {
		t.Errorf("expected 3 successes, got %d (failed %d)", result.Succeeded, result.Failed)
	}
	if result.HaltedEarly {
		t.Error("unexpected early halt")
	}
}

// failNthExecutor fails every invocation for the given task prompt and
// completes everything else after one iteration.
type failNthExecutor struct {
	failPrompt string
	mu         sync.Mutex
	calls      int
}

func (e *failNthExecutor) Execute(_ context.Context, req executor.Request) (*executor.Response, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	if strings.Contains(req.Prompt, e.failPrompt) {
		return nil, errors.New("intentional failure")
	}
	return &executor.Response{Output: looper.DefaultMarker, CostUSD: 0.01}, nil
}

func TestFailFastSuppressesDispatch(t *testing.T) {
	exec := &failNthExecutor{failPrompt: "doomed"}
	pool := newTestPool(t, exec)

	tasks := makeTasks(4)
	tasks[1].Prompt = "doomed task"

	result, err := pool.Run(context.Background(), tasks,
		Config{Workers: 2, FailFast: true}, looper.Config{})
	if err != nil {
		t.Fatal(err)
	}

	if !result.HaltedEarly {
		t.Error("expected early halt")
	}
	if result.HaltReason != HaltTaskFailed {
		t.Errorf("expected halt reason %s, got %s", HaltTaskFailed, result.HaltReason)
	}
	if result.Failed != 1 {
		t.Errorf("expected exactly 1 failed task, got %d", result.Failed)
	}

	// Tasks cut off by fail-fast end interrupted, never failed.
	interrupted := 0
	for _, res := range result.PerTask {
		if res.Status == looper.StatusInterrupted {
			interrupted++
		}
	}
	if result.Succeeded+result.Failed+interrupted != len(tasks) {
		t.Errorf("unaccounted task outcomes: %+v", result.PerTask)
	}
}

// costlyExecutor never completes and charges a fixed cost per iteration.
type costlyExecutor struct {
	cost float64
}

func (e *costlyExecutor) Execute(context.Context, executor.Request) (*executor.Response, error) {
	return &executor.Response{Output: "more to do", CostUSD: e.cost}, nil
}

func TestSharedBudgetHaltsAllTasks(t *testing.T) {
	exec := &costlyExecutor{cost: 0.30}
	pool := newTestPool(t, exec)

	result, err := pool.Run(context.Background(), makeTasks(3),
		Config{Workers: 3, GlobalBudgetUSD: 1.00}, looper.Config{})
	if err != nil {
		t.Fatal(err)
	}

	if !result.HaltedEarly {
		t.Error("expected early halt on shared budget")
	}
	if result.HaltReason != HaltBudgetExceeded {
		t.Errorf("expected halt reason %s, got %s", HaltBudgetExceeded, result.HaltReason)
	}
	for id, res := range result.PerTask {
		if res.Status == looper.StatusCompleted || res.Status == looper.StatusFailed {
			t.Errorf("task %s should be interrupted or budget-capped, got %s", id, res.Status)
		}
	}
	// Every charged iteration ran to completion before the halt, so the
	// ledger total reflects only whole iterations.
	if result.TotalCostUSD < 1.00 {
		t.Errorf("expected ledger to reach the budget, got %f", result.TotalCostUSD)
	}
}

func TestEventStreamCarriesLifecycle(t *testing.T) {
	exec := &concurrencyExecutor{calls: make(map[string]int)}
	pool := newTestPool(t, exec)

	events := pool.Events()
	done := make(chan map[EventType]int)
	go func() {
		counts := make(map[EventType]int)
		for ev := range events {
			counts[ev.Type]++
		}
		done <- counts
	}()

	if _, err := pool.Run(context.Background(), makeTasks(2),
		Config{Workers: 2, IsolateWorkspaces: true}, looper.Config{}); err != nil {
		t.Fatal(err)
	}

	counts := <-done
	if counts[EventTaskStarted] != 2 {
		t.Errorf("expected 2 started events, got %d", counts[EventTaskStarted])
	}
	if counts[EventTaskCompleted] != 2 {
		t.Errorf("expected 2 completed events, got %d", counts[EventTaskCompleted])
	}
	if counts[EventIterationCompleted] == 0 {
		t.Error("expected iteration events")
	}
}

func TestLedgerSerializesMutation(t *testing.T) {
	ledger := NewCostLedger(0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ledger.Add(0.01)
		}()
	}
	wg.Wait()
	got := ledger.Total()
	if got < 0.999 || got > 1.001 {
		t.Errorf("expected total near 1.00, got %f", got)
	}
}
