package hooks

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anvilcode/anvil/internal/looper"
	"github.com/anvilcode/anvil/pkg/models"
)

func TestHookReceivesTaskEnv(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "hook.out")

	r := NewRunner(Config{
		PreRun: "echo $ANVIL_TASK_ID > " + out,
	}, nil)

	task := &models.Task{ID: "task-env-test", Model: "sonnet"}
	r.PreRun(task)

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("hook did not run: %v", err)
	}
	if strings.TrimSpace(string(data)) != "task-env-test" {
		t.Errorf("unexpected hook output: %q", data)
	}
}

func TestFailingHookDoesNotPanic(t *testing.T) {
	r := NewRunner(Config{OnError: "exit 7", Timeout: time.Second}, nil)
	r.Sink().LoopFailed(&models.Task{ID: "x"}, os.ErrClosed)
}

func TestOnCompleteOnlyFiresForCompleted(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "done.out")

	r := NewRunner(Config{OnComplete: "touch " + out}, nil)
	task := &models.Task{ID: "t"}

	r.Sink().LoopFinished(task, &looper.Result{Status: looper.StatusFailed})
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("on_complete must not fire for failed runs")
	}

	r.Sink().LoopFinished(task, &looper.Result{Status: looper.StatusCompleted})
	if _, err := os.Stat(out); err != nil {
		t.Error("on_complete should fire for completed runs")
	}
}

func TestPreRunAbortOnFailure(t *testing.T) {
	task := &models.Task{ID: "t"}

	r := NewRunner(Config{PreRun: "exit 3", Timeout: time.Second}, nil)
	if err := r.PreRun(task); err != nil {
		t.Errorf("without abort_on_failure a failing pre_run is ignored, got %v", err)
	}

	r = NewRunner(Config{PreRun: "exit 3", Timeout: time.Second, AbortOnFailure: true}, nil)
	if err := r.PreRun(task); err == nil {
		t.Error("abort_on_failure should surface the pre_run failure")
	}
}

func TestEmptyHookIsNoop(t *testing.T) {
	r := NewRunner(Config{}, nil)
	r.PreRun(&models.Task{ID: "t"})
	r.PostRun(&models.Task{ID: "t"}, &looper.Result{Status: looper.StatusCompleted})
}
