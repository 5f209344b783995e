package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anvilcode/anvil/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), DefaultDirName), nil)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return store
}

func TestSaveAndLoadTask(t *testing.T) {
	store := newTestStore(t)

	task := models.NewTask("build the thing", "sonnet", 10, 2.5)
	snap := NewTaskSnapshot(task)
	snap.RecordIteration(models.IterationRecord{
		Iteration: 1,
		CostUSD:   0.25,
		Usage:     models.TokenUsage{InputTokens: 100, OutputTokens: 40},
		Timestamp: time.Now().UTC(),
	})

	if err := store.SaveTask(snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.LoadTask(task.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Task.Prompt != "build the thing" {
		t.Errorf("unexpected prompt: %q", loaded.Task.Prompt)
	}
	if loaded.IterationsDone() != 1 {
		t.Errorf("expected 1 iteration, got %d", loaded.IterationsDone())
	}
	if loaded.TotalCostUSD != 0.25 {
		t.Errorf("expected total cost 0.25, got %f", loaded.TotalCostUSD)
	}
}

func TestLoadMissingTask(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LoadTask("nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveTaskPrefix(t *testing.T) {
	store := newTestStore(t)

	a := NewTaskSnapshot(&models.Task{ID: "abc11111-0000-0000-0000-000000000000", Status: models.TaskRunning})
	b := NewTaskSnapshot(&models.Task{ID: "abd22222-0000-0000-0000-000000000000", Status: models.TaskRunning})
	for _, snap := range []*TaskSnapshot{a, b} {
		if err := store.SaveTask(snap); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.ResolveTask("abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Task.ID != a.Task.ID {
		t.Errorf("resolved wrong task: %s", got.Task.ID)
	}

	_, err = store.ResolveTask("ab")
	var ambiguous *AmbiguousIDError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("expected AmbiguousIDError, got %v", err)
	}
	if len(ambiguous.Matches) != 2 {
		t.Errorf("expected 2 matches, got %d", len(ambiguous.Matches))
	}

	if _, err := store.ResolveTask("zzz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveExactMatchBeatsPrefix(t *testing.T) {
	store := newTestStore(t)

	exact := NewTaskSnapshot(&models.Task{ID: "abc", Status: models.TaskRunning})
	longer := NewTaskSnapshot(&models.Task{ID: "abcdef", Status: models.TaskRunning})
	for _, snap := range []*TaskSnapshot{exact, longer} {
		if err := store.SaveTask(snap); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.ResolveTask("abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Task.ID != "abc" {
		t.Errorf("expected exact match abc, got %s", got.Task.ID)
	}
}

func TestCorruptSnapshot(t *testing.T) {
	store := newTestStore(t)

	path := filepath.Join(store.Dir(), "tasks", "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := store.LoadTask("broken")
	var corrupt *CorruptSnapshotError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptSnapshotError, got %v", err)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Error("expected corrupt file left in place")
	}
}

func TestListResumableTasks(t *testing.T) {
	store := newTestStore(t)

	statuses := map[string]models.TaskStatus{
		"t-completed":   models.TaskCompleted,
		"t-failed":      models.TaskFailed,
		"t-interrupted": models.TaskInterrupted,
		"t-running":     models.TaskRunning,
	}
	for id, status := range statuses {
		snap := NewTaskSnapshot(&models.Task{ID: id, Status: status})
		if err := store.SaveTask(snap); err != nil {
			t.Fatal(err)
		}
	}

	resumable, err := store.ListResumableTasks()
	if err != nil {
		t.Fatal(err)
	}
	if len(resumable) != 2 {
		t.Fatalf("expected 2 resumable tasks, got %d", len(resumable))
	}
	for _, snap := range resumable {
		if snap.Task.Status.IsTerminal() {
			t.Errorf("terminal task %s listed as resumable", snap.Task.ID)
		}
	}
}

func TestPurgeKeepsNonTerminal(t *testing.T) {
	store := newTestStore(t)

	done := NewTaskSnapshot(&models.Task{ID: "t-done", Status: models.TaskCompleted})
	paused := NewTaskSnapshot(&models.Task{ID: "t-paused", Status: models.TaskInterrupted})
	for _, snap := range []*TaskSnapshot{done, paused} {
		if err := store.SaveTask(snap); err != nil {
			t.Fatal(err)
		}
	}

	wfDone := NewWorkflowSnapshot("w-done", "ship", "", []string{"a"})
	wfDone.Status = models.TaskCompleted
	if err := store.SaveWorkflow(wfDone); err != nil {
		t.Fatal(err)
	}

	removed, err := store.Purge(time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}

	if _, err := store.LoadTask("t-paused"); err != nil {
		t.Errorf("interrupted task should survive purge: %v", err)
	}
	if _, err := store.LoadTask("t-done"); !errors.Is(err, ErrNotFound) {
		t.Errorf("completed task should be purged, got %v", err)
	}
}

func TestPurgeHonorsCutoff(t *testing.T) {
	store := newTestStore(t)

	old := NewTaskSnapshot(&models.Task{ID: "t-old", Status: models.TaskCompleted})
	old.UpdatedAt = time.Now().UTC().Add(-48 * time.Hour)
	fresh := NewTaskSnapshot(&models.Task{ID: "t-fresh", Status: models.TaskCompleted})
	for _, snap := range []*TaskSnapshot{old, fresh} {
		if err := store.SaveTask(snap); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := store.Purge(time.Now().UTC().Add(-24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if _, err := store.LoadTask("t-fresh"); err != nil {
		t.Errorf("recent terminal task should survive cutoff purge: %v", err)
	}
	if _, err := store.LoadTask("t-old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old terminal task should be purged, got %v", err)
	}
}

func TestWorkflowSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)

	snap := NewWorkflowSnapshot("wf-1", "release", "wf.yaml", []string{"build", "test"})
	snap.Steps["build"].Status = StepCompleted
	snap.Steps["build"].CostUSD = 0.5
	snap.Steps["test"].Status = StepFailed
	snap.Steps["test"].Error = "assertion failed"

	if err := store.SaveWorkflow(snap); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.LoadWorkflow("wf-1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Steps["build"].Status != StepCompleted {
		t.Errorf("unexpected build status: %s", loaded.Steps["build"].Status)
	}
	if loaded.Steps["test"].Error != "assertion failed" {
		t.Errorf("unexpected test error: %q", loaded.Steps["test"].Error)
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	store := newTestStore(t)

	snap := NewTaskSnapshot(&models.Task{ID: "t-1", Status: models.TaskRunning})
	for i := 0; i < 5; i++ {
		if err := store.SaveTask(snap); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(store.Dir(), "tasks"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 file, got %d", len(entries))
	}
}
