package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/anvilcode/anvil/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndList(t *testing.T) {
	db := openTestDB(t)

	entries := []Entry{
		{ID: "t1", Kind: "task", Name: "fix bug", Model: "sonnet", Status: "completed",
			Iterations: 3, CostUSD: 0.50, Usage: models.TokenUsage{InputTokens: 100, OutputTokens: 50}},
		{ID: "t2", Kind: "task", Name: "add feature", Model: "opus", Status: "failed",
			Iterations: 5, CostUSD: 1.25},
		{ID: "w1", Kind: "workflow", Name: "release", Model: "", Status: "completed",
			Iterations: 12, CostUSD: 3.00},
	}
	for _, e := range entries {
		if err := db.Record(e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.List(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
}

func TestTotalCost(t *testing.T) {
	db := openTestDB(t)

	now := time.Now().UTC()
	old := Entry{ID: "old", Kind: "task", Name: "x", Model: "sonnet", Status: "completed",
		CostUSD: 2.00, FinishedAt: now.Add(-48 * time.Hour)}
	recent := Entry{ID: "new", Kind: "task", Name: "y", Model: "sonnet", Status: "completed",
		CostUSD: 0.75, FinishedAt: now}
	for _, e := range []Entry{old, recent} {
		if err := db.Record(e); err != nil {
			t.Fatal(err)
		}
	}

	all, err := db.TotalCost(time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if all != 2.75 {
		t.Errorf("expected total 2.75, got %f", all)
	}

	day, err := db.TotalCost(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if day != 0.75 {
		t.Errorf("expected last-day total 0.75, got %f", day)
	}
}

func TestCostByModel(t *testing.T) {
	db := openTestDB(t)

	for _, e := range []Entry{
		{ID: "1", Kind: "task", Name: "a", Model: "sonnet", Status: "completed", CostUSD: 1.0},
		{ID: "2", Kind: "task", Name: "b", Model: "sonnet", Status: "completed", CostUSD: 0.5},
		{ID: "3", Kind: "task", Name: "c", Model: "haiku", Status: "completed", CostUSD: 0.1},
	} {
		if err := db.Record(e); err != nil {
			t.Fatal(err)
		}
	}

	byModel, err := db.CostByModel()
	if err != nil {
		t.Fatal(err)
	}
	if byModel["sonnet"] != 1.5 {
		t.Errorf("expected sonnet 1.5, got %f", byModel["sonnet"])
	}
	if byModel["haiku"] != 0.1 {
		t.Errorf("expected haiku 0.1, got %f", byModel["haiku"])
	}
}
