package workspace

import (
	"os"
	"testing"
)

func TestTempDirProviderIsolation(t *testing.T) {
	p := &TempDirProvider{Base: t.TempDir()}

	dirA, err := p.Acquire("task-a")
	if err != nil {
		t.Fatal(err)
	}
	dirB, err := p.Acquire("task-b")
	if err != nil {
		t.Fatal(err)
	}
	if dirA == dirB {
		t.Error("expected distinct workspaces per task")
	}

	if err := p.Release("task-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dirA); !os.IsNotExist(err) {
		t.Error("expected released workspace removed")
	}
	if _, err := os.Stat(dirB); err != nil {
		t.Error("expected unreleased workspace to survive")
	}
}

func TestSharedDirProvider(t *testing.T) {
	p := &SharedDirProvider{Dir: "/work"}
	a, _ := p.Acquire("x")
	b, _ := p.Acquire("y")
	if a != "/work" || b != "/work" {
		t.Errorf("expected shared dir, got %q and %q", a, b)
	}
	if err := p.Release("x"); err != nil {
		t.Errorf("release must be a no-op, got %v", err)
	}
}
