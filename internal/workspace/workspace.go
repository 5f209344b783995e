// Package workspace hands out working directories for concurrent tasks.
// Isolated runs get an exclusive directory per task so concurrent
// filesystem mutation cannot collide; shared runs deliberately hand every
// task the same directory and leave coordination to the caller.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Provider acquires a working directory for a task and releases it after
// the task finishes.
type Provider interface {
	// Acquire returns the directory the task should run in.
	Acquire(taskID string) (string, error)
	// Release cleans up whatever Acquire created. Releasing an unknown
	// task is a no-op.
	Release(taskID string) error
}

// SharedDirProvider hands every task the same directory. Races between
// tasks are the caller's responsibility.
type SharedDirProvider struct {
	Dir string
}

func (p *SharedDirProvider) Acquire(string) (string, error) {
	return p.Dir, nil
}

func (p *SharedDirProvider) Release(string) error {
	return nil
}

// TempDirProvider creates one exclusive temp directory per task under a
// base directory and removes it on release.
type TempDirProvider struct {
	// Base is the parent directory. Empty uses the system temp dir.
	Base string
}

func (p *TempDirProvider) Acquire(taskID string) (string, error) {
	base := p.Base
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "anvil-ws-"+taskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

func (p *TempDirProvider) Release(taskID string) error {
	base := p.Base
	if base == "" {
		base = os.TempDir()
	}
	return os.RemoveAll(filepath.Join(base, "anvil-ws-"+taskID))
}
