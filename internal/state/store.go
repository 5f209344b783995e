// Package state persists task and workflow run snapshots as JSON documents
// under the state directory (.anvil by default). Writes are atomic: the
// snapshot is written to a temp file and renamed into place, so a crash
// never leaves a half-written snapshot behind.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultDirName is the state directory created under the project root.
const DefaultDirName = ".anvil"

// Store reads and writes snapshots under a base directory.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore creates a store rooted at dir, creating the layout if needed.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, sub := range []string{"tasks", "workflows"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the store's base directory.
func (s *Store) Dir() string {
	return s.dir
}

// SaveTask atomically writes a task snapshot.
func (s *Store) SaveTask(snap *TaskSnapshot) error {
	return s.write(s.taskPath(snap.Task.ID), snap)
}

// LoadTask reads a task snapshot by full ID.
func (s *Store) LoadTask(id string) (*TaskSnapshot, error) {
	var snap TaskSnapshot
	if err := s.read(s.taskPath(id), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ResolveTask loads a task snapshot by full ID or unique ID prefix.
func (s *Store) ResolveTask(prefix string) (*TaskSnapshot, error) {
	id, err := s.resolve(filepath.Join(s.dir, "tasks"), prefix)
	if err != nil {
		return nil, err
	}
	return s.LoadTask(id)
}

// ListTasks returns all task snapshots, newest first.
func (s *Store) ListTasks() ([]*TaskSnapshot, error) {
	ids, err := s.listIDs(filepath.Join(s.dir, "tasks"))
	if err != nil {
		return nil, err
	}
	snaps := make([]*TaskSnapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.LoadTask(id)
		if err != nil {
			// Skip corrupt snapshots when listing; surface them on
			// direct load instead.
			s.logger.Warn("skipping unreadable task snapshot", zap.String("id", id), zap.Error(err))
			continue
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].UpdatedAt.After(snaps[j].UpdatedAt)
	})
	return snaps, nil
}

// ListResumableTasks returns task snapshots that are not in a terminal state.
func (s *Store) ListResumableTasks() ([]*TaskSnapshot, error) {
	all, err := s.ListTasks()
	if err != nil {
		return nil, err
	}
	resumable := all[:0]
	for _, snap := range all {
		if snap.Resumable() {
			resumable = append(resumable, snap)
		}
	}
	return resumable, nil
}

// DeleteTask removes a task snapshot by full ID.
func (s *Store) DeleteTask(id string) error {
	if err := os.Remove(s.taskPath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete task snapshot: %w", err)
	}
	return nil
}

// SaveWorkflow atomically writes a workflow snapshot.
func (s *Store) SaveWorkflow(snap *WorkflowSnapshot) error {
	return s.write(s.workflowPath(snap.ID), snap)
}

// LoadWorkflow reads a workflow snapshot by full ID.
func (s *Store) LoadWorkflow(id string) (*WorkflowSnapshot, error) {
	var snap WorkflowSnapshot
	if err := s.read(s.workflowPath(id), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ResolveWorkflow loads a workflow snapshot by full ID or unique ID prefix.
func (s *Store) ResolveWorkflow(prefix string) (*WorkflowSnapshot, error) {
	id, err := s.resolve(filepath.Join(s.dir, "workflows"), prefix)
	if err != nil {
		return nil, err
	}
	return s.LoadWorkflow(id)
}

// ListWorkflows returns all workflow snapshots, newest first.
func (s *Store) ListWorkflows() ([]*WorkflowSnapshot, error) {
	ids, err := s.listIDs(filepath.Join(s.dir, "workflows"))
	if err != nil {
		return nil, err
	}
	snaps := make([]*WorkflowSnapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.LoadWorkflow(id)
		if err != nil {
			s.logger.Warn("skipping unreadable workflow snapshot", zap.String("id", id), zap.Error(err))
			continue
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].UpdatedAt.After(snaps[j].UpdatedAt)
	})
	return snaps, nil
}

// DeleteWorkflow removes a workflow snapshot by full ID.
func (s *Store) DeleteWorkflow(id string) error {
	if err := os.Remove(s.workflowPath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete workflow snapshot: %w", err)
	}
	return nil
}

// Purge deletes terminal snapshots last touched before cutoff and returns
// how many were removed. A zero cutoff removes all terminal snapshots.
// Non-terminal snapshots are kept so in-flight and resumable runs survive.
func (s *Store) Purge(cutoff time.Time) (int, error) {
	removed := 0

	tasks, err := s.ListTasks()
	if err != nil {
		return 0, err
	}
	for _, snap := range tasks {
		if snap.Task.Status.IsTerminal() && (cutoff.IsZero() || snap.UpdatedAt.Before(cutoff)) {
			if err := s.DeleteTask(snap.Task.ID); err != nil {
				return removed, err
			}
			removed++
		}
	}

	workflows, err := s.ListWorkflows()
	if err != nil {
		return removed, err
	}
	for _, snap := range workflows {
		if snap.Status.IsTerminal() && (cutoff.IsZero() || snap.UpdatedAt.Before(cutoff)) {
			if err := s.DeleteWorkflow(snap.ID); err != nil {
				return removed, err
			}
			removed++
		}
	}

	return removed, nil
}

func (s *Store) taskPath(id string) string {
	return filepath.Join(s.dir, "tasks", id+".json")
}

func (s *Store) workflowPath(id string) string {
	return filepath.Join(s.dir, "workflows", id+".json")
}

// write marshals v and renames it into place.
func (s *Store) write(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func (s *Store) read(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &CorruptSnapshotError{Path: path, Err: err}
	}
	return nil
}

// resolve finds the single snapshot ID in dir matching the given full ID
// or prefix.
func (s *Store) resolve(dir, prefix string) (string, error) {
	if prefix == "" {
		return "", ErrNotFound
	}
	ids, err := s.listIDs(dir)
	if err != nil {
		return "", err
	}

	var matches []string
	for _, id := range ids {
		if id == prefix {
			// Exact match wins even when other IDs share the prefix.
			return id, nil
		}
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}

	switch len(matches) {
	case 0:
		return "", ErrNotFound
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", &AmbiguousIDError{Prefix: prefix, Matches: matches}
	}
}

func (s *Store) listIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}
