package state

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no snapshot matches an ID or prefix.
var ErrNotFound = errors.New("snapshot not found")

// AmbiguousIDError is returned when an ID prefix matches more than one
// snapshot. Matches lists the full IDs so the caller can disambiguate.
type AmbiguousIDError struct {
	Prefix  string
	Matches []string
}

func (e *AmbiguousIDError) Error() string {
	return fmt.Sprintf("ambiguous id prefix %q matches %d snapshots: %s",
		e.Prefix, len(e.Matches), strings.Join(e.Matches, ", "))
}

// CorruptSnapshotError is returned when a snapshot file exists but cannot
// be decoded. The file is left in place for inspection.
type CorruptSnapshotError struct {
	Path string
	Err  error
}

func (e *CorruptSnapshotError) Error() string {
	return fmt.Sprintf("corrupt snapshot %s: %v", e.Path, e.Err)
}

func (e *CorruptSnapshotError) Unwrap() error {
	return e.Err
}
