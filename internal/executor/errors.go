package executor

import "fmt"

// ExecutionError wraps a backend failure with enough context to decide
// whether the task should fail or be retried.
type ExecutionError struct {
	// Backend names the executor that failed ("cli" or "api").
	Backend string
	// Stderr holds captured stderr output for subprocess backends.
	Stderr string
	// Err is the underlying error.
	Err error
}

func (e *ExecutionError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s executor: %v; stderr: %s", e.Backend, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s executor: %v", e.Backend, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
