package dag

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a structurally invalid graph: duplicate step
// names or a dependency on a step that does not exist.
type ConfigurationError struct {
	Step   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid step %q: %s", e.Step, e.Reason)
}

// CircularDependencyError reports a dependency cycle. Path lists the steps
// on the cycle in order, with the entry step repeated at the end.
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency: %s", strings.Join(e.Path, " -> "))
}
