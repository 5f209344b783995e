// Package executor abstracts the agent backend that performs one iteration
// of work. The loop engine depends only on the Executor interface; the
// concrete backends are the Claude Code CLI subprocess and the Anthropic API.
package executor

import (
	"context"

	"github.com/anvilcode/anvil/pkg/models"
)

// Request describes one executor invocation.
type Request struct {
	// Prompt is the full prompt for this invocation.
	Prompt string
	// Model is the model alias or full model name. Empty uses the backend default.
	Model string
	// AllowedTools lists tool names the agent may use without prompting.
	AllowedTools []string
	// SessionID resumes an existing session when non-empty.
	SessionID string
	// WorkDir is the working directory for the invocation. Empty means
	// the current directory.
	WorkDir string
}

// Response is the outcome of one executor invocation.
type Response struct {
	// Output is the final assistant output text.
	Output string
	// SessionID identifies the session for continuation, if the backend
	// supports sessions.
	SessionID string
	// Usage holds the token counts reported by the backend.
	Usage models.TokenUsage
	// CostUSD is the backend-reported cost, or zero if the backend does
	// not report cost and the caller must price Usage itself.
	CostUSD float64
	// DurationMs is the wall-clock duration of the invocation.
	DurationMs int64
}

// Executor runs one agent invocation to completion.
// Implementations must honor ctx cancellation and return an
// *ExecutionError for backend failures.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// DefaultAllowedTools is the tool set granted when the caller does not
// specify one.
var DefaultAllowedTools = []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep", "WebFetch"}
