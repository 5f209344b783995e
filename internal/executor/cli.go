package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anvilcode/anvil/pkg/models"
)

// CLIExecutor runs iterations through the Claude Code CLI subprocess.
// Each Execute call launches one `claude` process with stream-json output
// and collects the final result event.
type CLIExecutor struct {
	// Binary is the CLI binary name. Defaults to "claude".
	Binary string

	logger *zap.Logger
}

// NewCLIExecutor creates a CLI executor.
func NewCLIExecutor(logger *zap.Logger) *CLIExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CLIExecutor{Binary: "claude", logger: logger}
}

// streamEvent is one parsed line of the CLI's stream-json output.
type streamEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`

	// system init fields
	SessionID string `json:"session_id"`

	// assistant fields
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`

	// result fields
	Result       string  `json:"result"`
	IsError      bool    `json:"is_error"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	DurationMs   int64   `json:"duration_ms"`
	Usage        struct {
		InputTokens              int64 `json:"input_tokens"`
		OutputTokens             int64 `json:"output_tokens"`
		CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

// Execute launches the subprocess and blocks until it exits or ctx is done.
func (e *CLIExecutor) Execute(ctx context.Context, req Request) (*Response, error) {
	tools := req.AllowedTools
	if len(tools) == 0 {
		tools = DefaultAllowedTools
	}

	args := []string{
		"--output-format", "stream-json",
		"--print",
		"--verbose",
		"--allowedTools", strings.Join(tools, ","),
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}
	args = append(args, "-p", req.Prompt)

	cmd := exec.CommandContext(ctx, e.binary(), args...)
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ExecutionError{Backend: "cli", Err: fmt.Errorf("create stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &ExecutionError{Backend: "cli", Err: fmt.Errorf("create stderr pipe: %w", err)}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &ExecutionError{Backend: "cli", Err: fmt.Errorf("start process: %w", err)}
	}
	e.logger.Debug("launched agent subprocess",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("model", req.Model),
		zap.String("session_id", req.SessionID))

	// Collect stderr concurrently so a failing process can be diagnosed.
	var stderrBuf strings.Builder
	var stderrMu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		buf := make([]byte, 16*1024)
		scanner.Buffer(buf, 256*1024)
		for scanner.Scan() {
			stderrMu.Lock()
			stderrBuf.Write(scanner.Bytes())
			stderrBuf.WriteByte('\n')
			stderrMu.Unlock()
		}
	}()

	resp, parseErr := e.collect(ctx, stdout, req)

	wg.Wait()
	waitErr := cmd.Wait()

	stderrMu.Lock()
	capturedStderr := strings.TrimSpace(stderrBuf.String())
	stderrMu.Unlock()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if waitErr != nil {
		return nil, &ExecutionError{
			Backend: "cli",
			Stderr:  capturedStderr,
			Err:     fmt.Errorf("process exited with error: %w", waitErr),
		}
	}
	if parseErr != nil {
		return nil, &ExecutionError{Backend: "cli", Stderr: capturedStderr, Err: parseErr}
	}

	if resp.DurationMs == 0 {
		resp.DurationMs = time.Since(start).Milliseconds()
	}
	return resp, nil
}

// collect reads stream-json lines from stdout until EOF and assembles
// the response from the init and result events.
func (e *CLIExecutor) collect(ctx context.Context, r io.Reader, req Request) (*Response, error) {
	scanner := bufio.NewScanner(r)
	// Large buffer for big assistant messages in a single JSON line.
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	resp := &Response{SessionID: req.SessionID}
	var assistantText strings.Builder
	sawResult := false

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			e.logger.Debug("skipping unparseable stream line", zap.Error(err))
			continue
		}

		switch ev.Type {
		case "system":
			if ev.Subtype == "init" && ev.SessionID != "" {
				resp.SessionID = ev.SessionID
			}
		case "assistant":
			for _, block := range ev.Message.Content {
				if block.Type == "text" && block.Text != "" {
					if assistantText.Len() > 0 {
						assistantText.WriteByte('\n')
					}
					assistantText.WriteString(block.Text)
				}
			}
		case "result":
			sawResult = true
			if ev.SessionID != "" {
				resp.SessionID = ev.SessionID
			}
			resp.CostUSD = ev.TotalCostUSD
			resp.DurationMs = ev.DurationMs
			resp.Usage = models.TokenUsage{
				InputTokens:      ev.Usage.InputTokens,
				OutputTokens:     ev.Usage.OutputTokens,
				CacheWriteTokens: ev.Usage.CacheCreationInputTokens,
				CacheReadTokens:  ev.Usage.CacheReadInputTokens,
			}
			if ev.Result != "" {
				resp.Output = ev.Result
			}
			if ev.IsError {
				return nil, fmt.Errorf("agent reported error: %s", ev.Result)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream output: %w", err)
	}
	if !sawResult {
		return nil, fmt.Errorf("stream ended without a result event")
	}
	// Fall back to accumulated assistant text when the result event
	// carried no final text.
	if resp.Output == "" {
		resp.Output = assistantText.String()
	}
	return resp, nil
}

func (e *CLIExecutor) binary() string {
	if e.Binary != "" {
		return e.Binary
	}
	return "claude"
}
