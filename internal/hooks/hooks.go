// Package hooks runs user-configured shell commands at loop lifecycle
// points. Hooks observe progress through the loop event sink; the loop
// itself never depends on them, and a failing hook never fails the run.
package hooks

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/anvilcode/anvil/internal/looper"
	"github.com/anvilcode/anvil/pkg/models"
)

// Config names the commands to run at each lifecycle point. Empty entries
// are skipped.
type Config struct {
	PreRun      string `yaml:"pre_run" mapstructure:"pre_run"`
	PostRun     string `yaml:"post_run" mapstructure:"post_run"`
	OnIteration string `yaml:"on_iteration" mapstructure:"on_iteration"`
	OnError     string `yaml:"on_error" mapstructure:"on_error"`
	OnComplete  string `yaml:"on_complete" mapstructure:"on_complete"`
	// Timeout bounds each hook command. Zero means 30s. The timeout
	// applies only to hook commands, never to agent executor calls.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// AbortOnFailure makes a failing pre_run hook abort the task instead
	// of being logged and ignored.
	AbortOnFailure bool `yaml:"abort_on_failure" mapstructure:"abort_on_failure"`
}

// Runner executes hook commands through the shell with task context in
// the environment.
type Runner struct {
	cfg    Config
	logger *zap.Logger
}

// NewRunner creates a hook runner.
func NewRunner(cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, logger: logger}
}

// PreRun fires before the first iteration of a task. With AbortOnFailure
// set, a failing pre_run hook returns an error so the caller can stop
// before dispatching anything.
func (r *Runner) PreRun(task *models.Task) error {
	err := r.exec("pre_run", r.cfg.PreRun, task, nil)
	if err != nil && r.cfg.AbortOnFailure {
		return fmt.Errorf("pre_run hook failed: %w", err)
	}
	return nil
}

// PostRun fires after the loop returns, regardless of outcome.
func (r *Runner) PostRun(task *models.Task, result *looper.Result) {
	env := map[string]string{
		"ANVIL_STATUS":   string(result.Status),
		"ANVIL_COST_USD": fmt.Sprintf("%.4f", result.TotalCostUSD),
	}
	r.exec("post_run", r.cfg.PostRun, task, env)
}

// Sink adapts the runner to the loop event sink.
func (r *Runner) Sink() looper.EventSink {
	return &sink{r: r}
}

type sink struct {
	r *Runner
}

func (s *sink) IterationCompleted(task *models.Task, rec models.IterationRecord) {
	env := map[string]string{
		"ANVIL_ITERATION": fmt.Sprintf("%d", rec.Iteration),
		"ANVIL_COST_USD":  fmt.Sprintf("%.4f", rec.CostUSD),
	}
	s.r.exec("on_iteration", s.r.cfg.OnIteration, task, env)
}

func (s *sink) LoopFailed(task *models.Task, err error) {
	s.r.exec("on_error", s.r.cfg.OnError, task, map[string]string{"ANVIL_ERROR": err.Error()})
}

func (s *sink) LoopFinished(task *models.Task, result *looper.Result) {
	if result.Status == looper.StatusCompleted {
		env := map[string]string{"ANVIL_COST_USD": fmt.Sprintf("%.4f", result.TotalCostUSD)}
		s.r.exec("on_complete", s.r.cfg.OnComplete, task, env)
	}
}

func (r *Runner) exec(name, command string, task *models.Task, extra map[string]string) error {
	if command == "" {
		return nil
	}
	timeout := r.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = append(os.Environ(),
		"ANVIL_TASK_ID="+task.ID,
		"ANVIL_MODEL="+task.Model,
	)
	for k, v := range extra {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		r.logger.Warn("hook failed",
			zap.String("hook", name),
			zap.String("task_id", task.ShortID()),
			zap.Error(err),
			zap.ByteString("output", out))
		return err
	}
	r.logger.Debug("hook ran", zap.String("hook", name), zap.String("task_id", task.ShortID()))
	return nil
}
