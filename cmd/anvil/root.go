// Command anvil drives an agent executor through iterative tasks, parallel
// batches, and dependency-ordered workflows, all resumable after
// interruption.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Exit codes. Validation failures exit before any execution starts.
const (
	exitOK            = 0
	exitError         = 1
	exitMaxIterations = 2
	exitBudget        = 3
	exitValidation    = 4
)

var (
	flagVerbose    bool
	flagConfigRoot string
)

var rootCmd = &cobra.Command{
	Use:   "anvil",
	Short: "Iterative agent task orchestrator",
	Long: `Anvil drives a coding agent through a task until it signals completion,
enforcing iteration caps and cost budgets, and persisting progress so any
interrupted run can be resumed.

Beyond single tasks it runs bounded-concurrency batches and
dependency-ordered multi-step workflows, with shared budgets, fail-fast,
and per-task workspace isolation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Interrupt signals cancel the command
// context so in-flight work persists its state before exiting.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var coded exitCodeError
		if errors.As(err, &coded) {
			os.Exit(coded.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitError)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagConfigRoot, "project", "", "Project root (default: current directory)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(parallelCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(costCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger. Debug level with --verbose,
// otherwise warnings and up so agent output stays readable.
func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if flagVerbose {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}

// checkAgentCLI verifies the claude binary is reachable for the cli backend.
func checkAgentCLI() error {
	if _, err := exec.LookPath("claude"); err != nil {
		return fmt.Errorf("claude CLI not found in PATH\n\n" +
			"Anvil's default backend drives the Claude Code CLI.\n\n" +
			"Install it with:\n" +
			"  npm install -g @anthropic-ai/claude-code\n\n" +
			"or switch to the direct API backend with executor.backend: api")
	}
	return nil
}
