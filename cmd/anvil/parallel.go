package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/anvilcode/anvil/internal/history"
	"github.com/anvilcode/anvil/internal/parallel"
	"github.com/anvilcode/anvil/internal/workspace"
	"github.com/anvilcode/anvil/pkg/models"
)

var (
	parWorkers  int
	parBudget   float64
	parFailFast bool
	parShared   bool
	parModel    string
	parMaxIter  int
)

var parallelCmd = &cobra.Command{
	Use:   "parallel [prompt]...",
	Short: "Run independent tasks under a bounded worker pool",
	Long: `Parallel runs several independent tasks concurrently. Prompts come from
arguments or, with --file, one per non-empty line. A shared budget caps
cost across all tasks; with --fail-fast the first failure stops all
further dispatch while in-flight iterations finish.`,
	RunE: runParallel,
}

var parPromptsFile string

func init() {
	parallelCmd.Flags().IntVarP(&parWorkers, "workers", "w", 0, "Concurrent worker slots (default from config)")
	parallelCmd.Flags().Float64VarP(&parBudget, "budget", "b", 0, "Shared cost ceiling in USD across all tasks")
	parallelCmd.Flags().BoolVar(&parFailFast, "fail-fast", false, "Stop dispatching after the first task failure")
	parallelCmd.Flags().BoolVar(&parShared, "shared-workspace", false, "Run all tasks in the current directory (no isolation)")
	parallelCmd.Flags().StringVarP(&parModel, "model", "m", "", "Model for all tasks")
	parallelCmd.Flags().IntVarP(&parMaxIter, "max-iterations", "i", 0, "Per-task iteration cap")
	parallelCmd.Flags().StringVarP(&parPromptsFile, "file", "f", "", "Read prompts from a file, one per line")
}

func runParallel(cmd *cobra.Command, args []string) error {
	prompts, err := collectPrompts(args)
	if err != nil {
		return err
	}

	a, err := newApp(true)
	if err != nil {
		return err
	}

	model := parModel
	if model == "" {
		model = a.cfg.Defaults.Model
	}
	maxIter := parMaxIter
	if maxIter == 0 {
		maxIter = a.cfg.Defaults.MaxIterations
	}
	workers := parWorkers
	if workers == 0 {
		workers = a.cfg.Parallel.Workers
	}
	budget := parBudget
	if budget == 0 {
		budget = a.cfg.Parallel.GlobalBudgetUSD
	}
	isolate := a.cfg.Parallel.IsolateWorkspaces && !parShared

	tasks := make([]*models.Task, len(prompts))
	for i, prompt := range prompts {
		tasks[i] = models.NewTask(prompt, model, maxIter, 0)
	}

	pool := parallel.NewPool(a.loops, &workspace.TempDirProvider{}, a.logger)

	// Drain events in the background so slow terminals never stall workers.
	go func() {
		for range pool.Events() {
		}
	}()

	res, err := pool.Run(cmd.Context(), tasks, parallel.Config{
		Workers:           workers,
		GlobalBudgetUSD:   budget,
		FailFast:          parFailFast || a.cfg.Parallel.FailFast,
		IsolateWorkspaces: isolate,
	}, a.loopConfig(""))
	if err != nil {
		return err
	}

	for _, task := range tasks {
		if r := res.PerTask[task.ID]; r != nil {
			a.recordHistory(history.Entry{
				ID:         task.ID,
				Kind:       "task",
				Name:       models.Excerpt(task.Prompt),
				Model:      model,
				Status:     string(r.Status),
				Iterations: r.Iterations,
				CostUSD:    r.TotalCostUSD,
				Usage:      r.Usage,
			})
		}
	}

	printParallelSummary(tasks, res)

	code := exitOK
	switch {
	case res.HaltedEarly && res.HaltReason == parallel.HaltBudgetExceeded:
		code = exitBudget
	case res.Failed > 0:
		code = exitError
	case res.Succeeded < len(tasks):
		code = exitError
	}
	a.exit(code)
	return nil
}

func collectPrompts(args []string) ([]string, error) {
	if parPromptsFile != "" {
		data, err := os.ReadFile(parPromptsFile)
		if err != nil {
			return nil, fmt.Errorf("read prompts file: %w", err)
		}
		var prompts []string
		for _, line := range strings.Split(string(data), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				prompts = append(prompts, line)
			}
		}
		if len(prompts) == 0 {
			return nil, fmt.Errorf("prompts file %s is empty", parPromptsFile)
		}
		return prompts, nil
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("no prompts given: pass them as arguments or with --file")
	}
	return args, nil
}
