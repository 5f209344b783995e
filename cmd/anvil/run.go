package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/anvilcode/anvil/internal/history"
	"github.com/anvilcode/anvil/pkg/models"
)

var (
	runModel      string
	runMaxIter    int
	runBudget     float64
	runMarker     string
	runPromptFile string
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run one task to completion",
	Long: `Run drives the agent executor on a single task until it outputs the
completion marker, the budget is exhausted, or the iteration cap is hit.
Progress is persisted after every iteration; an interrupted run can be
picked up with 'anvil resume'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model alias or full name (default from config)")
	runCmd.Flags().IntVarP(&runMaxIter, "max-iterations", "i", 0, "Iteration cap (default from config)")
	runCmd.Flags().Float64VarP(&runBudget, "budget", "b", 0, "Cost ceiling in USD, 0 for unlimited")
	runCmd.Flags().StringVar(&runMarker, "marker", "", "Completion marker to look for")
	runCmd.Flags().StringVarP(&runPromptFile, "file", "f", "", "Read the prompt from a file")
}

func runTask(cmd *cobra.Command, args []string) error {
	prompt, err := resolvePrompt(args)
	if err != nil {
		return err
	}

	a, err := newApp(true)
	if err != nil {
		return err
	}

	model := runModel
	if model == "" {
		model = a.cfg.Defaults.Model
	}
	maxIter := runMaxIter
	if maxIter == 0 {
		maxIter = a.cfg.Defaults.MaxIterations
	}
	budget := runBudget
	if budget == 0 {
		budget = a.cfg.Defaults.BudgetUSD
	}

	task := models.NewTask(prompt, model, maxIter, budget)
	if err := a.hooks.PreRun(task); err != nil {
		return err
	}

	res, err := a.loops.Run(cmd.Context(), task, a.loopConfig(runMarker))
	if err != nil {
		return err
	}
	a.hooks.PostRun(task, res)

	a.recordHistory(history.Entry{
		ID:         task.ID,
		Kind:       "task",
		Name:       models.Excerpt(prompt),
		Model:      model,
		Status:     string(res.Status),
		Iterations: res.Iterations,
		CostUSD:    res.TotalCostUSD,
		Usage:      res.Usage,
	})

	printLoopSummary(task, res)
	a.exit(loopExitCode(res.Status))
	return nil
}

// resolvePrompt takes the prompt from the argument, --file, or stdin.
func resolvePrompt(args []string) (string, error) {
	if runPromptFile != "" {
		data, err := os.ReadFile(runPromptFile)
		if err != nil {
			return "", fmt.Errorf("read prompt file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if len(args) == 1 && args[0] != "" {
		return args[0], nil
	}
	return "", fmt.Errorf("no prompt given: pass it as an argument or with --file")
}
