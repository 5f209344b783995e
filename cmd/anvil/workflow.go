package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/anvilcode/anvil/internal/history"
	"github.com/anvilcode/anvil/internal/workflow"
	"github.com/anvilcode/anvil/internal/workspace"
)

var (
	wfWorkers  int
	wfBudget   float64
	wfFailFast bool
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Run and validate multi-step workflows",
}

var workflowRunCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Execute a workflow definition",
	Long: `Run validates the workflow's dependency graph, then executes steps as
their dependencies complete, bounded by the worker count. A failed step
skips everything depending on it; unrelated steps keep running unless
--fail-fast is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

var workflowValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a workflow definition without running it",
	Args:  cobra.ExactArgs(1),
	RunE:  validateWorkflow,
}

var workflowStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show the step states of a workflow run",
	Args:  cobra.ExactArgs(1),
	RunE:  workflowStatus,
}

func init() {
	workflowRunCmd.Flags().IntVarP(&wfWorkers, "workers", "w", 0, "Concurrent step slots (default from config)")
	workflowRunCmd.Flags().Float64VarP(&wfBudget, "budget", "b", 0, "Shared cost ceiling in USD across all steps")
	workflowRunCmd.Flags().BoolVar(&wfFailFast, "fail-fast", false, "Stop dispatching after the first step failure")

	workflowCmd.AddCommand(workflowRunCmd)
	workflowCmd.AddCommand(workflowValidateCmd)
	workflowCmd.AddCommand(workflowStatusCmd)
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	def, err := workflow.Load(args[0])
	if err != nil {
		// Validation failures exit before any execution starts.
		fmt.Println(err)
		return exitWith(exitValidation)
	}

	a, err := newApp(true)
	if err != nil {
		return err
	}

	workers := wfWorkers
	if workers == 0 {
		workers = a.cfg.Parallel.Workers
	}

	runner := workflow.NewRunner(a.loops, a.store, &workspace.TempDirProvider{}, a.logger)
	res, err := runner.Run(cmd.Context(), def, workflow.Options{
		Workers:           workers,
		GlobalBudgetUSD:   wfBudget,
		FailFast:          wfFailFast || a.cfg.Parallel.FailFast,
		IsolateWorkspaces: a.cfg.Parallel.IsolateWorkspaces,
		DefinitionPath:    args[0],
		Loop:              a.loopConfig(""),
	})
	if err != nil {
		return err
	}

	totalIterations := 0
	for _, st := range res.Steps {
		totalIterations += st.Iterations
	}
	a.recordHistory(history.Entry{
		ID:         res.RunID,
		Kind:       "workflow",
		Name:       def.Name,
		Status:     string(res.Status),
		Iterations: totalIterations,
		CostUSD:    res.TotalCostUSD,
	})

	printWorkflowSummary(def, res)
	a.exit(workflowExitCode(res))
	return nil
}

func validateWorkflow(cmd *cobra.Command, args []string) error {
	def, err := workflow.Load(args[0])
	if err != nil {
		fmt.Println(err)
		return exitWith(exitValidation)
	}

	vres, err := def.Validate()
	if err != nil {
		fmt.Println(err)
		return exitWith(exitValidation)
	}

	graph, err := def.Graph()
	if err != nil {
		fmt.Println(err)
		return exitWith(exitValidation)
	}

	okColor.Printf("%s: %d steps, valid\n", def.Name, len(def.Steps))
	for i, group := range graph.ExecutionGroups() {
		fmt.Printf("  group %d: %v\n", i, group)
	}
	for _, w := range vres.Warnings {
		warnColor.Println("  warning: " + w)
	}
	return nil
}

func workflowStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	snap, err := a.store.ResolveWorkflow(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s  %s (%s)\n", headerStyle.Render("Workflow"), snap.Name, snap.ID[:8])
	fmt.Printf("Status: %s  Cost: $%.4f\n", taskLabel(snap.Status), snap.TotalCostUSD)
	names := make([]string, 0, len(snap.Steps))
	for name := range snap.Steps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := snap.Steps[name]
		line := fmt.Sprintf("  %-20s %-12s %2d iters  $%.4f", name, string(st.Status), st.Iterations, st.CostUSD)
		if st.Error != "" {
			line += "  " + failColor.Sprint(firstLine(st.Error))
		}
		fmt.Println(line)
	}
	return nil
}

// exitWith returns a sentinel that makes Execute exit with the given code
// without printing a second error.
func exitWith(code int) error {
	return exitCodeError{code: code}
}

type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
