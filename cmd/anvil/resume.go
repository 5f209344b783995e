package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anvilcode/anvil/internal/history"
	"github.com/anvilcode/anvil/internal/state"
	"github.com/anvilcode/anvil/internal/workflow"
	"github.com/anvilcode/anvil/internal/workspace"
	"github.com/anvilcode/anvil/pkg/models"
)

var (
	resumeFromStep string
	resumeDefFile  string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume an interrupted task or workflow",
	Long: `Resume picks up a persisted task or workflow by ID or unique ID prefix.
Tasks continue at the iteration after the last recorded one with their
accrued cost and session intact. Workflows skip steps already completed
and re-run from the first failed or pending step, or from --from-step.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeFromStep, "from-step", "", "Re-run a workflow from this step onward")
	resumeCmd.Flags().StringVarP(&resumeDefFile, "file", "f", "", "Workflow definition (default: path recorded in the snapshot)")
}

func runResume(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}

	// Try tasks first, then workflows. An ambiguous prefix within either
	// namespace is reported as-is.
	taskSnap, taskErr := a.store.ResolveTask(args[0])
	if taskErr == nil {
		return a.resumeTask(cmd, taskSnap)
	}
	var ambiguous *state.AmbiguousIDError
	if errors.As(taskErr, &ambiguous) {
		return taskErr
	}

	wfSnap, wfErr := a.store.ResolveWorkflow(args[0])
	if wfErr == nil {
		return a.resumeWorkflow(cmd, wfSnap)
	}
	if errors.As(wfErr, &ambiguous) {
		return wfErr
	}

	return fmt.Errorf("no task or workflow matches %q", args[0])
}

func (a *app) resumeTask(cmd *cobra.Command, snap *state.TaskSnapshot) error {
	task := &snap.Task
	res, err := a.loops.Resume(cmd.Context(), snap, a.loopConfig(""))
	if err != nil {
		return err
	}

	a.recordHistory(history.Entry{
		ID:         task.ID,
		Kind:       "task",
		Name:       models.Excerpt(task.Prompt),
		Model:      task.Model,
		Status:     string(res.Status),
		Iterations: res.Iterations,
		CostUSD:    res.TotalCostUSD,
		Usage:      res.Usage,
	})

	printLoopSummary(task, res)
	a.exit(loopExitCode(res.Status))
	return nil
}

func (a *app) resumeWorkflow(cmd *cobra.Command, snap *state.WorkflowSnapshot) error {
	defPath := resumeDefFile
	if defPath == "" {
		defPath = snap.Path
	}
	if defPath == "" {
		return fmt.Errorf("workflow %s has no recorded definition path; pass one with --file", snap.ID[:8])
	}

	def, err := workflow.Load(defPath)
	if err != nil {
		return err
	}

	runner := workflow.NewRunner(a.loops, a.store, &workspace.TempDirProvider{}, a.logger)
	res, err := runner.Resume(cmd.Context(), def, snap, workflow.Options{
		Workers:           a.cfg.Parallel.Workers,
		FailFast:          a.cfg.Parallel.FailFast,
		IsolateWorkspaces: a.cfg.Parallel.IsolateWorkspaces,
		FromStep:          resumeFromStep,
		DefinitionPath:    defPath,
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
