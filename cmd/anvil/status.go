package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anvilcode/anvil/internal/state"
	"github.com/anvilcode/anvil/pkg/models"
)

var statusAll bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List resumable tasks and workflows",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusAll, "all", "a", false, "Include finished runs")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	tasks, err := a.store.ListTasks()
	if err != nil {
		return err
	}
	workflows, err := a.store.ListWorkflows()
	if err != nil {
		return err
	}

	shown := 0
	fmt.Println(headerStyle.Render("Tasks"))
	for _, snap := range tasks {
		if !statusAll && !snap.Resumable() {
			continue
		}
		shown++
		fmt.Printf("  %s  %-12s  %2d iters  $%.4f  %s\n",
			snap.Task.ShortID(), taskLabel(snap.Task.Status),
			snap.IterationsDone(), snap.TotalCostUSD,
			models.Excerpt(firstLine(snap.Task.Prompt)))
	}

	fmt.Println(headerStyle.Render("Workflows"))
	for _, snap := range workflows {
		if !statusAll && !snap.Resumable() {
			continue
		}
		shown++
		done := 0
		for _, st := range snap.Steps {
			if st.Status == state.StepCompleted {
				done++
			}
		}
		fmt.Printf("  %s  %-12s  %d/%d steps  $%.4f  %s\n",
			snap.ID[:8], taskLabel(snap.Status), done, len(snap.Steps), snap.TotalCostUSD, snap.Name)
	}

	if shown == 0 {
		fmt.Println("Nothing to resume.")
	}
	return nil
}

func taskLabel(s models.TaskStatus) string {
	switch s {
	case models.TaskCompleted:
		return okColor.Sprint(string(s))
	case models.TaskFailed:
		return failColor.Sprint(string(s))
	default:
		return warnColor.Sprint(string(s))
	}
}
