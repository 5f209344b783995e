package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/anvilcode/anvil/internal/history"
	"github.com/anvilcode/anvil/internal/looper"
	"github.com/anvilcode/anvil/internal/parallel"
	"github.com/anvilcode/anvil/internal/state"
	"github.com/anvilcode/anvil/internal/workflow"
	"github.com/anvilcode/anvil/pkg/models"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	warnColor = color.New(color.FgYellow)
)

func statusLabel(s looper.Status) string {
	switch s {
	case looper.StatusCompleted:
		return okColor.Sprint("completed")
	case looper.StatusFailed:
		return failColor.Sprint("failed")
	default:
		return warnColor.Sprint(string(s))
	}
}

// printLoopSummary renders the result of one task run.
func printLoopSummary(task *models.Task, res *looper.Result) {
	body := fmt.Sprintf("%s  %s\nStatus:     %s\nIterations: %d\nCost:       $%.4f",
		headerStyle.Render("Task"), task.ShortID(),
		statusLabel(res.Status), res.Iterations, res.TotalCostUSD)
	if res.Reason != "" {
		body += "\nReason:     " + res.Reason
	}
	if res.Err != nil {
		body += "\nError:      " + res.Err.Error()
	}
	fmt.Println(boxStyle.Render(body))
}

// printParallelSummary renders a parallel run, one line per task.
func printParallelSummary(tasks []*models.Task, res *parallel.Result) {
	fmt.Println(headerStyle.Render("Parallel run"))
	for _, task := range tasks {
		r := res.PerTask[task.ID]
		if r == nil {
			continue
		}
		line := fmt.Sprintf("  %s  %-12s  %2d iters  $%.4f", task.ShortID(), statusLabel(r.Status), r.Iterations, r.TotalCostUSD)
		if r.Err != nil {
			line += "  " + failColor.Sprint(firstLine(r.Err.Error()))
		}
		fmt.Println(line)
	}
	fmt.Printf("Total: $%.4f  (%d succeeded, %d failed)\n", res.TotalCostUSD, res.Succeeded, res.Failed)
	if res.HaltedEarly {
		warnColor.Printf("Halted early: %s\n", res.HaltReason)
	}
	if res.DroppedEvents > 0 {
		warnColor.Printf("%d progress events dropped\n", res.DroppedEvents)
	}
}

// printWorkflowSummary renders a workflow run, one line per step in
// declaration order.
func printWorkflowSummary(def *workflow.Definition, res *workflow.Result) {
	fmt.Println(headerStyle.Render("Workflow " + res.Name))
	for _, name := range def.StepNames() {
		st := res.Steps[name]
		if st == nil {
			continue
		}
		var label string
		switch st.Status {
		case state.StepCompleted:
			label = okColor.Sprint("completed")
		case state.StepFailed:
			label = failColor.Sprint("failed")
		case state.StepSkipped:
			label = warnColor.Sprint("skipped")
		default:
			label = warnColor.Sprint(string(st.Status))
		}
		line := fmt.Sprintf("  %-20s %-12s $%.4f", name, label, st.CostUSD)
		if st.Error != "" {
			line += "  " + failColor.Sprint(firstLine(st.Error))
		}
		fmt.Println(line)
	}
	fmt.Printf("Total: $%.4f  run %s\n", res.TotalCostUSD, res.RunID[:8])
	if res.HaltedEarly {
		warnColor.Printf("Halted early: %s\n", res.HaltReason)
	}
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}

// loopExitCode maps a loop status to the process exit code.
func loopExitCode(s looper.Status) int {
	switch s {
	case looper.StatusCompleted:
		return exitOK
	case looper.StatusMaxIterations:
		return exitMaxIterations
	case looper.StatusBudgetExceeded:
		return exitBudget
	default:
		return exitError
	}
}

// workflowExitCode reflects the worst step status observed.
func workflowExitCode(res *workflow.Result) int {
	if res.Status == models.TaskCompleted {
		return exitOK
	}
	return exitError
}

// recordHistory writes one finished run to the cost ledger. Best effort:
// a history failure never changes the command outcome.
func (a *app) recordHistory(entry history.Entry) {
	db, err := history.Open(history.DefaultPath(a.store.Dir()))
	if err != nil {
		a.logger.Warn("history unavailable")
		return
	}
	defer db.Close()
	if err := db.Record(entry); err != nil {
		a.logger.Warn("history record failed")
	}
}

// exit flushes and exits with the given code.
func (a *app) exit(code int) {
	a.close()
	if code != exitOK {
		os.Exit(code)
	}
}
