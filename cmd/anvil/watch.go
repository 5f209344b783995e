package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/anvilcode/anvil/internal/watch"
	"github.com/anvilcode/anvil/pkg/models"
)

var (
	watchPaths    []string
	watchDebounce time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch [prompt]",
	Short: "Re-run a task whenever watched files change",
	Long: `Watch runs the task once, then re-runs it on every debounced change
under the watched paths. Each run is a fresh task with its own budget
and iteration cap. Stop with Ctrl-C.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringSliceVarP(&watchPaths, "path", "p", []string{"."}, "Files or directories to watch")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "Quiet period before a change triggers a run")
	watchCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model alias or full name (default from config)")
	watchCmd.Flags().IntVarP(&runMaxIter, "max-iterations", "i", 0, "Iteration cap per run (default from config)")
	watchCmd.Flags().Float64VarP(&runBudget, "budget", "b", 0, "Cost ceiling in USD per run, 0 for unlimited")
	watchCmd.Flags().StringVarP(&runPromptFile, "file", "f", "", "Read the prompt from a file")
}

func runWatch(cmd *cobra.Command, args []string) error {
	prompt, err := resolvePrompt(args)
	if err != nil {
		return err
	}

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.close()

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

	debounce := watchDebounce
	if debounce == 0 {
		debounce = a.cfg.Watch.Debounce
	}

	w, err := watch.New(watch.Config{
		Paths:        watchPaths,
		Debounce:     debounce,
		IgnoreHidden: true,
	}, a.logger)
	if err != nil {
		return err
	}
	defer w.Close()

	fmt.Printf("Watching %v. Ctrl-C to stop.\n", watchPaths)
	return w.Run(cmd.Context(), func(ctx context.Context) error {
		task := models.NewTask(prompt, model, maxIter, budget)
		res, err := a.loops.Run(ctx, task, a.loopConfig(""))
		if err != nil {
			return err
		}
		printLoopSummary(task, res)
		return nil
	})
}
