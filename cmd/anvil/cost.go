package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/anvilcode/anvil/internal/history"
)

var (
	costDays  int
	costLimit int
)

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Show accrued cost across recorded runs",
	RunE:  runCost,
}

func init() {
	costCmd.Flags().IntVar(&costDays, "days", 0, "Only count runs from the last N days (0 for all time)")
	costCmd.Flags().IntVarP(&costLimit, "limit", "n", 10, "Recent runs to list")
}

func runCost(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	db, err := history.Open(history.DefaultPath(a.store.Dir()))
	if err != nil {
		return err
	}
	defer db.Close()

	var since time.Time
	if costDays > 0 {
		since = time.Now().UTC().AddDate(0, 0, -costDays)
	}
	total, err := db.TotalCost(since)
	if err != nil {
		return err
	}

	if costDays > 0 {
		fmt.Printf("%s  $%.4f (last %d days)\n", headerStyle.Render("Total"), total, costDays)
	} else {
		fmt.Printf("%s  $%.4f\n", headerStyle.Render("Total"), total)
	}

	byModel, err := db.CostByModel()
	if err != nil {
		return err
	}
	if len(byModel) > 0 {
		names := make([]string, 0, len(byModel))
		for name := range byModel {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Println(headerStyle.Render("By model"))
		for _, name := range names {
			if name == "" {
				name = "(unset)"
			}
			fmt.Printf("  %-28s $%.4f\n", name, byModel[name])
		}
	}

	entries, err := db.List(costLimit)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		fmt.Println(headerStyle.Render("Recent runs"))
		for _, e := range entries {
			fmt.Printf("  %s  %-8s  %-12s  %2d iters  $%.4f  %s\n",
				e.FinishedAt.Local().Format("2006-01-02 15:04"),
				e.Kind, e.Status, e.Iterations, e.CostUSD, e.Name)
		}
	}
	return nil
}
