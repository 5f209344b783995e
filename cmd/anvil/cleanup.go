package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupAll bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove snapshots of finished runs",
	Long: `Cleanup deletes task and workflow snapshots in a terminal state
(completed or failed) older than the configured retention period.
Interrupted and running snapshots are kept so they stay resumable.
Run history is unaffected.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Remove terminal snapshots regardless of age")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	var cutoff time.Time
	if !cleanupAll && a.cfg.State.RetentionDays > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -a.cfg.State.RetentionDays)
	}

	removed, err := a.store.Purge(cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d snapshot(s).\n", removed)
	return nil
}
