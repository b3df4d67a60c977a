package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schedtools/schedtools/internal/store"
)

var untrackCmd = &cobra.Command{
	Use:   "untrack <job-id>...",
	Short: "Remove jobs from the tracking database",
	Long: `Stop tracking jobs. The scheduler queue is untouched; a still-running
instance keeps running, it just stops being supervised.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUntrack,
}

func init() {
	rootCmd.AddCommand(untrackCmd)
}

func runUntrack(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open tracking database: %w", err)
	}
	defer db.Close()

	for _, id := range args {
		spec, err := store.Pop(db, id)
		if err != nil {
			return err
		}
		if spec == nil {
			fmt.Printf("%s: not tracked\n", id)
			continue
		}
		fmt.Printf("Untracked %s (%s)\n", spec.ID, spec.Name)
	}
	return nil
}
