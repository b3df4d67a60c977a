package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schedtools/schedtools/internal/sweep"
	"github.com/schedtools/schedtools/internal/wm"
)

var setMissingAlertsCmd = &cobra.Command{
	Use:   "set-missing-alerts",
	Short: "Flag tracked jobs missing from the scheduler queue",
	Long: `Scan the tracking database for jobs marked queued that the scheduler no
longer knows about, and move them to the alert state. Runs on the cluster
head node, so corrections land without a client connection.`,
	Args: cobra.NoArgs,
	RunE: runSetMissingAlerts,
}

func init() {
	rootCmd.AddCommand(setMissingAlertsCmd)
}

func runSetMissingAlerts(cmd *cobra.Command, args []string) error {
	log := progLogger("set-missing-alerts")

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open tracking database: %w", err)
	}
	defer db.Close()

	ch := localChannel(db, log)
	adapter, err := wm.Detect(ch, log)
	if err != nil {
		return err
	}
	return sweep.MissingAlerts(db, adapter, log)
}
