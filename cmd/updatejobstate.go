package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/schedtools/schedtools/internal/job"
	"github.com/schedtools/schedtools/internal/shell"
)

var updateJobStateCmd = &cobra.Command{
	Use:   "update-job-state",
	Short: "Update a tracked job's state in the tracking database",
	Long: `Update the state of one tracked job. Meant to be called on the cluster
head node, typically from inside a jobscript: without --job-id the JOB_ID
environment variable identifies the calling job.

Examples:
  schedtools update-job-state --state running
  schedtools update-job-state --job-id 5cfb9282 --state failed --comment 'CUDA OOM'`,
	RunE: runUpdateJobState,
}

var (
	updateState   string
	updateJobID   string
	updateComment string
	updateOnFail  string
)

func init() {
	rootCmd.AddCommand(updateJobStateCmd)

	updateJobStateCmd.Flags().StringVar(&updateState, "state", "", "New state for the job")
	updateJobStateCmd.Flags().StringVar(&updateJobID, "job-id", "", "Tracked job ID (default: the JOB_ID environment variable)")
	updateJobStateCmd.Flags().StringVar(&updateComment, "comment", "", "Optional comment to record")
	updateJobStateCmd.Flags().StringVar(&updateOnFail, "on-fail", "raise", "What to do when the update fails: raise, warn, or ignore")
	updateJobStateCmd.MarkFlagRequired("state")
}

func runUpdateJobState(cmd *cobra.Command, args []string) error {
	log := progLogger("update-job-state")

	state := job.State(updateState)
	if !state.Valid() {
		return fmt.Errorf("unknown state %q", updateState)
	}

	jobID := updateJobID
	if jobID == "" {
		jobID = os.Getenv(job.JobIDEnv)
	}
	if jobID == "" {
		return fmt.Errorf("no job ID: pass --job-id or set %s", job.JobIDEnv)
	}

	onFail, err := parseOnFail(updateOnFail)
	if err != nil {
		return err
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open tracking database: %w", err)
	}
	defer db.Close()

	return localChannel(db, log).UpdateJobState(jobID, state, updateComment, onFail)
}

func parseOnFail(s string) (shell.OnFail, error) {
	switch s {
	case "raise":
		return shell.Raise, nil
	case "warn":
		return shell.Warn, nil
	case "ignore":
		return shell.Ignore, nil
	}
	return shell.Raise, fmt.Errorf("invalid on-fail policy %q", s)
}
