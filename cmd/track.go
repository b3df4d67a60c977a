package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schedtools/schedtools/internal/job"
	"github.com/schedtools/schedtools/internal/store"
	"github.com/schedtools/schedtools/internal/wm"
)

var trackCmd = &cobra.Command{
	Use:   "track <jobscript> <experiment-path>",
	Short: "Register a job for tracking",
	Long: `Register a job in the tracking database. The job gets a fresh tracked
ID, stable across every later resubmission, and starts in the unsubmitted
state. Run this on the cluster head node, where the tracking database
lives.

Examples:
  schedtools track run.pbs /rds/exp/run1
  schedtools track run.pbs /rds/exp/run1 --queue v1_gpu72 --submit
  schedtools track run.pbs /rds/exp/run1 --on-conflict skip`,
	Args: cobra.ExactArgs(2),
	RunE: runTrack,
}

var (
	trackQueue      string
	trackProject    string
	trackOnConflict string
	trackSubmit     bool
)

func init() {
	rootCmd.AddCommand(trackCmd)

	trackCmd.Flags().StringVarP(&trackQueue, "queue", "q", "", "Scheduler queue to submit into")
	trackCmd.Flags().StringVarP(&trackProject, "project", "P", "", "Project/account to bill")
	trackCmd.Flags().StringVar(&trackOnConflict, "on-conflict", string(store.Throw), "Conflict policy: update, skip, or throw")
	trackCmd.Flags().BoolVar(&trackSubmit, "submit", false, "Submit the job immediately after registering it")
}

func runTrack(cmd *cobra.Command, args []string) error {
	log := progLogger("track")

	onConflict := store.OnConflict(trackOnConflict)
	if !onConflict.Valid() {
		return fmt.Errorf("invalid conflict policy %q", trackOnConflict)
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open tracking database: %w", err)
	}
	defer db.Close()

	spec := job.NewUnsubmitted(args[0], args[1], trackQueue, trackProject, job.ClusterUnknown)
	if err := store.Upsert(db, []job.JobSpec{spec}, onConflict); err != nil {
		return fmt.Errorf("register job: %w", err)
	}
	fmt.Printf("Tracked %s as %s\n", spec.Name, spec.ID)

	if !trackSubmit {
		return nil
	}

	ch := localChannel(db, log)
	adapter, err := wm.Detect(ch, log)
	if err != nil {
		return err
	}
	return submitSpec(db, adapter, spec, log)
}
