package cmd

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/schedtools/schedtools/internal/job"
	"github.com/schedtools/schedtools/internal/store"
	"github.com/schedtools/schedtools/internal/wm"
)

var submitCmd = &cobra.Command{
	Use:   "submit [job-id...]",
	Short: "Submit tracked jobs to the scheduler",
	Long: `Submit tracked jobs. With job IDs, submits those; without, submits every
job still in the unsubmitted state. Run on the cluster head node.

Examples:
  schedtools submit                       # everything unsubmitted
  schedtools submit 5cfb9282-13c8-4e97    # one job`,
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	log := progLogger("submit")

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open tracking database: %w", err)
	}
	defer db.Close()

	var specs []job.JobSpec
	if len(args) > 0 {
		for _, id := range args {
			spec, err := store.Get(db, id)
			if err != nil {
				return err
			}
			if spec == nil {
				return fmt.Errorf("job %s is not tracked", id)
			}
			specs = append(specs, *spec)
		}
	} else {
		specs, err = store.ByState(db, job.StateUnsubmitted)
		if err != nil {
			return err
		}
		if len(specs) == 0 {
			fmt.Println("No unsubmitted jobs")
			return nil
		}
	}

	ch := localChannel(db, log)
	adapter, err := wm.Detect(ch, log)
	if err != nil {
		return err
	}

	for _, spec := range specs {
		if err := submitSpec(db, adapter, spec, log); err != nil {
			if errors.Is(err, wm.ErrQueueFull) {
				return fmt.Errorf("queue full, stopping: %w", err)
			}
			log.Error().Err(err).Str("job", spec.ID).Msg("submission failed")
		}
	}
	return nil
}

// submitSpec submits one tracked job and records the transition. The row
// stays unsubmitted when submission fails.
func submitSpec(db *sql.DB, adapter wm.WorkloadManager, spec job.JobSpec, log zerolog.Logger) error {
	schedulerID, err := adapter.SubmitJob(spec)
	if err != nil {
		return err
	}
	if err := store.UpdateState(db, spec.ID, job.StateQueued, ""); err != nil {
		log.Warn().Err(err).Str("job", spec.ID).Msg("submitted but could not record queued state")
	}
	fmt.Printf("Submitted %s as %s\n", spec.ID, schedulerID)
	return nil
}
