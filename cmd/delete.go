package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schedtools/schedtools/internal/store"
	"github.com/schedtools/schedtools/internal/sweep"
	"github.com/schedtools/schedtools/internal/wm"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [job-id...]",
	Short: "Delete jobs from the scheduler queue and the tracking database",
	Long: `Delete jobs: remove them from the live scheduler queue when present and
drop their tracking rows. With --duplicates, instead scan the live queue
for jobs sharing a jobscript and delete all but the first. Run on the
cluster head node.

Examples:
  schedtools delete 5cfb9282-13c8-4e97
  schedtools delete --duplicates`,
	RunE: runDelete,
}

var deleteDuplicates bool

func init() {
	rootCmd.AddCommand(deleteCmd)

	deleteCmd.Flags().BoolVar(&deleteDuplicates, "duplicates", false, "Delete live jobs duplicating another job's jobscript")
}

func runDelete(cmd *cobra.Command, args []string) error {
	log := progLogger("delete")

	if !deleteDuplicates && len(args) == 0 {
		return fmt.Errorf("nothing to delete: pass job IDs or --duplicates")
	}

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

	live, err := adapter.GetJobs()
	if err != nil {
		return err
	}

	if deleteDuplicates {
		deleted := sweep.DeleteDuplicates(adapter, live, log)
		fmt.Printf("Deleted %d duplicate job(s)\n", deleted)
		return nil
	}

	for _, id := range args {
		if j := live.Get(id); j != nil {
			if err := adapter.DeleteJob(j.SchedulerID); err != nil {
				log.Warn().Err(err).Str("job", id).Msg("could not delete from queue")
			}
		}
		spec, err := store.Pop(db, id)
		if err != nil {
			return err
		}
		if spec != nil {
			fmt.Printf("Deleted %s (%s)\n", spec.ID, spec.Name)
		} else {
			fmt.Printf("Deleted %s\n", id)
		}
	}
	return nil
}
