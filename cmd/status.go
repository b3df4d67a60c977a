package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/schedtools/schedtools/internal/job"
	"github.com/schedtools/schedtools/internal/shell"
	"github.com/schedtools/schedtools/internal/store"
	"github.com/schedtools/schedtools/internal/wm"
)

var statusCmd = &cobra.Command{
	Use:   "status [host]",
	Short: "Show the cluster's live queue",
	Long: `List the jobs currently on the scheduler queue.

Examples:
  schedtools status hpc
  schedtools status hpc --owner jdoe
  schedtools status hpc --state running
  schedtools status hpc --name 'resnet.*'
  schedtools status hpc --tracked        # the cluster's tracking records`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var (
	statusOwner   string
	statusState   string
	statusName    string
	statusTracked bool
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusOwner, "owner", "", "Only jobs owned by this user (user or user@host)")
	statusCmd.Flags().StringVar(&statusState, "state", "", "Only jobs in this state")
	statusCmd.Flags().StringVar(&statusName, "name", "", "Only jobs whose name matches this regexp")
	statusCmd.Flags().BoolVar(&statusTracked, "tracked", false, "Show the cluster's tracking records instead of the live queue")
}

func runStatus(cmd *cobra.Command, args []string) error {
	log := progLogger("status")

	target, err := hostTarget(args)
	if err != nil {
		return err
	}

	ch, err := dialChannel(target, log)
	if err != nil {
		return err
	}
	defer ch.Close()

	if statusTracked {
		return printTracked(ch, log)
	}

	adapter, err := wm.Detect(ch, log)
	if err != nil {
		return err
	}

	queue, err := adapter.GetJobs()
	if err != nil {
		return err
	}

	if statusOwner != "" {
		queue = queue.FilterOwner(statusOwner)
	}
	if statusState != "" {
		state := job.State(statusState)
		if !state.Valid() {
			return fmt.Errorf("unknown state %q", statusState)
		}
		queue = queue.FilterState(state)
	}
	if statusName != "" {
		queue, err = queue.FilterName(statusName)
		if err != nil {
			return err
		}
	}

	return printQueue(queue)
}

// printTracked pulls a read-only copy of the cluster's tracking database
// and lists its rows. Stale reads are acceptable; nothing is written back.
func printTracked(ch shell.CommandChannel, log zerolog.Logger) error {
	rdb, err := store.PullRemote(ch, "")
	if err != nil {
		return err
	}
	defer rdb.Close()

	tracking, err := store.NewTrackingQueue(rdb.DB, log)
	if err != nil {
		return err
	}

	queue := tracking.Queue()
	if queue.Len() == 0 {
		fmt.Println("No tracked jobs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE\tQUEUE\tMODIFIED\tCOMMENT")
	for _, j := range queue.Jobs() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Name, j.State, j.Queue,
			j.ModifiedTime.Format("01/02 15:04"), j.Comment)
	}
	return w.Flush()
}

func printQueue(queue *job.Queue) error {
	if queue.Len() == 0 {
		fmt.Println("No jobs to show")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCHEDULER ID\tNAME\tOWNER\tSTATE\t%DONE\tWALLTIME")
	for _, j := range queue.Jobs() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f\t%s\n",
			j.SchedulerID, j.Name, j.OwnerName(), j.State, j.PercentCompletion(), j.Walltime())
	}
	return w.Flush()
}
