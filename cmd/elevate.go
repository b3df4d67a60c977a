package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schedtools/schedtools/internal/wm"
)

var elevateCmd = &cobra.Command{
	Use:   "elevate <job-id>",
	Short: "Move a queued job into another queue",
	Long: `Move a queued job into a higher-priority queue or project by submitting
a duplicate there and deleting the original. Only queued jobs can be
elevated; running jobs are left alone.

Example:
  schedtools elevate 7013474.pbs --host hpc -q express -P exp-proj`,
	Args: cobra.ExactArgs(1),
	RunE: runElevate,
}

var (
	elevateQueue   string
	elevateProject string
)

func init() {
	rootCmd.AddCommand(elevateCmd)

	elevateCmd.Flags().StringVarP(&elevateQueue, "queue", "q", "", "Target queue")
	elevateCmd.Flags().StringVarP(&elevateProject, "project", "P", "", "Target project/account")
	elevateCmd.MarkFlagRequired("queue")
}

func runElevate(cmd *cobra.Command, args []string) error {
	log := progLogger("elevate")

	target, err := hostTarget(nil)
	if err != nil {
		return err
	}

	ch, err := dialChannel(target, log)
	if err != nil {
		return err
	}
	defer ch.Close()

	adapter, err := wm.Detect(ch, log)
	if err != nil {
		return err
	}

	live, err := adapter.GetJobs()
	if err != nil {
		return err
	}

	j := live.Get(args[0])
	if j == nil {
		return fmt.Errorf("job %s not found in the live queue", args[0])
	}

	schedulerID, err := adapter.ElevateJob(j, elevateQueue, elevateProject)
	if err != nil {
		return err
	}
	fmt.Printf("Elevated %s into %s as %s\n", args[0], elevateQueue, schedulerID)
	return nil
}
