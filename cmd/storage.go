package cmd

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/schedtools/schedtools/internal/daemon"
	"github.com/schedtools/schedtools/internal/sweep"
	"github.com/schedtools/schedtools/internal/wm"
)

var storageCmd = &cobra.Command{
	Use:   "storage [host]",
	Short: "Watch cluster storage quotas",
	Long: `Periodically parse the cluster's login banner for storage quotas and
raise error-level logs when any partition is close to full.

Examples:
  schedtools storage hpc
  schedtools storage hpc --threshold 85 --interval-days 0.5
  schedtools storage hpc --once`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStorage,
}

var (
	storageThreshold float64
	storageInterval  float64
	storageOnce      bool
)

func init() {
	rootCmd.AddCommand(storageCmd)

	storageCmd.Flags().Float64Var(&storageThreshold, "threshold", 0, "Percent usage above which to raise errors (default from config)")
	storageCmd.Flags().Float64Var(&storageInterval, "interval-days", 0, "Check interval in days (default from config)")
	storageCmd.Flags().BoolVar(&storageOnce, "once", false, "Run a single check and exit")
}

func runStorage(cmd *cobra.Command, args []string) error {
	log := progLogger("storage")

	target, err := hostTarget(args)
	if err != nil {
		return err
	}

	threshold := storageThreshold
	if threshold == 0 {
		threshold = cfg.StorageThreshold
	}
	interval := cfg.StorageInterval()
	if storageInterval > 0 {
		interval = time.Duration(storageInterval * 24 * float64(time.Hour))
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

	check := func() error {
		sweep.CheckStorage(adapter, threshold, log)
		return nil
	}

	if storageOnce {
		return check()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return daemon.New(check, interval, log).Run(ctx)
}
