package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schedtools/schedtools/internal/daemon"
	"github.com/schedtools/schedtools/internal/sweep"
	"github.com/schedtools/schedtools/internal/wm"
)

var rerunCmd = &cobra.Command{
	Use:   "rerun [host]",
	Short: "Supervise tracked jobs, requeueing them before they time out",
	Long: `Run the supervisor: sweep the cluster queue on a fixed interval,
requeue jobs that are close to their walltime or were killed off-queue,
and persist the tracked set durably on the cluster.

The threshold is validated against the sweep interval at startup and
lowered when it would leave too little margin before the walltime.

Examples:
  schedtools rerun hpc                   # every 2 hours, threshold 90
  schedtools rerun hpc -t 95 -i 1
  schedtools rerun hpc --once            # single sweep, then exit
  schedtools rerun hpc -c                # leave originals running on rerun`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRerun,
}

var (
	rerunThreshold float64
	rerunInterval  float64
	rerunContinue  bool
	rerunOnce      bool
)

func init() {
	rootCmd.AddCommand(rerunCmd)

	rerunCmd.Flags().Float64VarP(&rerunThreshold, "threshold", "t", 0, "Percent completion above which to requeue (default from config)")
	rerunCmd.Flags().Float64VarP(&rerunInterval, "interval", "i", 0, "Sweep interval in hours (default from config)")
	rerunCmd.Flags().BoolVarP(&rerunContinue, "continue-on-rerun", "c", false, "Let the original job keep running after a resubmission")
	rerunCmd.Flags().BoolVar(&rerunOnce, "once", false, "Run a single sweep and exit")
}

func runRerun(cmd *cobra.Command, args []string) error {
	log := progLogger("rerun")

	target, err := hostTarget(args)
	if err != nil {
		return err
	}

	threshold := rerunThreshold
	if threshold == 0 {
		threshold = cfg.Threshold
	}
	interval := cfg.RerunInterval()
	if rerunInterval > 0 {
		interval = hoursToDuration(rerunInterval)
	}
	continueOnRerun := rerunContinue || cfg.ContinueOnRerun

	threshold = daemon.SafeThreshold(threshold, interval, cfg.ExpectedWalltime(), cfg.SafeBuffer, log)

	ch, err := dialChannel(target, log)
	if err != nil {
		return err
	}
	defer ch.Close()

	adapter, err := wm.Detect(ch, log)
	if err != nil {
		return err
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open tracking database: %w", err)
	}
	defer db.Close()

	engine := sweep.New(ch, adapter, db, sweep.Config{
		Threshold:       threshold,
		ContinueOnRerun: continueOnRerun,
	}, log)

	log.Info().Str("host", ch.Host()).Float64("threshold", threshold).
		Dur("interval", interval).Msg("supervisor starting")

	if rerunOnce {
		return engine.Sweep()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return daemon.New(engine.Sweep, interval, log).Run(ctx)
}
