package cmd

import (
	"github.com/spf13/cobra"

	"github.com/schedtools/schedtools/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "schedtools",
	Short: "Track and automatically requeue batch jobs on PBS/SLURM clusters",
	Long: `Schedtools supervises batch jobs on PBS and SLURM clusters over SSH.

Tracked jobs survive client restarts, network partitions, and scheduler
kills: a periodic sweep compares the tracking records against the live
queue and requeues jobs that are about to time out or were killed
off-queue.`,
	SilenceUsage: true,
}

var (
	rootHost     string
	rootPassword bool
)

var cfg *config.Config

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(func() {
		loaded, err := config.Load()
		if err != nil {
			// Bad config is reported but doesn't block flag-driven use.
			logger := defaultLogger()
			logger.Warn().Err(err).Msg("could not load config file, using defaults")
		}
		cfg = loaded
	})

	rootCmd.PersistentFlags().StringVar(&rootHost, "host", "", "Cluster host (ssh config alias or ssh:// URL)")
	rootCmd.PersistentFlags().BoolVar(&rootPassword, "password", true, "Allow an interactive password prompt when key auth fails")
}
