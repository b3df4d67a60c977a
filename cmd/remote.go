package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var remoteCmd = &cobra.Command{
	Use:   "remote <host> <command>...",
	Short: "Run an arbitrary command on the cluster",
	Long: `Run a shell command through the persistent channel and mirror its
output. The process exits with the remote command's exit code.

Examples:
  schedtools remote hpc qstat
  schedtools remote hpc 'ls -la $HOME/.tracking'`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRemote,
}

func init() {
	rootCmd.AddCommand(remoteCmd)
}

func runRemote(cmd *cobra.Command, args []string) error {
	log := progLogger("remote")

	ch, err := dialChannel(args[0], log)
	if err != nil {
		return err
	}
	defer ch.Close()

	result, err := ch.Execute(strings.Join(args[1:], " "))
	if err != nil {
		return err
	}

	fmt.Fprint(os.Stdout, result.Stdout)
	fmt.Fprint(os.Stderr, result.Stderr)
	if result.Exit != 0 {
		ch.Close()
		os.Exit(result.Exit)
	}
	return nil
}
