package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X cadence/internal/cli.Version=...".
var Version = "0.1.0-dev"

type rootOptions struct {
	configPath string
}

// NewRootCmd builds the cadenced command tree. Each call returns a fresh
// tree so tests can run commands in parallel.
func NewRootCmd() *cobra.Command {
	o := &rootOptions{}
	root := &cobra.Command{
		Use:   "cadenced",
		Short: "A scheduled job runner",
		Long: `cadenced runs jobs on cron, interval and one-shot schedules.

Each job has a missed-execution policy (skip, catch_up or reschedule) that
decides what happens when a deadline passes while the host was asleep or the
process was stalled. Jobs are declared in a JSON or YAML file that is watched
and reapplied on change.

Start the daemon:
  cadenced run --config /etc/cadence/config.yaml

Check a config before deploying it:
  cadenced validate --config config.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", "./config.yaml", "config file (json or yaml)")

	root.AddCommand(
		newRunCmd(o),
		newValidateCmd(o),
		newNextCmd(o),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cadenced version %s\n", Version)
		},
	}
}
