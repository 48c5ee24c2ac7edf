// Package cli implements the entitlekit command line: the HTTP server, the
// queue worker and one-shot maintenance commands.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
}

// NewRootCommand creates the entitlekit root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "entitlekit",
		Short:         "Entitlements on top of a mirrored billing platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(
		NewServeCommand(opts),
		NewWorkerCommand(opts),
		NewMigrateCommand(opts),
		NewSyncCommand(opts),
		NewStateCommand(opts),
		NewPublishCommand(opts),
		NewRevenueCommand(opts),
	)
	return cmd
}
