package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/dmitrymomot/entitlekit/pkg/logger"
	"github.com/dmitrymomot/entitlekit/pkg/platform"
)

// NewSyncCommand creates the sync command, which starts a full sync of one
// account. The worker carries it out.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <account>",
		Short: "Start a full sync of a connected account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logger.WithAccount(cmd.Context(), args[0])
			a, err := newApp(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			job, err := a.syncer.StartFullSync(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "sync job %d started (%s/%s)\n", job.ID, job.Mode, job.Step)
			return err
		},
	}
}

type StateOptions struct {
	*RootOptions
	Output string
}

// NewStateCommand creates the state command, which prints the resolved
// state of one customer.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "state <account> <customer>",
		Short: "Print a customer's entitlement state",
		Args:  cobra.ExactArgs(2),
		PreRunE: func(*cobra.Command, []string) error {
			if opts.Output != outputJSON && opts.Output != outputYAML {
				return fmt.Errorf("invalid output %q: must be %s or %s", opts.Output, outputJSON, outputYAML)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logger.WithAccount(cmd.Context(), args[0])
			a, err := newApp(ctx, opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.close()

			state, err := a.ent.CustomerState(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return write(cmd.OutOrStdout(), opts.Output, state)
		},
	}
	cmd.Flags().StringVarP(&opts.Output, "output", "o", outputJSON, "output format (json|yaml)")
	return cmd
}

type RevenueOptions struct {
	*RootOptions
	Mode string
}

// NewRevenueCommand creates the revenue command, which prints the revenue
// estimate of an account over the configured window.
func NewRevenueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RevenueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "revenue <account>",
		Short: "Print an account's recent revenue in minor currency units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := platform.ParseMode(opts.Mode)
			if err != nil {
				return err
			}

			ctx := logger.WithAccount(cmd.Context(), args[0])
			a, err := newApp(ctx, opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.close()

			total, err := a.ent.RevenueEstimate(ctx, args[0], mode)
			if err != nil {
				return err
			}
			p := message.NewPrinter(language.English)
			_, err = p.Fprintf(cmd.OutOrStdout(), "%s revenue: %d\n", mode, total)
			return err
		},
	}
	cmd.Flags().StringVar(&opts.Mode, "mode", string(platform.ModeLive), "platform mode (live|test)")
	return cmd
}

// NewPublishCommand creates the publish command, which writes the state of
// every customer of an account to the state store.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <account>",
		Short: "Publish every customer state of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logger.WithAccount(cmd.Context(), args[0])
			a, err := newApp(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.ent.PublishAccountStates(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "published %d customer states\n", n)
			return err
		},
	}
}
