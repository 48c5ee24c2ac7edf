package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/entitlekit/modules/api"
	"github.com/dmitrymomot/entitlekit/pkg/config"
	"github.com/dmitrymomot/entitlekit/pkg/environment"
	"github.com/dmitrymomot/entitlekit/pkg/httpserver"
	"github.com/dmitrymomot/entitlekit/pkg/logger"
)

type ServeOptions struct {
	*RootOptions
	WithWorker bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and platform webhooks",
		Long: `Serve the entitlements API and the platform webhook endpoint.

With --with-worker the sync worker and the resync scheduler run in the
same process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.WithWorker, "with-worker", false, "also run the sync worker and scheduler")
	return cmd
}

func serve(ctx context.Context, opts *ServeOptions) error {
	a, err := newApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	var httpCfg httpserver.Config
	if err := config.Load(&httpCfg); err != nil {
		return err
	}

	router := api.Router(api.Options{
		Entitlements: a.ent,
		Syncer:       a.syncer,
		Webhook:      a.platform,
		Logger:       a.log,
		Checks:       a.checks(),
		RateLimiter:  a.limiter,
	})
	srv := httpserver.New(httpCfg, httpserver.WithLogger(a.log))

	g, ctx := errgroup.WithContext(ctx)
	if opts.WithWorker {
		if err := a.startWorker(ctx, g); err != nil {
			return err
		}
	}
	g.Go(srv.RunFunc(ctx, environment.Middleware(a.env)(router)))

	a.log.InfoContext(ctx, "entitlekit started",
		logger.Component("cli"),
		logger.Event("serve"),
	)
	return g.Wait()
}
