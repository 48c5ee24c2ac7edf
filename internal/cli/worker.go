package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/entitlekit/pkg/logger"
	"github.com/dmitrymomot/entitlekit/pkg/queue"
	"github.com/dmitrymomot/entitlekit/svc/syncer"
)

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process sync tasks and schedule the daily resync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			g, ctx := errgroup.WithContext(ctx)
			if err := a.startWorker(ctx, g); err != nil {
				return err
			}
			return g.Wait()
		},
	}
}

// startWorker runs the sync task worker and the resync scheduler in g.
func (a *app) startWorker(ctx context.Context, g *errgroup.Group) error {
	worker, err := queue.NewWorker(a.tasks,
		queue.WithQueues(a.syncCfg.Queue),
		queue.WithPullInterval(a.queueCfg.PollInterval),
		queue.WithLockTimeout(a.queueCfg.LockTimeout),
		queue.WithMaxConcurrentTasks(a.queueCfg.MaxConcurrentTasks),
		queue.WithWorkerLogger(a.log),
	)
	if err != nil {
		return err
	}
	worker.RegisterHandlers(a.syncer.Handlers()...)

	scheduler, err := queue.NewScheduler(a.tasks,
		queue.WithCheckInterval(a.queueCfg.SchedulerInterval),
		queue.WithSchedulerLogger(a.log),
	)
	if err != nil {
		return err
	}
	if err := scheduler.AddTask(syncer.ResyncTaskName,
		queue.DailyAt(a.syncCfg.ResyncHour, 0),
		queue.WithPeriodicQueue(a.syncCfg.Queue),
	); err != nil {
		return err
	}

	g.Go(worker.Run(ctx))
	g.Go(scheduler.Run(ctx))

	a.log.InfoContext(ctx, "sync worker started",
		logger.Component("cli"),
		logger.Event("worker"),
	)
	return nil
}
