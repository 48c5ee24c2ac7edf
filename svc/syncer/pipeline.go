package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/entitlekit/pkg/logger"
	"github.com/dmitrymomot/entitlekit/pkg/platform"
	"github.com/dmitrymomot/entitlekit/pkg/queue"
	"github.com/dmitrymomot/entitlekit/svc/mirror"
)

// ResyncTaskName is the periodic task that starts a full sync of every
// mirrored account.
const ResyncTaskName = "resync_accounts"

// SyncTask is the queue message advancing a sync job by one page.
type SyncTask struct {
	SyncJobID int64 `json:"syncJobId"`
}

func (SyncTask) TaskName() string { return "sync" }

// pageFunc mirrors one page of a step after the checkpoint and reports the
// last id seen and whether more pages follow.
type pageFunc func(ctx context.Context, client platform.Client, accountID string, mode platform.Mode, after string) (last string, hasMore bool, err error)

type step struct {
	name mirror.Step
	page pageFunc
}

// StartFullSync stamps the account's initial sync start, creates a job at
// the first step of the first mode and enqueues it.
func (s *Syncer) StartFullSync(ctx context.Context, accountID string) (*mirror.SyncJob, error) {
	if err := s.store.MarkInitialSyncStarted(ctx, accountID, s.now()); err != nil {
		return nil, fmt.Errorf("mark initial sync started: %w", err)
	}
	job, err := s.store.CreateSyncJob(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("create sync job: %w", err)
	}
	if err := s.enqueue(ctx, job.ID); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "full sync started",
		logger.Component("syncer"),
		logger.AccountID(accountID),
		logger.SyncJobID(job.ID),
	)
	return job, nil
}

// ResyncAll starts a full sync for every mirrored account. Failures are
// reported per account.
func (s *Syncer) ResyncAll(ctx context.Context) error {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, acct := range accounts {
		if _, err := s.StartFullSync(ctx, acct.StripeID); err != nil {
			s.reporter.Report(ctx, err, logger.AccountID(acct.StripeID))
		}
	}
	return nil
}

// ProcessJob advances the job by one page. A missing job or an unknown step
// is permanent. A failed page fetch returns the error with the job
// untouched so the queue redelivers the same message.
func (s *Syncer) ProcessJob(ctx context.Context, jobID int64) error {
	job, err := s.store.GetSyncJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, mirror.ErrNotFound) {
			return queue.SkipRetry(fmt.Errorf("%w: %d", ErrJobNotFound, jobID))
		}
		return err
	}
	if job.Finished {
		return nil
	}

	ctx = logger.WithAccount(logger.WithSyncJob(ctx, job.ID), job.AccountID)
	idx := s.stepIndex(job.Step)
	if idx < 0 {
		return queue.SkipRetry(fmt.Errorf("%w: %q", ErrInvalidStep, job.Step))
	}

	client, err := s.client(job.Mode)
	switch {
	case errors.Is(err, platform.ErrNoClient):
		s.log.WarnContext(ctx, "no platform client for mode, skipping",
			logger.Component("syncer"),
			logger.Mode(job.Mode.String()),
		)
		s.advanceMode(job)
	case err != nil:
		return queue.SkipRetry(err)
	default:
		last, hasMore, err := s.pipeline[idx].page(ctx, client, job.AccountID, job.Mode, job.Checkpoint)
		if err != nil {
			return fmt.Errorf("sync %s %s page: %w", job.Mode, job.Step, err)
		}
		if hasMore && last != "" {
			job.Checkpoint = last
		} else {
			s.advance(job, idx)
		}
	}

	if err := s.store.SaveSyncJob(ctx, job); err != nil {
		return fmt.Errorf("save sync job: %w", err)
	}

	if job.Finished {
		if err := s.store.MarkInitialSyncComplete(ctx, job.AccountID); err != nil {
			return fmt.Errorf("mark initial sync complete: %w", err)
		}
		s.log.InfoContext(ctx, "full sync finished", logger.Component("syncer"))
		return nil
	}

	s.log.DebugContext(ctx, "sync job advanced",
		logger.Component("syncer"),
		logger.Mode(job.Mode.String()),
		logger.Step(string(job.Step)),
		slog.String("checkpoint", job.Checkpoint),
	)
	return s.enqueue(ctx, job.ID)
}

// Handlers returns the queue handlers of the pipeline and the periodic
// resync.
func (s *Syncer) Handlers() []queue.Handler {
	return []queue.Handler{
		queue.NewTaskHandler(func(ctx context.Context, t SyncTask) error {
			return s.ProcessJob(ctx, t.SyncJobID)
		}),
		queue.NewPeriodicTaskHandler(ResyncTaskName, s.ResyncAll),
	}
}

func (s *Syncer) enqueue(ctx context.Context, jobID int64) error {
	err := s.enqueuer.Enqueue(ctx, SyncTask{SyncJobID: jobID},
		queue.WithQueue(s.queue),
		queue.WithMaxRetries(s.maxRetries),
	)
	if err != nil {
		return fmt.Errorf("enqueue sync job %d: %w", jobID, err)
	}
	return nil
}

func (s *Syncer) stepIndex(name mirror.Step) int {
	for i, st := range s.pipeline {
		if st.name == name {
			return i
		}
	}
	return -1
}

func (s *Syncer) advance(job *mirror.SyncJob, idx int) {
	job.Checkpoint = ""
	if idx+1 < len(s.pipeline) {
		job.Step = s.pipeline[idx+1].name
		return
	}
	s.advanceMode(job)
}

func (s *Syncer) advanceMode(job *mirror.SyncJob) {
	job.Checkpoint = ""
	job.Step = s.pipeline[0].name
	for i, m := range platform.Modes {
		if m == job.Mode && i+1 < len(platform.Modes) {
			job.Mode = platform.Modes[i+1]
			return
		}
	}
	job.Finished = true
}

// syncPage mirrors each item of a listed page with fn. Item failures are
// reported and skipped.
func syncPage[T any](
	ctx context.Context,
	s *Syncer,
	page platform.Page[T],
	listErr error,
	id func(T) string,
	fn func(T) error,
) (string, bool, error) {
	if listErr != nil {
		return "", false, listErr
	}
	var last string
	for _, item := range page.Items {
		last = id(item)
		if err := fn(item); err != nil {
			s.reporter.Report(ctx, err, logger.ObjectID(last))
		}
	}
	return last, page.HasMore, nil
}

func (s *Syncer) customersPage(ctx context.Context, c platform.Client, acct string, _ platform.Mode, after string) (string, bool, error) {
	page, err := c.ListCustomers(ctx, acct, s.pageParams(after))
	return syncPage(ctx, s, page, err,
		func(v platform.Customer) string { return v.ID },
		func(v platform.Customer) error {
			_, err := s.upsertCustomer(ctx, acct, v)
			return err
		})
}

func (s *Syncer) productsPage(ctx context.Context, c platform.Client, acct string, _ platform.Mode, after string) (string, bool, error) {
	page, err := c.ListProducts(ctx, acct, s.pageParams(after))
	return syncPage(ctx, s, page, err,
		func(v platform.Product) string { return v.ID },
		func(v platform.Product) error {
			_, err := s.upsertProduct(ctx, acct, v)
			return err
		})
}

func (s *Syncer) pricesPage(ctx context.Context, c platform.Client, acct string, mode platform.Mode, after string) (string, bool, error) {
	page, err := c.ListPrices(ctx, acct, s.pageParams(after))
	return syncPage(ctx, s, page, err,
		func(v platform.Price) string { return v.ID },
		func(v platform.Price) error {
			_, err := s.upsertPrice(ctx, mode, acct, v)
			return err
		})
}

func (s *Syncer) subscriptionsPage(ctx context.Context, c platform.Client, acct string, mode platform.Mode, after string) (string, bool, error) {
	page, err := c.ListSubscriptions(ctx, acct, s.pageParams(after))
	return syncPage(ctx, s, page, err,
		func(v platform.Subscription) string { return v.ID },
		func(v platform.Subscription) error {
			return s.syncSubscription(ctx, mode, acct, v)
		})
}

func (s *Syncer) invoicesPage(ctx context.Context, c platform.Client, acct string, _ platform.Mode, after string) (string, bool, error) {
	page, err := c.ListInvoices(ctx, acct, s.pageParams(after))
	return syncPage(ctx, s, page, err,
		func(v platform.Invoice) string { return v.ID },
		func(v platform.Invoice) error {
			_, err := s.upsertInvoice(ctx, acct, v)
			return err
		})
}

func (s *Syncer) chargesPage(ctx context.Context, c platform.Client, acct string, mode platform.Mode, after string) (string, bool, error) {
	page, err := c.ListCharges(ctx, acct, s.pageParams(after))
	return syncPage(ctx, s, page, err,
		func(v platform.Charge) string { return v.ID },
		func(v platform.Charge) error {
			if v.InvoiceID != "" {
				if _, err := s.GetOrSyncInvoice(ctx, mode, acct, v.InvoiceID); err != nil {
					return fmt.Errorf("invoice %s of charge %s: %w", v.InvoiceID, v.ID, err)
				}
			}
			_, err := s.upsertCharge(ctx, mode, acct, v)
			return err
		})
}

func (s *Syncer) pageParams(after string) platform.PageParams {
	return platform.PageParams{Limit: s.pageSize, StartingAfter: after}
}
