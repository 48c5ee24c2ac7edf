// Package syncer keeps the mirror in step with the payment platform.
//
// A full sync is a SyncJob advanced one page at a time by queue tasks: each
// task loads the job, mirrors one page of the current step in the current
// mode, persists the cursor and enqueues the next task. Webhook events and
// cold reads use the single-object Sync and GetOrSync methods instead.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/entitlekit/pkg/cache"
	"github.com/dmitrymomot/entitlekit/pkg/logger"
	"github.com/dmitrymomot/entitlekit/pkg/platform"
	"github.com/dmitrymomot/entitlekit/pkg/queue"
	"github.com/dmitrymomot/entitlekit/svc/mirror"
)

var (
	ErrJobNotFound     = errors.New("syncer: sync job not found")
	ErrInvalidStep     = errors.New("syncer: invalid pipeline step")
	ErrMissingAccount  = errors.New("syncer: event has no account")
	ErrMissingCustomer = errors.New("syncer: event has no customer")
)

// Config tunes the full sync pipeline.
type Config struct {
	PageSize   int    `env:"SYNC_PAGE_SIZE" envDefault:"100"`
	MaxRetries int8   `env:"SYNC_MAX_RETRIES" envDefault:"10"`
	Queue      string `env:"SYNC_QUEUE" envDefault:"default"`
	ResyncHour int    `env:"SYNC_RESYNC_HOUR" envDefault:"3"`
}

// Enqueuer submits queue tasks; *queue.Enqueuer implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) error
}

// ErrorReporter receives per-object failures that do not stop a sync.
type ErrorReporter interface {
	Report(ctx context.Context, err error, attrs ...slog.Attr)
}

// LogReporter reports errors to a logger.
type LogReporter struct {
	Log *slog.Logger
}

func (r LogReporter) Report(ctx context.Context, err error, attrs ...slog.Attr) {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	args := make([]any, 0, len(attrs)+2)
	args = append(args, logger.Component("syncer"), logger.Error(err))
	for _, a := range attrs {
		args = append(args, a)
	}
	log.ErrorContext(ctx, "sync item failed", args...)
}

// Syncer mirrors platform objects into the store.
type Syncer struct {
	store    mirror.Store
	clients  platform.Clients
	enqueuer Enqueuer
	cache    cache.Tier
	reporter ErrorReporter
	log      *slog.Logger
	now      func() time.Time

	pageSize   int
	maxRetries int8
	queue      string

	onCustomerChanged func(ctx context.Context, account, customer string)

	pipeline []step
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger. A nil logger keeps slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Syncer) {
		if log != nil {
			s.log = log
		}
	}
}

// WithErrorReporter sets where per-item failures go. The default logs them.
func WithErrorReporter(r ErrorReporter) Option {
	return func(s *Syncer) {
		if r != nil {
			s.reporter = r
		}
	}
}

// WithCache sets the tier whose customer state entries are dropped after a
// customer's subscriptions are synced.
func WithCache(tier cache.Tier) Option {
	return func(s *Syncer) {
		s.cache = tier
	}
}

// WithCustomerChanged registers fn to run after a customer's subscriptions
// are synced. Errors are fn's own to handle.
func WithCustomerChanged(fn func(ctx context.Context, account, customer string)) Option {
	return func(s *Syncer) {
		s.onCustomerChanged = fn
	}
}

// WithClock sets the time source for the initial sync stamp.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithConfig applies page size, retry budget and queue name.
func WithConfig(cfg Config) Option {
	return func(s *Syncer) {
		if cfg.PageSize > 0 {
			s.pageSize = cfg.PageSize
		}
		if cfg.MaxRetries > 0 {
			s.maxRetries = cfg.MaxRetries
		}
		if cfg.Queue != "" {
			s.queue = cfg.Queue
		}
	}
}

// New returns a Syncer using clients per mode. It panics when store or
// enqueuer is nil.
func New(store mirror.Store, clients platform.Clients, enqueuer Enqueuer, opts ...Option) *Syncer {
	if store == nil {
		panic("syncer: mirror store is required")
	}
	if enqueuer == nil {
		panic("syncer: enqueuer is required")
	}
	s := &Syncer{
		store:      store,
		clients:    clients,
		enqueuer:   enqueuer,
		log:        slog.Default(),
		now:        time.Now,
		pageSize:   platform.DefaultPageSize,
		maxRetries: 10,
		queue:      queue.DefaultQueueName,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reporter == nil {
		s.reporter = LogReporter{Log: s.log}
	}
	s.pipeline = []step{
		{mirror.StepCustomers, s.customersPage},
		{mirror.StepProducts, s.productsPage},
		{mirror.StepPrices, s.pricesPage},
		{mirror.StepSubscriptions, s.subscriptionsPage},
		{mirror.StepInvoices, s.invoicesPage},
		{mirror.StepCharges, s.chargesPage},
	}
	return s
}

func (s *Syncer) client(mode platform.Mode) (platform.Client, error) {
	return s.clients.For(mode)
}
