package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type SchedulerRepository interface {
	CreateTask(ctx context.Context, task *Task) error
	// GetPendingTaskByName returns ErrTaskNotFound when no pending task
	// with that name exists.
	GetPendingTaskByName(ctx context.Context, taskName string) (*Task, error)
}

// Schedule determines when a periodic task should run next.
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(from time.Time) time.Time { return from.Add(s.every) }
func (s intervalSchedule) String() string              { return fmt.Sprintf("every %v", s.every) }

type dailySchedule struct {
	hour, minute int
}

func (s dailySchedule) Next(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailySchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d", s.hour, s.minute)
}

// Every runs a task at a fixed interval.
func Every(d time.Duration) Schedule { return intervalSchedule{every: d} }

// DailyAt runs a task once a day at hour:minute in the location of the
// scheduler's clock.
func DailyAt(hour, minute int) Schedule { return dailySchedule{hour: hour, minute: minute} }

// Scheduler creates pending tasks for periodic handlers. At most one pending
// task per name exists at any time, so several scheduler instances can run
// against the same storage.
type Scheduler struct {
	repo     SchedulerRepository
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	tasks map[string]*scheduledTask
}

type scheduledTask struct {
	name       string
	schedule   Schedule
	queue      string
	priority   Priority
	maxRetries int8
	lastRun    *time.Time
}

type SchedulerOption func(*Scheduler)

func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func NewScheduler(repo SchedulerRepository, opts ...SchedulerOption) (*Scheduler, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	s := &Scheduler{
		repo:     repo,
		interval: 30 * time.Second,
		logger:   slog.Default(),
		now:      time.Now,
		tasks:    make(map[string]*scheduledTask),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type periodicOptions struct {
	queue      string
	priority   Priority
	maxRetries int8
}

type PeriodicOption func(*periodicOptions)

func WithPeriodicQueue(name string) PeriodicOption {
	return func(o *periodicOptions) {
		if name != "" {
			o.queue = name
		}
	}
}

func WithPeriodicPriority(p Priority) PeriodicOption {
	return func(o *periodicOptions) {
		if p.Valid() {
			o.priority = p
		}
	}
}

func WithPeriodicMaxRetries(n int8) PeriodicOption {
	return func(o *periodicOptions) {
		if n >= 0 && n <= 20 {
			o.maxRetries = n
		}
	}
}

// AddTask registers name to run on schedule. The name must match a handler
// created with NewPeriodicTaskHandler.
func (s *Scheduler) AddTask(name string, schedule Schedule, opts ...PeriodicOption) error {
	o := &periodicOptions{queue: DefaultQueueName, priority: PriorityDefault, maxRetries: 3}
	for _, opt := range opts {
		opt(o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("%w: %s", ErrTaskAlreadyRegistered, name)
	}
	s.tasks[name] = &scheduledTask{
		name:       name,
		schedule:   schedule,
		queue:      o.queue,
		priority:   o.priority,
		maxRetries: o.maxRetries,
	}

	s.logger.Info("registered periodic task",
		slog.String("task_name", name),
		slog.String("schedule", schedule.String()))
	return nil
}

// Start checks registered tasks immediately and then on every interval
// until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	count := len(s.tasks)
	s.mu.Unlock()
	if count == 0 {
		return ErrSchedulerNotConfigured
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Run returns a function for errgroup.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error { return s.Start(ctx) }
}

// Tick creates every task that is due.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	tasks := make([]*scheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	now := s.now()
	for _, t := range tasks {
		if err := s.scheduleIfDue(ctx, t, now); err != nil {
			s.logger.Error("failed to schedule periodic task",
				slog.String("task_name", t.name),
				slog.Any("error", err))
		}
	}
}

func (s *Scheduler) scheduleIfDue(ctx context.Context, t *scheduledTask, now time.Time) error {
	s.mu.Lock()
	last := t.lastRun
	s.mu.Unlock()

	var next time.Time
	if last == nil {
		next = t.schedule.Next(now)
	} else {
		next = t.schedule.Next(*last)
		if next.After(now) {
			return nil
		}
	}

	if existing, err := s.repo.GetPendingTaskByName(ctx, t.name); err == nil && existing != nil {
		s.setLastRun(t, existing.ScheduledAt)
		return nil
	}

	task := &Task{
		ID:          uuid.New(),
		Queue:       t.queue,
		TaskType:    TaskTypePeriodic,
		TaskName:    t.name,
		Status:      TaskStatusPending,
		Priority:    t.priority,
		MaxRetries:  t.maxRetries,
		ScheduledAt: next,
		CreatedAt:   now,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create periodic task: %w", err)
	}
	s.setLastRun(t, next)

	s.logger.Info("created periodic task",
		slog.String("task_name", t.name),
		slog.Time("scheduled_for", next))
	return nil
}

func (s *Scheduler) setLastRun(t *scheduledTask, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.lastRun = &at
}
