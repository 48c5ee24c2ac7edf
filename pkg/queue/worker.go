package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type WorkerRepository interface {
	// ClaimTask locks the next runnable task for workerID or returns
	// ErrNoTaskToClaim.
	ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error)
	CompleteTask(ctx context.Context, taskID uuid.UUID) error
	// FailTask records errorMsg, bumps the retry count and either reschedules
	// the task or marks it failed once the budget is spent.
	FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error
	MoveToDLQ(ctx context.Context, taskID uuid.UUID) error
}

// Worker runs a fixed number of claim loops against a WorkerRepository.
type Worker struct {
	repo         WorkerRepository
	id           uuid.UUID
	queues       []string
	concurrency  int
	pollInterval time.Duration
	lockTimeout  time.Duration
	logger       *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type WorkerOption func(*Worker)

func WithQueues(queues ...string) WorkerOption {
	return func(w *Worker) {
		if len(queues) > 0 {
			w.queues = queues
		}
	}
}

func WithPullInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

func WithLockTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.lockTimeout = d
		}
	}
}

func WithMaxConcurrentTasks(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

func NewWorker(repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	w := &Worker{
		repo:         repo,
		id:           uuid.New(),
		queues:       []string{DefaultQueueName},
		concurrency:  1,
		pollInterval: time.Second,
		lockTimeout:  5 * time.Minute,
		logger:       slog.Default(),
		handlers:     make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Worker) RegisterHandler(h Handler) {
	w.RegisterHandlers(h)
}

// RegisterHandlers adds handlers, replacing any with the same name.
func (w *Worker) RegisterHandlers(handlers ...Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			w.handlers[h.Name()] = h
		}
	}
}

// Start launches the claim loops and returns immediately.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return ErrWorkerRunning
	}
	if len(w.handlers) == 0 {
		return ErrNoHandlers
	}

	ctx, w.cancel = context.WithCancel(ctx)
	for range w.concurrency {
		w.wg.Add(1)
		go w.loop(ctx)
	}

	w.logger.Info("queue worker started",
		slog.String("worker_id", w.id.String()),
		slog.Any("queues", w.queues),
		slog.Int("concurrency", w.concurrency))
	return nil
}

// Stop cancels the claim loops and waits for in-flight tasks to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return ErrWorkerNotRunning
	}
	cancel()
	w.wg.Wait()

	w.logger.Info("queue worker stopped", slog.String("worker_id", w.id.String()))
	return nil
}

// Run returns a function for errgroup that blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return w.Stop()
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		claimed, err := w.processNext(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("queue worker iteration failed",
				slog.String("worker_id", w.id.String()),
				slog.Any("error", err))
		}
		if claimed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// processNext claims and runs one task. It reports whether a task was
// claimed so the loop can drain a backlog without sleeping.
func (w *Worker) processNext(ctx context.Context) (bool, error) {
	task, err := w.repo.ClaimTask(ctx, w.id, w.queues, w.lockTimeout)
	if errors.Is(err, ErrNoTaskToClaim) || (err == nil && task == nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}

	// finishing the task must survive worker shutdown
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.lockTimeout)
	defer cancel()

	return true, w.process(taskCtx, task)
}

func (w *Worker) process(ctx context.Context, task *Task) error {
	w.mu.RLock()
	handler, ok := w.handlers[task.TaskName]
	w.mu.RUnlock()

	if !ok {
		return w.fail(ctx, task, fmt.Errorf("%w: %s", ErrHandlerNotFound, task.TaskName), true)
	}

	start := time.Now()
	err := w.run(ctx, handler, task)
	if err != nil {
		return w.fail(ctx, task, err, errors.Is(err, ErrSkipRetry))
	}

	if err := w.repo.CompleteTask(ctx, task.ID); err != nil {
		return fmt.Errorf("complete task %s: %w", task.ID, err)
	}

	w.logger.Debug("task completed",
		slog.String("task_id", task.ID.String()),
		slog.String("task_name", task.TaskName),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (w *Worker) run(ctx context.Context, h Handler, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, task.Payload)
}

func (w *Worker) fail(ctx context.Context, task *Task, cause error, permanent bool) error {
	w.logger.Error("task failed",
		slog.String("task_id", task.ID.String()),
		slog.String("task_name", task.TaskName),
		slog.Int("retry_count", int(task.RetryCount)),
		slog.Int("max_retries", int(task.MaxRetries)),
		slog.Bool("permanent", permanent),
		slog.Any("error", cause))

	if err := w.repo.FailTask(ctx, task.ID, cause.Error()); err != nil {
		return fmt.Errorf("fail task %s: %w", task.ID, err)
	}

	if permanent || task.RetryCount+1 >= task.MaxRetries {
		if err := w.repo.MoveToDLQ(ctx, task.ID); err != nil {
			return fmt.Errorf("move task %s to dlq: %w", task.ID, err)
		}
		w.logger.Warn("task moved to dead letter queue",
			slog.String("task_id", task.ID.String()),
			slog.String("task_name", task.TaskName))
	}
	return nil
}
