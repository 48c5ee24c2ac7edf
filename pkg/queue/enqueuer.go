package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EnqueuerRepository interface {
	CreateTask(ctx context.Context, task *Task) error
}

// Enqueuer turns payloads into pending tasks.
type Enqueuer struct {
	repo     EnqueuerRepository
	queue    string
	priority Priority
}

type EnqueuerOption func(*Enqueuer)

// WithDefaultQueue sets the queue used when Enqueue gets no WithQueue option.
func WithDefaultQueue(name string) EnqueuerOption {
	return func(e *Enqueuer) {
		if name != "" {
			e.queue = name
		}
	}
}

func WithDefaultPriority(p Priority) EnqueuerOption {
	return func(e *Enqueuer) {
		if p.Valid() {
			e.priority = p
		}
	}
}

func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	e := &Enqueuer{repo: repo, queue: DefaultQueueName, priority: PriorityDefault}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type enqueueOptions struct {
	queue      string
	priority   Priority
	maxRetries int8
	delay      time.Duration
	taskName   string
}

type EnqueueOption func(*enqueueOptions)

func WithQueue(name string) EnqueueOption {
	return func(o *enqueueOptions) {
		if name != "" {
			o.queue = name
		}
	}
}

func WithPriority(p Priority) EnqueueOption {
	return func(o *enqueueOptions) { o.priority = p }
}

// WithMaxRetries caps retries; values outside 0..20 are ignored.
func WithMaxRetries(n int8) EnqueueOption {
	return func(o *enqueueOptions) {
		if n >= 0 && n <= 20 {
			o.maxRetries = n
		}
	}
}

func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

func WithTaskName(name string) EnqueueOption {
	return func(o *enqueueOptions) {
		if name != "" {
			o.taskName = name
		}
	}
}

// Enqueue stores payload as a new pending task.
func (e *Enqueuer) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) error {
	if payload == nil {
		return ErrPayloadNil
	}

	o := &enqueueOptions{queue: e.queue, priority: e.priority, maxRetries: 3}
	for _, opt := range opts {
		opt(o)
	}
	if !o.priority.Valid() {
		return ErrInvalidPriority
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %T payload: %w", payload, err)
	}

	name := o.taskName
	if name == "" {
		name = TaskName(payload)
	}

	now := time.Now()
	task := &Task{
		ID:          uuid.New(),
		Queue:       o.queue,
		TaskType:    TaskTypeOneTime,
		TaskName:    name,
		Payload:     body,
		Status:      TaskStatusPending,
		Priority:    o.priority,
		MaxRetries:  o.maxRetries,
		ScheduledAt: now.Add(o.delay),
		CreatedAt:   now,
	}

	if err := e.repo.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create task %q in queue %q: %w", task.TaskName, task.Queue, err)
	}
	return nil
}
