package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const DefaultQueueName = "default"

// RetryBackoff is the delay step between attempts: the n-th retry waits
// n*RetryBackoff.
const RetryBackoff = 30 * time.Second

type TaskType string

const (
	TaskTypeOneTime  TaskType = "one-time"
	TaskTypePeriodic TaskType = "periodic"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Priority ranges from 0 to 100; higher runs first.
type Priority int8

const (
	PriorityLow     Priority = 25
	PriorityDefault Priority = 50
	PriorityHigh    Priority = 75
)

func (p Priority) Valid() bool {
	return p >= 0 && p <= 100
}

type Task struct {
	ID          uuid.UUID  `json:"id"`
	Queue       string     `json:"queue"`
	TaskType    TaskType   `json:"task_type"`
	TaskName    string     `json:"task_name"`
	Payload     []byte     `json:"payload,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	RetryCount  int8       `json:"retry_count"`
	MaxRetries  int8       `json:"max_retries"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LockedBy    *uuid.UUID `json:"locked_by,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// DeadTask is a task that exhausted its retries or failed permanently.
type DeadTask struct {
	ID         uuid.UUID `json:"id"`
	TaskID     uuid.UUID `json:"task_id"`
	Queue      string    `json:"queue"`
	TaskType   TaskType  `json:"task_type"`
	TaskName   string    `json:"task_name"`
	Payload    []byte    `json:"payload,omitempty"`
	Priority   Priority  `json:"priority"`
	Error      string    `json:"error"`
	RetryCount int8      `json:"retry_count"`
	FailedAt   time.Time `json:"failed_at"`
}

type Config struct {
	Queue              string        `env:"QUEUE_NAME" envDefault:"default"`
	PollInterval       time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	LockTimeout        time.Duration `env:"QUEUE_LOCK_TIMEOUT" envDefault:"5m"`
	MaxConcurrentTasks int           `env:"QUEUE_MAX_CONCURRENT_TASKS" envDefault:"10"`
	SchedulerInterval  time.Duration `env:"QUEUE_SCHEDULER_INTERVAL" envDefault:"30s"`
}

var (
	ErrRepositoryNil          = errors.New("queue: repository cannot be nil")
	ErrPayloadNil             = errors.New("queue: payload cannot be nil")
	ErrInvalidPriority        = errors.New("queue: priority must be between 0 and 100")
	ErrNoHandlers             = errors.New("queue: no task handlers registered")
	ErrHandlerNotFound        = errors.New("queue: no handler registered for task")
	ErrNoTaskToClaim          = errors.New("queue: no task to claim")
	ErrTaskNotFound           = errors.New("queue: task not found")
	ErrTaskNotProcessing      = errors.New("queue: task is not processing")
	ErrWorkerRunning          = errors.New("queue: worker already running")
	ErrWorkerNotRunning       = errors.New("queue: worker not running")
	ErrTaskAlreadyRegistered  = errors.New("queue: periodic task already registered")
	ErrSchedulerNotConfigured = errors.New("queue: scheduler has no registered tasks")

	// ErrSkipRetry marks a handler failure that retrying cannot fix.
	ErrSkipRetry = errors.New("queue: permanent failure")
)

// SkipRetry wraps err so the worker dead-letters the task without retrying.
func SkipRetry(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrSkipRetry, err)
}
