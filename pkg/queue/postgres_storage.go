package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage implements the enqueuer, worker and scheduler repositories
// on the queue_tasks tables.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresStorage(pool *pgxpool.Pool) *PostgresStorage {
	return &PostgresStorage{pool: pool}
}

const taskColumns = `id, queue, task_type, task_name, payload, status, priority, retry_count,
	max_retries, scheduled_at, locked_until, locked_by, processed_at, error, created_at`

func (s *PostgresStorage) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrPayloadNil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_tasks (id, queue, task_type, task_name, payload, status, priority,
			retry_count, max_retries, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		task.ID, task.Queue, string(task.TaskType), task.TaskName, nullableJSON(task.Payload),
		string(task.Status), int16(task.Priority), int16(task.RetryCount), int16(task.MaxRetries),
		task.ScheduledAt, task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// ClaimTask locks one due task with FOR UPDATE SKIP LOCKED. Processing tasks
// whose lock expired are claimable again.
func (s *PostgresStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE queue_tasks SET
			status = 'processing',
			locked_until = now() + $3::interval,
			locked_by = $1
		WHERE id = (
			SELECT id FROM queue_tasks
			WHERE queue = ANY($2)
				AND scheduled_at <= now()
				AND (status = 'pending' OR (status = 'processing' AND locked_until < now()))
			ORDER BY priority DESC, scheduled_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		workerID, queues, lockDuration,
	)

	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoTaskToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

func (s *PostgresStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_tasks SET
			status = 'completed',
			processed_at = now(),
			locked_until = NULL,
			locked_by = NULL
		WHERE id = $1 AND status = 'processing'`,
		taskID,
	)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotProcessing, taskID)
	}
	return nil
}

func (s *PostgresStorage) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_tasks SET
			retry_count = retry_count + 1,
			error = $2,
			locked_until = NULL,
			locked_by = NULL,
			status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
			scheduled_at = CASE
				WHEN retry_count + 1 >= max_retries THEN scheduled_at
				ELSE now() + (retry_count + 1) * $3::interval
			END
		WHERE id = $1 AND status = 'processing'`,
		taskID, errorMsg, RetryBackoff,
	)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotProcessing, taskID)
	}
	return nil
}

func (s *PostgresStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO queue_tasks_dlq (id, task_id, queue, task_type, task_name, payload,
			priority, error, retry_count, failed_at)
		SELECT $2, id, queue, task_type, task_name, payload, priority,
			COALESCE(error, ''), retry_count, now()
		FROM queue_tasks WHERE id = $1`,
		taskID, uuid.New(),
	)
	if err != nil {
		return fmt.Errorf("insert dead task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM queue_tasks WHERE id = $1`, taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStorage) GetPendingTaskByName(ctx context.Context, taskName string) (*Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM queue_tasks
		WHERE task_name = $1 AND status = 'pending'
		ORDER BY scheduled_at ASC
		LIMIT 1`,
		taskName,
	)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending task: %w", err)
	}
	return task, nil
}

func scanTask(row pgx.Row) (*Task, error) {
	var (
		t                               Task
		taskType, status                string
		priority, retryCount, maxRetries int16
	)
	err := row.Scan(
		&t.ID, &t.Queue, &taskType, &t.TaskName, &t.Payload, &status, &priority, &retryCount,
		&maxRetries, &t.ScheduledAt, &t.LockedUntil, &t.LockedBy, &t.ProcessedAt, &t.Error, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.TaskType = TaskType(taskType)
	t.Status = TaskStatus(status)
	t.Priority = Priority(priority)
	t.RetryCount = int8(retryCount)
	t.MaxRetries = int8(maxRetries)
	return &t, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
