package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlekit/pkg/queue"
)

func pendingTask(name string, priority queue.Priority, scheduledAt time.Time) *queue.Task {
	return &queue.Task{
		ID:          uuid.New(),
		Queue:       queue.DefaultQueueName,
		TaskType:    queue.TaskTypeOneTime,
		TaskName:    name,
		Status:      queue.TaskStatusPending,
		Priority:    priority,
		MaxRetries:  2,
		ScheduledAt: scheduledAt,
		CreatedAt:   time.Now(),
	}
}

func TestMemoryStorage_Claim(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	queues := []string{queue.DefaultQueueName}
	past := time.Now().Add(-time.Minute)

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		s := queue.NewMemoryStorage()
		_, err := s.ClaimTask(ctx, uuid.New(), queues, time.Minute)
		assert.ErrorIs(t, err, queue.ErrNoTaskToClaim)
	})

	t.Run("priority then schedule order", func(t *testing.T) {
		t.Parallel()
		s := queue.NewMemoryStorage()
		low := pendingTask("low", queue.PriorityLow, past.Add(-time.Hour))
		early := pendingTask("early", queue.PriorityHigh, past.Add(-time.Second))
		late := pendingTask("late", queue.PriorityHigh, past)
		for _, task := range []*queue.Task{low, late, early} {
			require.NoError(t, s.CreateTask(ctx, task))
		}

		var order []string
		for range 3 {
			task, err := s.ClaimTask(ctx, uuid.New(), queues, time.Minute)
			require.NoError(t, err)
			order = append(order, task.TaskName)
		}
		assert.Equal(t, []string{"early", "late", "low"}, order)
	})

	t.Run("skips future and foreign queue", func(t *testing.T) {
		t.Parallel()
		s := queue.NewMemoryStorage()
		require.NoError(t, s.CreateTask(ctx, pendingTask("future", queue.PriorityDefault, time.Now().Add(time.Hour))))
		other := pendingTask("other", queue.PriorityDefault, past)
		other.Queue = "other"
		require.NoError(t, s.CreateTask(ctx, other))

		_, err := s.ClaimTask(ctx, uuid.New(), queues, time.Minute)
		assert.ErrorIs(t, err, queue.ErrNoTaskToClaim)
	})

	t.Run("expired lock is reclaimable", func(t *testing.T) {
		t.Parallel()
		s := queue.NewMemoryStorage()
		require.NoError(t, s.CreateTask(ctx, pendingTask("t", queue.PriorityDefault, past)))

		first, err := s.ClaimTask(ctx, uuid.New(), queues, time.Nanosecond)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)

		second, err := s.ClaimTask(ctx, uuid.New(), queues, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})
}

func TestMemoryStorage_FailTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := queue.NewMemoryStorage()
	task := pendingTask("t", queue.PriorityDefault, time.Now().Add(-time.Second))
	require.NoError(t, s.CreateTask(ctx, task))

	assert.ErrorIs(t, s.FailTask(ctx, task.ID, "nope"), queue.ErrTaskNotProcessing)

	_, err := s.ClaimTask(ctx, uuid.New(), []string{queue.DefaultQueueName}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.FailTask(ctx, task.ID, "first"))

	got, ok := s.Task(task.ID)
	require.True(t, ok)
	assert.Equal(t, queue.TaskStatusPending, got.Status)
	assert.Equal(t, int8(1), got.RetryCount)
	assert.True(t, got.ScheduledAt.After(time.Now().Add(queue.RetryBackoff-time.Second)))

	require.NoError(t, s.MoveToDLQ(ctx, task.ID))
	_, ok = s.Task(task.ID)
	assert.False(t, ok)
	dead := s.DeadTasks()
	require.Len(t, dead, 1)
	assert.Equal(t, "first", dead[0].Error)
	assert.Equal(t, task.ID, dead[0].TaskID)
}

func TestMemoryStorage_GetPendingTaskByName(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := queue.NewMemoryStorage()

	_, err := s.GetPendingTaskByName(ctx, "resync")
	assert.ErrorIs(t, err, queue.ErrTaskNotFound)

	require.NoError(t, s.CreateTask(ctx, pendingTask("resync", queue.PriorityDefault, time.Now())))
	task, err := s.GetPendingTaskByName(ctx, "resync")
	require.NoError(t, err)
	assert.Equal(t, "resync", task.TaskName)
}
