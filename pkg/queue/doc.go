// Package queue is a durable, at-least-once task queue.
//
// Producers create tasks through an Enqueuer. Workers claim them with a lock,
// run the handler registered under the task name and then complete, retry or
// dead-letter the task. A Scheduler creates tasks for periodic handlers.
//
// Storage is pluggable. PostgresStorage keeps tasks in the queue_tasks and
// queue_tasks_dlq tables and claims them with FOR UPDATE SKIP LOCKED so any
// number of worker processes can share one queue. MemoryStorage implements
// the same interfaces for tests and local runs.
//
// Handlers are typed:
//
//	type SyncTask struct {
//		SyncJobID int64 `json:"syncJobId"`
//	}
//
//	worker.RegisterHandler(queue.NewTaskHandler(func(ctx context.Context, t SyncTask) error {
//		return syncer.ProcessJob(ctx, t.SyncJobID)
//	}))
//
//	enqueuer.Enqueue(ctx, SyncTask{SyncJobID: 42})
//
// A handler that returns an error wrapping ErrSkipRetry is dead-lettered
// immediately. Any other error is retried with a linear backoff until the
// task's retry budget is spent.
package queue
