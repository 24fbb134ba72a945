package db

import (
	"context"
	"time"

	"github.com/opst/knitpipe/pkg/domain"
)

type TaskInterface interface {
	// Enqueue jobs as tasks.
	//
	// A job which is identical to a WAITING task (same name, queue and payload) is not enqueued again.
	//
	// Returns
	//
	// - []domain.Task: tasks enqueued now.
	//
	// - error
	Enqueue(ctx context.Context, jobs ...domain.Job) ([]domain.Task, error)

	// Claim a runnable task and mark it RUNNING until the visibility timeout.
	//
	// A task is runnable when it is WAITING and its run_after has come, or
	// it is RUNNING but its visibility timeout is over.
	// Tasks in a queue are claimed one by one: while a task in a queue is RUNNING,
	// others in the queue are not claimed.
	//
	// Args
	//
	// - context.Context
	//
	// - time.Duration: visibility timeout.
	//
	// Returns
	//
	// - domain.Task: claimed task.
	//
	// - bool: false when there are no runnable tasks.
	//
	// - error
	Claim(ctx context.Context, visibility time.Duration) (domain.Task, bool, error)

	// Done marks the RUNNING task DONE.
	Done(ctx context.Context, taskId string) error

	// Fail records the error of the RUNNING task.
	//
	// The task is retried after retryAfter, or goes FAILED when it has been tried max_attempts times.
	Fail(ctx context.Context, taskId string, reason string, retryAfter time.Duration) error

	// Release puts back RUNNING tasks whose visibility timeout is over.
	//
	// Returns the number of released tasks.
	Release(ctx context.Context) (int, error)

	Get(ctx context.Context, taskId string) (domain.Task, error)

	// Counts returns the number of tasks by status.
	Counts(ctx context.Context) (map[domain.TaskStatus]int, error)
}
