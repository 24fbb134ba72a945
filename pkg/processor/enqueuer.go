package processor

import (
	"context"

	"github.com/opst/knitpipe/pkg/domain"
	ktask "github.com/opst/knitpipe/pkg/domain/task/db"
)

// Enqueuer puts jobs into the task queue.
type Enqueuer struct {
	tasks ktask.TaskInterface
}

func NewEnqueuer(tasks ktask.TaskInterface) *Enqueuer {
	return &Enqueuer{tasks: tasks}
}

// EnqueueProcessNode asks workers to process the node.
//
// Tasks for a node share the queue named by the node id, so they run one by one.
func (e *Enqueuer) EnqueueProcessNode(ctx context.Context, job domain.ProcessNode) error {
	return e.Enqueue(ctx, job)
}

func (e *Enqueuer) Enqueue(ctx context.Context, jobs ...domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	_, err := e.tasks.Enqueue(ctx, jobs...)
	return err
}
