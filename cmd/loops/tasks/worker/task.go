package worker

import (
	"context"
	"log"
	"time"

	"github.com/opst/knitpipe/cmd/loops/recurring"
	"github.com/opst/knitpipe/pkg/domain"
	ktask "github.com/opst/knitpipe/pkg/domain/task/db"
	"github.com/opst/knitpipe/pkg/metrics"
)

// Handler runs a claimed task.
type Handler interface {
	Handle(context.Context, domain.Task) error
}

type HandlerFunc func(context.Context, domain.Task) error

func (f HandlerFunc) Handle(ctx context.Context, t domain.Task) error {
	return f(ctx, t)
}

// Stats of a worker.
type Stats struct {
	Done    uint64
	Retried uint64

	// id of the task handled in the last cycle. empty if nothing was claimed.
	Last string
}

func Seed() Stats {
	return Stats{}
}

// return:
//
// - task: claim a task from the queue and handle it.
// A failed task is put back to the queue and retried after retryAfter.
// Errors of handlers do not stop the loop, but errors of the queue do.
func Task(
	logger *log.Logger,
	tasks ktask.TaskInterface,
	handler Handler,
	visibility time.Duration,
	retryAfter time.Duration,
) recurring.Task[Stats] {
	return func(ctx context.Context, stats Stats) (Stats, bool, error) {
		stats.Last = ""

		t, ok, err := tasks.Claim(ctx, visibility)
		if err != nil {
			return stats, false, err
		}
		if !ok {
			return stats, false, nil
		}
		stats.Last = t.Id

		begin := time.Now()
		herr := handler.Handle(ctx, t)
		elapsed := time.Since(begin)

		if herr == nil {
			if err := tasks.Done(ctx, t.Id); err != nil {
				return stats, false, err
			}
			metrics.TaskDone(string(t.Name), elapsed)
			stats.Done += 1
			return stats, true, nil
		}

		logger.Printf(
			"task %s (%s, attempt %d/%d) failed: %+v",
			t.Id, t.Name, t.Attempts, t.MaxAttempts, herr,
		)
		if err := tasks.Fail(ctx, t.Id, herr.Error(), retryAfter); err != nil {
			return stats, false, err
		}
		metrics.TaskRetried(string(t.Name), elapsed)
		stats.Retried += 1
		return stats, true, nil
	}
}
