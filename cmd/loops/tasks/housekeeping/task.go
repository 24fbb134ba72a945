package housekeeping

import (
	"context"

	"github.com/opst/knitpipe/cmd/loops/recurring"
	ktask "github.com/opst/knitpipe/pkg/domain/task/db"
)

// initial value for task
func Seed() int {
	return 0
}

// return:
//
// - task: put back tasks whose workers have gone away.
// The value is the total number of released tasks.
func Task(tasks ktask.TaskInterface) recurring.Task[int] {
	return func(ctx context.Context, released int) (int, bool, error) {
		n, err := tasks.Release(ctx)
		if err != nil {
			return released, false, err
		}
		return released + n, 0 < n, nil
	}
}
