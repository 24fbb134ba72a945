package housekeeping_test

import (
	"context"
	"errors"
	"testing"

	"github.com/opst/knitpipe/cmd/loops/tasks/housekeeping"
	taskmocks "github.com/opst/knitpipe/pkg/domain/task/db/mock"
)

func TestTask(t *testing.T) {
	type When struct {
		Released int
		Release  int
		Err      error
	}
	type Then struct {
		Released int
		Ok       bool
		Err      error
	}

	theory := func(when When, then Then) func(*testing.T) {
		return func(t *testing.T) {
			tasks := taskmocks.NewTaskInterface()
			tasks.Impl.Release = func(context.Context) (int, error) {
				return when.Release, when.Err
			}

			testee := housekeeping.Task(tasks)
			released, ok, err := testee(context.Background(), when.Released)

			if !errors.Is(err, then.Err) {
				t.Errorf("unexpected error: %v", err)
			}
			if released != then.Released || ok != then.Ok {
				t.Errorf(
					"unexpected returns: (released, ok) = (%d, %v), want (%d, %v)",
					released, ok, then.Released, then.Ok,
				)
			}
			if tasks.Calls.Release.Times() != 1 {
				t.Errorf("Release is called %d times", tasks.Calls.Release.Times())
			}
		}
	}

	t.Run("it adds released tasks and reports backlog", theory(
		When{Released: 3, Release: 2},
		Then{Released: 5, Ok: true},
	))

	t.Run("it reports no backlog when nothing is released", theory(
		When{Released: 3, Release: 0},
		Then{Released: 3, Ok: false},
	))

	{
		expectedErr := errors.New("fake error")
		t.Run("it returns error from Release", theory(
			When{Released: 3, Err: expectedErr},
			Then{Released: 3, Ok: false, Err: expectedErr},
		))
	}
}
