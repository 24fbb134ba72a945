package monitorscan_test

import (
	"context"
	"errors"
	"testing"

	"github.com/opst/knitpipe/cmd/loops/tasks/monitorscan"
	"github.com/opst/knitpipe/pkg/cmp"
	"github.com/opst/knitpipe/pkg/domain"
	nodemocks "github.com/opst/knitpipe/pkg/domain/node/db/mock"
)

type enqueuer struct {
	enqueued []string
	err      error
}

func (e *enqueuer) EnqueueProcessNode(_ context.Context, job domain.ProcessNode) error {
	if job.InvalidateData {
		return errors.New("scan should not invalidate data")
	}
	if e.err != nil {
		return e.err
	}
	e.enqueued = append(e.enqueued, job.NodeId)
	return nil
}

func TestTask(t *testing.T) {
	t.Run("it enqueues processNode for each monitor behind", func(t *testing.T) {
		nodes := nodemocks.NewNodeInterface()
		nodes.Impl.MonitorsBehind = func(context.Context) ([]string, error) {
			return []string{"monitor-1", "monitor-2"}, nil
		}
		enq := &enqueuer{}

		testee := monitorscan.Task(nodes, enq)
		stats, ok, err := testee(context.Background(), monitorscan.Stats{Scans: 1, Enqueued: 1})
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("scan should not report backlog")
		}
		if want := (monitorscan.Stats{Scans: 2, Enqueued: 3}); stats != want {
			t.Errorf("stats: got %+v, want %+v", stats, want)
		}
		if !cmp.SliceEq(enq.enqueued, []string{"monitor-1", "monitor-2"}) {
			t.Errorf("enqueued: %v", enq.enqueued)
		}
	})

	t.Run("it does nothing when no monitors are behind", func(t *testing.T) {
		nodes := nodemocks.NewNodeInterface()
		nodes.Impl.MonitorsBehind = func(context.Context) ([]string, error) {
			return nil, nil
		}
		enq := &enqueuer{}

		testee := monitorscan.Task(nodes, enq)
		stats, _, err := testee(context.Background(), monitorscan.Seed())
		if err != nil {
			t.Fatal(err)
		}
		if stats.Enqueued != 0 || len(enq.enqueued) != 0 {
			t.Errorf("unexpected enqueue: %+v, %v", stats, enq.enqueued)
		}
	})

	t.Run("it returns error from MonitorsBehind", func(t *testing.T) {
		expectedErr := errors.New("fake error")
		nodes := nodemocks.NewNodeInterface()
		nodes.Impl.MonitorsBehind = func(context.Context) ([]string, error) {
			return nil, expectedErr
		}

		testee := monitorscan.Task(nodes, &enqueuer{})
		if _, _, err := testee(context.Background(), monitorscan.Seed()); !errors.Is(err, expectedErr) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("it returns error from enqueuer", func(t *testing.T) {
		expectedErr := errors.New("fake error")
		nodes := nodemocks.NewNodeInterface()
		nodes.Impl.MonitorsBehind = func(context.Context) ([]string, error) {
			return []string{"monitor-1"}, nil
		}

		testee := monitorscan.Task(nodes, &enqueuer{err: expectedErr})
		if _, _, err := testee(context.Background(), monitorscan.Seed()); !errors.Is(err, expectedErr) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
