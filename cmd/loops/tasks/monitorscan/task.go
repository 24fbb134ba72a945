package monitorscan

import (
	"context"

	"github.com/opst/knitpipe/cmd/loops/recurring"
	"github.com/opst/knitpipe/pkg/domain"
	kndb "github.com/opst/knitpipe/pkg/domain/node/db"
)

type Enqueuer interface {
	EnqueueProcessNode(context.Context, domain.ProcessNode) error
}

// Stats of scans.
type Stats struct {
	Scans    uint64
	Enqueued uint64
}

func Seed() Stats {
	return Stats{}
}

// return:
//
// - task: enqueue processNode for monitors which can admit more entries.
//
// Each cycle is a single scan, so it never reports a backlog.
// The interval between scans is up to the policy.
func Task(nodes kndb.NodeInterface, enqueuer Enqueuer) recurring.Task[Stats] {
	return func(ctx context.Context, stats Stats) (Stats, bool, error) {
		stats.Scans += 1

		monitors, err := nodes.MonitorsBehind(ctx)
		if err != nil {
			return stats, false, err
		}
		for _, id := range monitors {
			if err := enqueuer.EnqueueProcessNode(ctx, domain.ProcessNode{NodeId: id}); err != nil {
				return stats, false, err
			}
			stats.Enqueued += 1
		}
		return stats, false, nil
	}
}
