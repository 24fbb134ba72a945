package nodes

import (
	"encoding/json"

	apinodes "github.com/opst/knitpipe/api-types/nodes"
	"github.com/opst/knitpipe/pkg/domain"
)

func ComposeCounts(c domain.StatusCounts) apinodes.Counts {
	return apinodes.Counts{
		Pending:    c.Pending,
		Processing: c.Processing,
		Processed:  c.Processed,
		Error:      c.Error,
		Train:      c.Train,
		Test:       c.Test,
		Total:      c.Total,
	}
}

func ComposeSummary(s domain.NodeSummary) (apinodes.Summary, error) {
	config, err := json.Marshal(s.Config)
	if err != nil {
		return apinodes.Summary{}, err
	}
	return apinodes.Summary{
		NodeId:    s.Id,
		ProjectId: s.ProjectId,
		Name:      s.Name,
		Type:      s.Type.String(),
		Config:    config,
		Stale:     s.Stale,
		Counts:    ComposeCounts(s.Counts),
	}, nil
}
