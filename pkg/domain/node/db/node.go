package db

import (
	"context"

	"github.com/opst/knitpipe/pkg/domain"
)

// NewNode is a specification of a node to be created.
type NewNode struct {
	ProjectId string
	Name      string
	Type      domain.NodeType
	Config    domain.NodeConfig
}

type NodeInterface interface {
	// Create registers a node with its outputs.
	//
	// Monitor and Archive get their source channel.
	// Dataset gets its dataset record, named as the node.
	//
	// Returns
	//
	// - domain.Node: created node.
	//
	// - error: ErrInvalidConfig when config does not satisfy the schema of the type.
	Create(ctx context.Context, spec NewNode) (domain.Node, error)

	// Get a node.
	//
	// Returns
	//
	// - error: ErrMissing when not found.
	Get(ctx context.Context, nodeId string) (domain.Node, error)

	// Connect makes a channel from an output of the origin node to the destination node.
	//
	// Args
	//
	// - originNodeId, label: the output where the channel starts.
	//
	// - destinationNodeId: where the channel ends.
	//
	// Returns
	//
	// - domain.DataChannel: the channel. When it exists already, the existing one is returned.
	//
	// - error: ErrMissing when the output or the destination is not found.
	// ErrInvalidConfig when the channel makes a cycle.
	Connect(ctx context.Context, originNodeId, label, destinationNodeId string) (domain.DataChannel, error)

	// SourceChannel returns the channel from outside of the graph into the node.
	//
	// Returns
	//
	// - error: ErrMissing when the node does not have it.
	SourceChannel(ctx context.Context, nodeId string) (domain.DataChannel, error)

	// UpdateConfig validates and replaces config of the node.
	//
	// When config is invalid, the stored config is kept.
	//
	// Returns
	//
	// - domain.Node: updated node.
	//
	// - bool: true if hash of the node is changed, which means outputs should be invalidated.
	//
	// - error: ErrInvalidConfig, or ErrMissing
	UpdateConfig(ctx context.Context, nodeId string, config domain.NodeConfig) (domain.Node, bool, error)

	// Children returns ids of nodes which are destinations of channels from the node.
	Children(ctx context.Context, nodeId string) ([]string, error)

	// Upstream returns all ancestor nodes, nearest first.
	Upstream(ctx context.Context, nodeId string) ([]domain.Node, error)

	// Downstream returns all descendant nodes, nearest first.
	Downstream(ctx context.Context, nodeId string) ([]domain.Node, error)

	// List nodes of the type in the project, with counts of their current entries.
	List(ctx context.Context, projectId string, t domain.NodeType) ([]domain.NodeSummary, error)

	// Counts of current entries of the node.
	Counts(ctx context.Context, nodeId string) (domain.StatusCounts, error)

	// Dataset returns dataset record of the Dataset node.
	//
	// Returns
	//
	// - error: ErrMissing when not found.
	Dataset(ctx context.Context, nodeId string) (domain.DatasetInfo, error)

	// DatasetById returns dataset record by its id.
	DatasetById(ctx context.Context, datasetId string) (domain.DatasetInfo, error)

	// MonitorsBehind returns ids of Monitors which have room for more entries and
	// whose project has logged calls updated after their watermark.
	MonitorsBehind(ctx context.Context) ([]string, error)
}
