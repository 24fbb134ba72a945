package mocks

import (
	"context"
	"errors"

	"github.com/opst/knitpipe/pkg/domain"
	dbmock "github.com/opst/knitpipe/pkg/domain/internal/db/mock"
	kdb "github.com/opst/knitpipe/pkg/domain/node/db"
)

type NodeInterface struct {
	Impl struct {
		Create         func(context.Context, kdb.NewNode) (domain.Node, error)
		Get            func(context.Context, string) (domain.Node, error)
		Connect        func(ctx context.Context, originNodeId, label, destinationNodeId string) (domain.DataChannel, error)
		SourceChannel  func(context.Context, string) (domain.DataChannel, error)
		UpdateConfig   func(context.Context, string, domain.NodeConfig) (domain.Node, bool, error)
		Children       func(context.Context, string) ([]string, error)
		Upstream       func(context.Context, string) ([]domain.Node, error)
		Downstream     func(context.Context, string) ([]domain.Node, error)
		List           func(context.Context, string, domain.NodeType) ([]domain.NodeSummary, error)
		Counts         func(context.Context, string) (domain.StatusCounts, error)
		Dataset        func(context.Context, string) (domain.DatasetInfo, error)
		DatasetById    func(context.Context, string) (domain.DatasetInfo, error)
		MonitorsBehind func(context.Context) ([]string, error)
	}
	Calls struct {
		Create       dbmock.CallLog[kdb.NewNode]
		Get          dbmock.CallLog[string]
		Connect      dbmock.CallLog[struct{ OriginNodeId, Label, DestinationNodeId string }]
		UpdateConfig dbmock.CallLog[struct {
			NodeId string
			Config domain.NodeConfig
		}]
		Children dbmock.CallLog[string]
	}
}

func NewNodeInterface() *NodeInterface {
	return &NodeInterface{}
}

var _ kdb.NodeInterface = &NodeInterface{}

func (m *NodeInterface) Create(ctx context.Context, spec kdb.NewNode) (domain.Node, error) {
	m.Calls.Create = append(m.Calls.Create, spec)
	if m.Impl.Create == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Create(ctx, spec)
}

func (m *NodeInterface) Get(ctx context.Context, nodeId string) (domain.Node, error) {
	m.Calls.Get = append(m.Calls.Get, nodeId)
	if m.Impl.Get == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Get(ctx, nodeId)
}

func (m *NodeInterface) Connect(ctx context.Context, originNodeId, label, destinationNodeId string) (domain.DataChannel, error) {
	m.Calls.Connect = append(m.Calls.Connect, struct{ OriginNodeId, Label, DestinationNodeId string }{
		OriginNodeId: originNodeId, Label: label, DestinationNodeId: destinationNodeId,
	})
	if m.Impl.Connect == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Connect(ctx, originNodeId, label, destinationNodeId)
}

func (m *NodeInterface) SourceChannel(ctx context.Context, nodeId string) (domain.DataChannel, error) {
	if m.Impl.SourceChannel == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.SourceChannel(ctx, nodeId)
}

func (m *NodeInterface) UpdateConfig(ctx context.Context, nodeId string, config domain.NodeConfig) (domain.Node, bool, error) {
	m.Calls.UpdateConfig = append(m.Calls.UpdateConfig, struct {
		NodeId string
		Config domain.NodeConfig
	}{NodeId: nodeId, Config: config})
	if m.Impl.UpdateConfig == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.UpdateConfig(ctx, nodeId, config)
}

func (m *NodeInterface) Children(ctx context.Context, nodeId string) ([]string, error) {
	m.Calls.Children = append(m.Calls.Children, nodeId)
	if m.Impl.Children == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Children(ctx, nodeId)
}

func (m *NodeInterface) Upstream(ctx context.Context, nodeId string) ([]domain.Node, error) {
	if m.Impl.Upstream == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Upstream(ctx, nodeId)
}

func (m *NodeInterface) Downstream(ctx context.Context, nodeId string) ([]domain.Node, error) {
	if m.Impl.Downstream == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Downstream(ctx, nodeId)
}

func (m *NodeInterface) List(ctx context.Context, projectId string, t domain.NodeType) ([]domain.NodeSummary, error) {
	if m.Impl.List == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.List(ctx, projectId, t)
}

func (m *NodeInterface) Counts(ctx context.Context, nodeId string) (domain.StatusCounts, error) {
	if m.Impl.Counts == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Counts(ctx, nodeId)
}

func (m *NodeInterface) Dataset(ctx context.Context, nodeId string) (domain.DatasetInfo, error) {
	if m.Impl.Dataset == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Dataset(ctx, nodeId)
}

func (m *NodeInterface) DatasetById(ctx context.Context, datasetId string) (domain.DatasetInfo, error) {
	if m.Impl.DatasetById == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.DatasetById(ctx, datasetId)
}

func (m *NodeInterface) MonitorsBehind(ctx context.Context) ([]string, error) {
	if m.Impl.MonitorsBehind == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.MonitorsBehind(ctx)
}
