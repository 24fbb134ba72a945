package mocks

import (
	"context"
	"errors"

	"github.com/opst/knitpipe/pkg/domain"
	kdb "github.com/opst/knitpipe/pkg/domain/entry/db"
	dbmock "github.com/opst/knitpipe/pkg/domain/internal/db/mock"
	"github.com/opst/knitpipe/pkg/domain/materializer"
)

type EntryInterface struct {
	Impl struct {
		Admit            func(context.Context, string, *materializer.Materializer) (kdb.Admission, error)
		Insert           func(context.Context, string, []materializer.Materialized) (int, error)
		Forward          func(context.Context, string, string) (int, error)
		ResetProcessing  func(context.Context, string) (int, error)
		MarkAllProcessed func(context.Context, string) (int, error)
		Invalidate       func(context.Context, domain.Node) error
		ClaimPending     func(context.Context, string, int) ([]domain.NodeEntry, error)
		Get              func(context.Context, string) (domain.NodeEntry, error)
		Input            func(context.Context, string) (domain.EntryInput, error)
		Output           func(context.Context, string) (domain.EntryOutput, error)
		Relabeled        func(context.Context, string, domain.EntryOutput) error
		SetStatus        func(context.Context, string, domain.EntryStatus, string) error
		CachedOutput     func(context.Context, string, string, string) (domain.EntryOutput, bool, error)
		Cache            func(context.Context, string, string, string, domain.EntryOutput) error
	}
	Calls struct {
		Admit  dbmock.CallLog[string]
		Insert dbmock.CallLog[struct {
			NodeId string
			Rows   []materializer.Materialized
		}]
		Forward dbmock.CallLog[struct {
			NodeId string
			Label  string
		}]
		ResetProcessing  dbmock.CallLog[string]
		MarkAllProcessed dbmock.CallLog[string]
		Invalidate       dbmock.CallLog[domain.Node]
		ClaimPending     dbmock.CallLog[struct {
			NodeId string
			Limit  int
		}]
		Relabeled dbmock.CallLog[struct {
			EntryId string
			Output  domain.EntryOutput
		}]
		SetStatus dbmock.CallLog[struct {
			EntryId string
			Status  domain.EntryStatus
			Message string
		}]
		Cache dbmock.CallLog[struct {
			NodeHash   string
			InputHash  string
			OutputHash string
			Output     domain.EntryOutput
		}]
	}
}

func NewEntryInterface() *EntryInterface {
	return &EntryInterface{}
}

var _ kdb.EntryInterface = &EntryInterface{}

func (m *EntryInterface) Admit(ctx context.Context, nodeId string, mat *materializer.Materializer) (kdb.Admission, error) {
	m.Calls.Admit = append(m.Calls.Admit, nodeId)
	if m.Impl.Admit == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Admit(ctx, nodeId, mat)
}

func (m *EntryInterface) Insert(ctx context.Context, nodeId string, rows []materializer.Materialized) (int, error) {
	m.Calls.Insert = append(m.Calls.Insert, struct {
		NodeId string
		Rows   []materializer.Materialized
	}{NodeId: nodeId, Rows: rows})
	if m.Impl.Insert == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Insert(ctx, nodeId, rows)
}

func (m *EntryInterface) Forward(ctx context.Context, nodeId string, label string) (int, error) {
	m.Calls.Forward = append(m.Calls.Forward, struct {
		NodeId string
		Label  string
	}{NodeId: nodeId, Label: label})
	if m.Impl.Forward == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Forward(ctx, nodeId, label)
}

func (m *EntryInterface) ResetProcessing(ctx context.Context, nodeId string) (int, error) {
	m.Calls.ResetProcessing = append(m.Calls.ResetProcessing, nodeId)
	if m.Impl.ResetProcessing == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.ResetProcessing(ctx, nodeId)
}

func (m *EntryInterface) MarkAllProcessed(ctx context.Context, nodeId string) (int, error) {
	m.Calls.MarkAllProcessed = append(m.Calls.MarkAllProcessed, nodeId)
	if m.Impl.MarkAllProcessed == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.MarkAllProcessed(ctx, nodeId)
}

func (m *EntryInterface) Invalidate(ctx context.Context, node domain.Node) error {
	m.Calls.Invalidate = append(m.Calls.Invalidate, node)
	if m.Impl.Invalidate == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Invalidate(ctx, node)
}

func (m *EntryInterface) ClaimPending(ctx context.Context, nodeId string, limit int) ([]domain.NodeEntry, error) {
	m.Calls.ClaimPending = append(m.Calls.ClaimPending, struct {
		NodeId string
		Limit  int
	}{NodeId: nodeId, Limit: limit})
	if m.Impl.ClaimPending == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.ClaimPending(ctx, nodeId, limit)
}

func (m *EntryInterface) Get(ctx context.Context, entryId string) (domain.NodeEntry, error) {
	if m.Impl.Get == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Get(ctx, entryId)
}

func (m *EntryInterface) Input(ctx context.Context, hash string) (domain.EntryInput, error) {
	if m.Impl.Input == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Input(ctx, hash)
}

func (m *EntryInterface) Output(ctx context.Context, hash string) (domain.EntryOutput, error) {
	if m.Impl.Output == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Output(ctx, hash)
}

func (m *EntryInterface) Relabeled(ctx context.Context, entryId string, out domain.EntryOutput) error {
	m.Calls.Relabeled = append(m.Calls.Relabeled, struct {
		EntryId string
		Output  domain.EntryOutput
	}{EntryId: entryId, Output: out})
	if m.Impl.Relabeled == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Relabeled(ctx, entryId, out)
}

func (m *EntryInterface) SetStatus(ctx context.Context, entryId string, status domain.EntryStatus, message string) error {
	m.Calls.SetStatus = append(m.Calls.SetStatus, struct {
		EntryId string
		Status  domain.EntryStatus
		Message string
	}{EntryId: entryId, Status: status, Message: message})
	if m.Impl.SetStatus == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.SetStatus(ctx, entryId, status, message)
}

func (m *EntryInterface) CachedOutput(ctx context.Context, nodeHash string, inputHash string, outputHash string) (domain.EntryOutput, bool, error) {
	if m.Impl.CachedOutput == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.CachedOutput(ctx, nodeHash, inputHash, outputHash)
}

func (m *EntryInterface) Cache(ctx context.Context, nodeHash string, inputHash string, outputHash string, out domain.EntryOutput) error {
	m.Calls.Cache = append(m.Calls.Cache, struct {
		NodeHash   string
		InputHash  string
		OutputHash string
		Output     domain.EntryOutput
	}{NodeHash: nodeHash, InputHash: inputHash, OutputHash: outputHash, Output: out})
	if m.Impl.Cache == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Cache(ctx, nodeHash, inputHash, outputHash, out)
}
