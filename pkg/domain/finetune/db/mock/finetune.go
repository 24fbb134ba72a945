package mocks

import (
	"context"
	"errors"

	"github.com/opst/knitpipe/pkg/domain"
	kdb "github.com/opst/knitpipe/pkg/domain/finetune/db"
	dbmock "github.com/opst/knitpipe/pkg/domain/internal/db/mock"
)

type FineTuneInterface struct {
	Impl struct {
		Create             func(context.Context, kdb.NewFineTune) (domain.FineTune, error)
		Get                func(context.Context, string) (domain.FineTune, error)
		List               func(context.Context, string) ([]domain.FineTune, error)
		SetStatus          func(context.Context, string, domain.FineTuneStatus, string) error
		Deployed           func(context.Context, string) ([]domain.FineTune, error)
		TrainingEntries    func(context.Context, string) ([]domain.FineTuneTrainingEntry, error)
		PruningRules       func(context.Context, string) ([]domain.PruningRule, error)
		MissingTestOutputs func(context.Context, string) ([]domain.GenerateTestSetEntry, error)
		TestOutput         func(context.Context, string, string) (domain.TestOutput, bool, error)
		SaveTestOutput     func(context.Context, domain.TestOutput) error
	}
	Calls struct {
		Create    dbmock.CallLog[kdb.NewFineTune]
		SetStatus dbmock.CallLog[struct {
			FineTuneId string
			Status     domain.FineTuneStatus
			Message    string
		}]
		MissingTestOutputs dbmock.CallLog[string]
		SaveTestOutput     dbmock.CallLog[domain.TestOutput]
	}
}

func NewFineTuneInterface() *FineTuneInterface {
	return &FineTuneInterface{}
}

var _ kdb.FineTuneInterface = &FineTuneInterface{}

func (m *FineTuneInterface) Create(ctx context.Context, ft kdb.NewFineTune) (domain.FineTune, error) {
	m.Calls.Create = append(m.Calls.Create, ft)
	if m.Impl.Create == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Create(ctx, ft)
}

func (m *FineTuneInterface) Get(ctx context.Context, fineTuneId string) (domain.FineTune, error) {
	if m.Impl.Get == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Get(ctx, fineTuneId)
}

func (m *FineTuneInterface) List(ctx context.Context, datasetId string) ([]domain.FineTune, error) {
	if m.Impl.List == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.List(ctx, datasetId)
}

func (m *FineTuneInterface) SetStatus(ctx context.Context, fineTuneId string, status domain.FineTuneStatus, message string) error {
	m.Calls.SetStatus = append(m.Calls.SetStatus, struct {
		FineTuneId string
		Status     domain.FineTuneStatus
		Message    string
	}{FineTuneId: fineTuneId, Status: status, Message: message})
	if m.Impl.SetStatus == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.SetStatus(ctx, fineTuneId, status, message)
}

func (m *FineTuneInterface) Deployed(ctx context.Context, datasetId string) ([]domain.FineTune, error) {
	if m.Impl.Deployed == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Deployed(ctx, datasetId)
}

func (m *FineTuneInterface) TrainingEntries(ctx context.Context, fineTuneId string) ([]domain.FineTuneTrainingEntry, error) {
	if m.Impl.TrainingEntries == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.TrainingEntries(ctx, fineTuneId)
}

func (m *FineTuneInterface) PruningRules(ctx context.Context, fineTuneId string) ([]domain.PruningRule, error) {
	if m.Impl.PruningRules == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.PruningRules(ctx, fineTuneId)
}

func (m *FineTuneInterface) MissingTestOutputs(ctx context.Context, datasetId string) ([]domain.GenerateTestSetEntry, error) {
	m.Calls.MissingTestOutputs = append(m.Calls.MissingTestOutputs, datasetId)
	if m.Impl.MissingTestOutputs == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.MissingTestOutputs(ctx, datasetId)
}

func (m *FineTuneInterface) TestOutput(ctx context.Context, modelId string, inputHash string) (domain.TestOutput, bool, error) {
	if m.Impl.TestOutput == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.TestOutput(ctx, modelId, inputHash)
}

func (m *FineTuneInterface) SaveTestOutput(ctx context.Context, out domain.TestOutput) error {
	m.Calls.SaveTestOutput = append(m.Calls.SaveTestOutput, out)
	if m.Impl.SaveTestOutput == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.SaveTestOutput(ctx, out)
}
