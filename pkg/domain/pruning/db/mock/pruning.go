package mocks

import (
	"context"
	"errors"
	"time"

	"github.com/opst/knitpipe/pkg/domain"
	dbmock "github.com/opst/knitpipe/pkg/domain/internal/db/mock"
	kdb "github.com/opst/knitpipe/pkg/domain/pruning/db"
)

type PruningInterface struct {
	Impl struct {
		Rematch      func(context.Context, string, time.Time, []string) error
		Create       func(context.Context, string, string, int) (domain.PruningRule, error)
		Update       func(context.Context, string, string, int) (domain.PruningRule, error)
		Delete       func(context.Context, string) error
		Get          func(context.Context, string) (domain.PruningRule, error)
		List         func(context.Context, string) ([]domain.PruningRule, error)
		MatchedRules func(context.Context, string) ([]string, error)
		Savings      func(context.Context, string) (int, error)
	}
	Calls struct {
		Rematch dbmock.CallLog[struct {
			DatasetId string
			Since     time.Time
			EntryIds  []string
		}]
		Create dbmock.CallLog[struct {
			DatasetId    string
			TextToMatch  string
			TokensInText int
		}]
		Update dbmock.CallLog[struct {
			RuleId       string
			TextToMatch  string
			TokensInText int
		}]
		Delete dbmock.CallLog[string]
	}
}

func NewPruningInterface() *PruningInterface {
	return &PruningInterface{}
}

var _ kdb.PruningInterface = &PruningInterface{}

func (m *PruningInterface) Rematch(ctx context.Context, datasetId string, since time.Time, entryIds []string) error {
	m.Calls.Rematch = append(m.Calls.Rematch, struct {
		DatasetId string
		Since     time.Time
		EntryIds  []string
	}{DatasetId: datasetId, Since: since, EntryIds: entryIds})
	if m.Impl.Rematch == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Rematch(ctx, datasetId, since, entryIds)
}

func (m *PruningInterface) Create(ctx context.Context, datasetId string, text string, tokens int) (domain.PruningRule, error) {
	m.Calls.Create = append(m.Calls.Create, struct {
		DatasetId    string
		TextToMatch  string
		TokensInText int
	}{DatasetId: datasetId, TextToMatch: text, TokensInText: tokens})
	if m.Impl.Create == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Create(ctx, datasetId, text, tokens)
}

func (m *PruningInterface) Update(ctx context.Context, ruleId string, text string, tokens int) (domain.PruningRule, error) {
	m.Calls.Update = append(m.Calls.Update, struct {
		RuleId       string
		TextToMatch  string
		TokensInText int
	}{RuleId: ruleId, TextToMatch: text, TokensInText: tokens})
	if m.Impl.Update == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Update(ctx, ruleId, text, tokens)
}

func (m *PruningInterface) Delete(ctx context.Context, ruleId string) error {
	m.Calls.Delete = append(m.Calls.Delete, ruleId)
	if m.Impl.Delete == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Delete(ctx, ruleId)
}

func (m *PruningInterface) Get(ctx context.Context, ruleId string) (domain.PruningRule, error) {
	if m.Impl.Get == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Get(ctx, ruleId)
}

func (m *PruningInterface) List(ctx context.Context, datasetId string) ([]domain.PruningRule, error) {
	if m.Impl.List == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.List(ctx, datasetId)
}

func (m *PruningInterface) MatchedRules(ctx context.Context, entryId string) ([]string, error) {
	if m.Impl.MatchedRules == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.MatchedRules(ctx, entryId)
}

func (m *PruningInterface) Savings(ctx context.Context, datasetId string) (int, error) {
	if m.Impl.Savings == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Savings(ctx, datasetId)
}
