package db

import (
	"context"

	"github.com/opst/knitpipe/pkg/domain"
)

type NewFineTune struct {
	DatasetId string
	BaseModel string

	// rules of the dataset to be copied into the fine-tune.
	PruningRuleIds []string
}

type FineTuneInterface interface {
	// Create a fine-tune with a snapshot of its dataset.
	//
	// Current, PROCESSED and TRAIN entries of the dataset are frozen as training entries.
	// Selected pruning rules are copied to the fine-tune, with their matches on the training entries.
	//
	// Returns
	//
	// - domain.FineTune
	//
	// - error:
	// ErrMissing when the dataset is not found.
	// ErrInvalidConfig when a rule is not of the dataset, or the dataset has no training entries.
	Create(ctx context.Context, ft NewFineTune) (domain.FineTune, error)

	Get(ctx context.Context, fineTuneId string) (domain.FineTune, error)

	// List fine-tunes of the dataset, in order of creation.
	List(ctx context.Context, datasetId string) ([]domain.FineTune, error)

	// SetStatus of the fine-tune.
	//
	// Returns ErrConflict when the status cannot transit to the new one.
	SetStatus(ctx context.Context, fineTuneId string, status domain.FineTuneStatus, message string) error

	// Deployed returns DEPLOYED fine-tunes of the dataset.
	Deployed(ctx context.Context, datasetId string) ([]domain.FineTune, error)

	// TrainingEntries returns the snapshot of the fine-tune.
	TrainingEntries(ctx context.Context, fineTuneId string) ([]domain.FineTuneTrainingEntry, error)

	// PruningRules returns rules copied to the fine-tune.
	PruningRules(ctx context.Context, fineTuneId string) ([]domain.PruningRule, error)

	// MissingTestOutputs lists test-set generations the dataset lacks.
	//
	// For each current PROCESSED TEST entry of the dataset, and for each deployed fine-tune and
	// each enabled comparison model, one is listed unless an output (or an error) for its input is recorded.
	MissingTestOutputs(ctx context.Context, datasetId string) ([]domain.GenerateTestSetEntry, error)

	// TestOutput returns an output of the model for the input. false when there are none.
	TestOutput(ctx context.Context, modelId string, inputHash string) (domain.TestOutput, bool, error)

	// SaveTestOutput upserts the output by (model, input).
	SaveTestOutput(ctx context.Context, out domain.TestOutput) error
}
