package db

import (
	"context"
	"time"

	"github.com/opst/knitpipe/pkg/domain"
)

type PruningInterface interface {
	// Rematch recomputes matches between rules of the dataset and its current entries.
	//
	// Only rules created at or after since are recomputed.
	// When entryIds are given (up to 1000), only those entries are recomputed.
	// Otherwise, all current entries of the dataset are.
	//
	// Matches in the scope are cleared then recomputed in one transaction.
	//
	// Args
	//
	// - context.Context
	//
	// - string: dataset id
	//
	// - time.Time: cutoff of rule creation. Zero for all rules.
	//
	// - []string: entry ids. nil for all entries.
	Rematch(ctx context.Context, datasetId string, since time.Time, entryIds []string) error

	// Create a rule for the dataset, and match it in the same transaction.
	//
	// Returns
	//
	// - error: ErrInvalidConfig when text is blank. ErrMissing when the dataset is not found.
	Create(ctx context.Context, datasetId string, textToMatch string, tokensInText int) (domain.PruningRule, error)

	// Update text of a rule of a dataset, and rematch rules from it in the same transaction.
	Update(ctx context.Context, ruleId string, textToMatch string, tokensInText int) (domain.PruningRule, error)

	// Delete a rule and its matches.
	Delete(ctx context.Context, ruleId string) error

	Get(ctx context.Context, ruleId string) (domain.PruningRule, error)

	// List rules of a dataset, in order of creation.
	List(ctx context.Context, datasetId string) ([]domain.PruningRule, error)

	// MatchedRules returns ids of rules matching the entry.
	MatchedRules(ctx context.Context, entryId string) ([]string, error)

	// Savings returns tokens which pruning removes from current TRAIN entries of the dataset.
	Savings(ctx context.Context, datasetId string) (int, error)
}
