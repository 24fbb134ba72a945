package db

import (
	"context"

	"github.com/opst/knitpipe/pkg/domain"
)

// Updates are fields to be overridden. nil fields are inherited from the previous entry.
type Updates struct {
	Input  *domain.Input
	Output *domain.Output
	Split  *domain.Split
}

type Request struct {
	PrevEntryId     string
	AuthoringUserId string
	Provenance      domain.Provenance
	Updates         Updates
}

type Result struct {
	// the new current entry.
	Entry domain.NodeEntry

	// jobs to be enqueued after the copy is committed.
	Effects []domain.Job
}

type VersioningInterface interface {
	// CopyEntryWithUpdates supersedes an entry with its updated copy.
	//
	// The previous entry is marked outdated and kept as history.
	// The new entry has the same persistent id, sort key and import id, and
	// has no parent, so it survives invalidation of upstream nodes.
	// Pruning rule matches of the dataset are recomputed for the new entry.
	//
	// When the new entry is in TEST split, dataset-eval associations are copied,
	// and Effects carry test-set generation for each deployed fine-tune and
	// each enabled comparison model.
	//
	// Args
	//
	// - context.Context
	//
	// - Request
	//
	// Returns
	//
	// - Result
	//
	// - error:
	// ErrMissing when the previous entry is not found.
	// ErrOutdated when the previous entry has been superseded already.
	// *rowvalidation.Error when the updated pair is invalid.
	CopyEntryWithUpdates(ctx context.Context, req Request) (Result, error)
}
