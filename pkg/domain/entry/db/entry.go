package db

import (
	"context"
	"time"

	"github.com/opst/knitpipe/pkg/domain"
	"github.com/opst/knitpipe/pkg/domain/materializer"
)

// Admission is a result of a Monitor admission pass.
type Admission struct {
	// number of entries which the node had before the pass.
	Existing int

	// number of sampled records read in the pass.
	Candidates int

	// number of entries inserted.
	Admitted int

	// records which could not be materialized. They are not retried.
	Dropped []Drop

	// new watermark. nil when it is not advanced.
	Watermark *time.Time
}

type Drop struct {
	LoggedCallId string
	Err          error
}

type EntryInterface interface {
	// Admit samples logged calls into a Monitor node.
	//
	// In one transaction, it
	//
	// 1. locks the node and counts its existing entries,
	//
	// 2. selects logged calls of the project which are updated at or after the watermark,
	// match the filters of the node, are not in the node yet and are sampled,
	// ordered by creation and limited to the rest of capacity,
	//
	// 3. materializes them with m and inserts rows with skipping duplicates,
	//
	// 4. and advances the watermark unless the capacity runs out.
	//
	// Records failing validation are dropped and reported in Admission.Dropped.
	// Dropped records are remembered per node and not selected again.
	//
	// Args
	//
	// - context.Context
	//
	// - string: id of Monitor node.
	//
	// - *materializer.Materializer: makes rows from records.
	//
	// Returns
	//
	// - Admission
	//
	// - error: ErrMissing when the node is not found, ErrInvalidConfig when it is not a Monitor.
	Admit(ctx context.Context, nodeId string, m *materializer.Materializer) (Admission, error)

	// Insert puts materialized rows into an Archive node via its source channel.
	//
	// Rows are inserted all or nothing, skipping duplicates.
	//
	// Returns
	//
	// - int: number of entries inserted.
	//
	// - error: ErrTooMuch when rows exceed maxOutputSize of the node.
	Insert(ctx context.Context, nodeId string, rows []materializer.Materialized) (int, error)

	// Forward copies PROCESSED current entries of the node to the destinations of its output.
	//
	// Parents already having a child on a channel are skipped.
	// Channels from the output are stamped as processed.
	//
	// Returns
	//
	// - int: number of child entries created.
	Forward(ctx context.Context, nodeId string, label string) (int, error)

	// ResetProcessing moves PROCESSING entries of the node back to PENDING.
	ResetProcessing(ctx context.Context, nodeId string) (int, error)

	// MarkAllProcessed moves PENDING entries of the node to PROCESSED.
	MarkAllProcessed(ctx context.Context, nodeId string) (int, error)

	// Invalidate drops derived state of the node.
	//
	// For Monitor, entries are deleted and the watermark is reset.
	// For others, entries are back to PENDING with original outputs restored,
	// and their forwarded children are deleted.
	Invalidate(ctx context.Context, node domain.Node) error

	// ClaimPending moves up to limit PENDING current entries of the node to PROCESSING and returns them,
	// in order of sort key.
	//
	// Entries locked by another claim are skipped.
	ClaimPending(ctx context.Context, nodeId string, limit int) ([]domain.NodeEntry, error)

	// Get an entry.
	//
	// Returns
	//
	// - error: ErrMissing when not found.
	Get(ctx context.Context, entryId string) (domain.NodeEntry, error)

	// Input by content hash.
	Input(ctx context.Context, hash string) (domain.EntryInput, error)

	// Output by content hash.
	Output(ctx context.Context, hash string) (domain.EntryOutput, error)

	// Relabeled saves out as new output of the PROCESSING entry and marks it PROCESSED.
	//
	// The replaced output is kept as original output hash, unless it is the same.
	//
	// Returns
	//
	// - error: ErrConflict when the entry is not PROCESSING.
	Relabeled(ctx context.Context, entryId string, out domain.EntryOutput) error

	// SetStatus of an entry, with message for ERROR.
	//
	// Returns
	//
	// - error: ErrConflict when the status can not be changed so.
	SetStatus(ctx context.Context, entryId string, status domain.EntryStatus, message string) error

	// CachedOutput looks up output which a node of nodeHash made for the pair.
	//
	// Returns
	//
	// - domain.EntryOutput
	//
	// - bool: true if found.
	CachedOutput(ctx context.Context, nodeHash string, inputHash string, outputHash string) (domain.EntryOutput, bool, error)

	// Cache remembers output which a node of nodeHash made for the pair.
	Cache(ctx context.Context, nodeHash string, inputHash string, outputHash string, out domain.EntryOutput) error
}
