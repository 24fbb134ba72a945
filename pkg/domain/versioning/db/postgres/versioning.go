package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	kpool "github.com/opst/knitpipe/pkg/conn/db/postgres/pool"
	"github.com/opst/knitpipe/pkg/conn/db/postgres/scanner"
	"github.com/opst/knitpipe/pkg/domain"
	domerr "github.com/opst/knitpipe/pkg/domain/errors"
	pgerrors "github.com/opst/knitpipe/pkg/domain/errors/dberrors/postgres"
	intpg "github.com/opst/knitpipe/pkg/domain/internal/db/postgres"
	"github.com/opst/knitpipe/pkg/domain/materializer"
	"github.com/opst/knitpipe/pkg/domain/rowvalidation"
	"github.com/opst/knitpipe/pkg/domain/versioning"
	kdb "github.com/opst/knitpipe/pkg/domain/versioning/db"
	xe "github.com/opst/knitpipe/pkg/errors"
	"github.com/opst/knitpipe/pkg/tokenizer"
	"github.com/sashabaranov/go-openai"
)

type pgVersioning struct {
	pool   kpool.Pool
	tokens tokenizer.Counter
}

func New(pool kpool.Pool, tokens tokenizer.Counter) kdb.VersioningInterface {
	return &pgVersioning{pool: pool, tokens: tokens}
}

func (m *pgVersioning) CopyEntryWithUpdates(ctx context.Context, req kdb.Request) (kdb.Result, error) {
	if _, err := uuid.Parse(req.PrevEntryId); err != nil {
		return kdb.Result{}, xe.Wrap(pgerrors.Missing{Table: "node_entry", Identity: "node_entry_id=" + req.PrevEntryId})
	}
	provenance := req.Provenance
	if provenance == "" {
		provenance = domain.RelabeledByHuman
	}

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return kdb.Result{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	// concurrent copies of the same entry wait here, and the later ones see it outdated.
	prev, err := intpg.GetEntry(ctx, tx, req.PrevEntryId, true)
	if err != nil {
		return kdb.Result{}, err
	}
	if prev.Outdated {
		return kdb.Result{}, fmt.Errorf("%w: node entry %s", domerr.ErrOutdated, prev.Id)
	}

	in, out, err := m.updatedContent(ctx, tx, prev, req.Updates)
	if err != nil {
		return kdb.Result{}, err
	}
	if err := intpg.InsertInput(ctx, tx, in); err != nil {
		return kdb.Result{}, err
	}
	if err := intpg.InsertOutput(ctx, tx, out); err != nil {
		return kdb.Result{}, err
	}

	split := prev.Split
	if req.Updates.Split != nil {
		if split, err = domain.AsSplit(string(*req.Updates.Split)); err != nil {
			return kdb.Result{}, err
		}
	}

	if _, err := tx.Exec(
		ctx,
		`update "node_entry" set "outdated" = true, "updated_at" = now() where "node_entry_id" = $1`,
		prev.Id,
	); err != nil {
		return kdb.Result{}, xe.Wrap(err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return kdb.Result{}, xe.Wrap(err)
	}
	next := domain.NodeEntry{
		Id:              id.String(),
		NodeId:          prev.NodeId,
		DataChannelId:   prev.DataChannelId,
		PersistentId:    prev.PersistentId,
		Status:          domain.Processed,
		Split:           split,
		InputHash:       in.Hash,
		OutputHash:      out.Hash,
		SortKey:         prev.SortKey,
		ImportId:        prev.ImportId,
		Provenance:      provenance,
		AuthoringUserId: req.AuthoringUserId,
	}
	inserted, err := intpg.InsertEntry(ctx, tx, next)
	if err != nil {
		return kdb.Result{}, err
	}
	if !inserted {
		return kdb.Result{}, fmt.Errorf(
			"%w: another current entry of persistent id %s exists", domerr.ErrInvariantViolation, prev.PersistentId,
		)
	}
	next, err = intpg.GetEntry(ctx, tx, next.Id, false)
	if err != nil {
		return kdb.Result{}, err
	}

	var effects []domain.Job
	datasetId, comparisonModels, found, err := datasetOf(ctx, tx, prev.NodeId)
	if err != nil {
		return kdb.Result{}, err
	}
	if found {
		if _, err := tx.Exec(
			ctx,
			`
			insert into "pruning_rule_match" ("pruning_rule_id", "node_entry_id")
			select "m"."pruning_rule_id", $2
			from "pruning_rule_match" as "m"
			inner join "pruning_rule" as "pr" using ("pruning_rule_id")
			where "m"."node_entry_id" = $1 and "pr"."dataset_id" = $3
			on conflict do nothing
			`,
			prev.Id, next.Id, datasetId,
		); err != nil {
			return kdb.Result{}, xe.Wrap(err)
		}
		if err := intpg.Rematch(ctx, tx, datasetId, time.Time{}, []string{next.Id}); err != nil {
			return kdb.Result{}, err
		}

		if next.Split == domain.Test {
			if _, err := tx.Exec(
				ctx,
				`
				insert into "dataset_eval_node_entry" ("dataset_eval_id", "node_entry_id")
				select "dataset_eval_id", $2 from "dataset_eval_node_entry" where "node_entry_id" = $1
				on conflict do nothing
				`,
				prev.Id, next.Id,
			); err != nil {
				return kdb.Result{}, xe.Wrap(err)
			}

			deployed, err := scanner.New[string]().QueryAll(
				ctx, tx,
				`
				select "fine_tune_id"::text from "fine_tune"
				where "dataset_id" = $1 and "status" = 'DEPLOYED'
				order by "created_at", "fine_tune_id"
				`,
				datasetId,
			)
			if err != nil {
				return kdb.Result{}, xe.Wrap(err)
			}
			effects = versioning.EffectsOf(next, deployed, comparisonModels)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return kdb.Result{}, xe.Wrap(err)
	}
	return kdb.Result{Entry: next, Effects: effects}, nil
}

// updatedContent builds content of the new entry, inheriting what is not updated.
func (m *pgVersioning) updatedContent(
	ctx context.Context, conn kpool.Queryer, prev domain.NodeEntry, updates kdb.Updates,
) (domain.EntryInput, domain.EntryOutput, error) {
	prevIn, err := intpg.GetInput(ctx, conn, prev.InputHash)
	if err != nil {
		return domain.EntryInput{}, domain.EntryOutput{}, err
	}
	prevOut, err := intpg.GetOutput(ctx, conn, prev.OutputHash)
	if err != nil {
		return domain.EntryInput{}, domain.EntryOutput{}, err
	}
	if updates.Input == nil && updates.Output == nil {
		return prevIn, prevOut, nil
	}

	in := prevIn.Input
	if updates.Input != nil {
		in = *updates.Input
	}
	out := prevOut.Output
	if updates.Output != nil {
		out = *updates.Output
	}

	row, err := rowvalidation.Validate(
		openai.ChatCompletionRequest{
			Messages:       in.Messages,
			Tools:          in.Tools,
			ToolChoice:     in.ToolChoice,
			ResponseFormat: in.ResponseFormat,
		},
		out,
	)
	if err != nil {
		return domain.EntryInput{}, domain.EntryOutput{}, err
	}
	return materializer.Canonical(m.tokens, prevIn.ProjectId, row.Input, row.Output)
}

// datasetOf finds the dataset of the node. found is false when the node is not a Dataset.
func datasetOf(ctx context.Context, conn kpool.Queryer, nodeId string) (datasetId string, comparisonModels []string, found bool, err error) {
	models := pgtype.TextArray{}
	if err := conn.QueryRow(
		ctx,
		`select "dataset_id"::text, "enabled_comparison_models" from "dataset" where "node_id" = $1`,
		nodeId,
	).Scan(&datasetId, &models); err != nil {
		if pgerrors.IsNoRows(err) {
			return "", nil, false, nil
		}
		return "", nil, false, xe.Wrap(err)
	}
	if err := models.AssignTo(&comparisonModels); err != nil {
		return "", nil, false, xe.Wrap(err)
	}
	return datasetId, comparisonModels, true, nil
}
