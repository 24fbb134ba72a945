package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	kpool "github.com/opst/knitpipe/pkg/conn/db/postgres/pool"
	"github.com/opst/knitpipe/pkg/conn/db/postgres/scanner"
	"github.com/opst/knitpipe/pkg/domain"
	kdb "github.com/opst/knitpipe/pkg/domain/entry/db"
	domerr "github.com/opst/knitpipe/pkg/domain/errors"
	pgerrors "github.com/opst/knitpipe/pkg/domain/errors/dberrors/postgres"
	intpg "github.com/opst/knitpipe/pkg/domain/internal/db/postgres"
	"github.com/opst/knitpipe/pkg/domain/materializer"
	"github.com/opst/knitpipe/pkg/domain/rowvalidation"
	"github.com/opst/knitpipe/pkg/domain/sampler"
	xe "github.com/opst/knitpipe/pkg/errors"
)

type pgEntry struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.EntryInterface {
	return &pgEntry{pool: pool}
}

type lockedNode struct {
	ProjectId string `sql:"project_id"`
	Type      string
	Config    []byte
	ChannelId string `sql:"data_channel_id"`
}

// lockNode locks the node and reads it with its source channel.
//
// Concurrent admissions into the same node are serialized by this lock.
func lockNode(ctx context.Context, tx kpool.Tx, nodeId string) (domain.NodeType, domain.NodeConfig, lockedNode, error) {
	rows, err := scanner.New[lockedNode]().QueryAll(
		ctx, tx,
		`
		select "n"."project_id", "n"."type"::text as "type", "n"."config", "dc"."data_channel_id"
		from "node" as "n"
		inner join "data_channel" as "dc"
			on "dc"."destination_id" = "n"."node_id" and "dc"."origin_id" is null
		where "n"."node_id" = $1
		for update of "n"
		`,
		nodeId,
	)
	if err != nil {
		return "", nil, lockedNode{}, xe.Wrap(err)
	}
	if len(rows) == 0 {
		return "", nil, lockedNode{}, xe.Wrap(pgerrors.Missing{
			Table: "node", Identity: "node_id=" + nodeId + " with source channel",
		})
	}
	row := rows[0]
	t, err := domain.AsNodeType(row.Type)
	if err != nil {
		return "", nil, lockedNode{}, err
	}
	config, err := domain.ParseConfig(t, row.Config)
	if err != nil {
		return "", nil, lockedNode{}, err
	}
	return t, config, row, nil
}

type loggedCallRow struct {
	LoggedCallId string `sql:"logged_call_id"`
	ProjectId    string `sql:"project_id"`
	Model        string
	StatusCode   int
	RequestedAt  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ReqPayload   []byte
	RespPayload  []byte
	Tags         map[string]string
}

func (r loggedCallRow) toDomain() domain.LoggedCall {
	return domain.LoggedCall{
		Id:          r.LoggedCallId,
		ProjectId:   r.ProjectId,
		Model:       r.Model,
		StatusCode:  r.StatusCode,
		RequestedAt: r.RequestedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		ReqPayload:  r.ReqPayload,
		RespPayload: r.RespPayload,
		Tags:        r.Tags,
	}
}

func insertRows(ctx context.Context, tx kpool.Tx, rows []materializer.Materialized) (int, error) {
	admitted := 0
	for _, r := range rows {
		if err := intpg.InsertInput(ctx, tx, r.Input); err != nil {
			return 0, err
		}
		if err := intpg.InsertOutput(ctx, tx, r.Output); err != nil {
			return 0, err
		}
		inserted, err := intpg.InsertEntry(ctx, tx, r.Entry)
		if err != nil {
			return 0, err
		}
		if inserted {
			admitted += 1
		}
	}
	return admitted, nil
}

func (m *pgEntry) Admit(ctx context.Context, nodeId string, mat *materializer.Materializer) (kdb.Admission, error) {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return kdb.Admission{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	t, c, node, err := lockNode(ctx, tx, nodeId)
	if err != nil {
		return kdb.Admission{}, err
	}
	config, ok := c.(domain.MonitorConfig)
	if !ok {
		return kdb.Admission{}, fmt.Errorf("%w: node %s is %s, not Monitor", domerr.ErrInvalidConfig, nodeId, t)
	}
	threshold, err := sampler.ThresholdOf(config.SampleRate)
	if err != nil {
		return kdb.Admission{}, fmt.Errorf("%w: %w", domerr.ErrInvalidConfig, err)
	}

	admission := kdb.Admission{}
	if err := tx.QueryRow(
		ctx, `select count(*) from "node_entry" where "node_id" = $1`, nodeId,
	).Scan(&admission.Existing); err != nil {
		return kdb.Admission{}, xe.Wrap(err)
	}

	rest := config.MaxOutputSize - admission.Existing
	if rest <= 0 {
		return admission, xe.Wrap(tx.Commit(ctx))
	}

	params := intpg.Params{}
	project := params.Add(node.ProjectId)
	watermark := params.Add(config.LastLoggedCallUpdatedAt)
	filters, err := filterSQL(config.InitialFilters, &params)
	if err != nil {
		return kdb.Admission{}, err
	}
	// candidates and the watermark share the window.
	window := fmt.Sprintf(
		`"lc"."project_id" = %s and "lc"."updated_at" >= %s and %s`,
		project, watermark, filters,
	)

	windowParams := append(intpg.Params{}, params...)

	nodeParam := params.Add(nodeId)
	samplerNodeParam := params.Add(nodeId) + "::text"
	sampled, sparams := threshold.SQL(`"lc"."logged_call_id"::text`, samplerNodeParam, params.Next())
	params = append(params, sparams...)
	limit := params.Add(rest)

	calls, err := scanner.New[loggedCallRow]().QueryAll(
		ctx, tx,
		fmt.Sprintf(
			`
			select
				"lc"."logged_call_id", "lc"."project_id", "lc"."model", "lc"."status_code",
				"lc"."requested_at", "lc"."created_at", "lc"."updated_at",
				"lc"."req_payload",
				coalesce("lc"."resp_payload", 'null'::jsonb) as "resp_payload",
				"lc"."tags"
			from "logged_call" as "lc"
			where %[1]s
				and not exists (
					select 1 from "node_entry" as "ne"
					where "ne"."node_id" = %[2]s and "ne"."logged_call_id" = "lc"."logged_call_id"
				)
				and not exists (
					select 1 from "node_dropped_logged_call" as "nd"
					where "nd"."node_id" = %[2]s and "nd"."logged_call_id" = "lc"."logged_call_id"
				)
				and %[3]s
			order by "lc"."created_at", "lc"."logged_call_id"
			limit %[4]s
			`,
			window, nodeParam, sampled, limit,
		),
		params...,
	)
	if err != nil {
		return kdb.Admission{}, xe.Wrap(err)
	}
	admission.Candidates = len(calls)

	rows := make([]materializer.Materialized, 0, len(calls))
	for _, call := range calls {
		lc := call.toDomain()
		cand, err := materializer.FromLoggedCall(lc)
		if err == nil {
			var r materializer.Materialized
			if r, err = mat.Materialize(cand, nodeId, node.ChannelId); err == nil {
				rows = append(rows, r)
				continue
			}
		}
		if !errors.Is(err, rowvalidation.ErrInvalidRow) {
			return kdb.Admission{}, err
		}
		admission.Dropped = append(admission.Dropped, kdb.Drop{LoggedCallId: lc.Id, Err: err})
	}

	if admission.Admitted, err = insertRows(ctx, tx, rows); err != nil {
		return kdb.Admission{}, err
	}
	for _, d := range admission.Dropped {
		if _, err := tx.Exec(
			ctx,
			`
			insert into "node_dropped_logged_call" ("node_id", "logged_call_id", "error")
			values ($1, $2, $3)
			on conflict do nothing
			`,
			nodeId, d.LoggedCallId, d.Err.Error(),
		); err != nil {
			return kdb.Admission{}, xe.Wrap(err)
		}
	}

	// when the capacity runs out, records left in the window are not read yet.
	if len(calls) < rest {
		var newWatermark *time.Time
		if err := tx.QueryRow(
			ctx,
			fmt.Sprintf(`select max("lc"."updated_at") from "logged_call" as "lc" where %s`, window),
			windowParams...,
		).Scan(&newWatermark); err != nil {
			return kdb.Admission{}, xe.Wrap(err)
		}
		if newWatermark != nil && newWatermark.After(config.LastLoggedCallUpdatedAt) {
			raw, err := json.Marshal(newWatermark.UTC())
			if err != nil {
				return kdb.Admission{}, xe.Wrap(err)
			}
			if _, err := tx.Exec(
				ctx,
				`
				update "node"
				set "config" = jsonb_set("config", '{lastLoggedCallUpdatedAt}', $2::jsonb)
				where "node_id" = $1
				`,
				nodeId, raw,
			); err != nil {
				return kdb.Admission{}, xe.Wrap(err)
			}
			admission.Watermark = newWatermark
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return kdb.Admission{}, xe.Wrap(err)
	}
	return admission, nil
}

func (m *pgEntry) Insert(ctx context.Context, nodeId string, rows []materializer.Materialized) (int, error) {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	t, c, node, err := lockNode(ctx, tx, nodeId)
	if err != nil {
		return 0, err
	}
	config, ok := c.(domain.ArchiveConfig)
	if !ok {
		return 0, fmt.Errorf("%w: node %s is %s, not Archive", domerr.ErrInvalidConfig, nodeId, t)
	}

	var existing int
	if err := tx.QueryRow(
		ctx, `select count(*) from "node_entry" where "node_id" = $1 and not "outdated"`, nodeId,
	).Scan(&existing); err != nil {
		return 0, xe.Wrap(err)
	}
	if config.MaxOutputSize < existing+len(rows) {
		return 0, fmt.Errorf(
			"%w: archive %s has %d entries, and can take %d more",
			domerr.ErrTooMuch, nodeId, existing, config.MaxOutputSize-existing,
		)
	}

	for _, r := range rows {
		if r.Entry.NodeId != nodeId || r.Entry.DataChannelId != node.ChannelId {
			return 0, fmt.Errorf(
				"%w: entry %s is not for the source of node %s",
				domerr.ErrInvariantViolation, r.Entry.Id, nodeId,
			)
		}
	}

	n, err := insertRows(ctx, tx, rows)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, xe.Wrap(err)
	}
	return n, nil
}

func (m *pgEntry) Forward(ctx context.Context, nodeId string, label string) (int, error) {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	ctag, err := tx.Exec(
		ctx,
		`
		with "ch" as (
			select "dc"."data_channel_id", "dc"."destination_id"
			from "data_channel" as "dc"
			inner join "node_output" as "o" on "o"."node_output_id" = "dc"."origin_id"
			where "o"."node_id" = $1 and "o"."label" = $2
		)
		insert into "node_entry" (
			"node_entry_id", "node_id", "data_channel_id", "parent_node_entry_id",
			"persistent_id", "logged_call_id", "status", "split",
			"input_hash", "output_hash", "sort_key", "import_id", "provenance", "authoring_user_id"
		)
		select
			gen_random_uuid(), "ch"."destination_id", "ch"."data_channel_id", "p"."node_entry_id",
			"p"."persistent_id", "p"."logged_call_id", 'PENDING', "p"."split",
			"p"."input_hash", "p"."output_hash", "p"."sort_key", "p"."import_id", "p"."provenance", "p"."authoring_user_id"
		from "node_entry" as "p"
		cross join "ch"
		where "p"."node_id" = $1 and "p"."status" = 'PROCESSED' and not "p"."outdated"
			and not exists (
				select 1 from "node_entry" as "c"
				where "c"."data_channel_id" = "ch"."data_channel_id"
					and "c"."parent_node_entry_id" = "p"."node_entry_id"
			)
		order by "p"."sort_key"
		on conflict do nothing
		`,
		nodeId, label,
	)
	if err != nil {
		return 0, xe.Wrap(err)
	}

	if _, err := tx.Exec(
		ctx,
		`
		update "data_channel" set "last_processed_at" = now()
		where "origin_id" in (
			select "node_output_id" from "node_output" where "node_id" = $1 and "label" = $2
		)
		`,
		nodeId, label,
	); err != nil {
		return 0, xe.Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, xe.Wrap(err)
	}
	return int(ctag.RowsAffected()), nil
}

func (m *pgEntry) ResetProcessing(ctx context.Context, nodeId string) (int, error) {
	ctag, err := m.pool.Exec(
		ctx,
		`
		update "node_entry" set "status" = 'PENDING', "updated_at" = now()
		where "node_id" = $1 and "status" = 'PROCESSING'
		`,
		nodeId,
	)
	if err != nil {
		return 0, xe.Wrap(err)
	}
	return int(ctag.RowsAffected()), nil
}

func (m *pgEntry) MarkAllProcessed(ctx context.Context, nodeId string) (int, error) {
	ctag, err := m.pool.Exec(
		ctx,
		`
		update "node_entry" set "status" = 'PROCESSED', "error" = '', "updated_at" = now()
		where "node_id" = $1 and "status" = 'PENDING' and not "outdated"
		`,
		nodeId,
	)
	if err != nil {
		return 0, xe.Wrap(err)
	}
	return int(ctag.RowsAffected()), nil
}

func (m *pgEntry) Invalidate(ctx context.Context, node domain.Node) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	switch node.Type {
	case domain.Monitor:
		// children downstream are deleted by cascade.
		if _, err := tx.Exec(ctx, `delete from "node_entry" where "node_id" = $1`, node.Id); err != nil {
			return xe.Wrap(err)
		}
		if _, err := tx.Exec(ctx, `delete from "node_dropped_logged_call" where "node_id" = $1`, node.Id); err != nil {
			return xe.Wrap(err)
		}
		if _, err := tx.Exec(
			ctx,
			`
			update "node" set "config" = "config" - 'lastLoggedCallUpdatedAt', "updated_at" = now()
			where "node_id" = $1
			`,
			node.Id,
		); err != nil {
			return xe.Wrap(err)
		}
	default:
		if _, err := tx.Exec(
			ctx,
			`
			delete from "node_entry"
			where "parent_node_entry_id" in (select "node_entry_id" from "node_entry" where "node_id" = $1)
			`,
			node.Id,
		); err != nil {
			return xe.Wrap(err)
		}
		if _, err := tx.Exec(
			ctx,
			`
			update "node_entry"
			set
				"status" = 'PENDING', "error" = '',
				"output_hash" = coalesce("original_output_hash", "output_hash"),
				"original_output_hash" = null,
				"updated_at" = now()
			where "node_id" = $1
			`,
			node.Id,
		); err != nil {
			return xe.Wrap(err)
		}
	}

	if _, err := tx.Exec(
		ctx, `update "node" set "stale" = false where "node_id" = $1`, node.Id,
	); err != nil {
		return xe.Wrap(err)
	}
	return xe.Wrap(tx.Commit(ctx))
}

func (m *pgEntry) ClaimPending(ctx context.Context, nodeId string, limit int) ([]domain.NodeEntry, error) {
	return intpg.QueryEntries(
		ctx, m.pool,
		`
		with "claimed" as (
			update "node_entry" set "status" = 'PROCESSING', "updated_at" = now()
			where "node_entry_id" in (
				select "node_entry_id" from "node_entry"
				where "node_id" = $1 and "status" = 'PENDING' and not "outdated"
				order by "sort_key"
				limit $2
				for update skip locked
			)
			returning *
		)
		select`+intpg.EntryColumns+`from "claimed" as "ne" order by "ne"."sort_key"
		`,
		nodeId, limit,
	)
}

func (m *pgEntry) Get(ctx context.Context, entryId string) (domain.NodeEntry, error) {
	return intpg.GetEntry(ctx, m.pool, entryId, false)
}

func (m *pgEntry) Input(ctx context.Context, hash string) (domain.EntryInput, error) {
	return intpg.GetInput(ctx, m.pool, hash)
}

func (m *pgEntry) Output(ctx context.Context, hash string) (domain.EntryOutput, error) {
	return intpg.GetOutput(ctx, m.pool, hash)
}

func (m *pgEntry) Relabeled(ctx context.Context, entryId string, out domain.EntryOutput) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	current, err := intpg.GetEntry(ctx, tx, entryId, true)
	if err != nil {
		return err
	}
	if current.Status != domain.Processing {
		return fmt.Errorf("%w: entry %s is %s, not PROCESSING", domerr.ErrConflict, entryId, current.Status)
	}
	if err := intpg.InsertOutput(ctx, tx, out); err != nil {
		return err
	}
	if _, err := tx.Exec(
		ctx,
		`
		update "node_entry"
		set
			"original_output_hash" = case
				when "output_hash" = $2 then "original_output_hash"
				else coalesce("original_output_hash", "output_hash")
			end,
			"output_hash" = $2,
			"status" = 'PROCESSED', "error" = '', "updated_at" = now()
		where "node_entry_id" = $1
		`,
		entryId, out.Hash,
	); err != nil {
		return xe.Wrap(err)
	}
	return xe.Wrap(tx.Commit(ctx))
}

func (m *pgEntry) SetStatus(ctx context.Context, entryId string, status domain.EntryStatus, message string) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	current, err := intpg.GetEntry(ctx, tx, entryId, true)
	if err != nil {
		return err
	}
	if current.Status == status && current.Error == message {
		return nil
	}
	if current.Status != status && !current.Status.CanTransitTo(status) {
		return fmt.Errorf("%w: entry %s can not be %s from %s", domerr.ErrConflict, entryId, status, current.Status)
	}
	if status != domain.Error {
		message = ""
	}
	if _, err := tx.Exec(
		ctx,
		`update "node_entry" set "status" = $2, "error" = $3, "updated_at" = now() where "node_entry_id" = $1`,
		entryId, string(status), message,
	); err != nil {
		return xe.Wrap(err)
	}
	return xe.Wrap(tx.Commit(ctx))
}

func (m *pgEntry) CachedOutput(ctx context.Context, nodeHash string, inputHash string, outputHash string) (domain.EntryOutput, bool, error) {
	hashes, err := scanner.New[string]().QueryAll(
		ctx, m.pool,
		`
		select "outgoing_output_hash" from "cached_processed_entry"
		where "node_hash" = $1 and "incoming_input_hash" = $2 and "incoming_output_hash" = $3
		`,
		nodeHash, inputHash, outputHash,
	)
	if err != nil {
		return domain.EntryOutput{}, false, xe.Wrap(err)
	}
	if len(hashes) == 0 {
		return domain.EntryOutput{}, false, nil
	}
	out, err := intpg.GetOutput(ctx, m.pool, hashes[0])
	if err != nil {
		return domain.EntryOutput{}, false, err
	}
	return out, true, nil
}

func (m *pgEntry) Cache(ctx context.Context, nodeHash string, inputHash string, outputHash string, out domain.EntryOutput) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	if err := intpg.InsertOutput(ctx, tx, out); err != nil {
		return err
	}
	if _, err := tx.Exec(
		ctx,
		`
		insert into "cached_processed_entry" (
			"node_hash", "incoming_input_hash", "incoming_output_hash", "outgoing_output_hash"
		)
		values ($1, $2, $3, $4)
		on conflict do nothing
		`,
		nodeHash, inputHash, outputHash, out.Hash,
	); err != nil {
		return xe.Wrap(err)
	}
	return xe.Wrap(tx.Commit(ctx))
}
