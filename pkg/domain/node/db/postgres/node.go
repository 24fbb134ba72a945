package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	kpool "github.com/opst/knitpipe/pkg/conn/db/postgres/pool"
	"github.com/opst/knitpipe/pkg/conn/db/postgres/scanner"
	"github.com/opst/knitpipe/pkg/domain"
	domerr "github.com/opst/knitpipe/pkg/domain/errors"
	pgerrors "github.com/opst/knitpipe/pkg/domain/errors/dberrors/postgres"
	"github.com/opst/knitpipe/pkg/domain/hash"
	kdb "github.com/opst/knitpipe/pkg/domain/node/db"
	xe "github.com/opst/knitpipe/pkg/errors"
	"github.com/opst/knitpipe/pkg/utils"
)

type pgNode struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.NodeInterface {
	return &pgNode{pool: pool}
}

type nodeRow struct {
	NodeId    string `sql:"node_id"`
	ProjectId string
	Type      string
	Name      string
	Config    []byte
	Hash      string
	Stale     bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

const nodeColumns = `
	"n"."node_id", "n"."project_id", "n"."type", "n"."name", "n"."config",
	"n"."hash", "n"."stale", "n"."created_at", "n"."updated_at"`

func (r nodeRow) toDomain() (domain.Node, error) {
	t, err := domain.AsNodeType(r.Type)
	if err != nil {
		return domain.Node{}, err
	}
	config, err := domain.ParseConfig(t, r.Config)
	if err != nil {
		return domain.Node{}, xe.WrapWithNote("stored config of node "+r.NodeId, err)
	}
	return domain.Node{
		Id:        r.NodeId,
		ProjectId: r.ProjectId,
		Name:      r.Name,
		Type:      t,
		Config:    config,
		Hash:      r.Hash,
		Stale:     r.Stale,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func toDomainAll(rows []nodeRow) ([]domain.Node, error) {
	return utils.MapUntilError(rows, nodeRow.toDomain)
}

func (m *pgNode) Create(ctx context.Context, spec kdb.NewNode) (domain.Node, error) {
	if err := domain.ValidateConfig(spec.Type, spec.Config); err != nil {
		return domain.Node{}, err
	}
	h, err := hash.Node(spec.Type, spec.Config)
	if err != nil {
		return domain.Node{}, err
	}
	config, err := json.Marshal(spec.Config)
	if err != nil {
		return domain.Node{}, xe.Wrap(err)
	}
	nodeId, err := uuid.NewV7()
	if err != nil {
		return domain.Node{}, xe.Wrap(err)
	}

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Node{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(
		ctx,
		`
		insert into "node" ("node_id", "project_id", "type", "name", "config", "hash")
		values ($1, $2, $3, $4, $5, $6)
		`,
		nodeId.String(), spec.ProjectId, string(spec.Type), spec.Name, config, h,
	); err != nil {
		return domain.Node{}, xe.Wrap(err)
	}

	for _, label := range domain.OutputsOf(spec.Type) {
		if _, err := tx.Exec(
			ctx,
			`insert into "node_output" ("node_output_id", "node_id", "label") values ($1, $2, $3)`,
			uuid.NewString(), nodeId.String(), label,
		); err != nil {
			return domain.Node{}, xe.Wrap(err)
		}
	}

	switch spec.Type {
	case domain.Monitor, domain.Archive:
		if _, err := tx.Exec(
			ctx,
			`insert into "data_channel" ("data_channel_id", "origin_id", "destination_id") values ($1, null, $2)`,
			uuid.NewString(), nodeId.String(),
		); err != nil {
			return domain.Node{}, xe.Wrap(err)
		}
	case domain.Dataset:
		if _, err := tx.Exec(
			ctx,
			`
			insert into "dataset" ("dataset_id", "node_id", "project_id", "name")
			values ($1, $2, $3, $4)
			`,
			uuid.NewString(), nodeId.String(), spec.ProjectId, spec.Name,
		); err != nil {
			return domain.Node{}, xe.Wrap(err)
		}
	}

	n, err := get(ctx, tx, nodeId.String(), false)
	if err != nil {
		return domain.Node{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Node{}, xe.Wrap(err)
	}
	return n, nil
}

func get(ctx context.Context, conn kpool.Queryer, nodeId string, lock bool) (domain.Node, error) {
	q := `select` + nodeColumns + ` from "node" as "n" where "n"."node_id" = $1`
	if lock {
		q += ` for update`
	}
	rows, err := scanner.New[nodeRow]().QueryAll(ctx, conn, q, nodeId)
	if err != nil {
		return domain.Node{}, xe.Wrap(err)
	}
	if len(rows) == 0 {
		return domain.Node{}, xe.Wrap(pgerrors.Missing{Table: "node", Identity: "node_id=" + nodeId})
	}
	return rows[0].toDomain()
}

func (m *pgNode) Get(ctx context.Context, nodeId string) (domain.Node, error) {
	if _, err := uuid.Parse(nodeId); err != nil {
		return domain.Node{}, xe.Wrap(pgerrors.Missing{Table: "node", Identity: "node_id=" + nodeId})
	}
	return get(ctx, m.pool, nodeId, false)
}

func (m *pgNode) Connect(ctx context.Context, originNodeId, label, destinationNodeId string) (domain.DataChannel, error) {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.DataChannel{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	// channels are added one by one, so the cycle check below sees the latest graph.
	if _, err := tx.Exec(ctx, `lock table "data_channel" in share row exclusive mode`); err != nil {
		return domain.DataChannel{}, xe.Wrap(err)
	}

	outputs, err := scanner.New[string]().QueryAll(
		ctx, tx,
		`select "node_output_id"::text from "node_output" where "node_id" = $1 and "label" = $2`,
		originNodeId, label,
	)
	if err != nil {
		return domain.DataChannel{}, xe.Wrap(err)
	}
	if len(outputs) == 0 {
		return domain.DataChannel{}, xe.Wrap(pgerrors.Missing{
			Table: "node_output", Identity: fmt.Sprintf("node_id=%s, label=%s", originNodeId, label),
		})
	}
	outputId := outputs[0]

	if _, err := get(ctx, tx, destinationNodeId, false); err != nil {
		return domain.DataChannel{}, err
	}

	var cyclic bool
	if err := tx.QueryRow(
		ctx,
		`
		with recursive "reach"("node_id") as (
			select $1::uuid
			union
			select "dc"."destination_id"
			from "reach" as "r"
			inner join "node_output" as "o" on "o"."node_id" = "r"."node_id"
			inner join "data_channel" as "dc" on "dc"."origin_id" = "o"."node_output_id"
		)
		select exists (select 1 from "reach" where "node_id" = $2::uuid)
		`,
		destinationNodeId, originNodeId,
	).Scan(&cyclic); err != nil {
		return domain.DataChannel{}, xe.Wrap(err)
	}
	if cyclic {
		return domain.DataChannel{}, fmt.Errorf(
			"%w: channel from %s to %s makes a cycle",
			domerr.ErrInvalidConfig, originNodeId, destinationNodeId,
		)
	}

	if _, err := tx.Exec(
		ctx,
		`
		insert into "data_channel" ("data_channel_id", "origin_id", "destination_id")
		values ($1, $2, $3)
		on conflict ("origin_id", "destination_id") do nothing
		`,
		uuid.NewString(), outputId, destinationNodeId,
	); err != nil {
		return domain.DataChannel{}, xe.Wrap(err)
	}

	chs, err := scanner.New[channelRow]().QueryAll(
		ctx, tx,
		`select`+channelColumns+`from "data_channel" where "origin_id" = $1 and "destination_id" = $2`,
		outputId, destinationNodeId,
	)
	if err != nil {
		return domain.DataChannel{}, xe.Wrap(err)
	}
	if len(chs) == 0 {
		return domain.DataChannel{}, xe.Wrap(domerr.ErrInvariantViolation)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.DataChannel{}, xe.Wrap(err)
	}
	return chs[0].toDomain(), nil
}

type channelRow struct {
	DataChannelId   string `sql:"data_channel_id"`
	OriginId        string
	DestinationId   string
	LastProcessedAt *time.Time
}

const channelColumns = `
	"data_channel_id", coalesce("origin_id"::text, '') as "origin_id",
	"destination_id", "last_processed_at"
	`

func (c channelRow) toDomain() domain.DataChannel {
	return domain.DataChannel{
		Id:              c.DataChannelId,
		OriginId:        c.OriginId,
		DestinationId:   c.DestinationId,
		LastProcessedAt: c.LastProcessedAt,
	}
}

func (m *pgNode) SourceChannel(ctx context.Context, nodeId string) (domain.DataChannel, error) {
	chs, err := scanner.New[channelRow]().QueryAll(
		ctx, m.pool,
		`select`+channelColumns+`from "data_channel" where "destination_id" = $1 and "origin_id" is null`,
		nodeId,
	)
	if err != nil {
		return domain.DataChannel{}, xe.Wrap(err)
	}
	if len(chs) == 0 {
		return domain.DataChannel{}, xe.Wrap(pgerrors.Missing{
			Table: "data_channel", Identity: "source of node_id=" + nodeId,
		})
	}
	return chs[0].toDomain(), nil
}

func (m *pgNode) UpdateConfig(ctx context.Context, nodeId string, config domain.NodeConfig) (domain.Node, bool, error) {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Node{}, false, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	current, err := get(ctx, tx, nodeId, true)
	if err != nil {
		return domain.Node{}, false, err
	}
	if err := domain.ValidateConfig(current.Type, config); err != nil {
		return domain.Node{}, false, err
	}

	// watermark is owned by processing. keep it unless given.
	if mc, ok := config.(domain.MonitorConfig); ok && mc.LastLoggedCallUpdatedAt.IsZero() {
		if prev, ok := current.Config.(domain.MonitorConfig); ok {
			mc.LastLoggedCallUpdatedAt = prev.LastLoggedCallUpdatedAt
			config = mc
		}
	}

	h, err := hash.Node(current.Type, config)
	if err != nil {
		return domain.Node{}, false, err
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return domain.Node{}, false, xe.Wrap(err)
	}
	changed := h != current.Hash

	if _, err := tx.Exec(
		ctx,
		`
		update "node"
		set "config" = $2, "hash" = $3, "stale" = "stale" or $4, "updated_at" = now()
		where "node_id" = $1
		`,
		nodeId, raw, h, changed,
	); err != nil {
		return domain.Node{}, false, xe.Wrap(err)
	}

	updated, err := get(ctx, tx, nodeId, false)
	if err != nil {
		return domain.Node{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Node{}, false, xe.Wrap(err)
	}
	return updated, changed, nil
}

func (m *pgNode) Children(ctx context.Context, nodeId string) ([]string, error) {
	ids, err := scanner.New[string]().QueryAll(
		ctx, m.pool,
		`
		select distinct "dc"."destination_id"::text
		from "node_output" as "o"
		inner join "data_channel" as "dc" on "dc"."origin_id" = "o"."node_output_id"
		where "o"."node_id" = $1
		`,
		nodeId,
	)
	return ids, xe.Wrap(err)
}

func (m *pgNode) Upstream(ctx context.Context, nodeId string) ([]domain.Node, error) {
	rows, err := scanner.New[nodeRow]().QueryAll(
		ctx, m.pool,
		`
		with recursive "up"("node_id", "depth") as (
			select "o"."node_id", 1
			from "data_channel" as "dc"
			inner join "node_output" as "o" on "o"."node_output_id" = "dc"."origin_id"
			where "dc"."destination_id" = $1
			union
			select "o"."node_id", "up"."depth" + 1
			from "up"
			inner join "data_channel" as "dc" on "dc"."destination_id" = "up"."node_id"
			inner join "node_output" as "o" on "o"."node_output_id" = "dc"."origin_id"
		)
		select`+nodeColumns+`
		from "node" as "n"
		inner join (
			select "node_id", min("depth") as "depth" from "up" group by "node_id"
		) as "u" on "u"."node_id" = "n"."node_id"
		order by "u"."depth", "n"."created_at"
		`,
		nodeId,
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	return toDomainAll(rows)
}

func (m *pgNode) Downstream(ctx context.Context, nodeId string) ([]domain.Node, error) {
	rows, err := scanner.New[nodeRow]().QueryAll(
		ctx, m.pool,
		`
		with recursive "down"("node_id", "depth") as (
			select "dc"."destination_id", 1
			from "node_output" as "o"
			inner join "data_channel" as "dc" on "dc"."origin_id" = "o"."node_output_id"
			where "o"."node_id" = $1
			union
			select "dc"."destination_id", "down"."depth" + 1
			from "down"
			inner join "node_output" as "o" on "o"."node_id" = "down"."node_id"
			inner join "data_channel" as "dc" on "dc"."origin_id" = "o"."node_output_id"
		)
		select`+nodeColumns+`
		from "node" as "n"
		inner join (
			select "node_id", min("depth") as "depth" from "down" group by "node_id"
		) as "d" on "d"."node_id" = "n"."node_id"
		order by "d"."depth", "n"."created_at"
		`,
		nodeId,
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	return toDomainAll(rows)
}

type countsRow struct {
	Pending    int
	Processing int
	Processed  int
	Error      int
	Train      int
	Test       int
	Total      int
}

func (c countsRow) toDomain() domain.StatusCounts {
	return domain.StatusCounts(c)
}

// aggregates over "ne" (node_entry).
const countColumns = `
	count(*) filter (where "ne"."status" = 'PENDING') as "pending",
	count(*) filter (where "ne"."status" = 'PROCESSING') as "processing",
	count(*) filter (where "ne"."status" = 'PROCESSED') as "processed",
	count(*) filter (where "ne"."status" = 'ERROR') as "error",
	count(*) filter (where "ne"."split" = 'TRAIN') as "train",
	count(*) filter (where "ne"."split" = 'TEST') as "test",
	count(*) as "total"
	`

func (m *pgNode) Counts(ctx context.Context, nodeId string) (domain.StatusCounts, error) {
	rows, err := scanner.New[countsRow]().QueryAll(
		ctx, m.pool,
		`select`+countColumns+`from "node_entry" as "ne" where "ne"."node_id" = $1 and not "ne"."outdated"`,
		nodeId,
	)
	if err != nil {
		return domain.StatusCounts{}, xe.Wrap(err)
	}
	if len(rows) == 0 {
		return domain.StatusCounts{}, nil
	}
	return rows[0].toDomain(), nil
}

func (m *pgNode) List(ctx context.Context, projectId string, t domain.NodeType) ([]domain.NodeSummary, error) {
	nodes, err := scanner.New[nodeRow]().QueryAll(
		ctx, m.pool,
		`select`+nodeColumns+` from "node" as "n"
		where "n"."project_id" = $1 and "n"."type" = $2
		order by "n"."created_at"`,
		projectId, string(t),
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	if len(nodes) == 0 {
		return []domain.NodeSummary{}, nil
	}

	ids := utils.Map(nodes, func(n nodeRow) string { return n.NodeId })
	counts, err := scanner.New[struct {
		NodeId string `sql:"node_id"`
		countsRow
	}]().QueryAll(
		ctx, m.pool,
		`select "ne"."node_id", `+countColumns+`
		from "node_entry" as "ne"
		where "ne"."node_id" = any($1::uuid[]) and not "ne"."outdated"
		group by "ne"."node_id"`,
		ids,
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	byNode := map[string]domain.StatusCounts{}
	for _, c := range counts {
		byNode[c.NodeId] = c.countsRow.toDomain()
	}

	ret := make([]domain.NodeSummary, 0, len(nodes))
	for _, r := range nodes {
		n, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		ret = append(ret, domain.NodeSummary{Node: n, Counts: byNode[r.NodeId]})
	}
	return ret, nil
}

type datasetRow struct {
	DatasetId               string `sql:"dataset_id"`
	NodeId                  string `sql:"node_id"`
	ProjectId               string
	Name                    string
	TrainingRatio           float64
	EnabledComparisonModels []string
}

func (d datasetRow) toDomain() domain.DatasetInfo {
	return domain.DatasetInfo{
		Id:                      d.DatasetId,
		NodeId:                  d.NodeId,
		ProjectId:               d.ProjectId,
		Name:                    d.Name,
		TrainingRatio:           d.TrainingRatio,
		EnabledComparisonModels: d.EnabledComparisonModels,
	}
}

func (m *pgNode) dataset(ctx context.Context, column string, value string) (domain.DatasetInfo, error) {
	rows, err := scanner.New[datasetRow]().QueryAll(
		ctx, m.pool,
		fmt.Sprintf(
			`
			select
				"dataset_id", "node_id", "project_id", "name",
				"training_ratio", "enabled_comparison_models"
			from "dataset" where %q = $1
			`,
			column,
		),
		value,
	)
	if err != nil {
		return domain.DatasetInfo{}, xe.Wrap(err)
	}
	if len(rows) == 0 {
		return domain.DatasetInfo{}, xe.Wrap(pgerrors.Missing{Table: "dataset", Identity: column + "=" + value})
	}
	return rows[0].toDomain(), nil
}

func (m *pgNode) Dataset(ctx context.Context, nodeId string) (domain.DatasetInfo, error) {
	return m.dataset(ctx, "node_id", nodeId)
}

func (m *pgNode) DatasetById(ctx context.Context, datasetId string) (domain.DatasetInfo, error) {
	if _, err := uuid.Parse(datasetId); err != nil {
		return domain.DatasetInfo{}, xe.Wrap(pgerrors.Missing{Table: "dataset", Identity: "dataset_id=" + datasetId})
	}
	return m.dataset(ctx, "dataset_id", datasetId)
}

func (m *pgNode) MonitorsBehind(ctx context.Context) ([]string, error) {
	ids, err := scanner.New[string]().QueryAll(
		ctx, m.pool,
		`
		select "n"."node_id"::text
		from "node" as "n"
		where "n"."type" = 'Monitor'
			and (
				select count(*) from "node_entry" as "ne" where "ne"."node_id" = "n"."node_id"
			) < coalesce(("n"."config"->>'maxOutputSize')::integer, $1)
			and exists (
				select 1 from "logged_call" as "lc"
				where "lc"."project_id" = "n"."project_id"
					and "lc"."updated_at" > coalesce(
						("n"."config"->>'lastLoggedCallUpdatedAt')::timestamptz,
						'epoch'::timestamptz
					)
			)
		order by "n"."node_id"
		`,
		domain.DefaultMaxOutputSize,
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	return ids, nil
}
