package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	kpool "github.com/opst/knitpipe/pkg/conn/db/postgres/pool"
	"github.com/opst/knitpipe/pkg/conn/db/postgres/scanner"
	"github.com/opst/knitpipe/pkg/domain"
	domerr "github.com/opst/knitpipe/pkg/domain/errors"
	pgerrors "github.com/opst/knitpipe/pkg/domain/errors/dberrors/postgres"
	kdb "github.com/opst/knitpipe/pkg/domain/finetune/db"
	intpg "github.com/opst/knitpipe/pkg/domain/internal/db/postgres"
	xe "github.com/opst/knitpipe/pkg/errors"
	"github.com/opst/knitpipe/pkg/utils"
)

type pgFineTune struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.FineTuneInterface {
	return &pgFineTune{pool: pool}
}

const fineTuneColumns = `
	"ft"."fine_tune_id", "ft"."project_id", "ft"."dataset_id", "ft"."slug", "ft"."base_model",
	"ft"."status"::text as "status", "ft"."error_message", "ft"."created_at"
	`

type fineTuneRow struct {
	FineTuneId   string `sql:"fine_tune_id"`
	ProjectId    string `sql:"project_id"`
	DatasetId    string `sql:"dataset_id"`
	Slug         string
	BaseModel    string
	Status       string
	ErrorMessage string
	CreatedAt    time.Time
}

func (r fineTuneRow) toDomain() (domain.FineTune, error) {
	status, err := domain.AsFineTuneStatus(r.Status)
	if err != nil {
		return domain.FineTune{}, err
	}
	return domain.FineTune{
		Id:           r.FineTuneId,
		ProjectId:    r.ProjectId,
		DatasetId:    r.DatasetId,
		Slug:         r.Slug,
		BaseModel:    r.BaseModel,
		Status:       status,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
	}, nil
}

func queryFineTunes(ctx context.Context, conn kpool.Queryer, query string, params ...any) ([]domain.FineTune, error) {
	rows, err := scanner.New[fineTuneRow]().QueryAll(ctx, conn, query, params...)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	return utils.MapUntilError(rows, fineTuneRow.toDomain)
}

func get(ctx context.Context, conn kpool.Queryer, fineTuneId string, lock bool) (domain.FineTune, error) {
	if _, err := uuid.Parse(fineTuneId); err != nil {
		return domain.FineTune{}, xe.Wrap(pgerrors.Missing{Table: "fine_tune", Identity: "fine_tune_id=" + fineTuneId})
	}
	q := `select` + fineTuneColumns + `from "fine_tune" as "ft" where "ft"."fine_tune_id" = $1`
	if lock {
		q += ` for update`
	}
	fts, err := queryFineTunes(ctx, conn, q, fineTuneId)
	if err != nil {
		return domain.FineTune{}, err
	}
	if len(fts) == 0 {
		return domain.FineTune{}, xe.Wrap(pgerrors.Missing{Table: "fine_tune", Identity: "fine_tune_id=" + fineTuneId})
	}
	return fts[0], nil
}

func slugOf(fineTuneId string) string {
	return "ft-" + strings.ReplaceAll(fineTuneId, "-", "")[:12]
}

func (m *pgFineTune) Create(ctx context.Context, ft kdb.NewFineTune) (domain.FineTune, error) {
	if _, err := uuid.Parse(ft.DatasetId); err != nil {
		return domain.FineTune{}, xe.Wrap(pgerrors.Missing{Table: "dataset", Identity: "dataset_id=" + ft.DatasetId})
	}
	if strings.TrimSpace(ft.BaseModel) == "" {
		return domain.FineTune{}, fmt.Errorf("%w: base model is empty", domerr.ErrInvalidConfig)
	}
	ruleIds := []string{}
	for _, id := range ft.PruningRuleIds {
		if _, err := uuid.Parse(id); err != nil {
			return domain.FineTune{}, fmt.Errorf("%w: pruning rule id %s", domerr.ErrInvalidConfig, id)
		}
		if !slices.Contains(ruleIds, id) {
			ruleIds = append(ruleIds, id)
		}
	}

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.FineTune{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	var nodeId, projectId string
	if err := tx.QueryRow(
		ctx,
		`select "node_id"::text, "project_id"::text from "dataset" where "dataset_id" = $1`,
		ft.DatasetId,
	).Scan(&nodeId, &projectId); err != nil {
		if pgerrors.IsNoRows(err) {
			return domain.FineTune{}, xe.Wrap(pgerrors.Missing{Table: "dataset", Identity: "dataset_id=" + ft.DatasetId})
		}
		return domain.FineTune{}, xe.Wrap(err)
	}

	// matches should not move while they are copied.
	if err := intpg.LockDatasetRules(ctx, tx, ft.DatasetId); err != nil {
		return domain.FineTune{}, err
	}

	var ownRules int
	if err := tx.QueryRow(
		ctx,
		`select count(*) from "pruning_rule" where "pruning_rule_id" = any($1::uuid[]) and "dataset_id" = $2`,
		ruleIds, ft.DatasetId,
	).Scan(&ownRules); err != nil {
		return domain.FineTune{}, xe.Wrap(err)
	}
	if ownRules != len(ruleIds) {
		return domain.FineTune{}, fmt.Errorf(
			"%w: some of pruning rules are not of the dataset %s", domerr.ErrInvalidConfig, ft.DatasetId,
		)
	}

	fineTuneId := uuid.NewString()
	if _, err := tx.Exec(
		ctx,
		`
		insert into "fine_tune" ("fine_tune_id", "project_id", "dataset_id", "slug", "base_model")
		values ($1, $2, $3, $4, $5)
		`,
		fineTuneId, projectId, ft.DatasetId, slugOf(fineTuneId), ft.BaseModel,
	); err != nil {
		return domain.FineTune{}, xe.Wrap(err)
	}

	ctag, err := tx.Exec(
		ctx,
		`
		insert into "fine_tune_training_entry" (
			"fine_tune_training_entry_id", "fine_tune_id", "node_entry_id",
			"persistent_id", "input_hash", "output_hash"
		)
		select gen_random_uuid(), $1, "ne"."node_entry_id", "ne"."persistent_id", "ne"."input_hash", "ne"."output_hash"
		from "node_entry" as "ne"
		where "ne"."node_id" = $2 and not "ne"."outdated"
			and "ne"."status" = 'PROCESSED' and "ne"."split" = 'TRAIN'
		`,
		fineTuneId, nodeId,
	)
	if err != nil {
		return domain.FineTune{}, xe.Wrap(err)
	}
	if ctag.RowsAffected() == 0 {
		return domain.FineTune{}, fmt.Errorf("%w: dataset %s has no training entries", domerr.ErrInvalidConfig, ft.DatasetId)
	}

	for _, src := range ruleIds {
		copied := uuid.NewString()
		if _, err := tx.Exec(
			ctx,
			`
			insert into "pruning_rule" ("pruning_rule_id", "fine_tune_id", "text_to_match", "tokens_in_text", "created_at")
			select $1, $2, "text_to_match", "tokens_in_text", "created_at"
			from "pruning_rule" where "pruning_rule_id" = $3
			`,
			copied, fineTuneId, src,
		); err != nil {
			return domain.FineTune{}, xe.Wrap(err)
		}
		if _, err := tx.Exec(
			ctx,
			`
			insert into "pruning_rule_match" ("pruning_rule_id", "node_entry_id")
			select $1, "m"."node_entry_id"
			from "pruning_rule_match" as "m"
			inner join "fine_tune_training_entry" as "fte"
				on "fte"."node_entry_id" = "m"."node_entry_id" and "fte"."fine_tune_id" = $2
			where "m"."pruning_rule_id" = $3
			`,
			copied, fineTuneId, src,
		); err != nil {
			return domain.FineTune{}, xe.Wrap(err)
		}
	}

	created, err := get(ctx, tx, fineTuneId, false)
	if err != nil {
		return domain.FineTune{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.FineTune{}, xe.Wrap(err)
	}
	return created, nil
}

func (m *pgFineTune) Get(ctx context.Context, fineTuneId string) (domain.FineTune, error) {
	return get(ctx, m.pool, fineTuneId, false)
}

func (m *pgFineTune) List(ctx context.Context, datasetId string) ([]domain.FineTune, error) {
	return queryFineTunes(
		ctx, m.pool,
		`select`+fineTuneColumns+`from "fine_tune" as "ft"
		where "ft"."dataset_id" = $1 order by "ft"."created_at", "ft"."fine_tune_id"`,
		datasetId,
	)
}

func (m *pgFineTune) SetStatus(ctx context.Context, fineTuneId string, status domain.FineTuneStatus, message string) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	current, err := get(ctx, tx, fineTuneId, true)
	if err != nil {
		return err
	}
	if !current.Status.CanTransitTo(status) {
		return fmt.Errorf("%w: fine-tune %s cannot be %s from %s", domerr.ErrConflict, fineTuneId, status, current.Status)
	}
	if _, err := tx.Exec(
		ctx,
		`update "fine_tune" set "status" = $2, "error_message" = $3 where "fine_tune_id" = $1`,
		fineTuneId, string(status), message,
	); err != nil {
		return xe.Wrap(err)
	}
	return xe.Wrap(tx.Commit(ctx))
}

func (m *pgFineTune) Deployed(ctx context.Context, datasetId string) ([]domain.FineTune, error) {
	return queryFineTunes(
		ctx, m.pool,
		`select`+fineTuneColumns+`from "fine_tune" as "ft"
		where "ft"."dataset_id" = $1 and "ft"."status" = 'DEPLOYED'
		order by "ft"."created_at", "ft"."fine_tune_id"`,
		datasetId,
	)
}

func (m *pgFineTune) TrainingEntries(ctx context.Context, fineTuneId string) ([]domain.FineTuneTrainingEntry, error) {
	type row struct {
		FineTuneId   string `sql:"fine_tune_id"`
		NodeEntryId  string `sql:"node_entry_id"`
		PersistentId string
		InputHash    string
		OutputHash   string
	}
	rows, err := scanner.New[row]().QueryAll(
		ctx, m.pool,
		`
		select
			"fine_tune_id", coalesce("node_entry_id"::text, '') as "node_entry_id",
			"persistent_id", "input_hash", "output_hash"
		from "fine_tune_training_entry"
		where "fine_tune_id" = $1
		order by "persistent_id"
		`,
		fineTuneId,
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	return utils.Map(rows, func(r row) domain.FineTuneTrainingEntry {
		return domain.FineTuneTrainingEntry{
			FineTuneId:   r.FineTuneId,
			NodeEntryId:  r.NodeEntryId,
			PersistentId: r.PersistentId,
			InputHash:    r.InputHash,
			OutputHash:   r.OutputHash,
		}
	}), nil
}

func (m *pgFineTune) PruningRules(ctx context.Context, fineTuneId string) ([]domain.PruningRule, error) {
	return intpg.QueryRules(
		ctx, m.pool,
		`select`+intpg.RuleColumns+`from "pruning_rule" as "pr"
		where "pr"."fine_tune_id" = $1
		order by "pr"."created_at", "pr"."pruning_rule_id"`,
		fineTuneId,
	)
}

func (m *pgFineTune) MissingTestOutputs(ctx context.Context, datasetId string) ([]domain.GenerateTestSetEntry, error) {
	type row struct {
		ModelId     string `sql:"model_id"`
		NodeEntryId string `sql:"node_entry_id"`
	}
	rows, err := scanner.New[row]().QueryAll(
		ctx, m.pool,
		`
		with "models" as (
			select "fine_tune_id"::text as "model_id" from "fine_tune"
			where "dataset_id" = $1 and "status" = 'DEPLOYED'
			union
			select unnest("enabled_comparison_models")::text as "model_id" from "dataset"
			where "dataset_id" = $1
		)
		select "m"."model_id", "ne"."node_entry_id"::text as "node_entry_id"
		from "dataset" as "d"
		inner join "node_entry" as "ne" on "ne"."node_id" = "d"."node_id"
		cross join "models" as "m"
		where "d"."dataset_id" = $1
			and not "ne"."outdated" and "ne"."status" = 'PROCESSED' and "ne"."split" = 'TEST'
			and not exists (
				select 1 from "fine_tune_test_entry" as "t"
				where "t"."model_id" = "m"."model_id" and "t"."input_hash" = "ne"."input_hash"
			)
		order by "ne"."sort_key", "m"."model_id"
		`,
		datasetId,
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	return utils.Map(rows, func(r row) domain.GenerateTestSetEntry {
		return domain.GenerateTestSetEntry{ModelId: r.ModelId, NodeEntryId: r.NodeEntryId}
	}), nil
}

type testOutputRow struct {
	ModelId      string `sql:"model_id"`
	InputHash    string
	NodeEntryId  string `sql:"node_entry_id"`
	Output       []byte
	OutputTokens int
	Error        string
}

func (m *pgFineTune) TestOutput(ctx context.Context, modelId string, inputHash string) (domain.TestOutput, bool, error) {
	rows, err := scanner.New[testOutputRow]().QueryAll(
		ctx, m.pool,
		`
		select
			"model_id", "input_hash", coalesce("node_entry_id"::text, '') as "node_entry_id",
			coalesce("output", 'null'::jsonb) as "output", coalesce("output_tokens", 0) as "output_tokens",
			"error"
		from "fine_tune_test_entry"
		where "model_id" = $1 and "input_hash" = $2
		`,
		modelId, inputHash,
	)
	if err != nil {
		return domain.TestOutput{}, false, xe.Wrap(err)
	}
	if len(rows) == 0 {
		return domain.TestOutput{}, false, nil
	}
	r := rows[0]
	out := domain.TestOutput{
		ModelId:      r.ModelId,
		InputHash:    r.InputHash,
		NodeEntryId:  r.NodeEntryId,
		OutputTokens: r.OutputTokens,
		Error:        r.Error,
	}
	if err := json.Unmarshal(r.Output, &out.Output); err != nil {
		return domain.TestOutput{}, false, xe.WrapWithNote("output of model "+modelId, err)
	}
	return out, true, nil
}

func (m *pgFineTune) SaveTestOutput(ctx context.Context, out domain.TestOutput) error {
	var output any
	var tokens any
	if out.Output != nil {
		raw, err := json.Marshal(out.Output)
		if err != nil {
			return xe.Wrap(err)
		}
		output = string(raw)
		tokens = out.OutputTokens
	}
	_, err := m.pool.Exec(
		ctx,
		`
		insert into "fine_tune_test_entry" ("model_id", "input_hash", "node_entry_id", "output", "output_tokens", "error")
		values ($1, $2, $3, $4::jsonb, $5, $6)
		on conflict ("model_id", "input_hash") do update
		set
			"node_entry_id" = excluded."node_entry_id",
			"output" = excluded."output",
			"output_tokens" = excluded."output_tokens",
			"error" = excluded."error",
			"updated_at" = now()
		`,
		out.ModelId, out.InputHash, intpg.Nullable(out.NodeEntryId), output, tokens, out.Error,
	)
	if err != nil {
		if pgerrors.IsForeignKeyViolation(err) {
			return xe.Wrap(pgerrors.Missing{Table: "node_entry", Identity: "node_entry_id=" + out.NodeEntryId})
		}
		return xe.Wrap(err)
	}
	return nil
}
