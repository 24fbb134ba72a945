package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	kpool "github.com/opst/knitpipe/pkg/conn/db/postgres/pool"
	"github.com/opst/knitpipe/pkg/conn/db/postgres/scanner"
	"github.com/opst/knitpipe/pkg/domain"
	domerr "github.com/opst/knitpipe/pkg/domain/errors"
	pgerrors "github.com/opst/knitpipe/pkg/domain/errors/dberrors/postgres"
	intpg "github.com/opst/knitpipe/pkg/domain/internal/db/postgres"
	"github.com/opst/knitpipe/pkg/domain/pruning"
	kdb "github.com/opst/knitpipe/pkg/domain/pruning/db"
	xe "github.com/opst/knitpipe/pkg/errors"
)

type pgPruning struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.PruningInterface {
	return &pgPruning{pool: pool}
}

func (m *pgPruning) Rematch(ctx context.Context, datasetId string, since time.Time, entryIds []string) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	if err := intpg.Rematch(ctx, tx, datasetId, since, entryIds); err != nil {
		return err
	}
	return xe.Wrap(tx.Commit(ctx))
}

func getRule(ctx context.Context, conn kpool.Queryer, ruleId string, lock bool) (domain.PruningRule, error) {
	if _, err := uuid.Parse(ruleId); err != nil {
		return domain.PruningRule{}, xe.Wrap(pgerrors.Missing{Table: "pruning_rule", Identity: "pruning_rule_id=" + ruleId})
	}
	q := `select` + intpg.RuleColumns + `from "pruning_rule" as "pr" where "pr"."pruning_rule_id" = $1`
	if lock {
		q += ` for update`
	}
	rules, err := intpg.QueryRules(ctx, conn, q, ruleId)
	if err != nil {
		return domain.PruningRule{}, err
	}
	if len(rules) == 0 {
		return domain.PruningRule{}, xe.Wrap(pgerrors.Missing{Table: "pruning_rule", Identity: "pruning_rule_id=" + ruleId})
	}
	return rules[0], nil
}

func (m *pgPruning) Create(ctx context.Context, datasetId string, textToMatch string, tokensInText int) (domain.PruningRule, error) {
	if err := pruning.Validate(textToMatch); err != nil {
		return domain.PruningRule{}, err
	}
	if _, err := uuid.Parse(datasetId); err != nil {
		return domain.PruningRule{}, xe.Wrap(pgerrors.Missing{Table: "dataset", Identity: "dataset_id=" + datasetId})
	}

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.PruningRule{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	if err := intpg.LockDatasetRules(ctx, tx, datasetId); err != nil {
		return domain.PruningRule{}, err
	}

	ruleId := uuid.NewString()
	if _, err := tx.Exec(
		ctx,
		`
		insert into "pruning_rule" ("pruning_rule_id", "dataset_id", "text_to_match", "tokens_in_text", "created_at")
		values ($1, $2, $3, $4, clock_timestamp())
		`,
		ruleId, datasetId, textToMatch, tokensInText,
	); err != nil {
		if pgerrors.IsForeignKeyViolation(err) {
			return domain.PruningRule{}, xe.Wrap(pgerrors.Missing{Table: "dataset", Identity: "dataset_id=" + datasetId})
		}
		return domain.PruningRule{}, xe.Wrap(err)
	}

	rule, err := getRule(ctx, tx, ruleId, false)
	if err != nil {
		return domain.PruningRule{}, err
	}
	if err := intpg.Rematch(ctx, tx, datasetId, rule.CreatedAt, nil); err != nil {
		return domain.PruningRule{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.PruningRule{}, xe.Wrap(err)
	}
	return rule, nil
}

func (m *pgPruning) Update(ctx context.Context, ruleId string, textToMatch string, tokensInText int) (domain.PruningRule, error) {
	if err := pruning.Validate(textToMatch); err != nil {
		return domain.PruningRule{}, err
	}

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.PruningRule{}, xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	current, err := getRule(ctx, tx, ruleId, true)
	if err != nil {
		return domain.PruningRule{}, err
	}
	if current.DatasetId == "" {
		return domain.PruningRule{}, fmt.Errorf(
			"%w: rule %s is a snapshot of fine-tune %s", domerr.ErrInvalidConfig, ruleId, current.FineTuneId,
		)
	}

	if _, err := tx.Exec(
		ctx,
		`update "pruning_rule" set "text_to_match" = $2, "tokens_in_text" = $3 where "pruning_rule_id" = $1`,
		ruleId, textToMatch, tokensInText,
	); err != nil {
		return domain.PruningRule{}, xe.Wrap(err)
	}
	if err := intpg.Rematch(ctx, tx, current.DatasetId, current.CreatedAt, nil); err != nil {
		return domain.PruningRule{}, err
	}

	updated, err := getRule(ctx, tx, ruleId, false)
	if err != nil {
		return domain.PruningRule{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.PruningRule{}, xe.Wrap(err)
	}
	return updated, nil
}

func (m *pgPruning) Delete(ctx context.Context, ruleId string) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	current, err := getRule(ctx, tx, ruleId, true)
	if err != nil {
		return err
	}
	if current.DatasetId == "" {
		return fmt.Errorf(
			"%w: rule %s is a snapshot of fine-tune %s", domerr.ErrInvalidConfig, ruleId, current.FineTuneId,
		)
	}
	if err := intpg.LockDatasetRules(ctx, tx, current.DatasetId); err != nil {
		return err
	}

	// matches are deleted by cascade.
	if _, err := tx.Exec(ctx, `delete from "pruning_rule" where "pruning_rule_id" = $1`, ruleId); err != nil {
		return xe.Wrap(err)
	}
	return xe.Wrap(tx.Commit(ctx))
}

func (m *pgPruning) Get(ctx context.Context, ruleId string) (domain.PruningRule, error) {
	return getRule(ctx, m.pool, ruleId, false)
}

func (m *pgPruning) List(ctx context.Context, datasetId string) ([]domain.PruningRule, error) {
	return intpg.QueryRules(
		ctx, m.pool,
		`select`+intpg.RuleColumns+`from "pruning_rule" as "pr"
		where "pr"."dataset_id" = $1
		order by "pr"."created_at", "pr"."pruning_rule_id"`,
		datasetId,
	)
}

func (m *pgPruning) MatchedRules(ctx context.Context, entryId string) ([]string, error) {
	ids, err := scanner.New[string]().QueryAll(
		ctx, m.pool,
		`
		select "m"."pruning_rule_id"::text
		from "pruning_rule_match" as "m"
		inner join "pruning_rule" as "pr" using ("pruning_rule_id")
		where "m"."node_entry_id" = $1
		order by "pr"."created_at", "pr"."pruning_rule_id"
		`,
		entryId,
	)
	return ids, xe.Wrap(err)
}

func (m *pgPruning) Savings(ctx context.Context, datasetId string) (int, error) {
	var savings int
	if err := m.pool.QueryRow(
		ctx,
		`
		select coalesce(sum("pr"."tokens_in_text"), 0)
		from "pruning_rule_match" as "m"
		inner join "pruning_rule" as "pr" using ("pruning_rule_id")
		inner join "node_entry" as "ne" using ("node_entry_id")
		where "pr"."dataset_id" = $1 and not "ne"."outdated" and "ne"."split" = 'TRAIN'
		`,
		datasetId,
	).Scan(&savings); err != nil {
		return 0, xe.Wrap(err)
	}
	return savings, nil
}
