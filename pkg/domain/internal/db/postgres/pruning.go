package postgres

import (
	"context"
	"time"

	kpool "github.com/opst/knitpipe/pkg/conn/db/postgres/pool"
	"github.com/opst/knitpipe/pkg/conn/db/postgres/scanner"
	"github.com/opst/knitpipe/pkg/domain"
	pgerrors "github.com/opst/knitpipe/pkg/domain/errors/dberrors/postgres"
	"github.com/opst/knitpipe/pkg/domain/pruning"
	xe "github.com/opst/knitpipe/pkg/errors"
)

// at most this number of entry ids are put in a query. Larger scope falls back to the whole dataset.
const MaxScopedEntries = 1000

const RuleColumns = `
	"pr"."pruning_rule_id",
	coalesce("pr"."dataset_id"::text, '') as "dataset_id",
	coalesce("pr"."fine_tune_id"::text, '') as "fine_tune_id",
	"pr"."text_to_match", "pr"."tokens_in_text", "pr"."created_at"
	`

type RuleRow struct {
	PruningRuleId string `sql:"pruning_rule_id"`
	DatasetId     string `sql:"dataset_id"`
	FineTuneId    string `sql:"fine_tune_id"`
	TextToMatch   string
	TokensInText  int
	CreatedAt     time.Time
}

func (r RuleRow) ToDomain() domain.PruningRule {
	return domain.PruningRule{
		Id:           r.PruningRuleId,
		DatasetId:    r.DatasetId,
		FineTuneId:   r.FineTuneId,
		TextToMatch:  r.TextToMatch,
		TokensInText: r.TokensInText,
		CreatedAt:    r.CreatedAt,
	}
}

// QueryRules runs query selecting RuleColumns.
func QueryRules(ctx context.Context, conn kpool.Queryer, query string, params ...any) ([]domain.PruningRule, error) {
	rows, err := scanner.New[RuleRow]().QueryAll(ctx, conn, query, params...)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	ret := make([]domain.PruningRule, 0, len(rows))
	for _, r := range rows {
		ret = append(ret, r.ToDomain())
	}
	return ret, nil
}

// LockDatasetRules serializes rematches of the dataset until the end of the transaction.
//
// After that, statements in the transaction see rules and entries committed by the others.
func LockDatasetRules(ctx context.Context, tx kpool.Tx, datasetId string) error {
	_, err := tx.Exec(ctx, `select pg_advisory_xact_lock(hashtext('pruning_rule:' || $1::text))`, datasetId)
	return xe.Wrap(err)
}

// Rematch recomputes matches of rules of the dataset created at or after since,
// for the current entries of the dataset (or ones in entryIds).
//
// It should be called in a transaction.
func Rematch(ctx context.Context, tx kpool.Tx, datasetId string, since time.Time, entryIds []string) error {
	if err := LockDatasetRules(ctx, tx, datasetId); err != nil {
		return err
	}

	var nodeId string
	if err := tx.QueryRow(
		ctx, `select "node_id"::text from "dataset" where "dataset_id" = $1`, datasetId,
	).Scan(&nodeId); err != nil {
		if pgerrors.IsNoRows(err) {
			return xe.Wrap(pgerrors.Missing{Table: "dataset", Identity: "dataset_id=" + datasetId})
		}
		return xe.Wrap(err)
	}

	rules, err := QueryRules(
		ctx, tx,
		`select`+RuleColumns+`from "pruning_rule" as "pr"
		where "pr"."dataset_id" = $1 and $2 <= "pr"."created_at"
		order by "pr"."created_at", "pr"."pruning_rule_id"`,
		datasetId, since,
	)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		return nil
	}
	ruleIds := make([]string, 0, len(rules))
	for _, r := range rules {
		ruleIds = append(ruleIds, r.Id)
	}

	if MaxScopedEntries < len(entryIds) {
		entryIds = nil
	}
	params := Params{}
	scope := `"ne"."node_id" = ` + params.Add(nodeId) + ` and not "ne"."outdated"`
	if len(entryIds) != 0 {
		scope += ` and "ne"."node_entry_id" = any(` + params.Add(entryIds) + `::uuid[])`
	}

	del := append(Params{}, params...)
	if _, err := tx.Exec(
		ctx,
		`
		delete from "pruning_rule_match" as "m"
		using "node_entry" as "ne"
		where "m"."node_entry_id" = "ne"."node_entry_id"
			and "m"."pruning_rule_id" = any(`+del.Add(ruleIds)+`::uuid[])
			and `+scope,
		del...,
	); err != nil {
		return xe.Wrap(err)
	}

	for _, r := range rules {
		p := append(Params{}, params...)
		rule := p.Add(r.Id)
		needle := p.Add(pruning.Needle(r.TextToMatch))
		if _, err := tx.Exec(
			ctx,
			`
			insert into "pruning_rule_match" ("pruning_rule_id", "node_entry_id")
			select `+rule+`::uuid, "ne"."node_entry_id"
			from "node_entry" as "ne"
			inner join "dataset_entry_input" as "dei" on "dei"."hash" = "ne"."input_hash"
			where `+scope+`
				and strpos(cast("dei"."messages" as text), `+needle+`) > 0
			on conflict do nothing
			`,
			p...,
		); err != nil {
			return xe.Wrap(err)
		}
	}
	return nil
}
