package postgres_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	kpool "github.com/opst/knitpipe/pkg/conn/db/postgres/pool"
	"github.com/opst/knitpipe/pkg/conn/db/postgres/testenv"
	"github.com/opst/knitpipe/pkg/domain"
	entrypg "github.com/opst/knitpipe/pkg/domain/entry/db/postgres"
	domerr "github.com/opst/knitpipe/pkg/domain/errors"
	kdb "github.com/opst/knitpipe/pkg/domain/finetune/db"
	"github.com/opst/knitpipe/pkg/domain/finetune/db/postgres"
	intpg "github.com/opst/knitpipe/pkg/domain/internal/db/postgres"
	"github.com/opst/knitpipe/pkg/domain/materializer"
	kndb "github.com/opst/knitpipe/pkg/domain/node/db"
	nodepg "github.com/opst/knitpipe/pkg/domain/node/db/postgres"
	pruningpg "github.com/opst/knitpipe/pkg/domain/pruning/db/postgres"
	"github.com/opst/knitpipe/pkg/tokenizer"
	"github.com/opst/knitpipe/pkg/utils/try"
	"github.com/sashabaranov/go-openai"
)

var words = tokenizer.CounterFunc(func(text string) int {
	return len(strings.Fields(text))
})

type row struct {
	user  string
	split domain.Split
}

type fixture struct {
	pool    kpool.Pool
	dataset domain.DatasetInfo

	// current entries of the dataset, keyed by user message.
	entries map[string]domain.NodeEntry
}

// archive -> dataset, whose entries are all PROCESSED.
func setup(ctx context.Context, t *testing.T, pool kpool.Pool, rows ...row) fixture {
	t.Helper()
	nodes := nodepg.New(pool)
	entries := entrypg.New(pool)
	projectId := uuid.NewString()

	archive := try.To(nodes.Create(ctx, kndb.NewNode{
		ProjectId: projectId, Name: "archive", Type: domain.Archive,
		Config: domain.ArchiveConfig{MaxOutputSize: 100},
	})).OrFatal(t)
	datasetNode := try.To(nodes.Create(ctx, kndb.NewNode{
		ProjectId: projectId, Name: "dataset", Type: domain.Dataset,
		Config: domain.DatasetConfig{},
	})).OrFatal(t)
	try.To(nodes.Connect(ctx, archive.Id, domain.ArchiveEntries, datasetNode.Id)).OrFatal(t)
	source := try.To(nodes.SourceChannel(ctx, archive.Id)).OrFatal(t)

	mat := materializer.New(words)
	materialized := []materializer.Materialized{}
	for _, r := range rows {
		materialized = append(materialized, try.To(mat.Materialize(materializer.Candidate{
			ProjectId:    projectId,
			CreationTime: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			Request: openai.ChatCompletionRequest{
				Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: r.user}},
			},
			Response:   openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "ok"},
			Split:      r.split,
			Provenance: domain.Upload,
		}, archive.Id, source.Id)).OrFatal(t))
	}
	try.To(entries.Insert(ctx, archive.Id, materialized)).OrFatal(t)
	try.To(entries.MarkAllProcessed(ctx, archive.Id)).OrFatal(t)
	try.To(entries.Forward(ctx, archive.Id, domain.ArchiveEntries)).OrFatal(t)
	try.To(entries.MarkAllProcessed(ctx, datasetNode.Id)).OrFatal(t)

	f := fixture{
		pool:    pool,
		dataset: try.To(nodes.Dataset(ctx, datasetNode.Id)).OrFatal(t),
		entries: map[string]domain.NodeEntry{},
	}
	for _, e := range try.To(intpg.QueryEntries(
		ctx, pool,
		`select`+intpg.EntryColumns+`from "node_entry" as "ne" where "ne"."node_id" = $1`,
		datasetNode.Id,
	)).OrFatal(t) {
		in := try.To(intpg.GetInput(ctx, pool, e.InputHash)).OrFatal(t)
		f.entries[in.Messages[0].Content] = e
	}
	return f
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	poolBroaker := testenv.NewPoolBroaker(ctx, t)

	t.Run("training entries, rules and their matches are frozen", func(t *testing.T) {
		f := setup(
			ctx, t, poolBroaker.GetPool(ctx, t),
			row{user: "secret one", split: domain.Train},
			row{user: "plain two", split: domain.Train},
			row{user: "secret three", split: domain.Test},
		)
		rules := pruningpg.New(f.pool)
		secret := try.To(rules.Create(ctx, f.dataset.Id, "secret", 1)).OrFatal(t)
		try.To(rules.Create(ctx, f.dataset.Id, "plain", 1)).OrFatal(t)

		testee := postgres.New(f.pool)
		ft := try.To(testee.Create(ctx, kdb.NewFineTune{
			DatasetId: f.dataset.Id, BaseModel: "gpt-4o-mini", PruningRuleIds: []string{secret.Id},
		})).OrFatal(t)
		if ft.Status != domain.FineTunePending || ft.DatasetId != f.dataset.Id ||
			ft.ProjectId != f.dataset.ProjectId || !strings.HasPrefix(ft.Slug, "ft-") {
			t.Errorf("unexpected fine-tune: %+v", ft)
		}

		training := try.To(testee.TrainingEntries(ctx, ft.Id)).OrFatal(t)
		if len(training) != 2 {
			t.Fatalf("unexpected training entries: %+v", training)
		}
		for _, te := range training {
			if te.NodeEntryId != f.entries["secret one"].Id && te.NodeEntryId != f.entries["plain two"].Id {
				t.Errorf("unexpected training entry: %+v", te)
			}
		}

		copied := try.To(testee.PruningRules(ctx, ft.Id)).OrFatal(t)
		if len(copied) != 1 || copied[0].Id == secret.Id || copied[0].TextToMatch != "secret" ||
			copied[0].FineTuneId != ft.Id || copied[0].DatasetId != "" {
			t.Fatalf("unexpected copied rules: %+v", copied)
		}

		matched := func(entryId string) bool {
			for _, r := range try.To(rules.MatchedRules(ctx, entryId)).OrFatal(t) {
				if r == copied[0].Id {
					return true
				}
			}
			return false
		}
		if !matched(f.entries["secret one"].Id) {
			t.Errorf("training entry is not matched")
		}
		if matched(f.entries["secret three"].Id) || matched(f.entries["plain two"].Id) {
			t.Errorf("unexpected match")
		}

		// rules of fine-tunes are frozen.
		if _, err := rules.Update(ctx, copied[0].Id, "other", 1); !errors.Is(err, domerr.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, but %v", err)
		}
	})

	t.Run("rules of other datasets are rejected", func(t *testing.T) {
		pool := poolBroaker.GetPool(ctx, t)
		f := setup(ctx, t, pool, row{user: "one", split: domain.Train})
		g := setup(ctx, t, pool, row{user: "two", split: domain.Train})
		other := try.To(pruningpg.New(pool).Create(ctx, g.dataset.Id, "two", 1)).OrFatal(t)

		if _, err := postgres.New(pool).Create(ctx, kdb.NewFineTune{
			DatasetId: f.dataset.Id, BaseModel: "gpt-4o-mini", PruningRuleIds: []string{other.Id},
		}); !errors.Is(err, domerr.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, but %v", err)
		}
		if fts := try.To(postgres.New(pool).List(ctx, f.dataset.Id)).OrFatal(t); len(fts) != 0 {
			t.Errorf("fine-tune is created: %+v", fts)
		}
	})

	t.Run("dataset without training entries is rejected", func(t *testing.T) {
		f := setup(ctx, t, poolBroaker.GetPool(ctx, t), row{user: "one", split: domain.Test})
		if _, err := postgres.New(f.pool).Create(ctx, kdb.NewFineTune{
			DatasetId: f.dataset.Id, BaseModel: "gpt-4o-mini",
		}); !errors.Is(err, domerr.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, but %v", err)
		}
	})

	t.Run("missing dataset", func(t *testing.T) {
		pool := poolBroaker.GetPool(ctx, t)
		if _, err := postgres.New(pool).Create(ctx, kdb.NewFineTune{
			DatasetId: uuid.NewString(), BaseModel: "gpt-4o-mini",
		}); !errors.Is(err, domerr.ErrMissing) {
			t.Errorf("expected ErrMissing, but %v", err)
		}
	})
}

func TestTestOutputs(t *testing.T) {
	ctx := context.Background()
	poolBroaker := testenv.NewPoolBroaker(ctx, t)

	f := setup(
		ctx, t, poolBroaker.GetPool(ctx, t),
		row{user: "train", split: domain.Train},
		row{user: "test one", split: domain.Test},
		row{user: "test two", split: domain.Test},
	)
	testee := postgres.New(f.pool)
	if _, err := f.pool.Exec(
		ctx,
		`update "dataset" set "enabled_comparison_models" = array['gpt-4o'] where "dataset_id" = $1`,
		f.dataset.Id,
	); err != nil {
		t.Fatal(err)
	}

	ft := try.To(testee.Create(ctx, kdb.NewFineTune{DatasetId: f.dataset.Id, BaseModel: "gpt-4o-mini"})).OrFatal(t)
	if err := testee.SetStatus(ctx, ft.Id, domain.FineTuneDeployed, ""); !errors.Is(err, domerr.ErrConflict) {
		t.Errorf("expected ErrConflict, but %v", err)
	}

	// not deployed yet.
	missing := try.To(testee.MissingTestOutputs(ctx, f.dataset.Id)).OrFatal(t)
	if len(missing) != 2 {
		t.Errorf("unexpected missing: %+v", missing)
	}
	for _, m := range missing {
		if m.ModelId != "gpt-4o" {
			t.Errorf("unexpected missing: %+v", m)
		}
	}

	if err := testee.SetStatus(ctx, ft.Id, domain.FineTuneTraining, ""); err != nil {
		t.Fatal(err)
	}
	if err := testee.SetStatus(ctx, ft.Id, domain.FineTuneDeployed, ""); err != nil {
		t.Fatal(err)
	}
	if deployed := try.To(testee.Deployed(ctx, f.dataset.Id)).OrFatal(t); len(deployed) != 1 || deployed[0].Id != ft.Id {
		t.Errorf("unexpected deployed: %+v", deployed)
	}
	if missing := try.To(testee.MissingTestOutputs(ctx, f.dataset.Id)).OrFatal(t); len(missing) != 4 {
		t.Errorf("unexpected missing: %+v", missing)
	}

	target := f.entries["test one"]
	out := domain.Output{Role: openai.ChatMessageRoleAssistant, Content: "generated"}
	if err := testee.SaveTestOutput(ctx, domain.TestOutput{
		ModelId: ft.Id, InputHash: target.InputHash, NodeEntryId: target.Id, Output: &out, OutputTokens: 1,
	}); err != nil {
		t.Fatal(err)
	}
	if err := testee.SaveTestOutput(ctx, domain.TestOutput{
		ModelId: "gpt-4o", InputHash: target.InputHash, NodeEntryId: target.Id, Error: "rate limited",
	}); err != nil {
		t.Fatal(err)
	}

	missing = try.To(testee.MissingTestOutputs(ctx, f.dataset.Id)).OrFatal(t)
	if len(missing) != 2 {
		t.Fatalf("unexpected missing: %+v", missing)
	}
	for _, m := range missing {
		if m.NodeEntryId != f.entries["test two"].Id {
			t.Errorf("unexpected missing: %+v", m)
		}
	}

	saved, ok, err := testee.TestOutput(ctx, ft.Id, target.InputHash)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || saved.Output == nil || saved.Output.Content != "generated" || saved.OutputTokens != 1 || saved.Error != "" {
		t.Errorf("unexpected output: %+v", saved)
	}
	failed, ok, err := testee.TestOutput(ctx, "gpt-4o", target.InputHash)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || failed.Output != nil || failed.Error != "rate limited" {
		t.Errorf("unexpected output: %+v", failed)
	}
	if _, ok, err := testee.TestOutput(ctx, "gpt-4o", f.entries["test two"].InputHash); err != nil || ok {
		t.Errorf("unexpected output: (ok, err) = (%v, %v)", ok, err)
	}
}
