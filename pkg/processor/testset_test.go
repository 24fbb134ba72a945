package processor_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/opst/knitpipe/pkg/domain"
	domerr "github.com/opst/knitpipe/pkg/domain/errors"
	"github.com/opst/knitpipe/pkg/processor"
	"github.com/sashabaranov/go-openai"
)

func TestGenerateTestSetEntry(t *testing.T) {
	ctx := context.Background()
	fineTuneId := uuid.NewString()
	testEntry := domain.NodeEntry{Id: "entry-1", Split: domain.Test, InputHash: "in-1"}

	setup := func(entry domain.NodeEntry, ft domain.FineTune) *fixture {
		f := newFixture(domain.Node{Id: "dataset-node"})
		f.entries.Impl.Get = func(_ context.Context, id string) (domain.NodeEntry, error) {
			if id != entry.Id {
				return domain.NodeEntry{}, fmt.Errorf("%w: entry %s", domerr.ErrMissing, id)
			}
			return entry, nil
		}
		f.entries.Impl.Input = func(_ context.Context, h string) (domain.EntryInput, error) {
			return domain.EntryInput{Hash: h, Input: domain.Input{
				Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "question"}},
			}}, nil
		}
		f.fineTunes.Impl.Get = func(_ context.Context, id string) (domain.FineTune, error) {
			if id != ft.Id {
				return domain.FineTune{}, fmt.Errorf("%w: fine-tune %s", domerr.ErrMissing, id)
			}
			return ft, nil
		}
		f.fineTunes.Impl.TestOutput = func(context.Context, string, string) (domain.TestOutput, bool, error) {
			return domain.TestOutput{}, false, nil
		}
		f.fineTunes.Impl.SaveTestOutput = func(context.Context, domain.TestOutput) error { return nil }
		return f
	}

	deployed := domain.FineTune{Id: fineTuneId, Slug: "ft-0123456789ab", Status: domain.FineTuneDeployed}

	t.Run("fine-tune is called by its model name", func(t *testing.T) {
		f := setup(testEntry, deployed)
		f.llm = func(_ context.Context, model string, in domain.Input) (domain.Output, error) {
			if model != "knitpipe:ft-0123456789ab" {
				t.Errorf("unexpected model: %s", model)
			}
			return domain.Output{Role: openai.ChatMessageRoleAssistant, Content: "answer"}, nil
		}

		job := domain.GenerateTestSetEntry{ModelId: fineTuneId, NodeEntryId: testEntry.Id}
		if err := f.testee().GenerateTestSetEntry(ctx, job); err != nil {
			t.Fatal(err)
		}
		saved := f.fineTunes.Calls.SaveTestOutput
		if len(saved) != 1 {
			t.Fatalf("unexpected saved: %+v", saved)
		}
		if s := saved[0]; s.ModelId != fineTuneId || s.InputHash != "in-1" || s.NodeEntryId != "entry-1" ||
			s.Output == nil || s.Output.Content != "answer" || s.OutputTokens != 2 || s.Error != "" {
			t.Errorf("unexpected saved: %+v", s)
		}
	})

	t.Run("comparison model is called as is", func(t *testing.T) {
		f := setup(testEntry, deployed)
		f.llm = func(_ context.Context, model string, in domain.Input) (domain.Output, error) {
			if model != "gpt-4o" {
				t.Errorf("unexpected model: %s", model)
			}
			return domain.Output{Role: openai.ChatMessageRoleAssistant, Content: "answer"}, nil
		}
		if err := f.testee().Handle(ctx, domain.Task{
			Name:    domain.GenerateTestSetEntryTask,
			Payload: []byte(`{"modelId": "gpt-4o", "nodeEntryId": "entry-1"}`),
		}); err != nil {
			t.Fatal(err)
		}
		if n := f.fineTunes.Calls.SaveTestOutput.Times(); n != 1 {
			t.Errorf("SaveTestOutput is called %d times", n)
		}
	})

	for name, when := range map[string]struct {
		entry domain.NodeEntry
		ft    domain.FineTune
		job   domain.GenerateTestSetEntry
	}{
		"missing entry": {
			entry: testEntry, ft: deployed,
			job: domain.GenerateTestSetEntry{ModelId: fineTuneId, NodeEntryId: "missing"},
		},
		"outdated entry": {
			entry: domain.NodeEntry{Id: "entry-1", Split: domain.Test, InputHash: "in-1", Outdated: true}, ft: deployed,
			job: domain.GenerateTestSetEntry{ModelId: fineTuneId, NodeEntryId: "entry-1"},
		},
		"TRAIN entry": {
			entry: domain.NodeEntry{Id: "entry-1", Split: domain.Train, InputHash: "in-1"}, ft: deployed,
			job: domain.GenerateTestSetEntry{ModelId: fineTuneId, NodeEntryId: "entry-1"},
		},
		"fine-tune not deployed": {
			entry: testEntry,
			ft:    domain.FineTune{Id: fineTuneId, Slug: "ft-0123456789ab", Status: domain.FineTuneTraining},
			job:   domain.GenerateTestSetEntry{ModelId: fineTuneId, NodeEntryId: "entry-1"},
		},
		"fine-tune deleted": {
			entry: testEntry, ft: deployed,
			job: domain.GenerateTestSetEntry{ModelId: uuid.NewString(), NodeEntryId: "entry-1"},
		},
	} {
		t.Run(name+" is skipped", func(t *testing.T) {
			f := setup(when.entry, when.ft)
			if err := f.testee().GenerateTestSetEntry(ctx, when.job); err != nil {
				t.Fatal(err)
			}
			if n := f.fineTunes.Calls.SaveTestOutput.Times(); n != 0 {
				t.Errorf("SaveTestOutput is called %d times", n)
			}
		})
	}

	t.Run("existing output is reused", func(t *testing.T) {
		f := setup(testEntry, deployed)
		f.fineTunes.Impl.TestOutput = func(context.Context, string, string) (domain.TestOutput, bool, error) {
			return domain.TestOutput{Output: &domain.Output{Content: "cached"}}, true, nil
		}
		if err := f.testee().GenerateTestSetEntry(ctx, domain.GenerateTestSetEntry{ModelId: "gpt-4o", NodeEntryId: "entry-1"}); err != nil {
			t.Fatal(err)
		}
		if n := f.fineTunes.Calls.SaveTestOutput.Times(); n != 0 {
			t.Errorf("SaveTestOutput is called %d times", n)
		}
	})

	t.Run("rate limit is retried without recording", func(t *testing.T) {
		f := setup(testEntry, deployed)
		f.llm = func(context.Context, string, domain.Input) (domain.Output, error) {
			return domain.Output{}, &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}
		}
		err := f.testee().GenerateTestSetEntry(ctx, domain.GenerateTestSetEntry{ModelId: "gpt-4o", NodeEntryId: "entry-1"})
		if !errors.Is(err, processor.ErrRateLimited) {
			t.Errorf("expected ErrRateLimited, but %v", err)
		}
		if n := f.fineTunes.Calls.SaveTestOutput.Times(); n != 0 {
			t.Errorf("SaveTestOutput is called %d times", n)
		}
	})

	t.Run("other failures are recorded and returned", func(t *testing.T) {
		f := setup(testEntry, deployed)
		f.llm = func(context.Context, string, domain.Input) (domain.Output, error) {
			return domain.Output{}, &openai.APIError{HTTPStatusCode: 400, Message: "bad request"}
		}
		err := f.testee().GenerateTestSetEntry(ctx, domain.GenerateTestSetEntry{ModelId: "gpt-4o", NodeEntryId: "entry-1"})
		if err == nil || errors.Is(err, processor.ErrRateLimited) {
			t.Errorf("unexpected error: %v", err)
		}
		saved := f.fineTunes.Calls.SaveTestOutput
		if len(saved) != 1 || saved[0].Output != nil || saved[0].Error == "" || saved[0].ModelId != "gpt-4o" {
			t.Errorf("unexpected saved: %+v", saved)
		}
	})
}
