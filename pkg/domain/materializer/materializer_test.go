package materializer_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/opst/knitpipe/pkg/domain"
	"github.com/opst/knitpipe/pkg/domain/materializer"
	"github.com/opst/knitpipe/pkg/domain/persistentid"
	"github.com/opst/knitpipe/pkg/domain/rowvalidation"
	"github.com/opst/knitpipe/pkg/tokenizer"
	"github.com/opst/knitpipe/pkg/utils/try"
	"github.com/sashabaranov/go-openai"
)

var words = tokenizer.CounterFunc(func(text string) int {
	return len(strings.Fields(text))
})

func candidate(key string, question string, answer string) materializer.Candidate {
	return materializer.Candidate{
		ProjectId:    "project-1",
		Key:          key,
		LoggedCallId: key,
		CreationTime: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Request: openai.ChatCompletionRequest{
			Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: question}},
		},
		Response: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: answer},
	}
}

func TestMaterialize(t *testing.T) {
	testee := materializer.New(words)

	t.Run("it makes rows of a pending entry", func(t *testing.T) {
		m := try.To(testee.Materialize(candidate("call-1", "how are you", "fine"), "node-1", "channel-1")).OrFatal(t)

		if m.Entry.Id == "" {
			t.Error("entry id is empty")
		}
		if m.Entry.NodeId != "node-1" || m.Entry.DataChannelId != "channel-1" {
			t.Errorf("unexpected placement: %+v", m.Entry)
		}
		if m.Entry.Status != domain.Pending || m.Entry.Provenance != domain.RequestLog {
			t.Errorf("unexpected status or provenance: %+v", m.Entry)
		}
		if m.Entry.InputHash != m.Input.Hash || m.Entry.OutputHash != m.Output.Hash {
			t.Errorf("hashes are not linked: %+v", m)
		}
		if m.Entry.PersistentId != persistentid.Generate(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), "call-1", "node-1") {
			t.Errorf("unexpected persistent id: %s", m.Entry.PersistentId)
		}
		if !strings.HasSuffix(m.Entry.SortKey, m.Entry.PersistentId) {
			t.Errorf("unexpected sort key: %s", m.Entry.SortKey)
		}
		if m.Entry.Split != domain.Train && m.Entry.Split != domain.Test {
			t.Errorf("split is not assigned: %s", m.Entry.Split)
		}
		// (3 + 1 + 3) + 3
		if m.Input.InputTokens != 10 {
			t.Errorf("unexpected input tokens: %d", m.Input.InputTokens)
		}
		if m.Output.OutputTokens != 2 {
			t.Errorf("unexpected output tokens: %d", m.Output.OutputTokens)
		}
	})

	t.Run("re-materialization gives the same identities", func(t *testing.T) {
		a := try.To(testee.Materialize(candidate("call-1", "how are you", "fine"), "node-1", "channel-1")).OrFatal(t)
		b := try.To(testee.Materialize(candidate("call-1", "how are you", "fine"), "node-1", "channel-1")).OrFatal(t)

		if a.Entry.PersistentId != b.Entry.PersistentId {
			t.Errorf("persistent ids differ: %s != %s", a.Entry.PersistentId, b.Entry.PersistentId)
		}
		if a.Input.Hash != b.Input.Hash || a.Output.Hash != b.Output.Hash {
			t.Error("content hashes differ")
		}
		if a.Entry.Split != b.Entry.Split {
			t.Error("splits differ")
		}
	})

	t.Run("same content shares content rows", func(t *testing.T) {
		a := try.To(testee.Materialize(candidate("call-1", "how are you", "fine"), "node-1", "channel-1")).OrFatal(t)
		b := try.To(testee.Materialize(candidate("call-2", "how are you", "fine"), "node-1", "channel-1")).OrFatal(t)

		if a.Input.Hash != b.Input.Hash || a.Output.Hash != b.Output.Hash {
			t.Error("content hashes differ")
		}
		if a.Entry.PersistentId == b.Entry.PersistentId {
			t.Error("different records have the same persistent id")
		}
	})

	t.Run("candidate without key is identified by content", func(t *testing.T) {
		c := candidate("", "how are you", "fine")
		c.Provenance = domain.Upload
		c.Split = domain.Test

		m := try.To(testee.Materialize(c, "node-1", "channel-1")).OrFatal(t)
		if m.Entry.Split != domain.Test || m.Entry.Provenance != domain.Upload {
			t.Errorf("unexpected entry: %+v", m.Entry)
		}
		if !strings.Contains(m.Entry.PersistentId, "_node-1") {
			t.Errorf("unexpected persistent id: %s", m.Entry.PersistentId)
		}
	})

	t.Run("invalid candidate is rejected", func(t *testing.T) {
		_, err := testee.Materialize(candidate("call-1", "how are you", ""), "node-1", "channel-1")
		if !errors.Is(err, rowvalidation.ErrInvalidRow) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestSplitOf(t *testing.T) {
	t.Run("ratio 1 and 0", func(t *testing.T) {
		for i := range 50 {
			pid := fmt.Sprintf("pid-%d", i)
			if s := materializer.SplitOf(pid, 1); s != domain.Train {
				t.Errorf("%s: %s at ratio 1", pid, s)
			}
			if s := materializer.SplitOf(pid, 0); s != domain.Test {
				t.Errorf("%s: %s at ratio 0", pid, s)
			}
		}
	})

	t.Run("default ratio is roughly kept", func(t *testing.T) {
		n := 2000
		train := 0
		for i := range n {
			if materializer.SplitOf(fmt.Sprintf("pid-%d", i), materializer.DefaultTrainingRatio) == domain.Train {
				train += 1
			}
		}
		if train < n*7/10 || n*9/10 < train {
			t.Errorf("biased: %d / %d", train, n)
		}
	})
}

func TestFromLoggedCall(t *testing.T) {
	requestedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("first choice is the output", func(t *testing.T) {
		c := try.To(materializer.FromLoggedCall(domain.LoggedCall{
			Id:          "call-1",
			ProjectId:   "project-1",
			RequestedAt: requestedAt,
			ReqPayload:  []byte(`{"model": "gpt-4o", "messages": [{"role": "user", "content": "hello"}]}`),
			RespPayload: []byte(`{"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi"}}]}`),
		})).OrFatal(t)

		if c.Key != "call-1" || c.LoggedCallId != "call-1" || !c.CreationTime.Equal(requestedAt) {
			t.Errorf("unexpected candidate: %+v", c)
		}
		if c.Response.Content != "hi" || len(c.Request.Messages) != 1 {
			t.Errorf("unexpected pair: %+v", c)
		}
	})

	t.Run("response without choices is rejected", func(t *testing.T) {
		_, err := materializer.FromLoggedCall(domain.LoggedCall{
			Id:          "call-1",
			ReqPayload:  []byte(`{"messages": [{"role": "user", "content": "hello"}]}`),
			RespPayload: []byte(`{"choices": []}`),
		})
		if !errors.Is(err, rowvalidation.ErrInvalidRow) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestFromImportRow(t *testing.T) {
	at := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	rows := try.To(rowvalidation.ParseJSONL(strings.NewReader(
		`{"input": {"messages": [{"role": "user", "content": "hello"}]}, "output": {"role": "assistant", "content": "hi"}, "split": "TEST"}` + "\n" +
			`{"input": {"messages": [{"role": "user", "content": "bye"}]}, "output": {"content": "see you"}}`,
	))).OrFatal(t)

	testee := materializer.New(words)
	ms := []materializer.Materialized{}
	for _, r := range rows {
		c := materializer.FromImportRow("project-1", "import-1", "user-1", at, r)
		ms = append(ms, try.To(testee.Materialize(c, "archive-1", "source-1")).OrFatal(t))
	}

	if len(ms) != 2 {
		t.Fatalf("unexpected rows: %d", len(ms))
	}
	for _, m := range ms {
		e := m.Entry
		if e.Provenance != domain.Upload || e.ImportId != "import-1" || e.AuthoringUserId != "user-1" {
			t.Errorf("unexpected entry: %+v", e)
		}
		if e.LoggedCallId != "" {
			t.Errorf("uploaded entry has logged call: %s", e.LoggedCallId)
		}
		if e.NodeId != "archive-1" || e.DataChannelId != "source-1" {
			t.Errorf("unexpected destination: %+v", e)
		}
	}
	if ms[0].Entry.Split != domain.Test {
		t.Errorf("split in the line should be kept: %s", ms[0].Entry.Split)
	}
	if ms[1].Output.Output.Role != openai.ChatMessageRoleAssistant {
		t.Errorf("role of output should be completed: %s", ms[1].Output.Output.Role)
	}
	if ms[0].Entry.PersistentId == ms[1].Entry.PersistentId {
		t.Error("persistent ids should differ by contents")
	}
}
