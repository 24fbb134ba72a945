package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	apientries "github.com/opst/knitpipe/api-types/entries"
	"github.com/opst/knitpipe/cmd/datasetd/handlers"
	httptestutil "github.com/opst/knitpipe/internal/testutils/http"
	"github.com/opst/knitpipe/pkg/auth"
	"github.com/opst/knitpipe/pkg/domain"
	entrymocks "github.com/opst/knitpipe/pkg/domain/entry/db/mock"
	domerr "github.com/opst/knitpipe/pkg/domain/errors"
	"github.com/opst/knitpipe/pkg/domain/materializer"
	nodemocks "github.com/opst/knitpipe/pkg/domain/node/db/mock"
	kversioning "github.com/opst/knitpipe/pkg/domain/versioning/db"
	versioningmocks "github.com/opst/knitpipe/pkg/domain/versioning/db/mock"
	"github.com/opst/knitpipe/pkg/tokenizer"
	"github.com/opst/knitpipe/pkg/utils/try"
)

var words = tokenizer.CounterFunc(func(text string) int {
	return len(strings.Fields(text))
})

// wrap handler with authentication as user-1, and returns request option carrying its token.
func authenticated(t *testing.T, h echo.HandlerFunc) (echo.HandlerFunc, httptestutil.RequestOption) {
	keyring := auth.New([]byte("0123456789abcdef0123456789abcdef"), "knitpipe")
	token := try.To(keyring.Issue("user-1", time.Hour)).OrFatal(t)
	return keyring.Middleware()(h), httptestutil.WithHeader("Authorization", "Bearer "+token)
}

func TestCopyEntryHandler(t *testing.T) {
	t.Run("it copies the entry as human edit, and enqueues effects", func(t *testing.T) {
		versioning := versioningmocks.NewVersioningInterface()
		versioning.Impl.CopyEntryWithUpdates = func(_ context.Context, req kversioning.Request) (kversioning.Result, error) {
			return kversioning.Result{
				Entry: domain.NodeEntry{
					Id: "entry-2", NodeId: "node-1", PersistentId: "pid-1",
					Status: domain.Processed, Split: domain.Test,
					Provenance: req.Provenance, AuthoringUserId: req.AuthoringUserId,
				},
				Effects: []domain.Job{
					domain.GenerateTestSetEntry{ModelId: "model-1", NodeEntryId: "entry-2"},
					domain.GenerateTestSetEntry{ModelId: "model-2", NodeEntryId: "entry-2"},
				},
			}, nil
		}
		enq := &enqueuer{}

		testee, withToken := authenticated(t, handlers.CopyEntryHandler(versioning, enq, "entryId"))

		e := echo.New()
		c, resp := httptestutil.Post(
			e, "/api/entries/entry-1/copy",
			strings.NewReader(`{"output": {"role": "assistant", "content": "fixed"}, "split": "TEST"}`),
			httptestutil.ContentType("application/json"), withToken,
		)
		c.SetParamNames("entryId")
		c.SetParamValues("entry-1")

		if err := testee(c); err != nil {
			t.Fatal(err)
		}
		if resp.Code != http.StatusOK {
			t.Errorf("status: %d", resp.Code)
		}

		if versioning.Calls.CopyEntryWithUpdates.Times() != 1 {
			t.Fatalf("CopyEntryWithUpdates: %+v", versioning.Calls.CopyEntryWithUpdates)
		}
		req := versioning.Calls.CopyEntryWithUpdates[0]
		if req.PrevEntryId != "entry-1" || req.AuthoringUserId != "user-1" || req.Provenance != domain.RelabeledByHuman {
			t.Errorf("unexpected request: %+v", req)
		}
		if req.Updates.Input != nil {
			t.Errorf("input should be inherited: %+v", req.Updates.Input)
		}
		if req.Updates.Output == nil || req.Updates.Output.Content != "fixed" {
			t.Errorf("unexpected output: %+v", req.Updates.Output)
		}
		if req.Updates.Split == nil || *req.Updates.Split != domain.Test {
			t.Errorf("unexpected split: %v", req.Updates.Split)
		}

		if len(enq.jobs) != 2 {
			t.Errorf("enqueued: %+v", enq.jobs)
		}

		actual := apientries.Entry{}
		if err := json.Unmarshal(resp.Body.Bytes(), &actual); err != nil {
			t.Fatal(err)
		}
		if actual.EntryId != "entry-2" || actual.Provenance != "RELABELED_BY_HUMAN" || actual.AuthoringUserId != "user-1" {
			t.Errorf("unexpected response: %+v", actual)
		}
	})

	for name, testcase := range map[string]struct {
		body   string
		err    error
		status int
	}{
		"outdated entry is 409": {
			body: `{"split": "TRAIN"}`, err: fmt.Errorf("%w: entry-1", domerr.ErrOutdated),
			status: http.StatusConflict,
		},
		"missing entry is 404": {
			body: `{"split": "TRAIN"}`, err: domerr.ErrMissing,
			status: http.StatusNotFound,
		},
		"unknown split is 400": {
			body: `{"split": "VALIDATION"}`, status: http.StatusBadRequest,
		},
		"malformed json is 400": {
			body: `{"split": `, status: http.StatusBadRequest,
		},
	} {
		t.Run(name, func(t *testing.T) {
			versioning := versioningmocks.NewVersioningInterface()
			versioning.Impl.CopyEntryWithUpdates = func(context.Context, kversioning.Request) (kversioning.Result, error) {
				return kversioning.Result{}, testcase.err
			}
			enq := &enqueuer{}

			e := echo.New()
			c, resp := httptestutil.Post(
				e, "/api/entries/entry-1/copy", strings.NewReader(testcase.body),
				httptestutil.ContentType("application/json"),
			)
			c.SetParamNames("entryId")
			c.SetParamValues("entry-1")

			err := handlers.CopyEntryHandler(versioning, enq, "entryId")(c)
			if status := statusOf(t, err, resp); status != testcase.status {
				t.Errorf("status: (actual, expected) = (%d, %d)", status, testcase.status)
			}
			if len(enq.jobs) != 0 {
				t.Errorf("enqueued: %+v", enq.jobs)
			}
		})
	}
}

func TestUploadHandler(t *testing.T) {
	archive := domain.Node{
		Id: "archive-1", ProjectId: "project-1", Type: domain.Archive,
		Config: domain.ArchiveConfig{MaxOutputSize: 10},
	}
	source := domain.DataChannel{Id: "source-1", DestinationId: "archive-1"}

	jsonl := strings.Join([]string{
		`{"input": {"messages": [{"role": "user", "content": "hello"}]}, "output": {"role": "assistant", "content": "hi"}, "split": "TEST"}`,
		``,
		`{"input": {"messages": [{"role": "user", "content": "bye"}]}, "output": {"role": "assistant", "content": "see you"}}`,
	}, "\n")

	type when struct {
		node      domain.Node
		body      string
		insertErr error
	}
	type then struct {
		status   int
		inserted bool
	}

	for name, testcase := range map[string]struct {
		when
		then
	}{
		"rows are inserted into the archive, and the archive is processed": {
			when: when{node: archive, body: jsonl},
			then: then{status: http.StatusCreated, inserted: true},
		},
		"invalid line rejects the whole upload": {
			when: when{node: archive, body: jsonl + "\n" + `{"input": {"messages": []}, "output": {"role": "assistant", "content": "x"}}`},
			then: then{status: http.StatusBadRequest},
		},
		"malformed line rejects the whole upload": {
			when: when{node: archive, body: `{"input": `},
			then: then{status: http.StatusBadRequest},
		},
		"node other than Archive is rejected": {
			when: when{node: domain.Node{Id: "archive-1", Type: domain.Dataset}, body: jsonl},
			then: then{status: http.StatusBadRequest},
		},
		"too many entries are rejected": {
			when: when{node: archive, body: jsonl, insertErr: fmt.Errorf("%w: 12 > 10", domerr.ErrTooMuch)},
			then: then{status: http.StatusBadRequest},
		},
	} {
		t.Run(name, func(t *testing.T) {
			nodes := nodemocks.NewNodeInterface()
			nodes.Impl.Get = func(context.Context, string) (domain.Node, error) {
				return testcase.when.node, nil
			}
			nodes.Impl.SourceChannel = func(context.Context, string) (domain.DataChannel, error) {
				return source, nil
			}
			entries := entrymocks.NewEntryInterface()
			entries.Impl.Insert = func(_ context.Context, _ string, rows []materializer.Materialized) (int, error) {
				if testcase.when.insertErr != nil {
					return 0, testcase.when.insertErr
				}
				return len(rows), nil
			}
			enq := &enqueuer{}

			testee, withToken := authenticated(
				t, handlers.UploadHandler(nodes, entries, words, enq, "nodeId"),
			)

			e := echo.New()
			c, resp := httptestutil.Post(
				e, "/api/archives/archive-1/entries", strings.NewReader(testcase.when.body),
				httptestutil.ContentType("application/jsonl"), withToken,
			)
			c.SetParamNames("nodeId")
			c.SetParamValues("archive-1")

			err := testee(c)
			if status := statusOf(t, err, resp); status != testcase.then.status {
				t.Fatalf("status: (actual, expected) = (%d, %d): %v", status, testcase.then.status, err)
			}

			if !testcase.then.inserted {
				if len(enq.jobs) != 0 {
					t.Errorf("enqueued: %+v", enq.jobs)
				}
				if testcase.when.insertErr == nil && entries.Calls.Insert.Times() != 0 {
					t.Errorf("inserted: %+v", entries.Calls.Insert)
				}
				return
			}

			if entries.Calls.Insert.Times() != 1 {
				t.Fatalf("Insert: %d times", entries.Calls.Insert.Times())
			}
			call := entries.Calls.Insert[0]
			if call.NodeId != "archive-1" || len(call.Rows) != 2 {
				t.Fatalf("unexpected insert: %s, %d rows", call.NodeId, len(call.Rows))
			}

			actual := apientries.Uploaded{}
			if err := json.Unmarshal(resp.Body.Bytes(), &actual); err != nil {
				t.Fatal(err)
			}
			if actual.Rows != 2 || actual.Inserted != 2 || actual.ImportId == "" {
				t.Errorf("unexpected response: %+v", actual)
			}

			for _, r := range call.Rows {
				en := r.Entry
				if en.ImportId != actual.ImportId {
					t.Errorf("import id: (actual, expected) = (%s, %s)", en.ImportId, actual.ImportId)
				}
				if en.Provenance != domain.Upload || en.AuthoringUserId != "user-1" {
					t.Errorf("unexpected entry: %+v", en)
				}
				if en.NodeId != "archive-1" || en.DataChannelId != "source-1" || en.Status != domain.Pending {
					t.Errorf("unexpected entry: %+v", en)
				}
				if r.Input.ProjectId != "project-1" {
					t.Errorf("unexpected input: %+v", r.Input)
				}
			}
			if call.Rows[0].Entry.Split != domain.Test {
				t.Errorf("split in the line should be kept: %s", call.Rows[0].Entry.Split)
			}

			if len(enq.jobs) != 1 || enq.jobs[0] != (domain.ProcessNode{NodeId: "archive-1"}) {
				t.Errorf("enqueued: %+v", enq.jobs)
			}
		})
	}
}
