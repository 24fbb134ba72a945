package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	apipruning "github.com/opst/knitpipe/api-types/pruning"
	"github.com/opst/knitpipe/cmd/datasetd/handlers"
	httptestutil "github.com/opst/knitpipe/internal/testutils/http"
	"github.com/opst/knitpipe/pkg/domain"
	domerr "github.com/opst/knitpipe/pkg/domain/errors"
	"github.com/opst/knitpipe/pkg/domain/pruning"
	pruningmocks "github.com/opst/knitpipe/pkg/domain/pruning/db/mock"
)

func TestCreatePruningRuleHandler(t *testing.T) {
	createdAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for name, testcase := range map[string]struct {
		body   string
		err    error
		status int
	}{
		"it creates a rule with its tokens": {
			body: `{"textToMatch": "as an AI language model"}`, status: http.StatusCreated,
		},
		"empty text is rejected": {
			body: `{"textToMatch": "   "}`, status: http.StatusBadRequest,
		},
		"missing dataset is 404": {
			body: `{"textToMatch": "sorry"}`, err: domerr.ErrMissing, status: http.StatusNotFound,
		},
	} {
		t.Run(name, func(t *testing.T) {
			db := pruningmocks.NewPruningInterface()
			db.Impl.Create = func(_ context.Context, datasetId, text string, tokens int) (domain.PruningRule, error) {
				if testcase.err != nil {
					return domain.PruningRule{}, testcase.err
				}
				return domain.PruningRule{
					Id: "rule-1", DatasetId: datasetId, TextToMatch: text, TokensInText: tokens,
					CreatedAt: createdAt,
				}, nil
			}

			e := echo.New()
			c, resp := httptestutil.Post(
				e, "/api/datasets/dataset-1/pruning-rules", strings.NewReader(testcase.body),
				httptestutil.ContentType("application/json"),
			)
			c.SetParamNames("datasetId")
			c.SetParamValues("dataset-1")

			err := handlers.CreatePruningRuleHandler(pruning.New(db, words), "datasetId")(c)
			if status := statusOf(t, err, resp); status != testcase.status {
				t.Fatalf("status: (actual, expected) = (%d, %d)", status, testcase.status)
			}
			if err != nil {
				return
			}

			if db.Calls.Create.Times() != 1 {
				t.Fatalf("Create: %+v", db.Calls.Create)
			}
			call := db.Calls.Create[0]
			if call.DatasetId != "dataset-1" || call.TextToMatch != "as an AI language model" || call.TokensInText != 5 {
				t.Errorf("unexpected call: %+v", call)
			}

			actual := apipruning.Rule{}
			if err := json.Unmarshal(resp.Body.Bytes(), &actual); err != nil {
				t.Fatal(err)
			}
			if actual.RuleId != "rule-1" || actual.TokensInText != 5 || !actual.CreatedAt.Time().Equal(createdAt) {
				t.Errorf("unexpected response: %+v", actual)
			}
		})
	}
}

func TestUpdatePruningRuleHandler(t *testing.T) {
	for name, testcase := range map[string]struct {
		err    error
		status int
	}{
		"it updates the rule":                 {status: http.StatusOK},
		"rule of fine-tune can not be edited": {err: domerr.ErrInvalidConfig, status: http.StatusBadRequest},
		"missing rule is 404":                 {err: domerr.ErrMissing, status: http.StatusNotFound},
	} {
		t.Run(name, func(t *testing.T) {
			db := pruningmocks.NewPruningInterface()
			db.Impl.Update = func(_ context.Context, ruleId, text string, tokens int) (domain.PruningRule, error) {
				if testcase.err != nil {
					return domain.PruningRule{}, testcase.err
				}
				return domain.PruningRule{Id: ruleId, TextToMatch: text, TokensInText: tokens}, nil
			}

			e := echo.New()
			c, resp := httptestutil.Put(
				e, "/api/pruning-rules/rule-1", strings.NewReader(`{"textToMatch": "I cannot help"}`),
				httptestutil.ContentType("application/json"),
			)
			c.SetParamNames("ruleId")
			c.SetParamValues("rule-1")

			err := handlers.UpdatePruningRuleHandler(pruning.New(db, words), "ruleId")(c)
			if status := statusOf(t, err, resp); status != testcase.status {
				t.Fatalf("status: (actual, expected) = (%d, %d)", status, testcase.status)
			}
			call := db.Calls.Update[0]
			if call.RuleId != "rule-1" || call.TextToMatch != "I cannot help" || call.TokensInText != 3 {
				t.Errorf("unexpected call: %+v", call)
			}
		})
	}
}

func TestDeletePruningRuleHandler(t *testing.T) {
	for name, testcase := range map[string]struct {
		err    error
		status int
	}{
		"it deletes the rule": {status: http.StatusNoContent},
		"missing rule is 404": {err: domerr.ErrMissing, status: http.StatusNotFound},
	} {
		t.Run(name, func(t *testing.T) {
			db := pruningmocks.NewPruningInterface()
			db.Impl.Delete = func(context.Context, string) error { return testcase.err }

			e := echo.New()
			c, resp := httptestutil.Delete(e, "/api/pruning-rules/rule-1")
			c.SetParamNames("ruleId")
			c.SetParamValues("rule-1")

			err := handlers.DeletePruningRuleHandler(pruning.New(db, words), "ruleId")(c)
			if status := statusOf(t, err, resp); status != testcase.status {
				t.Fatalf("status: (actual, expected) = (%d, %d)", status, testcase.status)
			}
			if len(db.Calls.Delete) != 1 || db.Calls.Delete[0] != "rule-1" {
				t.Errorf("Delete: %v", db.Calls.Delete)
			}
		})
	}
}
