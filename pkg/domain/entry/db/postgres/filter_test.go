package postgres

import (
	"errors"
	"testing"

	"github.com/opst/knitpipe/pkg/cmp"
	"github.com/opst/knitpipe/pkg/domain"
	domerr "github.com/opst/knitpipe/pkg/domain/errors"
	intpg "github.com/opst/knitpipe/pkg/domain/internal/db/postgres"
)

func TestFilterSQL(t *testing.T) {
	type then struct {
		sql    string
		params []any
	}
	for name, testcase := range map[string]struct {
		when []domain.LoggedCallFilter
		then then
	}{
		"no filters": {
			when: nil,
			then: then{sql: "true", params: []any{"node"}},
		},
		"model equals": {
			when: []domain.LoggedCallFilter{
				{Field: domain.FilterByModel, Comparator: domain.Equals, Value: "gpt-4o"},
			},
			then: then{
				sql:    `("lc"."model" = $2)`,
				params: []any{"node", "gpt-4o"},
			},
		},
		"status code and tag": {
			when: []domain.LoggedCallFilter{
				{Field: domain.FilterByStatusCode, Comparator: domain.NotEquals, Value: "200"},
				{Field: domain.FilterByTag, TagName: "env", Comparator: domain.Contains, Value: "prod"},
			},
			then: then{
				sql:    `("lc"."status_code"::text <> $2) and (strpos(coalesce("lc"."tags"->>$3, ''), $4) > 0)`,
				params: []any{"node", "200", "env", "prod"},
			},
		},
		"payloads": {
			when: []domain.LoggedCallFilter{
				{Field: domain.FilterByRequest, Comparator: domain.Contains, Value: "weather"},
				{Field: domain.FilterByResponse, Comparator: domain.NotContains, Value: "sorry"},
			},
			then: then{
				sql: `(strpos("lc"."req_payload"::text, $2) > 0) and ` +
					`(strpos(coalesce("lc"."resp_payload"::text, ''), $3) = 0)`,
				params: []any{"node", "weather", "sorry"},
			},
		},
	} {
		t.Run(name, func(t *testing.T) {
			params := intpg.Params{"node"}
			actual, err := filterSQL(testcase.when, &params)
			if err != nil {
				t.Fatal(err)
			}
			if actual != testcase.then.sql {
				t.Errorf("sql:\n===actual===\n%s\n===expected===\n%s", actual, testcase.then.sql)
			}
			if !cmp.SliceEq([]any(params), testcase.then.params) {
				t.Errorf("params: (actual, expected) = (%v, %v)", params, testcase.then.params)
			}
		})
	}

	t.Run("unknown field is rejected", func(t *testing.T) {
		params := intpg.Params{}
		_, err := filterSQL(
			[]domain.LoggedCallFilter{{Field: "cost", Comparator: domain.Equals, Value: "1"}},
			&params,
		)
		if !errors.Is(err, domerr.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, but %v", err)
		}
	})
}
