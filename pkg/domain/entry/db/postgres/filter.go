package postgres

import (
	"fmt"
	"strings"

	"github.com/opst/knitpipe/pkg/domain"
	domerr "github.com/opst/knitpipe/pkg/domain/errors"
	intpg "github.com/opst/knitpipe/pkg/domain/internal/db/postgres"
)

// filterSQL builds a predicate on "logged_call" as "lc" satisfying all filters.
//
// Values are added into params.
func filterSQL(filters []domain.LoggedCallFilter, params *intpg.Params) (string, error) {
	if len(filters) == 0 {
		return "true", nil
	}

	conds := make([]string, 0, len(filters))
	for _, f := range filters {
		var column string
		switch f.Field {
		case domain.FilterByModel:
			column = `"lc"."model"`
		case domain.FilterByStatusCode:
			column = `"lc"."status_code"::text`
		case domain.FilterByRequest:
			column = `"lc"."req_payload"::text`
		case domain.FilterByResponse:
			column = `coalesce("lc"."resp_payload"::text, '')`
		case domain.FilterByTag:
			column = fmt.Sprintf(`coalesce("lc"."tags"->>%s, '')`, params.Add(f.TagName))
		default:
			return "", fmt.Errorf("%w: unknown filter field: %s", domerr.ErrInvalidConfig, f.Field)
		}

		var cond string
		switch f.Comparator {
		case domain.Equals:
			cond = fmt.Sprintf(`%s = %s`, column, params.Add(f.Value))
		case domain.NotEquals:
			cond = fmt.Sprintf(`%s <> %s`, column, params.Add(f.Value))
		case domain.Contains:
			cond = fmt.Sprintf(`strpos(%s, %s) > 0`, column, params.Add(f.Value))
		case domain.NotContains:
			cond = fmt.Sprintf(`strpos(%s, %s) = 0`, column, params.Add(f.Value))
		default:
			return "", fmt.Errorf("%w: unknown comparator: %s", domerr.ErrInvalidConfig, f.Comparator)
		}
		conds = append(conds, "("+cond+")")
	}
	return strings.Join(conds, " and "), nil
}
