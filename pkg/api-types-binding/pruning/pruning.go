package pruning

import (
	"github.com/opst/knitpipe/api-types/misc/rfctime"
	apipruning "github.com/opst/knitpipe/api-types/pruning"
	"github.com/opst/knitpipe/pkg/domain"
)

func ComposeRule(r domain.PruningRule) apipruning.Rule {
	return apipruning.Rule{
		RuleId:       r.Id,
		DatasetId:    r.DatasetId,
		FineTuneId:   r.FineTuneId,
		TextToMatch:  r.TextToMatch,
		TokensInText: r.TokensInText,
		CreatedAt:    rfctime.RFC3339(r.CreatedAt),
	}
}
