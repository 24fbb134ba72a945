package pruning

import "github.com/opst/knitpipe/api-types/misc/rfctime"

type RuleRequest struct {
	TextToMatch string `json:"textToMatch"`
}

type Rule struct {
	RuleId       string          `json:"ruleId"`
	DatasetId    string          `json:"datasetId"`
	FineTuneId   string          `json:"fineTuneId,omitempty"`
	TextToMatch  string          `json:"textToMatch"`
	TokensInText int             `json:"tokensInText"`
	CreatedAt    rfctime.RFC3339 `json:"createdAt"`
}
