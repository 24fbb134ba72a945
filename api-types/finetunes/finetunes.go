package finetunes

import "github.com/opst/knitpipe/api-types/misc/rfctime"

type Request struct {
	BaseModel      string   `json:"baseModel"`
	PruningRuleIds []string `json:"pruningRuleIds,omitempty"`
}

type FineTune struct {
	FineTuneId string `json:"fineTuneId"`
	DatasetId  string `json:"datasetId"`
	Slug       string `json:"slug"`

	// name of the model which the fine-tune is served as.
	Model     string `json:"model"`
	BaseModel string `json:"baseModel"`

	Status       string          `json:"status"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	CreatedAt    rfctime.RFC3339 `json:"createdAt"`
}
