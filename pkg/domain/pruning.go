package domain

import (
	"fmt"
	"time"
)

// PruningRule is text which is flagged in training inputs.
//
// A rule belongs to either a dataset or a fine-tune (as a snapshot of dataset's).
type PruningRule struct {
	Id          string
	DatasetId   string
	FineTuneId  string
	TextToMatch string

	// tokenizer length of TextToMatch.
	TokensInText int

	CreatedAt time.Time
}

type PruningRuleMatch struct {
	PruningRuleId string
	NodeEntryId   string
}

type DatasetInfo struct {
	Id            string
	NodeId        string
	ProjectId     string
	Name          string
	TrainingRatio float64

	// models which generate test-set outputs for comparison.
	EnabledComparisonModels []string
}

type FineTuneStatus string

const (
	FineTunePending  FineTuneStatus = "PENDING"
	FineTuneTraining FineTuneStatus = "TRAINING"
	FineTuneDeployed FineTuneStatus = "DEPLOYED"
	FineTuneError    FineTuneStatus = "ERROR"
)

// CanTransitTo reports whether a fine-tune in status s can be moved to next.
//
//	PENDING -> TRAINING -> DEPLOYED
//	PENDING, TRAINING -> ERROR
func (s FineTuneStatus) CanTransitTo(next FineTuneStatus) bool {
	switch s {
	case FineTunePending:
		return next == FineTuneTraining || next == FineTuneError
	case FineTuneTraining:
		return next == FineTuneDeployed || next == FineTuneError
	}
	return false
}

func AsFineTuneStatus(s string) (FineTuneStatus, error) {
	switch st := FineTuneStatus(s); st {
	case FineTunePending, FineTuneTraining, FineTuneDeployed, FineTuneError:
		return st, nil
	}
	return "", fmt.Errorf("unknown fine-tune status: %s", s)
}

type FineTune struct {
	Id           string
	ProjectId    string
	DatasetId    string
	Slug         string
	BaseModel    string
	Status       FineTuneStatus
	ErrorMessage string
	CreatedAt    time.Time
}

// FineTuneTrainingEntry is frozen when the fine-tune is created.
type FineTuneTrainingEntry struct {
	FineTuneId   string
	NodeEntryId  string
	PersistentId string
	InputHash    string
	OutputHash   string
}

// TestOutput is an output of a model for a TEST entry.
//
// Outputs are shared by entries with the same input.
type TestOutput struct {
	// fine-tune id or comparison model name.
	ModelId   string
	InputHash string

	// entry which the output is generated for.
	NodeEntryId string

	// nil until generated, or when generation failed.
	Output       *Output
	OutputTokens int

	Error string
}

// LoggedCall is a recorded model call. Monitors read them as source records.
type LoggedCall struct {
	Id          string
	ProjectId   string
	Model       string
	StatusCode  int
	RequestedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// raw chat completion request.
	ReqPayload []byte

	// raw chat completion response.
	RespPayload []byte

	Tags map[string]string
}
