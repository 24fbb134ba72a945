package entries

import (
	"github.com/opst/knitpipe/api-types/misc/rfctime"
	"github.com/sashabaranov/go-openai"
)

// Input of a training pair, in the shape of chat completion request.
type Input struct {
	Messages       []openai.ChatCompletionMessage       `json:"messages"`
	Tools          []openai.Tool                        `json:"tools,omitempty"`
	ToolChoice     any                                  `json:"tool_choice,omitempty"`
	ResponseFormat *openai.ChatCompletionResponseFormat `json:"response_format,omitempty"`
}

// CopyRequest overrides fields of an entry. Omitted fields are inherited.
type CopyRequest struct {
	Input  *Input                        `json:"input,omitempty"`
	Output *openai.ChatCompletionMessage `json:"output,omitempty"`

	// "TRAIN" or "TEST"
	Split *string `json:"split,omitempty"`
}

type Entry struct {
	EntryId      string `json:"entryId"`
	NodeId       string `json:"nodeId"`
	PersistentId string `json:"persistentId"`

	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Split  string `json:"split"`

	InputHash  string `json:"inputHash"`
	OutputHash string `json:"outputHash"`

	Provenance      string `json:"provenance"`
	AuthoringUserId string `json:"authoringUserId,omitempty"`
	ImportId        string `json:"importId,omitempty"`
	Outdated        bool   `json:"outdated"`

	CreatedAt rfctime.RFC3339 `json:"createdAt"`
}

// Uploaded is a result of JSONL upload.
type Uploaded struct {
	ImportId string `json:"importId"`

	// lines in the upload.
	Rows int `json:"rows"`

	// entries inserted. Duplicates of existing entries are not counted.
	Inserted int `json:"inserted"`
}
