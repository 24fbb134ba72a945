package domain

import (
	"fmt"
	"time"

	domerr "github.com/opst/knitpipe/pkg/domain/errors"
	"github.com/sashabaranov/go-openai"
)

type EntryStatus string

const (
	Pending    EntryStatus = "PENDING"
	Processing EntryStatus = "PROCESSING"
	Processed  EntryStatus = "PROCESSED"
	Error      EntryStatus = "ERROR"
)

func (s EntryStatus) String() string {
	return string(s)
}

func AsEntryStatus(s string) (EntryStatus, error) {
	switch st := EntryStatus(s); st {
	case Pending, Processing, Processed, Error:
		return st, nil
	}
	return "", fmt.Errorf("unknown entry status: %s", s)
}

// CanTransitTo reports whether an entry in status s can be moved to next.
//
//	PENDING -> PROCESSING -> PROCESSED
//	PENDING, PROCESSING -> ERROR
//
// and, for restart, retry and invalidation:
//
//	PROCESSING -> PENDING    (worker restarted, or rate limited)
//	ERROR -> PROCESSING      (retry)
//	PROCESSED, ERROR -> PENDING  (invalidated)
func (s EntryStatus) CanTransitTo(next EntryStatus) bool {
	switch s {
	case Pending:
		return next == Processing || next == Error || next == Processed
	case Processing:
		return next == Processed || next == Error || next == Pending
	case Error:
		return next == Processing || next == Pending
	case Processed:
		return next == Pending
	}
	return false
}

type Split string

const (
	Train Split = "TRAIN"
	Test  Split = "TEST"
)

func AsSplit(s string) (Split, error) {
	switch sp := Split(s); sp {
	case Train, Test:
		return sp, nil
	}
	return "", fmt.Errorf("%w: unknown split: %s", domerr.ErrInvalidConfig, s)
}

// where the entry comes from.
type Provenance string

const (
	RequestLog       Provenance = "REQUEST_LOG"
	Upload           Provenance = "UPLOAD"
	RelabeledByHuman Provenance = "RELABELED_BY_HUMAN"
	RelabeledByModel Provenance = "RELABELED_BY_MODEL"
)

func AsProvenance(s string) (Provenance, error) {
	switch p := Provenance(s); p {
	case RequestLog, Upload, RelabeledByHuman, RelabeledByModel:
		return p, nil
	}
	return "", fmt.Errorf("unknown provenance: %s", s)
}

// Input of a training pair, in the shape of chat completion request.
type Input struct {
	Messages       []openai.ChatCompletionMessage       `json:"messages"`
	Tools          []openai.Tool                        `json:"tools,omitempty"`
	ToolChoice     any                                  `json:"tool_choice,omitempty"`
	ResponseFormat *openai.ChatCompletionResponseFormat `json:"response_format,omitempty"`
}

// Output of a training pair. It is an assistant message.
type Output = openai.ChatCompletionMessage

// content-addressed row of Input.
type EntryInput struct {
	Hash      string
	ProjectId string
	Input
	InputTokens int
}

// content-addressed row of Output.
type EntryOutput struct {
	Hash         string
	ProjectId    string
	Output       Output
	OutputTokens int
}

type NodeEntry struct {
	Id            string
	NodeId        string
	DataChannelId string

	// empty when the entry is created from source (logged call, upload or edit).
	ParentNodeEntryId string

	PersistentId string

	// empty unless the entry comes from a logged call.
	LoggedCallId string

	Status EntryStatus
	Error  string
	Split  Split

	InputHash  string
	OutputHash string

	// output hash before relabeling. empty if not relabeled.
	OriginalOutputHash string

	// superseded by another entry with the same PersistentId.
	Outdated bool

	SortKey         string
	ImportId        string
	Provenance      Provenance
	AuthoringUserId string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusCounts is aggregated counts of entries in a node.
type StatusCounts struct {
	Pending    int
	Processing int
	Processed  int
	Error      int

	Train int
	Test  int

	Total int
}

// NodeSummary is a node with counts of its current entries.
type NodeSummary struct {
	Node
	Counts StatusCounts
}
