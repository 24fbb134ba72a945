// Package materializer turns candidate records into canonical dataset entries.
//
// Materialization is pure: it validates a candidate, computes content hashes
// and persistent id, and returns the rows to be inserted.
// Inserting them with skip-duplicate semantics is the caller's business,
// which makes re-running over the same candidates idempotent.
package materializer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opst/knitpipe/pkg/domain"
	"github.com/opst/knitpipe/pkg/domain/hash"
	"github.com/opst/knitpipe/pkg/domain/persistentid"
	"github.com/opst/knitpipe/pkg/domain/rowvalidation"
	xe "github.com/opst/knitpipe/pkg/errors"
	"github.com/opst/knitpipe/pkg/tokenizer"
	"github.com/sashabaranov/go-openai"
)

// DefaultTrainingRatio is the ratio of TRAIN entries when the dataset does not tell.
const DefaultTrainingRatio = 0.8

// Candidate is a source record to be materialized.
type Candidate struct {
	ProjectId string

	// Key identifies the source record, like logged call id.
	//
	// When empty, the content hash of the pair is used.
	Key string

	// empty unless the record is a logged call.
	LoggedCallId string

	CreationTime time.Time

	Request  openai.ChatCompletionRequest
	Response openai.ChatCompletionMessage

	// empty to be assigned by persistent id.
	Split domain.Split

	Provenance      domain.Provenance
	ImportId        string
	AuthoringUserId string
}

// Materialized is rows made from a candidate.
type Materialized struct {
	Input  domain.EntryInput
	Output domain.EntryOutput
	Entry  domain.NodeEntry
}

type Materializer struct {
	Tokens tokenizer.Counter

	// ratio of TRAIN in [0, 1].
	TrainingRatio float64

	// status of new entries. PENDING when empty.
	Status domain.EntryStatus
}

func New(tokens tokenizer.Counter) *Materializer {
	return &Materializer{Tokens: tokens, TrainingRatio: DefaultTrainingRatio, Status: domain.Pending}
}

// Materialize validates the candidate and makes rows of the entry in the node, flowing through the channel.
//
// # Returns
//
// - Materialized: rows to be inserted.
//
// - error: *rowvalidation.Error when the candidate is invalid.
func (m *Materializer) Materialize(c Candidate, nodeId, dataChannelId string) (Materialized, error) {
	row, err := rowvalidation.Validate(c.Request, c.Response)
	if err != nil {
		return Materialized{}, err
	}

	in, out, err := Canonical(m.Tokens, c.ProjectId, row.Input, row.Output)
	if err != nil {
		return Materialized{}, err
	}

	var pid string
	if c.Key != "" {
		pid = persistentid.Generate(c.CreationTime, c.Key, nodeId)
	} else {
		pid = persistentid.FromContent(c.CreationTime, in.Hash, out.Hash, nodeId)
	}

	split := c.Split
	if split == "" {
		split = SplitOf(pid, m.TrainingRatio)
	}
	status := m.Status
	if status == "" {
		status = domain.Pending
	}
	provenance := c.Provenance
	if provenance == "" {
		provenance = domain.RequestLog
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Materialized{}, xe.Wrap(err)
	}

	return Materialized{
		Input:  in,
		Output: out,
		Entry: domain.NodeEntry{
			Id:              id.String(),
			NodeId:          nodeId,
			DataChannelId:   dataChannelId,
			PersistentId:    pid,
			LoggedCallId:    c.LoggedCallId,
			Status:          status,
			Split:           split,
			InputHash:       in.Hash,
			OutputHash:      out.Hash,
			SortKey:         SortKey(c.CreationTime, pid),
			ImportId:        c.ImportId,
			Provenance:      provenance,
			AuthoringUserId: c.AuthoringUserId,
		},
	}, nil
}

// Canonical hashes and counts tokens of a validated pair.
func Canonical(tokens tokenizer.Counter, projectId string, in domain.Input, out domain.Output) (domain.EntryInput, domain.EntryOutput, error) {
	ih, err := hash.Input(projectId, in)
	if err != nil {
		return domain.EntryInput{}, domain.EntryOutput{}, err
	}
	oh, err := hash.Output(projectId, out)
	if err != nil {
		return domain.EntryInput{}, domain.EntryOutput{}, err
	}
	ein := domain.EntryInput{
		Hash:        ih,
		ProjectId:   projectId,
		Input:       in,
		InputTokens: tokenizer.CountInput(tokens, in),
	}
	eout := domain.EntryOutput{
		Hash:         oh,
		ProjectId:    projectId,
		Output:       out,
		OutputTokens: tokenizer.CountOutput(tokens, out),
	}
	return ein, eout, nil
}

// SortKey orders entries by creation, then by persistent id.
func SortKey(creationTime time.Time, persistentId string) string {
	return fmt.Sprintf("%d-%s", creationTime.UnixMilli(), persistentId)
}

// SplitOf assigns split by persistent id.
//
// The same persistent id always goes to the same split, so re-materialization keeps splits.
func SplitOf(persistentId string, trainingRatio float64) domain.Split {
	h := hash.Record(persistentId)
	v, err := strconv.ParseUint(h[:8], 16, 32)
	if err != nil {
		return domain.Train
	}
	if float64(v)/float64(1<<32) < trainingRatio {
		return domain.Train
	}
	return domain.Test
}

// FromLoggedCall makes a candidate from a logged call.
//
// The request payload is a chat completion request, and
// the response payload is a chat completion response whose first choice is the output.
func FromLoggedCall(lc domain.LoggedCall) (Candidate, error) {
	req := openai.ChatCompletionRequest{}
	if err := json.Unmarshal(lc.ReqPayload, &req); err != nil {
		return Candidate{}, &rowvalidation.Error{
			Kind: rowvalidation.EmptyMessages, Message: "request is not chat completion: " + err.Error(),
		}
	}
	resp := openai.ChatCompletionResponse{}
	if err := json.Unmarshal(lc.RespPayload, &resp); err != nil {
		return Candidate{}, &rowvalidation.Error{
			Kind: rowvalidation.InvalidOutput, Message: "response is not chat completion: " + err.Error(),
		}
	}
	if len(resp.Choices) == 0 {
		return Candidate{}, &rowvalidation.Error{
			Kind: rowvalidation.InvalidOutput, Message: "response has no choices",
		}
	}

	return Candidate{
		ProjectId:    lc.ProjectId,
		Key:          lc.Id,
		LoggedCallId: lc.Id,
		CreationTime: lc.RequestedAt,
		Request:      req,
		Response:     resp.Choices[0].Message,
		Provenance:   domain.RequestLog,
	}, nil
}

// FromImportRow makes a candidate from a line of JSONL upload.
//
// Rows of an upload share importId. Persistent ids are derived from contents.
func FromImportRow(projectId, importId, userId string, at time.Time, row rowvalidation.ImportRow) Candidate {
	return Candidate{
		ProjectId:    projectId,
		CreationTime: at,
		Request: openai.ChatCompletionRequest{
			Messages:       row.Input.Messages,
			Tools:          row.Input.Tools,
			ToolChoice:     row.Input.ToolChoice,
			ResponseFormat: row.Input.ResponseFormat,
		},
		Response:        row.Output,
		Split:           row.Split,
		Provenance:      domain.Upload,
		ImportId:        importId,
		AuthoringUserId: userId,
	}
}
