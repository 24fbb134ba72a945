package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kpool "github.com/opst/knitpipe/pkg/conn/db/postgres/pool"
	"github.com/opst/knitpipe/pkg/conn/db/postgres/scanner"
	"github.com/opst/knitpipe/pkg/domain"
	pgerrors "github.com/opst/knitpipe/pkg/domain/errors/dberrors/postgres"
	xe "github.com/opst/knitpipe/pkg/errors"
	"github.com/opst/knitpipe/pkg/utils"
)

// Params collects positional query parameters.
type Params []any

// Add appends v and returns its placeholder, like "$3".
func (p *Params) Add(v any) string {
	*p = append(*p, v)
	return fmt.Sprintf("$%d", len(*p))
}

// Next returns the position which the next Add gives.
func (p *Params) Next() int {
	return len(*p) + 1
}

// Nullable makes empty string NULL.
func Nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// EntryColumns are columns of "node_entry" as "ne", to be scanned into EntryRow.
const EntryColumns = `
	"ne"."node_entry_id", "ne"."node_id", "ne"."data_channel_id",
	coalesce("ne"."parent_node_entry_id"::text, '') as "parent_node_entry_id",
	"ne"."persistent_id",
	coalesce("ne"."logged_call_id"::text, '') as "logged_call_id",
	"ne"."status"::text as "status", "ne"."error", "ne"."split"::text as "split",
	"ne"."input_hash", "ne"."output_hash",
	coalesce("ne"."original_output_hash", '') as "original_output_hash",
	"ne"."outdated", "ne"."sort_key", "ne"."import_id",
	"ne"."provenance"::text as "provenance", "ne"."authoring_user_id",
	"ne"."created_at", "ne"."updated_at"
	`

type EntryRow struct {
	NodeEntryId        string `sql:"node_entry_id"`
	NodeId             string `sql:"node_id"`
	DataChannelId      string `sql:"data_channel_id"`
	ParentNodeEntryId  string `sql:"parent_node_entry_id"`
	PersistentId       string
	LoggedCallId       string `sql:"logged_call_id"`
	Status             string
	Error              string
	Split              string
	InputHash          string
	OutputHash         string
	OriginalOutputHash string
	Outdated           bool
	SortKey            string
	ImportId           string `sql:"import_id"`
	Provenance         string
	AuthoringUserId    string `sql:"authoring_user_id"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (r EntryRow) ToDomain() (domain.NodeEntry, error) {
	status, err := domain.AsEntryStatus(r.Status)
	if err != nil {
		return domain.NodeEntry{}, err
	}
	split, err := domain.AsSplit(r.Split)
	if err != nil {
		return domain.NodeEntry{}, err
	}
	provenance, err := domain.AsProvenance(r.Provenance)
	if err != nil {
		return domain.NodeEntry{}, err
	}
	return domain.NodeEntry{
		Id:                 r.NodeEntryId,
		NodeId:             r.NodeId,
		DataChannelId:      r.DataChannelId,
		ParentNodeEntryId:  r.ParentNodeEntryId,
		PersistentId:       r.PersistentId,
		LoggedCallId:       r.LoggedCallId,
		Status:             status,
		Error:              r.Error,
		Split:              split,
		InputHash:          r.InputHash,
		OutputHash:         r.OutputHash,
		OriginalOutputHash: r.OriginalOutputHash,
		Outdated:           r.Outdated,
		SortKey:            r.SortKey,
		ImportId:           r.ImportId,
		Provenance:         provenance,
		AuthoringUserId:    r.AuthoringUserId,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}, nil
}

// QueryEntries runs query selecting EntryColumns.
func QueryEntries(ctx context.Context, conn kpool.Queryer, query string, params ...any) ([]domain.NodeEntry, error) {
	rows, err := scanner.New[EntryRow]().QueryAll(ctx, conn, query, params...)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	return utils.MapUntilError(rows, EntryRow.ToDomain)
}

// GetEntry reads an entry. With lock, the row is locked for update.
func GetEntry(ctx context.Context, conn kpool.Queryer, entryId string, lock bool) (domain.NodeEntry, error) {
	q := `select` + EntryColumns + `from "node_entry" as "ne" where "ne"."node_entry_id" = $1`
	if lock {
		q += ` for update`
	}
	entries, err := QueryEntries(ctx, conn, q, entryId)
	if err != nil {
		return domain.NodeEntry{}, err
	}
	if len(entries) == 0 {
		return domain.NodeEntry{}, xe.Wrap(pgerrors.Missing{Table: "node_entry", Identity: "node_entry_id=" + entryId})
	}
	return entries[0], nil
}

// InsertEntry inserts an entry, skipping it on any conflict.
//
// Returns true when inserted.
func InsertEntry(ctx context.Context, conn kpool.Queryer, e domain.NodeEntry) (bool, error) {
	status := e.Status
	if status == "" {
		status = domain.Pending
	}
	ctag, err := conn.Exec(
		ctx,
		`
		insert into "node_entry" (
			"node_entry_id", "node_id", "data_channel_id", "parent_node_entry_id",
			"persistent_id", "logged_call_id", "status", "error", "split",
			"input_hash", "output_hash", "original_output_hash",
			"sort_key", "import_id", "provenance", "authoring_user_id"
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		on conflict do nothing
		`,
		e.Id, e.NodeId, e.DataChannelId, Nullable(e.ParentNodeEntryId),
		e.PersistentId, Nullable(e.LoggedCallId), string(status), e.Error, string(e.Split),
		e.InputHash, e.OutputHash, Nullable(e.OriginalOutputHash),
		e.SortKey, e.ImportId, string(e.Provenance), e.AuthoringUserId,
	)
	if err != nil {
		return false, xe.Wrap(err)
	}
	return ctag.RowsAffected() == 1, nil
}

func jsonOrNull(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// InsertInput upserts content of input. Existing one is kept.
func InsertInput(ctx context.Context, conn kpool.Queryer, in domain.EntryInput) error {
	messages, err := json.Marshal(in.Messages)
	if err != nil {
		return xe.Wrap(err)
	}
	tools := []byte("[]")
	if len(in.Tools) != 0 {
		if tools, err = json.Marshal(in.Tools); err != nil {
			return xe.Wrap(err)
		}
	}
	toolChoice, err := jsonOrNull(in.ToolChoice)
	if err != nil {
		return xe.Wrap(err)
	}
	var responseFormat []byte
	if in.ResponseFormat != nil {
		if responseFormat, err = json.Marshal(in.ResponseFormat); err != nil {
			return xe.Wrap(err)
		}
	}

	_, err = conn.Exec(
		ctx,
		`
		insert into "dataset_entry_input" (
			"hash", "project_id", "messages", "tools", "tool_choice", "response_format", "input_tokens"
		)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict ("hash") do nothing
		`,
		in.Hash, in.ProjectId, messages, tools, toolChoice, responseFormat, in.InputTokens,
	)
	return xe.Wrap(err)
}

// InsertOutput upserts content of output. Existing one is kept.
func InsertOutput(ctx context.Context, conn kpool.Queryer, out domain.EntryOutput) error {
	raw, err := json.Marshal(out.Output)
	if err != nil {
		return xe.Wrap(err)
	}
	_, err = conn.Exec(
		ctx,
		`
		insert into "dataset_entry_output" ("hash", "project_id", "output", "output_tokens")
		values ($1, $2, $3, $4)
		on conflict ("hash") do nothing
		`,
		out.Hash, out.ProjectId, raw, out.OutputTokens,
	)
	return xe.Wrap(err)
}

type inputRow struct {
	Hash           string
	ProjectId      string `sql:"project_id"`
	Messages       []byte
	Tools          []byte
	ToolChoice     []byte
	ResponseFormat []byte
	InputTokens    int
}

// GetInput reads content of input.
func GetInput(ctx context.Context, conn kpool.Queryer, hash string) (domain.EntryInput, error) {
	rows, err := scanner.New[inputRow]().QueryAll(
		ctx, conn,
		`
		select
			"hash", "project_id", "messages", "tools",
			coalesce("tool_choice", 'null'::jsonb) as "tool_choice",
			coalesce("response_format", 'null'::jsonb) as "response_format",
			"input_tokens"
		from "dataset_entry_input" where "hash" = $1
		`,
		hash,
	)
	if err != nil {
		return domain.EntryInput{}, xe.Wrap(err)
	}
	if len(rows) == 0 {
		return domain.EntryInput{}, xe.Wrap(pgerrors.Missing{Table: "dataset_entry_input", Identity: "hash=" + hash})
	}
	r := rows[0]

	in := domain.EntryInput{Hash: r.Hash, ProjectId: r.ProjectId, InputTokens: r.InputTokens}
	if err := json.Unmarshal(r.Messages, &in.Messages); err != nil {
		return domain.EntryInput{}, xe.WrapWithNote("messages of input "+hash, err)
	}
	if err := json.Unmarshal(r.Tools, &in.Tools); err != nil {
		return domain.EntryInput{}, xe.WrapWithNote("tools of input "+hash, err)
	}
	if len(in.Tools) == 0 {
		in.Tools = nil
	}
	if err := json.Unmarshal(r.ToolChoice, &in.ToolChoice); err != nil {
		return domain.EntryInput{}, xe.WrapWithNote("tool_choice of input "+hash, err)
	}
	if err := json.Unmarshal(r.ResponseFormat, &in.ResponseFormat); err != nil {
		return domain.EntryInput{}, xe.WrapWithNote("response_format of input "+hash, err)
	}
	return in, nil
}

type outputRow struct {
	Hash         string
	ProjectId    string `sql:"project_id"`
	Output       []byte
	OutputTokens int
}

// GetOutput reads content of output.
func GetOutput(ctx context.Context, conn kpool.Queryer, hash string) (domain.EntryOutput, error) {
	rows, err := scanner.New[outputRow]().QueryAll(
		ctx, conn,
		`select "hash", "project_id", "output", "output_tokens" from "dataset_entry_output" where "hash" = $1`,
		hash,
	)
	if err != nil {
		return domain.EntryOutput{}, xe.Wrap(err)
	}
	if len(rows) == 0 {
		return domain.EntryOutput{}, xe.Wrap(pgerrors.Missing{Table: "dataset_entry_output", Identity: "hash=" + hash})
	}
	r := rows[0]
	out := domain.EntryOutput{Hash: r.Hash, ProjectId: r.ProjectId, OutputTokens: r.OutputTokens}
	if err := json.Unmarshal(r.Output, &out.Output); err != nil {
		return domain.EntryOutput{}, xe.WrapWithNote("output "+hash, err)
	}
	return out, nil
}
