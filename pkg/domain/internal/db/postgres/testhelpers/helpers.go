// Package testhelpers has fixtures for Postgres-backed tests.
package testhelpers

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	kpool "github.com/opst/knitpipe/pkg/conn/db/postgres/pool"
	"github.com/opst/knitpipe/pkg/domain"
)

// PaddingX pads str with padstr up to x characters, or truncates it to x characters.
//
// It is handy to make fixed-length strings, like hashes, from readable names.
func PaddingX[S ~string](x int, str S, padstr rune) S {
	if x <= 0 {
		return ""
	}
	rs := []rune(string(str))
	if len(rs) >= x {
		return S(rs[:x])
	}
	for len(rs) < x {
		rs = append(rs, padstr)
	}
	return S(rs)
}

// ChatCall makes a logged call of chat completion with a user message and an assistant reply.
func ChatCall(id, projectId string, requestedAt time.Time, user, assistant string) domain.LoggedCall {
	req, _ := json.Marshal(map[string]any{
		"model":    "gpt-4o",
		"messages": []map[string]string{{"role": "user", "content": user}},
	})
	resp, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": assistant}},
		},
	})
	return domain.LoggedCall{
		Id:          id,
		ProjectId:   projectId,
		Model:       "gpt-4o",
		StatusCode:  200,
		RequestedAt: requestedAt,
		CreatedAt:   requestedAt,
		UpdatedAt:   requestedAt,
		ReqPayload:  req,
		RespPayload: resp,
		Tags:        map[string]string{},
	}
}

// InsertLoggedCalls puts logged calls as they are.
func InsertLoggedCalls(ctx context.Context, t *testing.T, conn kpool.Queryer, calls ...domain.LoggedCall) {
	t.Helper()
	for _, lc := range calls {
		tags := lc.Tags
		if tags == nil {
			tags = map[string]string{}
		}
		rawTags, err := json.Marshal(tags)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := conn.Exec(
			ctx,
			`
			insert into "logged_call" (
				"logged_call_id", "project_id", "model", "status_code",
				"requested_at", "created_at", "updated_at",
				"req_payload", "resp_payload", "tags"
			)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			`,
			lc.Id, lc.ProjectId, lc.Model, lc.StatusCode,
			lc.RequestedAt, lc.CreatedAt, lc.UpdatedAt,
			lc.ReqPayload, lc.RespPayload, rawTags,
		); err != nil {
			t.Fatal(fmt.Errorf("logged call %s: %w", lc.Id, err))
		}
	}
}
