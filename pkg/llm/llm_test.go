package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opst/knitpipe/pkg/domain"
	"github.com/opst/knitpipe/pkg/llm"
	"github.com/sashabaranov/go-openai"
)

func TestComplete(t *testing.T) {
	in := domain.Input{
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "be short"},
			{Role: openai.ChatMessageRoleUser, Content: "hello"},
		},
	}

	t.Run("it returns the first choice", func(t *testing.T) {
		var got openai.ChatCompletionRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/chat/completions" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			if a := r.Header.Get("Authorization"); a != "Bearer sk-test" {
				t.Errorf("unexpected authorization: %s", a)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Fatal(err)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
				Choices: []openai.ChatCompletionChoice{
					{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "hi"}},
					{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "hey"}},
				},
			})
		}))
		defer srv.Close()

		testee := llm.New(srv.URL+"/v1", "sk-test")
		out, err := testee.Complete(context.Background(), "gpt-4o", in)
		if err != nil {
			t.Fatal(err)
		}
		if out.Content != "hi" || out.Role != openai.ChatMessageRoleAssistant {
			t.Errorf("unexpected output: %+v", out)
		}
		if got.Model != "gpt-4o" || len(got.Messages) != 2 || got.Messages[1].Content != "hello" {
			t.Errorf("unexpected request: %+v", got)
		}
	})

	t.Run("no choices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(openai.ChatCompletionResponse{})
		}))
		defer srv.Close()

		_, err := llm.New(srv.URL+"/v1", "sk-test").Complete(context.Background(), "gpt-4o", in)
		if !errors.Is(err, llm.ErrNoCompletion) {
			t.Errorf("expected ErrNoCompletion, but %v", err)
		}
	})

	for name, testcase := range map[string]struct {
		status int
		then   bool
	}{
		"429 is rate limited":     {status: http.StatusTooManyRequests, then: true},
		"500 is not rate limited": {status: http.StatusInternalServerError, then: false},
		"400 is not rate limited": {status: http.StatusBadRequest, then: false},
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(testcase.status)
				fmt.Fprint(w, `{"error": {"message": "nope", "type": "error"}}`)
			}))
			defer srv.Close()

			testee := llm.New(srv.URL+"/v1", "sk-test")
			_, err := testee.Complete(context.Background(), "gpt-4o", in)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := llm.IsRateLimited(err); got != testcase.then {
				t.Errorf("IsRateLimited(%v) = %v", err, got)
			}
		})
	}

	t.Run("other errors are not rate limited", func(t *testing.T) {
		if llm.IsRateLimited(errors.New("fake")) {
			t.Error("fake error is rate limited")
		}
	})
}
