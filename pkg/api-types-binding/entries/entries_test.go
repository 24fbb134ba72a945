package entries_test

import (
	"errors"
	"testing"

	apientries "github.com/opst/knitpipe/api-types/entries"
	bindentries "github.com/opst/knitpipe/pkg/api-types-binding/entries"
	"github.com/opst/knitpipe/pkg/domain"
	domerr "github.com/opst/knitpipe/pkg/domain/errors"
	"github.com/opst/knitpipe/pkg/utils/pointer"
	"github.com/opst/knitpipe/pkg/utils/try"
	"github.com/sashabaranov/go-openai"
)

func TestUpdates(t *testing.T) {
	t.Run("omitted fields are kept nil", func(t *testing.T) {
		u := try.To(bindentries.Updates(apientries.CopyRequest{})).OrFatal(t)
		if u.Input != nil || u.Output != nil || u.Split != nil {
			t.Errorf("unexpected updates: %+v", u)
		}
	})

	t.Run("it converts every field", func(t *testing.T) {
		out := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "fixed"}
		u := try.To(bindentries.Updates(apientries.CopyRequest{
			Input: &apientries.Input{
				Messages:   []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "q"}},
				ToolChoice: "auto",
			},
			Output: &out,
			Split:  pointer.Ref("TEST"),
		})).OrFatal(t)

		if u.Input == nil || len(u.Input.Messages) != 1 || u.Input.Messages[0].Content != "q" || u.Input.ToolChoice != "auto" {
			t.Errorf("unexpected input: %+v", u.Input)
		}
		if u.Output == nil || u.Output.Content != "fixed" {
			t.Errorf("unexpected output: %+v", u.Output)
		}
		if u.Split == nil || *u.Split != domain.Test {
			t.Errorf("unexpected split: %v", u.Split)
		}
	})

	t.Run("unknown split is rejected", func(t *testing.T) {
		_, err := bindentries.Updates(apientries.CopyRequest{Split: pointer.Ref("VALIDATION")})
		if !errors.Is(err, domerr.ErrInvalidConfig) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
