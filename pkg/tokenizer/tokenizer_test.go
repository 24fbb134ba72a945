package tokenizer_test

import (
	"os"
	"strings"
	"testing"

	"github.com/opst/knitpipe/pkg/domain"
	"github.com/opst/knitpipe/pkg/tokenizer"
	"github.com/opst/knitpipe/pkg/utils/try"
	"github.com/sashabaranov/go-openai"
)

// one token per word.
var words = tokenizer.CounterFunc(func(text string) int {
	return len(strings.Fields(text))
})

func TestCountMessages(t *testing.T) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: "you are a bot"},
		{Role: openai.ChatMessageRoleUser, Content: "hello", Name: "alice"},
	}

	// (3 + 1 + 4) + (3 + 1 + 1 + 1 + 1) + 3
	expected := 18
	if actual := tokenizer.CountMessages(words, messages); actual != expected {
		t.Errorf("unmatch: (actual, expected) = (%d, %d)", actual, expected)
	}
}

func TestCountOutput(t *testing.T) {
	for name, testcase := range map[string]struct {
		when domain.Output
		then int
	}{
		"content": {
			when: domain.Output{Role: openai.ChatMessageRoleAssistant, Content: "it is sunny"},
			then: 4,
		},
		"tool call": {
			when: domain.Output{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{
					{Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "get_weather", Arguments: `{"city": "Tokyo"}`}},
				},
			},
			then: 4,
		},
	} {
		t.Run(name, func(t *testing.T) {
			if actual := tokenizer.CountOutput(words, testcase.when); actual != testcase.then {
				t.Errorf("unmatch: (actual, expected) = (%d, %d)", actual, testcase.then)
			}
		})
	}
}

func TestCountInput_ToolsAreCounted(t *testing.T) {
	in := domain.Input{
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "weather?"}},
	}
	without := tokenizer.CountInput(words, in)

	in.Tools = []openai.Tool{{Type: openai.ToolTypeFunction, Function: &openai.FunctionDefinition{Name: "get weather"}}}
	with := tokenizer.CountInput(words, in)

	if with <= without {
		t.Errorf("tools are not counted: %d <= %d", with, without)
	}
}

func TestTiktoken(t *testing.T) {
	// encodings are downloaded on first use.
	if os.Getenv("KNITPIPE_TEST_TIKTOKEN") == "" {
		t.Skip("KNITPIPE_TEST_TIKTOKEN is not set")
	}

	c := try.To(tokenizer.New(tokenizer.DefaultEncoding)).OrFatal(t)
	if n := c.CountTokens("hello world"); n != 2 {
		t.Errorf("unexpected count: %d", n)
	}
	if n := c.CountTokens(""); n != 0 {
		t.Errorf("unexpected count: %d", n)
	}
}
