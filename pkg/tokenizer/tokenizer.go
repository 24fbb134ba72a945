// Package tokenizer counts tokens of texts and chat messages.
package tokenizer

import (
	"encoding/json"
	"sync"

	"github.com/opst/knitpipe/pkg/domain"
	xe "github.com/opst/knitpipe/pkg/errors"
	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"
)

// DefaultEncoding is used when the model is unknown to tiktoken.
const DefaultEncoding = "cl100k_base"

type Counter interface {
	CountTokens(text string) int
}

// CounterFunc is a Counter by a function.
type CounterFunc func(text string) int

func (f CounterFunc) CountTokens(text string) int {
	return f(text)
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (t *tiktokenCounter) CountTokens(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

var (
	mux      sync.Mutex
	counters = map[string]Counter{}
)

// New returns Counter with the named tiktoken encoding.
//
// Encodings are loaded on first use and shared.
func New(encoding string) (Counter, error) {
	mux.Lock()
	defer mux.Unlock()

	if c, ok := counters[encoding]; ok {
		return c, nil
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, xe.WrapWithNote("encoding: "+encoding, err)
	}
	c := &tiktokenCounter{enc: enc}
	counters[encoding] = c
	return c, nil
}

// ForModel returns Counter for the model, falling back to DefaultEncoding.
func ForModel(model string) (Counter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return New(DefaultEncoding)
	}
	return &tiktokenCounter{enc: enc}, nil
}

// overhead per message and reply priming.
const (
	tokensPerMessage = 3
	tokensPerName    = 1
	tokensPerReply   = 3
)

// CountMessages estimates tokens of chat messages as a prompt.
func CountMessages(c Counter, messages []openai.ChatCompletionMessage) int {
	n := 0
	for _, m := range messages {
		n += countMessage(c, m)
	}
	return n + tokensPerReply
}

func countMessage(c Counter, m openai.ChatCompletionMessage) int {
	n := tokensPerMessage
	n += c.CountTokens(m.Role)
	n += c.CountTokens(m.Content)
	for _, part := range m.MultiContent {
		n += c.CountTokens(part.Text)
	}
	if m.Name != "" {
		n += c.CountTokens(m.Name) + tokensPerName
	}
	if m.FunctionCall != nil {
		n += c.CountTokens(m.FunctionCall.Name) + c.CountTokens(m.FunctionCall.Arguments)
	}
	for _, tc := range m.ToolCalls {
		n += c.CountTokens(tc.Function.Name) + c.CountTokens(tc.Function.Arguments)
	}
	if m.ToolCallID != "" {
		n += c.CountTokens(m.ToolCallID)
	}
	return n
}

// CountInput estimates tokens of the input as a prompt, including tool definitions.
func CountInput(c Counter, in domain.Input) int {
	n := CountMessages(c, in.Messages)
	if len(in.Tools) != 0 {
		if b, err := json.Marshal(in.Tools); err == nil {
			n += c.CountTokens(string(b))
		}
	}
	return n
}

// CountOutput estimates tokens of the output as a completion.
func CountOutput(c Counter, out domain.Output) int {
	return countMessage(c, out) - tokensPerMessage
}
