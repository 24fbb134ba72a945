// Package llm calls chat completion models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/opst/knitpipe/pkg/domain"
	"github.com/sashabaranov/go-openai"
)

// ErrNoCompletion is returned when a model answers with no choices.
var ErrNoCompletion = errors.New("no completion returned")

type Completer interface {
	// Complete asks model for the assistant message following the input.
	//
	// Returns
	//
	// - domain.Output: the first choice.
	//
	// - error: IsRateLimited(err) tells the model is busy.
	Complete(ctx context.Context, model string, in domain.Input) (domain.Output, error)
}

type client struct {
	c *openai.Client
}

// New returns Completer calling an OpenAI compatible API.
//
// When baseURL is empty, the OpenAI API is used.
func New(baseURL string, apiKey string) Completer {
	conf := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		conf.BaseURL = baseURL
	}
	return &client{c: openai.NewClientWithConfig(conf)}
}

func (cl *client) Complete(ctx context.Context, model string, in domain.Input) (domain.Output, error) {
	resp, err := cl.c.CreateChatCompletion(ctx, Request(model, in))
	if err != nil {
		return domain.Output{}, fmt.Errorf("%s: %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return domain.Output{}, fmt.Errorf("%s: %w", model, ErrNoCompletion)
	}
	return resp.Choices[0].Message, nil
}

// Request builds a chat completion request replaying the input.
func Request(model string, in domain.Input) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:          model,
		Messages:       in.Messages,
		Tools:          in.Tools,
		ToolChoice:     in.ToolChoice,
		ResponseFormat: in.ResponseFormat,
	}
}

// IsRateLimited tells err is HTTP 429 from the API.
func IsRateLimited(err error) bool {
	if apierr := (*openai.APIError)(nil); errors.As(err, &apierr) {
		return apierr.HTTPStatusCode == http.StatusTooManyRequests
	}
	if reqerr := (*openai.RequestError)(nil); errors.As(err, &reqerr) {
		return reqerr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, model string, in domain.Input) (domain.Output, error)

func (f CompleterFunc) Complete(ctx context.Context, model string, in domain.Input) (domain.Output, error) {
	return f(ctx, model, in)
}
