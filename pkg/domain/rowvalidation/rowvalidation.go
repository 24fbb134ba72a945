// Package rowvalidation checks candidate training pairs and converts them into canonical form.
//
// Rows coming from logged calls, uploads and edits go through the same rules:
//
//   - input should have at least one message, and each message should have content or a call.
//   - function/tool calls should have arguments, which are JSON.
//   - output should be an assistant message with content or tool calls.
//     Arguments of its tool calls should match parameters of the declared tool.
//
// Legacy function calling (functions, function_call and role "function") is
// converted into tool calling.
package rowvalidation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/opst/knitpipe/pkg/domain"
	"github.com/sashabaranov/go-openai"
)

var ErrInvalidRow = errors.New("invalid row")

type Kind string

const (
	EmptyMessages       Kind = "empty messages"
	MissingContent      Kind = "missing content"
	MissingArguments    Kind = "missing arguments"
	MalformedArguments  Kind = "malformed arguments"
	MismatchedArguments Kind = "mismatched arguments"
	UnknownFunction     Kind = "unknown function"
	InvalidOutput       Kind = "invalid output"
	InvalidToolSchema   Kind = "invalid tool schema"
)

// Error is a structured reason why a row is rejected.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return ErrInvalidRow
}

func fail(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Row is a validated, canonical training pair.
type Row struct {
	Input  domain.Input
	Output domain.Output
}

// Validate checks the request and the answer as a training pair.
//
// # Returns
//
// - Row: canonical form of the pair. Legacy function calling is converted into tool calling.
//
// - error: *Error, when the pair is rejected.
func Validate(req openai.ChatCompletionRequest, out openai.ChatCompletionMessage) (Row, error) {
	if len(req.Messages) == 0 {
		return Row{}, fail(EmptyMessages, "input contains no messages")
	}

	in := domain.Input{
		Messages:       make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
		Tools:          req.Tools,
		ToolChoice:     req.ToolChoice,
		ResponseFormat: req.ResponseFormat,
	}
	if len(in.Tools) == 0 {
		in.Tools = ToolsOf(req.Functions)
	}
	if in.ToolChoice == nil {
		in.ToolChoice = ToolChoiceOf(req.FunctionCall)
	}

	for nth, m := range req.Messages {
		m = ToolCallMessage(m)
		if !hasContent(m) && len(m.ToolCalls) == 0 {
			return Row{}, fail(MissingContent, "message #%d has no content or function call", nth)
		}
		for _, tc := range m.ToolCalls {
			if _, err := argumentsOf(tc.Function); err != nil {
				return Row{}, withMessage(err, "message #%d", nth)
			}
		}
		in.Messages = append(in.Messages, m)
	}

	// some providers omit role of answers.
	if out.Role == "" {
		out.Role = openai.ChatMessageRoleAssistant
	}
	out = ToolCallMessage(out)
	if out.Role != openai.ChatMessageRoleAssistant {
		return Row{}, fail(InvalidOutput, "output should be an assistant message, but %s", out.Role)
	}
	if !hasContent(out) && len(out.ToolCalls) == 0 {
		return Row{}, fail(InvalidOutput, "output contains no content or function call")
	}

	schemas := map[string]*jsonschema.Resolved{}
	for _, t := range in.Tools {
		if t.Function == nil || t.Function.Parameters == nil {
			continue
		}
		rs, err := resolveParameters(t.Function.Parameters)
		if err != nil {
			return Row{}, fail(InvalidToolSchema, "tool %s: %s", t.Function.Name, err)
		}
		schemas[t.Function.Name] = rs
	}
	for _, tc := range out.ToolCalls {
		args, err := argumentsOf(tc.Function)
		if err != nil {
			return Row{}, withMessage(err, "output")
		}
		rs, ok := schemas[tc.Function.Name]
		if !ok {
			if len(in.Tools) != 0 && !declares(in.Tools, tc.Function.Name) {
				return Row{}, fail(UnknownFunction, "output calls undeclared function %s", tc.Function.Name)
			}
			continue
		}
		if err := rs.Validate(args); err != nil {
			return Row{}, fail(MismatchedArguments, "output calls %s: %s", tc.Function.Name, err)
		}
	}

	return Row{Input: in, Output: out}, nil
}

func withMessage(err error, format string, args ...any) error {
	verr := new(Error)
	if !errors.As(err, &verr) {
		return err
	}
	return &Error{Kind: verr.Kind, Message: fmt.Sprintf(format, args...) + ": " + verr.Message}
}

func hasContent(m openai.ChatCompletionMessage) bool {
	return m.Content != "" || len(m.MultiContent) != 0
}

func declares(tools []openai.Tool, name string) bool {
	for _, t := range tools {
		if t.Function != nil && t.Function.Name == name {
			return true
		}
	}
	return false
}

func argumentsOf(fc openai.FunctionCall) (any, error) {
	if fc.Name == "" {
		return nil, fail(MissingArguments, "function call without name")
	}
	if fc.Arguments == "" {
		return nil, fail(MissingArguments, "call of %s has no arguments", fc.Name)
	}
	var args any
	if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
		return nil, fail(MalformedArguments, "arguments of %s: %s", fc.Name, err)
	}
	return args, nil
}

func resolveParameters(params any) (*jsonschema.Resolved, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	s := new(jsonschema.Schema)
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, err
	}
	return s.Resolve(nil)
}

// ToolsOf converts legacy function definitions into tools.
func ToolsOf(functions []openai.FunctionDefinition) []openai.Tool {
	if len(functions) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(functions))
	for _, f := range functions {
		tools = append(tools, openai.Tool{Type: openai.ToolTypeFunction, Function: &f})
	}
	return tools
}

// ToolChoiceOf converts legacy function_call into tool_choice.
//
// "auto" and "none" are kept. {"name": X} is converted to choice of function X.
func ToolChoiceOf(functionCall any) any {
	switch fc := functionCall.(type) {
	case nil:
		return nil
	case string:
		if fc == "auto" || fc == "none" {
			return fc
		}
		return nil
	case map[string]any:
		name, _ := fc["name"].(string)
		if name == "" {
			return nil
		}
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: name},
		}
	case openai.FunctionCall:
		if fc.Name == "" {
			return nil
		}
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: fc.Name},
		}
	}
	return nil
}

// ToolCallMessage converts a message in legacy function calling into tool calling.
//
//   - assistant message with function_call gets a tool call with empty id.
//   - function message becomes tool message, whose tool_call_id is the function name.
//
// Other messages are returned as they are.
func ToolCallMessage(m openai.ChatCompletionMessage) openai.ChatCompletionMessage {
	switch m.Role {
	case openai.ChatMessageRoleAssistant:
		if len(m.ToolCalls) != 0 || m.FunctionCall == nil {
			return m
		}
		m.ToolCalls = []openai.ToolCall{
			{ID: "", Type: openai.ToolTypeFunction, Function: *m.FunctionCall},
		}
		m.FunctionCall = nil
		return m
	case openai.ChatMessageRoleFunction:
		return openai.ChatCompletionMessage{
			Role:         openai.ChatMessageRoleTool,
			Content:      m.Content,
			MultiContent: m.MultiContent,
			ToolCallID:   m.Name,
		}
	}
	return m
}
