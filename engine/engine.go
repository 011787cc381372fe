// Package engine defines the agent engine consumed by the runner: a
// long-running computation that drives one conversation turn-by-turn and
// reports everything it produces through caller-supplied hooks.
package engine

import (
	"context"
	"encoding/json"
)

// ContentBlock is one content event emitted by the engine. It mirrors the
// wire shape of an assistant content block so it can be serialized as-is.
type ContentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	Output      string
	Error       string
	Base64Image string
}

// Hooks receives every event the engine produces, in emission order.
// Implementations must be fast; the engine calls them synchronously.
type Hooks interface {
	// OnContent is called for every assistant content block.
	OnContent(ctx context.Context, block ContentBlock) error

	// OnToolResult is called for every tool invocation result.
	OnToolResult(ctx context.Context, toolID string, result ToolResult) error

	// OnAPIResponse observes raw engine request/response pairs. Reserved
	// for diagnostics; current callers ignore it.
	OnAPIResponse(request, response any, err error)
}

// Config carries per-run engine settings.
type Config struct {
	APIKey             string
	Model              string
	MaxTokens          int64
	SystemPromptSuffix string

	// RecentImageLimit bounds how many of the most recent screenshots stay
	// in the conversation sent to the model. Zero keeps all.
	RecentImageLimit int
}

// Engine runs one complete agent execution for the given user message,
// reporting progress through hooks. It returns nil on normal completion,
// ctx.Err() when cancelled, and any other error on failure.
type Engine interface {
	Run(ctx context.Context, userMessage string, hooks Hooks, cfg Config) error
}

// ToolExecutor performs the actual tool invocations requested by the model.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, input json.RawMessage) ToolResult
}

// ToolExecutorFunc adapts a function to the ToolExecutor interface.
type ToolExecutorFunc func(ctx context.Context, name string, input json.RawMessage) ToolResult

// Execute calls the wrapped function.
func (f ToolExecutorFunc) Execute(ctx context.Context, name string, input json.RawMessage) ToolResult {
	return f(ctx, name, input)
}
