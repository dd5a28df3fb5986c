// Package llm wraps remote generative-language services behind a small
// gateway abstraction. Two request modes are supported: buffered completion
// with a tool catalog attached, and incremental streaming without one. The
// conversation protocol never asks the model to stream and decide on new
// tools in the same call.
package llm

import (
	"context"
	"encoding/json"
)

// Message is a single entry in the conversation sent to the model.
// Role is one of "user" or "assistant"; the system prompt travels separately.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolSpec is the serialized form of a tool descriptor as presented to the
// model: a name, a natural-language description, and a JSON Schema object
// for the parameters.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a model-produced request to invoke a tool. Arguments is the
// raw payload exactly as the model emitted it; it crosses a trust boundary
// and must be re-validated before execution.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Completion is the buffered result of one model round.
type Completion struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// CompletionRequest carries everything one model round needs.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

// Gateway is the client abstraction over a remote completion API.
// Implementations translate vendor failures into *GatewayError so callers
// never see provider-specific status codes.
type Gateway interface {
	// Complete performs a buffered round; the tool catalog is attached and
	// the response may contain tool calls.
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)

	// CompleteStream performs a streaming round with no tool catalog,
	// invoking onFragment for each text fragment in emission order. A
	// non-nil error from onFragment stops the stream.
	CompleteStream(ctx context.Context, req *CompletionRequest, onFragment func(string) error) error

	// Name returns the provider identifier ("openai", "anthropic").
	Name() string
}
