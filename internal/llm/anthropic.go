package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 1024
)

// AnthropicConfig configures the Anthropic gateway.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Logger    *slog.Logger
}

// AnthropicGateway implements Gateway against the Anthropic messages API.
type AnthropicGateway struct {
	client    anthropic.Client
	model     string
	maxTokens int
	timeout   time.Duration
	log       *slog.Logger
}

// NewAnthropicGateway builds a gateway from cfg. The API key is required.
func NewAnthropicGateway(cfg AnthropicConfig) (*AnthropicGateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic api key not configured")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &AnthropicGateway{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		timeout:   cfg.Timeout,
		log:       log,
	}, nil
}

func (g *AnthropicGateway) Name() string {
	return "anthropic"
}

// Complete performs a buffered messages call with the tool catalog attached.
func (g *AnthropicGateway) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := g.buildParams(req)
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, NewGatewayError(g.Name(), string(params.Model), err)
		}
		params.Tools = tools
	}

	msg, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return nil, NewGatewayError(g.Name(), string(params.Model), err)
	}

	out := &Completion{}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += variant.Text
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: json.RawMessage(variant.Input),
			})
		}
	}
	return out, nil
}

// CompleteStream performs a streaming messages call with no tool catalog,
// forwarding each text delta to onFragment in arrival order.
func (g *AnthropicGateway) CompleteStream(ctx context.Context, req *CompletionRequest, onFragment func(string) error) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := g.buildParams(req)
	stream := g.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		if event.Type != "content_block_delta" {
			continue
		}
		delta := event.AsContentBlockDelta().Delta
		if delta.Type == "text_delta" && delta.Text != "" {
			if err := onFragment(delta.Text); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return NewGatewayError(g.Name(), string(params.Model), err)
	}
	return nil
}

func (g *AnthropicGateway) buildParams(req *CompletionRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = g.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	// Anthropic carries the system prompt separately from messages.
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	return params
}

func convertAnthropicTools(tools []ToolSpec) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, errors.New("invalid tool schema for " + tool.Name)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, errors.New("invalid tool definition for " + tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		out = append(out, param)
	}
	return out, nil
}

func (g *AnthropicGateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

var _ Gateway = (*AnthropicGateway)(nil)
