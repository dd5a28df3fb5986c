package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIConfig configures the OpenAI gateway.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Logger    *slog.Logger
}

// OpenAIGateway implements Gateway against the OpenAI chat completions API.
// It is safe for concurrent use; each call creates an independent request.
type OpenAIGateway struct {
	client    *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
	log       *slog.Logger
}

// NewOpenAIGateway builds a gateway from cfg. The API key is required.
func NewOpenAIGateway(cfg OpenAIConfig) (*OpenAIGateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key not configured")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &OpenAIGateway{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		log:       log,
	}, nil
}

func (g *OpenAIGateway) Name() string {
	return "openai"
}

// Complete performs a buffered chat completion with the tool catalog
// attached. Tool calls returned by the model are passed through with their
// raw argument payloads intact.
func (g *OpenAIGateway) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	chatReq := openai.ChatCompletionRequest{
		Model:    g.resolveModel(req.Model),
		Messages: g.convertMessages(req.Messages, req.System),
	}
	if mt := g.resolveMaxTokens(req.MaxTokens); mt > 0 {
		chatReq.MaxTokens = mt
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	resp, err := g.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, NewGatewayError(g.Name(), chatReq.Model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewGatewayError(g.Name(), chatReq.Model, errors.New("empty response from model"))
	}

	choice := resp.Choices[0].Message
	out := &Completion{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// CompleteStream performs a streaming chat completion with no tool catalog,
// forwarding each content delta to onFragment in arrival order.
func (g *OpenAIGateway) CompleteStream(ctx context.Context, req *CompletionRequest, onFragment func(string) error) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	chatReq := openai.ChatCompletionRequest{
		Model:    g.resolveModel(req.Model),
		Messages: g.convertMessages(req.Messages, req.System),
		Stream:   true,
	}
	if mt := g.resolveMaxTokens(req.MaxTokens); mt > 0 {
		chatReq.MaxTokens = mt
	}

	stream, err := g.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return NewGatewayError(g.Name(), chatReq.Model, err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return NewGatewayError(g.Name(), chatReq.Model, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			if err := onFragment(delta); err != nil {
				return err
			}
		}
	}
}

func (g *OpenAIGateway) resolveModel(model string) string {
	if model != "" {
		return model
	}
	return g.model
}

func (g *OpenAIGateway) resolveMaxTokens(maxTokens int) int {
	if maxTokens > 0 {
		return maxTokens
	}
	return g.maxTokens
}

func (g *OpenAIGateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *OpenAIGateway) convertMessages(messages []Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	// OpenAI carries the system prompt as the first message.
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	return out
}

func convertOpenAITools(tools []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			// A bad schema for one tool must not break the whole catalog.
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}

var _ Gateway = (*OpenAIGateway)(nil)

// String implements fmt.Stringer for logging.
func (g *OpenAIGateway) String() string {
	return fmt.Sprintf("openai(%s)", g.model)
}
