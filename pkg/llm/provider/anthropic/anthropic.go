// Package anthropic implements llm.Completer with the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/papercomputeco/chatty/pkg/llm"
)

const (
	DefaultModel     = "claude-3-5-haiku-latest"
	DefaultMaxTokens = 1024
	DefaultTimeout   = 60 * time.Second
)

// Config holds configuration for the Anthropic completer.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration

	// BaseURL overrides the API endpoint. Empty uses the SDK default.
	BaseURL string
}

// Completer wraps the SDK client. System messages are lifted into the
// request's System field since the Messages API takes them separately.
type Completer struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
}

func New(cfg Config) (*Completer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic completer requires an API key")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Completer{
		client:  anthropic.NewClient(opts...),
		model:   model,
		timeout: timeout,
	}, nil
}

func (c *Completer) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	resp, err := c.send(ctx, c.newParams(req))
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(textOf(resp))
	if text == "" {
		return "", fmt.Errorf("%w: anthropic returned empty content", llm.ErrUnavailable)
	}
	return text, nil
}

// CompleteWithTools offers tools and returns the tool_use blocks of the reply.
func (c *Completer) CompleteWithTools(ctx context.Context, req llm.CompletionRequest, tools []llm.ToolSpec) (llm.ToolResponse, error) {
	params := c.newParams(req)
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Properties: t.Parameters["properties"]}
		if required, ok := t.Parameters["required"].([]string); ok {
			schema.Required = required
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: schema,
		}})
	}

	resp, err := c.send(ctx, params)
	if err != nil {
		return llm.ToolResponse{}, err
	}

	out := llm.ToolResponse{Text: strings.TrimSpace(textOf(resp))}
	for _, block := range resp.Content {
		if block.Type != "tool_use" {
			continue
		}
		var args map[string]any
		if len(block.Input) > 0 {
			if err := json.Unmarshal(block.Input, &args); err != nil {
				return llm.ToolResponse{}, fmt.Errorf("%w: decoding tool input: %v", llm.ErrUnavailable, err)
			}
		}
		out.Calls = append(out.Calls, llm.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
	}
	return out, nil
}

func (c *Completer) newParams(req llm.CompletionRequest) anthropic.MessageNewParams {
	system, rest := llm.SplitSystem(req.Messages)

	messages := make([]anthropic.MessageParam, 0, len(rest))
	for _, m := range rest {
		blocks := toBlocks(m)
		if len(blocks) == 0 {
			continue
		}
		if m.Role == llm.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			// Tool results travel in user messages.
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(maxTokens),
		Messages:    messages,
		Temperature: anthropic.Float(req.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

func toBlocks(m llm.Message) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
	for _, block := range m.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(block.Text))
			}
		case "tool_use":
			input := block.ToolInput
			if input == nil {
				input = map[string]any{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(block.ToolUseID, input, block.ToolName))
		case "tool_result":
			blocks = append(blocks, anthropic.NewToolResultBlock(block.ToolResultID, block.ToolOutput, block.IsError))
		}
	}
	return blocks
}

func (c *Completer) send(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic: %v", llm.ErrUnavailable, err)
	}
	return resp, nil
}

func textOf(resp *anthropic.Message) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

var _ llm.ToolCompleter = (*Completer)(nil)
