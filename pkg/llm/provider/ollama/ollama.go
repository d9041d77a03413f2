// Package ollama implements llm.Completer against Ollama's /api/chat endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/chatty/pkg/llm"
	"github.com/papercomputeco/chatty/pkg/utils"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.2"
	DefaultTimeout = 60 * time.Second
)

// Config holds configuration for the Ollama completer.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Completer calls Ollama's chat API without streaming.
type Completer struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func New(cfg Config) *Completer {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
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
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Completer) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	out, err := c.chat(ctx, c.newRequest(req))
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(out.Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: ollama returned empty content", llm.ErrUnavailable)
	}
	return text, nil
}

// CompleteWithTools offers tools through the chat API's "tools" field.
// Ollama does not assign call ids, so the tool name stands in when missing.
func (c *Completer) CompleteWithTools(ctx context.Context, req llm.CompletionRequest, tools []llm.ToolSpec) (llm.ToolResponse, error) {
	body := c.newRequest(req)
	for _, t := range tools {
		body.Tools = append(body.Tools, ollamaTool{
			Type:     "function",
			Function: ollamaToolFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}

	out, err := c.chat(ctx, body)
	if err != nil {
		return llm.ToolResponse{}, err
	}

	resp := llm.ToolResponse{Text: strings.TrimSpace(out.Message.Content)}
	for _, tc := range out.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = tc.Function.Name
		}
		resp.Calls = append(resp.Calls, llm.ToolCall{ID: id, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return resp, nil
}

func (c *Completer) newRequest(req llm.CompletionRequest) ollamaRequest {
	body := ollamaRequest{
		Model:    c.model,
		Messages: make([]ollamaMessage, 0, len(req.Messages)),
		Stream:   false,
		Options:  &ollamaOptions{Temperature: &req.Temperature},
	}
	if req.MaxTokens > 0 {
		body.Options.NumPredict = &req.MaxTokens
	}
	if req.JSON {
		body.Format = "json"
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, toOllamaMessages(m)...)
	}
	return body
}

// toOllamaMessages maps one message to Ollama's format. A tool message
// becomes one "tool" message per result.
func toOllamaMessages(m llm.Message) []ollamaMessage {
	if m.Role == llm.RoleTool {
		out := make([]ollamaMessage, 0, len(m.Content))
		for _, block := range m.Content {
			if block.Type == "tool_result" {
				out = append(out, ollamaMessage{Role: llm.RoleTool, Content: block.ToolOutput, ToolName: block.ToolName})
			}
		}
		return out
	}

	msg := ollamaMessage{Role: m.Role, Content: m.GetText()}
	for _, block := range m.Content {
		if block.Type != "tool_use" {
			continue
		}
		var tc ollamaToolCall
		tc.Function.Name = block.ToolName
		tc.Function.Arguments = block.ToolInput
		msg.ToolCalls = append(msg.ToolCalls, tc)
	}
	return []ollamaMessage{msg}
}

func (c *Completer) chat(ctx context.Context, body ollamaRequest) (*ollamaResponse, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", llm.ErrUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", llm.ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", utils.UserAgent())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request: %v", llm.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: ollama returned status %d: %s", llm.ErrUnavailable, resp.StatusCode, string(b))
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", llm.ErrUnavailable, err)
	}
	return &out, nil
}

var _ llm.ToolCompleter = (*Completer)(nil)
