package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	// DefaultMaxToolIterations bounds the completion rounds of one ToolLoop
	// call.
	DefaultMaxToolIterations = 5

	// DefaultToolTemperature is used for the first round, where the model
	// decides whether to call a tool.
	DefaultToolTemperature = 0.3
)

// ErrToolLimit is returned when the model keeps calling tools past the
// iteration limit without producing text. It wraps ErrUnavailable.
var ErrToolLimit = fmt.Errorf("%w: tool call limit reached", ErrUnavailable)

// Tool is a function the model may call during a completion.
type Tool interface {
	Name() string
	Description() string

	// Parameters is the JSON schema of the arguments object.
	Parameters() map[string]any

	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToolSpec describes a tool to a provider.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	// ID echoes back in the tool result. Providers without call ids use the
	// tool name.
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResponse is one completion round: either text, tool calls, or both.
type ToolResponse struct {
	Text  string
	Calls []ToolCall
}

// ToolCompleter is a Completer that can offer tools to the model.
type ToolCompleter interface {
	Completer
	CompleteWithTools(ctx context.Context, req CompletionRequest, tools []ToolSpec) (ToolResponse, error)
}

// ToolRegistry holds the tools offered to the model, in registration order.
type ToolRegistry struct {
	tools  map[string]Tool
	order  []string
	logger *zap.Logger
}

func NewToolRegistry(logger *zap.Logger) *ToolRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolRegistry{tools: map[string]Tool{}, logger: logger}
}

// Register adds t, replacing any tool with the same name.
func (r *ToolRegistry) Register(t Tool) {
	if _, ok := r.tools[t.Name()]; ok {
		r.logger.Warn("tool already registered, overwriting", zap.String("tool", t.Name()))
	} else {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *ToolRegistry) Len() int {
	return len(r.order)
}

// Specs describes every registered tool.
func (r *ToolRegistry) Specs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		specs = append(specs, ToolSpec{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
	}
	return specs
}

// Execute runs call and renders the outcome as a tool_result block. Unknown
// tools and tool errors become error results for the model to read.
func (r *ToolRegistry) Execute(ctx context.Context, call ToolCall) ContentBlock {
	block := ContentBlock{Type: "tool_result", ToolResultID: call.ID, ToolName: call.Name}

	t, ok := r.tools[call.Name]
	if !ok {
		r.logger.Error("unknown tool requested", zap.String("tool", call.Name))
		block.ToolOutput = "Error: unknown tool: " + call.Name
		block.IsError = true
		return block
	}

	out, err := t.Execute(ctx, call.Arguments)
	if err != nil {
		r.logger.Error("tool failed", zap.String("tool", call.Name), zap.Error(err))
		block.ToolOutput = fmt.Sprintf("Error: tool %q failed: %v", call.Name, err)
		block.IsError = true
		return block
	}

	r.logger.Debug("tool executed", zap.String("tool", call.Name), zap.Int("output_chars", len(out)))
	block.ToolOutput = out
	return block
}

// ToolLoop is a Completer that lets the model call tools from Registry
// until it answers in text or MaxIterations rounds have run.
type ToolLoop struct {
	Completer ToolCompleter
	Registry  *ToolRegistry

	// MaxIterations defaults to DefaultMaxToolIterations.
	MaxIterations int

	// ToolTemperature is used for the first round. Later rounds use the
	// request temperature. Zero uses DefaultToolTemperature.
	ToolTemperature float64

	Logger *zap.Logger
}

func (l *ToolLoop) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if l.Registry == nil || l.Registry.Len() == 0 {
		return l.Completer.Complete(ctx, req)
	}

	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxIterations := l.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxToolIterations
	}
	toolTemperature := l.ToolTemperature
	if toolTemperature <= 0 {
		toolTemperature = DefaultToolTemperature
	}

	specs := l.Registry.Specs()
	messages := append([]Message(nil), req.Messages...)
	var last ToolResponse

	for i := range maxIterations {
		round := req
		round.Messages = messages
		if i == 0 {
			round.Temperature = toolTemperature
		}

		resp, err := l.Completer.CompleteWithTools(ctx, round, specs)
		if err != nil {
			return "", err
		}
		last = resp

		if len(resp.Calls) == 0 {
			text := strings.TrimSpace(resp.Text)
			if text == "" {
				return "", fmt.Errorf("%w: empty reply", ErrUnavailable)
			}
			return text, nil
		}

		logger.Info("model requested tool calls", zap.Int("calls", len(resp.Calls)), zap.Int("round", i+1))

		request := Message{Role: RoleAssistant}
		if resp.Text != "" {
			request.Content = append(request.Content, ContentBlock{Type: "text", Text: resp.Text})
		}
		results := Message{Role: RoleTool}
		for _, call := range resp.Calls {
			request.Content = append(request.Content, ContentBlock{
				Type:      "tool_use",
				ToolUseID: call.ID,
				ToolName:  call.Name,
				ToolInput: call.Arguments,
			})
			results.Content = append(results.Content, l.Registry.Execute(ctx, call))
		}
		messages = append(messages, request, results)
	}

	logger.Warn("tool calling exceeded the iteration limit", zap.Int("max_iterations", maxIterations))
	if text := strings.TrimSpace(last.Text); text != "" {
		return text, nil
	}
	return "", ErrToolLimit
}

var _ Completer = (*ToolLoop)(nil)
