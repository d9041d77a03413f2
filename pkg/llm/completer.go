package llm

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when a completion cannot be produced: the service
// is unreachable, overloaded, timed out, or returned no content.
var ErrUnavailable = errors.New("completion unavailable")

// Completer generates the next assistant message for a conversation.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest is a provider-agnostic completion call.
type CompletionRequest struct {
	Messages []Message

	// MaxTokens caps the generated tokens. Zero uses the client default.
	MaxTokens int

	Temperature float64

	// JSON asks the provider for a JSON object response where supported.
	JSON bool
}

// ErrorResponse is the JSON body returned for API errors.
type ErrorResponse struct {
	Error string `json:"error"`
}
