// Package provider builds llm.Completer clients by provider name.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/papercomputeco/chatty/pkg/llm"
	"github.com/papercomputeco/chatty/pkg/llm/provider/anthropic"
	"github.com/papercomputeco/chatty/pkg/llm/provider/gemini"
	"github.com/papercomputeco/chatty/pkg/llm/provider/ollama"
	"github.com/papercomputeco/chatty/pkg/llm/provider/openai"
)

// Supported provider type constants
const (
	Anthropic = "anthropic"
	OpenAI    = "openai"
	Ollama    = "ollama"
	Gemini    = "gemini"
)

// SupportedProviders returns the list of all supported provider type names.
func SupportedProviders() []string {
	return []string{Anthropic, OpenAI, Ollama, Gemini}
}

// NewCompleterOpts selects and configures a completion client.
type NewCompleterOpts struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// NewCompleter creates a Completer for the given provider type.
// Returns an error if the provider type is not recognized.
func NewCompleter(ctx context.Context, o *NewCompleterOpts) (llm.Completer, error) {
	switch o.Provider {
	case Anthropic:
		return anthropic.New(anthropic.Config{
			APIKey:  o.APIKey,
			Model:   o.Model,
			Timeout: o.Timeout,
			BaseURL: o.BaseURL,
		})
	case OpenAI:
		return openai.New(openai.Config{
			BaseURL: o.BaseURL,
			APIKey:  o.APIKey,
			Model:   o.Model,
			Timeout: o.Timeout,
		})
	case Ollama:
		return ollama.New(ollama.Config{
			BaseURL: o.BaseURL,
			Model:   o.Model,
			Timeout: o.Timeout,
		}), nil
	case Gemini:
		return gemini.New(ctx, gemini.Config{
			APIKey:  o.APIKey,
			Model:   o.Model,
			Timeout: o.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown provider type: %q (supported: %v)", o.Provider, SupportedProviders())
	}
}
