// Package extract distills durable facts from recent conversation turns and
// commits them to the memory store.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/pkg/llm"
	"github.com/papercomputeco/chatty/pkg/memory"
)

// ErrMalformedExtraction reports that some extracted entries could not be
// used. It is never fatal: the well-formed entries are still committed.
var ErrMalformedExtraction = errors.New("malformed extraction")

const (
	defaultMaxTokens   = 512
	defaultTemperature = 0.1
)

const systemPrompt = `You extract durable facts about the user from a conversation.
Return only JSON in the form {"facts":[{"key":"user.name","value":"User's name is Sam"}]}.
Rules:
- key is a short lowercase dotted identifier such as user.name, user.occupation, user.pet.name.
- value is one standalone sentence stating the fact.
- Only include facts the user stated about themselves that stay true over time.
- Reuse an existing key when the fact updates it.
- Return {"facts":[]} when there is nothing to extract.`

// FactStore is the subset of memory.Store the extractor needs.
type FactStore interface {
	Facts(ctx context.Context, userID string) ([]memory.Record, error)
	Put(ctx context.Context, rec memory.Record) (memory.Record, error)
}

// Config configures an Extractor.
type Config struct {
	Completer llm.Completer
	Store     FactStore

	MaxTokens   int
	Temperature float64

	Logger *zap.Logger
}

// Extractor asks the completion model for facts and commits them.
type Extractor struct {
	completer   llm.Completer
	store       FactStore
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

// Result counts what happened to each extracted entry.
type Result struct {
	Committed int
	Unchanged int
	Malformed int
}

// Err returns ErrMalformedExtraction when any entry was skipped.
func (r Result) Err() error {
	if r.Malformed > 0 {
		return fmt.Errorf("%w: %d entries skipped", ErrMalformedExtraction, r.Malformed)
	}
	return nil
}

func New(c Config) (*Extractor, error) {
	if c.Completer == nil || c.Store == nil {
		return nil, errors.New("extractor requires a completer and a store")
	}

	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := c.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Extractor{
		completer:   c.Completer,
		store:       c.Store,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}, nil
}

// ExtractAndCommit extracts facts from recentTurns and commits new or changed
// values. Facts whose value is already stored are skipped. Malformed entries
// are counted in the Result and never abort the batch. Completion failures
// return llm.ErrUnavailable and store failures memory.ErrStoreUnavailable.
func (e *Extractor) ExtractAndCommit(ctx context.Context, recentTurns []memory.Record, userID, platform string) (Result, error) {
	var res Result
	if len(recentTurns) == 0 {
		return res, nil
	}

	existing, err := e.store.Facts(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("loading existing facts: %w", err)
	}
	known := make(map[string]string, len(existing))
	for _, f := range existing {
		known[f.FactKey] = f.Text
	}

	raw, err := e.completer.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			llm.NewTextMessage(llm.RoleSystem, systemPrompt),
			llm.NewTextMessage(llm.RoleUser, buildPrompt(recentTurns, existing)),
		},
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
		JSON:        true,
	})
	if err != nil {
		return res, fmt.Errorf("requesting extraction: %w", err)
	}

	candidates, malformed := Parse(raw)
	res.Malformed = malformed

	for _, c := range candidates {
		if strings.TrimSpace(known[c.Key]) == c.Value {
			res.Unchanged++
			continue
		}

		_, err := e.store.Put(ctx, memory.Record{
			Kind:     memory.KindFact,
			UserID:   userID,
			Platform: platform,
			FactKey:  c.Key,
			Text:     c.Value,
		})
		if err != nil {
			return res, fmt.Errorf("committing fact %q: %w", c.Key, err)
		}
		known[c.Key] = c.Value
		res.Committed++
	}

	if res.Malformed > 0 {
		e.logger.Warn("skipped malformed extraction entries",
			zap.String("user_id", userID),
			zap.Int("malformed", res.Malformed),
		)
	}
	e.logger.Debug("fact extraction finished",
		zap.String("user_id", userID),
		zap.Int("committed", res.Committed),
		zap.Int("unchanged", res.Unchanged),
	)

	return res, nil
}

func buildPrompt(turns []memory.Record, existing []memory.Record) string {
	var b strings.Builder
	if len(existing) > 0 {
		keys := make([]string, 0, len(existing))
		for _, f := range existing {
			keys = append(keys, f.FactKey)
		}
		b.WriteString("Existing fact keys: ")
		b.WriteString(strings.Join(keys, ", "))
		b.WriteString("\n\n")
	}

	b.WriteString("Conversation:\n")
	for _, t := range turns {
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	return b.String()
}
