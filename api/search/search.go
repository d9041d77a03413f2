// Package search provides shared memory recall types and logic. It is used by
// both the REST API endpoint and the MCP server tool.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/pkg/retrieval"
)

const (
	defaultTurnBudget = 5
	defaultFactBudget = 5
)

// Retriever recalls memories for a user.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) ([]retrieval.Snippet, error)
}

// SearchInput represents the input arguments for a recall request.
type SearchInput struct {
	UserID     string `json:"user_id"`
	Query      string `json:"query"`
	Platform   string `json:"platform,omitempty"`
	TurnBudget int    `json:"turn_budget,omitempty"`
	FactBudget int    `json:"fact_budget,omitempty"`
}

// SearchResult represents a single recalled memory.
type SearchResult struct {
	Kind       string    `json:"kind"`
	Role       string    `json:"role,omitempty"`
	Text       string    `json:"text"`
	FactKey    string    `json:"fact_key,omitempty"`
	Similarity float32   `json:"similarity"`
	Score      float64   `json:"score"`
	CreatedAt  time.Time `json:"created_at"`
}

// SearchOutput represents the output of a recall.
type SearchOutput struct {
	Query   string         `json:"query"`
	UserID  string         `json:"user_id"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`

	// Context is the prompt block the orchestrator would inject.
	Context string `json:"context"`
}

// Search runs a retrieval for one user and renders it for transport.
func Search(ctx context.Context, input SearchInput, retriever Retriever, logger *zap.Logger) (*SearchOutput, error) {
	if input.UserID == "" {
		return nil, errors.New("user_id is required")
	}
	if input.TurnBudget <= 0 {
		input.TurnBudget = defaultTurnBudget
	}
	if input.FactBudget <= 0 {
		input.FactBudget = defaultFactBudget
	}

	logger.Debug("recall request",
		zap.String("user_id", input.UserID),
		zap.String("query", input.Query),
		zap.Int("turn_budget", input.TurnBudget),
		zap.Int("fact_budget", input.FactBudget),
	)

	snippets, err := retriever.Retrieve(ctx, retrieval.Request{
		Query:      input.Query,
		UserID:     input.UserID,
		Platform:   input.Platform,
		TurnBudget: input.TurnBudget,
		FactBudget: input.FactBudget,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve memories: %w", err)
	}

	results := make([]SearchResult, 0, len(snippets))
	for _, s := range snippets {
		results = append(results, BuildSearchResult(s))
	}

	return &SearchOutput{
		Query:   input.Query,
		UserID:  input.UserID,
		Results: results,
		Count:   len(results),
		Context: retrieval.FormatContext(snippets),
	}, nil
}

// BuildSearchResult converts a retrieval snippet into a SearchResult.
func BuildSearchResult(s retrieval.Snippet) SearchResult {
	return SearchResult{
		Kind:       string(s.Kind),
		Role:       string(s.Role),
		Text:       s.Text,
		FactKey:    s.FactKey,
		Similarity: s.Similarity,
		Score:      s.Score,
		CreatedAt:  s.CreatedAt,
	}
}
