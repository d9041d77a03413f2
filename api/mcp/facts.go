package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

var (
	factsToolName    = "memory_facts"
	factsDescription = "List every fact chatty remembers about a user, newest first. Each fact has a dotted key such as user.name and a short statement."
)

// FactsInput represents the input arguments for the memory_facts tool.
type FactsInput struct {
	UserID string `json:"user_id" jsonschema:"the user whose facts to list"`
}

// Fact is a single remembered fact.
type Fact struct {
	Key       string    `json:"key"`
	Text      string    `json:"text"`
	Platform  string    `json:"platform,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FactsOutput represents the structured output of memory_facts.
type FactsOutput struct {
	UserID string `json:"user_id"`
	Facts  []Fact `json:"facts"`
}

// handleFacts processes a memory_facts request.
func (s *Server) handleFacts(ctx context.Context, _ *mcp.CallToolRequest, input FactsInput) (*mcp.CallToolResult, FactsOutput, error) {
	if input.UserID == "" {
		return errorResult("user_id is required"), FactsOutput{}, nil
	}

	records, err := s.config.Facts.Facts(ctx, input.UserID)
	if err != nil {
		s.config.Logger.Error("MCP fact listing failed", zap.String("user_id", input.UserID), zap.Error(err))
		return errorResult("Listing facts failed: %v", err), FactsOutput{}, nil
	}

	facts := make([]Fact, 0, len(records))
	for _, r := range records {
		facts = append(facts, Fact{
			Key:       r.FactKey,
			Text:      r.Text,
			Platform:  r.Platform,
			CreatedAt: r.CreatedAt,
		})
	}

	return jsonResult(FactsOutput{UserID: input.UserID, Facts: facts})
}
