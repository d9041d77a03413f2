package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/api/search"
)

var (
	searchToolName    = "memory_search"
	searchDescription = "Search a user's long-term chat memory. Returns the remembered facts and past conversation turns most relevant to the query, ranked by similarity and recency."
)

// SearchInput represents the input arguments for the memory_search tool.
type SearchInput struct {
	UserID     string `json:"user_id" jsonschema:"the user whose memory to search"`
	Query      string `json:"query" jsonschema:"the text to find relevant memories for"`
	TurnBudget int    `json:"turn_budget,omitempty" jsonschema:"maximum number of past turns to return (default: 5)"`
	FactBudget int    `json:"fact_budget,omitempty" jsonschema:"maximum number of facts to return (default: 5)"`
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

// jsonResult serializes structured output into a TextContent block as well,
// for clients that ignore structured content.
func jsonResult[T any](output T) (*mcp.CallToolResult, T, error) {
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		var zero T
		return errorResult("Failed to serialize results: %v", err), zero, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}

// handleSearch processes a memory_search request.
func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, search.SearchOutput, error) {
	logger := s.config.Logger

	if input.UserID == "" {
		return errorResult("user_id is required"), search.SearchOutput{}, nil
	}

	output, err := search.Search(ctx, search.SearchInput{
		UserID:     input.UserID,
		Query:      input.Query,
		TurnBudget: input.TurnBudget,
		FactBudget: input.FactBudget,
	}, s.config.Retriever, logger)
	if err != nil {
		logger.Error("MCP memory search failed", zap.String("user_id", input.UserID), zap.Error(err))
		return errorResult("Memory search failed: %v", err), search.SearchOutput{}, nil
	}

	return jsonResult(*output)
}
