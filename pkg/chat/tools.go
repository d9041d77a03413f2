package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/papercomputeco/chatty/pkg/llm"
	"github.com/papercomputeco/chatty/pkg/retrieval"
)

const memorySearchToolName = "memory_search"

// memoryTool lets the model search one user's memory mid-reply, for things
// the recalled context did not surface.
type memoryTool struct {
	retriever  Retriever
	userID     string
	turnBudget int
	factBudget int
}

func (t *memoryTool) Name() string { return memorySearchToolName }

func (t *memoryTool) Description() string {
	return "Search the user's long-term memory. Returns remembered facts and past conversation turns relevant to the query."
}

func (t *memoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "What to look for, in a few words",
			},
		},
		"required": []string{"query"},
	}
}

func (t *memoryTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return "", errors.New("query is required")
	}

	snippets, err := t.retriever.Retrieve(ctx, retrieval.Request{
		Query:      query,
		UserID:     t.userID,
		TurnBudget: t.turnBudget,
		FactBudget: t.factBudget,
	})
	if err != nil {
		return "", err
	}

	if out := retrieval.FormatContext(snippets); out != "" {
		return out, nil
	}
	return "No matching memories.", nil
}

// completerFor returns the completer for one reply. With tools enabled and a
// provider that supports them, the model may call memory_search scoped to
// userID.
func (o *Orchestrator) completerFor(userID string) llm.Completer {
	if !o.cfg.Tools {
		return o.cfg.Completer
	}
	tc, ok := o.cfg.Completer.(llm.ToolCompleter)
	if !ok {
		return o.cfg.Completer
	}

	registry := llm.NewToolRegistry(o.logger)
	registry.Register(&memoryTool{
		retriever:  o.cfg.Retriever,
		userID:     userID,
		turnBudget: o.cfg.TurnBudget,
		factBudget: o.cfg.FactBudget,
	})
	return &llm.ToolLoop{Completer: tc, Registry: registry, Logger: o.logger}
}
