// Package api provides the HTTP API server: the webhook messaging endpoint,
// memory inspection and management, and the MCP endpoint.
package api

import "net/http"

// Config is the API server configuration. Collaborators left nil disable the
// routes that need them; those routes answer 503.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	// Chat answers webhook messages and manages user memory.
	Chat Chat

	// Retriever backs the debug retrieval endpoint.
	Retriever Retriever

	// Idle exposes the proactive scheduler's per-user state.
	Idle IdleInspector

	// Outbox holds messages pushed to the webhook platform.
	Outbox Outbox

	// MCP is mounted at /mcp when set.
	MCP http.Handler
}
