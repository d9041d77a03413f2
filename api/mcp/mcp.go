// Package mcp provides an MCP (Model Context Protocol) server exposing the
// chatty memory to external agents.
package mcp

import (
	"context"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/api/search"
	"github.com/papercomputeco/chatty/pkg/memory"
	"github.com/papercomputeco/chatty/pkg/utils"
)

// FactLister lists a user's facts, newest first.
type FactLister interface {
	Facts(ctx context.Context, userID string) ([]memory.Record, error)
}

type Config struct {
	// Retriever runs memory_search recalls
	Retriever search.Retriever

	// Facts backs the memory_facts tool
	Facts FactLister

	// Noop for empty MCP server
	Noop bool

	// Logger is the configured zap logger
	Logger *zap.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the memory tools.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "chatty",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if !c.Noop {
		if c.Retriever == nil {
			return nil, errors.New("retriever is required")
		}
		if c.Facts == nil {
			return nil, errors.New("fact lister is required")
		}
		if c.Logger == nil {
			return nil, errors.New("logger is required")
		}

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        searchToolName,
			Description: searchDescription,
		}, s.handleSearch)

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        factsToolName,
			Description: factsDescription,
		}, s.handleFacts)
	}

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// MCPServer returns the underlying MCP server, for in-process transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}
