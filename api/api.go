package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/api/search"
	"github.com/papercomputeco/chatty/pkg/chat"
	"github.com/papercomputeco/chatty/pkg/memory"
	"github.com/papercomputeco/chatty/pkg/platform"
	"github.com/papercomputeco/chatty/pkg/platform/webhook"
	"github.com/papercomputeco/chatty/pkg/proactive"
)

// Chat is the orchestrator surface the API drives.
type Chat interface {
	Respond(ctx context.Context, in platform.Inbound) (chat.Reply, error)
	Facts(ctx context.Context, userID string) ([]memory.Record, error)
	Forget(ctx context.Context, userID, factKey string) error
	Reset(ctx context.Context, userID string) error
}

// Retriever recalls memories for the debug endpoint.
type Retriever = search.Retriever

// IdleInspector reports a user's proactive state.
type IdleInspector interface {
	State(userID, platform string) (proactive.IdleState, proactive.Status, bool)
}

// Outbox drains messages queued for webhook clients.
type Outbox interface {
	Drain(handle string) []webhook.Message
}

// Server is the API server for talking to and inspecting chatty.
type Server struct {
	config Config
	logger *zap.Logger
	app    *fiber.App
}

// NewServer creates a new API server.
// Collaborators are injected so they can be shared with the platform
// adapters and the scheduler running in the same process.
func NewServer(config Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		UnescapePath:          true,
		ReadTimeout:           30 * time.Second,
	})

	s := &Server{
		config: config,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	v1 := app.Group("/v1")
	v1.Post("/messages", s.handlePostMessage)
	v1.Get("/outbox", s.handleOutbox)

	users := v1.Group("/users/:user_id")
	users.Get("/facts", s.handleListFacts)
	users.Delete("/facts/:fact_key", s.handleForgetFact)
	users.Delete("/memory", s.handleResetMemory)
	users.Get("/retrieve", s.handleRetrieve)
	users.Get("/idle", s.handleIdle)

	if config.MCP != nil {
		app.All("/mcp", adaptor.HTTPHandler(config.MCP))
	}

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
