package api

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/api/search"
	"github.com/papercomputeco/chatty/pkg/chat"
	"github.com/papercomputeco/chatty/pkg/embeddings"
	"github.com/papercomputeco/chatty/pkg/llm"
	"github.com/papercomputeco/chatty/pkg/memory"
	"github.com/papercomputeco/chatty/pkg/platform"
	"github.com/papercomputeco/chatty/pkg/platform/webhook"
)

// MessageRequest is the webhook inbound message body.
type MessageRequest struct {
	Platform string `json:"platform"`
	UserID   string `json:"user_id"`
	Handle   string `json:"handle"`
	UserName string `json:"user_name"`
	Text     string `json:"text"`
}

// MessageResponse carries the reply to a webhook message.
type MessageResponse struct {
	Reply    string `json:"reply"`
	Degraded bool   `json:"degraded,omitempty"`
	Command  bool   `json:"command,omitempty"`
}

// OutboxResponse lists drained webhook messages, oldest first.
type OutboxResponse struct {
	Handle   string            `json:"handle"`
	Messages []webhook.Message `json:"messages"`
}

// FactResponse is a single remembered fact.
type FactResponse struct {
	Key       string    `json:"key"`
	Text      string    `json:"text"`
	Platform  string    `json:"platform,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FactsResponse lists a user's facts, newest first.
type FactsResponse struct {
	UserID string         `json:"user_id"`
	Facts  []FactResponse `json:"facts"`
	Count  int            `json:"count"`
}

// IdleResponse describes a user's proactive state on one platform.
type IdleResponse struct {
	UserID                string     `json:"user_id"`
	Platform              string     `json:"platform"`
	Handle                string     `json:"handle"`
	LastActivityAt        *time.Time `json:"last_activity_at,omitempty"`
	LastProactiveAt       *time.Time `json:"last_proactive_at,omitempty"`
	RepliedSinceProactive bool       `json:"replied_since_proactive"`
	Status                string     `json:"status"`
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(llm.ErrorResponse{Error: msg})
}

func notConfigured(c *fiber.Ctx, what string) error {
	return errorJSON(c, fiber.StatusServiceUnavailable, what+" is not configured")
}

// storeError maps memory failures to a response. Outages are 503.
func (s *Server) storeError(c *fiber.Ctx, msg string, err error) error {
	s.logger.Error(msg, zap.Error(err))
	if errors.Is(err, memory.ErrStoreUnavailable) || errors.Is(err, embeddings.ErrUnavailable) {
		return errorJSON(c, fiber.StatusServiceUnavailable, msg+": memory is unavailable")
	}
	if errors.Is(err, memory.ErrInvalidRecord) {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	return errorJSON(c, fiber.StatusInternalServerError, msg)
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handlePostMessage handles POST /v1/messages. The platform defaults to
// webhook and the handle to the user id.
func (s *Server) handlePostMessage(c *fiber.Ctx) error {
	if s.config.Chat == nil {
		return notConfigured(c, "chat")
	}

	var req MessageRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "user_id is required")
	}
	if strings.TrimSpace(req.Text) == "" {
		return errorJSON(c, fiber.StatusBadRequest, "text is required")
	}
	if req.Platform == "" {
		req.Platform = webhook.Name
	}
	if req.Handle == "" {
		req.Handle = req.UserID
	}

	reply, err := s.config.Chat.Respond(c.UserContext(), platform.Inbound{
		Platform:   req.Platform,
		UserID:     req.UserID,
		Handle:     req.Handle,
		UserName:   req.UserName,
		Text:       req.Text,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		if errors.Is(err, chat.ErrUnauthorized) {
			return errorJSON(c, fiber.StatusForbidden, "sender is not allowed")
		}
		s.logger.Error("webhook message failed", zap.String("user_id", req.UserID), zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "failed to handle message")
	}

	return c.JSON(MessageResponse{
		Reply:    reply.Text,
		Degraded: reply.Degraded,
		Command:  reply.Command,
	})
}

// handleOutbox handles GET /v1/outbox?handle=h.
func (s *Server) handleOutbox(c *fiber.Ctx) error {
	if s.config.Outbox == nil {
		return notConfigured(c, "outbox")
	}
	if p := c.Query("platform"); p != "" && p != webhook.Name {
		return errorJSON(c, fiber.StatusBadRequest, "only the webhook platform has an outbox")
	}

	handle := c.Query("handle")
	if handle == "" {
		return errorJSON(c, fiber.StatusBadRequest, "handle parameter is required")
	}

	messages := s.config.Outbox.Drain(handle)
	if messages == nil {
		messages = []webhook.Message{}
	}
	return c.JSON(OutboxResponse{Handle: handle, Messages: messages})
}

// handleListFacts handles GET /v1/users/:user_id/facts.
func (s *Server) handleListFacts(c *fiber.Ctx) error {
	if s.config.Chat == nil {
		return notConfigured(c, "chat")
	}

	userID := c.Params("user_id")
	records, err := s.config.Chat.Facts(c.UserContext(), userID)
	if err != nil {
		return s.storeError(c, "failed to list facts", err)
	}

	facts := make([]FactResponse, 0, len(records))
	for _, r := range records {
		facts = append(facts, FactResponse{
			Key:       r.FactKey,
			Text:      r.Text,
			Platform:  r.Platform,
			CreatedAt: r.CreatedAt,
		})
	}

	return c.JSON(FactsResponse{UserID: userID, Facts: facts, Count: len(facts)})
}

// handleForgetFact handles DELETE /v1/users/:user_id/facts/:fact_key.
func (s *Server) handleForgetFact(c *fiber.Ctx) error {
	if s.config.Chat == nil {
		return notConfigured(c, "chat")
	}

	key := memory.NormalizeFactKey(c.Params("fact_key"))
	if key == "" {
		return errorJSON(c, fiber.StatusBadRequest, "fact_key is required")
	}

	if err := s.config.Chat.Forget(c.UserContext(), c.Params("user_id"), key); err != nil {
		return s.storeError(c, "failed to forget fact", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleResetMemory handles DELETE /v1/users/:user_id/memory.
func (s *Server) handleResetMemory(c *fiber.Ctx) error {
	if s.config.Chat == nil {
		return notConfigured(c, "chat")
	}

	if err := s.config.Chat.Reset(c.UserContext(), c.Params("user_id")); err != nil {
		return s.storeError(c, "failed to reset memory", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleRetrieve handles GET /v1/users/:user_id/retrieve.
// Query parameters:
//   - query (required): the text to recall memories for
//   - platform (optional): restrict turns to one platform
//   - turn_budget, fact_budget (optional, default 5)
func (s *Server) handleRetrieve(c *fiber.Ctx) error {
	if s.config.Retriever == nil {
		return notConfigured(c, "retrieval")
	}

	query := c.Query("query")
	if query == "" {
		return errorJSON(c, fiber.StatusBadRequest, "query parameter is required")
	}

	turnBudget, err := positiveIntQuery(c, "turn_budget")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	factBudget, err := positiveIntQuery(c, "fact_budget")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	output, err := search.Search(c.UserContext(), search.SearchInput{
		UserID:     c.Params("user_id"),
		Query:      query,
		Platform:   c.Query("platform"),
		TurnBudget: turnBudget,
		FactBudget: factBudget,
	}, s.config.Retriever, s.logger)
	if err != nil {
		return s.storeError(c, "failed to retrieve memories", err)
	}

	return c.JSON(output)
}

// handleIdle handles GET /v1/users/:user_id/idle?platform=p.
func (s *Server) handleIdle(c *fiber.Ctx) error {
	if s.config.Idle == nil {
		return notConfigured(c, "proactive scheduler")
	}

	p := c.Query("platform")
	if p == "" {
		return errorJSON(c, fiber.StatusBadRequest, "platform parameter is required")
	}

	state, status, ok := s.config.Idle.State(c.Params("user_id"), p)
	if !ok {
		return errorJSON(c, fiber.StatusNotFound, "no idle state for user")
	}

	return c.JSON(IdleResponse{
		UserID:                state.UserID,
		Platform:              state.Platform,
		Handle:                state.Handle,
		LastActivityAt:        timePtr(state.LastActivityAt),
		LastProactiveAt:       timePtr(state.LastProactiveAt),
		RepliedSinceProactive: state.RepliedSinceProactive(),
		Status:                string(status),
	})
}

func positiveIntQuery(c *fiber.Ctx, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return n, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
