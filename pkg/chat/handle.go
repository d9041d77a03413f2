package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/pkg/llm"
	"github.com/papercomputeco/chatty/pkg/memory"
	"github.com/papercomputeco/chatty/pkg/platform"
	"github.com/papercomputeco/chatty/pkg/retrieval"
	"github.com/papercomputeco/chatty/pkg/retry"
	"github.com/papercomputeco/chatty/pkg/worker"
)

// HandleMessage answers in and delivers the reply through the Sender.
// Delivery errors wrap platform.ErrDeliveryFailure and still return the reply.
func (o *Orchestrator) HandleMessage(ctx context.Context, in platform.Inbound) (Reply, error) {
	reply, err := o.Respond(ctx, in)
	if err != nil || reply.Text == "" {
		return reply, err
	}

	if o.cfg.Sender == nil {
		return reply, nil
	}

	err = retry.Do(ctx, o.cfg.Retry, func() error {
		return o.cfg.Sender.Send(ctx, in.Platform, in.Handle, reply.Text)
	})
	if err != nil {
		o.logger.Error("reply delivery failed",
			zap.String("platform", in.Platform),
			zap.String("user_id", in.UserID),
			zap.Error(err),
		)
		return reply, fmt.Errorf("delivering reply: %w", err)
	}

	reply.Delivered = true
	return reply, nil
}

// Handler adapts HandleMessage to platform.Handler, logging rejected senders.
func (o *Orchestrator) Handler() platform.Handler {
	return func(ctx context.Context, in platform.Inbound) {
		if _, err := o.HandleMessage(ctx, in); err != nil {
			o.logger.Warn("message not handled",
				zap.String("platform", in.Platform),
				zap.String("user_id", in.UserID),
				zap.Error(err),
			)
		}
	}
}

// Respond produces the reply to in without delivering it. Memory outages
// degrade to a reply without recalled context and a completion failure yields
// the apology.
func (o *Orchestrator) Respond(ctx context.Context, in platform.Inbound) (Reply, error) {
	if !o.cfg.Allowlist.Allowed(in.Platform, in.UserID) {
		return Reply{}, fmt.Errorf("%w: %s:%s", ErrUnauthorized, in.Platform, in.UserID)
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Reply{}, nil
	}

	unlock := o.locks.lock(in.UserID)
	defer unlock()

	logger := o.logger.With(
		zap.String("platform", in.Platform),
		zap.String("user_id", in.UserID),
	)

	at := in.ReceivedAt
	if at.IsZero() {
		at = o.clock.Now()
	}
	if o.cfg.Activity != nil {
		if err := o.cfg.Activity.RecordActivity(ctx, in.UserID, in.Platform, in.Handle, at); err != nil {
			logger.Warn("recording activity failed", zap.Error(err))
		}
	}

	if cmd, ok := parseCommand(text); ok {
		return o.runCommand(ctx, in, cmd), nil
	}

	// Memory is shared across platforms, so recall ignores the platform.
	snippets, err := o.cfg.Retriever.Retrieve(ctx, retrieval.Request{
		Query:      text,
		UserID:     in.UserID,
		TurnBudget: o.cfg.TurnBudget,
		FactBudget: o.cfg.FactBudget,
	})
	if err != nil {
		logger.Warn("retrieval failed, continuing without memory context", zap.Error(err))
		snippets = nil
	}

	recent, err := o.cfg.Memory.Recent(ctx, in.UserID, "", memory.KindTurn, o.cfg.RecentTurns)
	if err != nil {
		logger.Warn("loading recent turns failed", zap.Error(err))
		recent = nil
	}

	facts, err := o.cfg.Memory.Facts(ctx, in.UserID)
	if err != nil {
		logger.Warn("loading facts failed", zap.Error(err))
		facts = nil
	}
	if len(facts) > o.cfg.ProactiveFacts {
		facts = facts[:o.cfg.ProactiveFacts]
	}

	messages := o.buildPrompt(in, text, snippets, recent, facts)

	cctx, cancel := o.detached(ctx)
	defer cancel()

	answer, err := o.completerFor(in.UserID).Complete(cctx, llm.CompletionRequest{
		Messages:    messages,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	})
	answer = strings.TrimSpace(answer)
	if err == nil && answer == "" {
		err = fmt.Errorf("%w: empty reply", llm.ErrUnavailable)
	}
	if err != nil {
		logger.Error("completion failed, sending apology", zap.Error(err))
		return Reply{Text: Apology, Degraded: true}, nil
	}

	userTurn := o.persistTurn(cctx, logger, in, memory.RoleUser, text)
	assistantTurn := o.persistTurn(cctx, logger, in, memory.RoleAssistant, answer)

	o.enqueueExtraction(logger, in, recent, userTurn, assistantTurn)

	return Reply{Text: answer}, nil
}

func (o *Orchestrator) buildPrompt(in platform.Inbound, text string, snippets []retrieval.Snippet, recent, facts []memory.Record) []llm.Message {
	factTexts := make([]string, 0, len(facts))
	listed := make(map[string]bool, len(facts))
	for _, f := range facts {
		factTexts = append(factTexts, f.Text)
		listed[f.FactKey] = true
	}

	inRecent := make(map[int64]bool, len(recent))
	for _, r := range recent {
		inRecent[r.Seq] = true
	}

	// Drop recalled items the prompt already carries.
	recalled := make([]retrieval.Snippet, 0, len(snippets))
	for _, s := range snippets {
		if s.Kind == memory.KindFact && listed[s.FactKey] {
			continue
		}
		if s.Kind == memory.KindTurn && inRecent[s.Seq] {
			continue
		}
		recalled = append(recalled, s)
	}

	persona := o.cfg.Character.Current()
	messages := []llm.Message{
		llm.NewTextMessage(llm.RoleSystem, persona.SystemPrompt(in.UserName, factTexts)),
	}
	if block := retrieval.FormatContext(recalled); block != "" {
		messages = append(messages, llm.NewTextMessage(llm.RoleSystem, block))
	}

	for _, r := range recent {
		role := llm.RoleUser
		if r.Role == memory.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.NewTextMessage(role, r.Text))
	}
	messages = append(messages, llm.NewTextMessage(llm.RoleUser, text))

	return llm.TrimToBudget(messages, o.cfg.ContextChars)
}

// persistTurn stores a turn. The unstored record is returned on failure so
// extraction still sees it.
func (o *Orchestrator) persistTurn(ctx context.Context, logger *zap.Logger, in platform.Inbound, role memory.Role, text string) memory.Record {
	rec := memory.Record{
		Kind:     memory.KindTurn,
		Role:     role,
		UserID:   in.UserID,
		Platform: in.Platform,
		Text:     text,
	}

	stored, err := o.cfg.Memory.Put(ctx, rec)
	if err != nil {
		logger.Warn("storing turn failed", zap.String("role", string(role)), zap.Error(err))
		return rec
	}
	return stored
}

func (o *Orchestrator) enqueueExtraction(logger *zap.Logger, in platform.Inbound, recent []memory.Record, turns ...memory.Record) {
	if o.cfg.Extractions == nil {
		return
	}

	window := make([]memory.Record, 0, len(recent)+len(turns))
	window = append(window, recent...)
	window = append(window, turns...)
	if len(window) > o.cfg.ExtractWindow {
		window = window[len(window)-o.cfg.ExtractWindow:]
	}

	if !o.cfg.Extractions.Enqueue(worker.Job{UserID: in.UserID, Platform: in.Platform, Turns: window}) {
		logger.Warn("fact extraction skipped, queue full")
	}
}
