package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/pkg/llm"
	"github.com/papercomputeco/chatty/pkg/memory"
	"github.com/papercomputeco/chatty/pkg/proactive"
	"github.com/papercomputeco/chatty/pkg/utils"
)

// ComposeProactive writes a check-in for an idle user from the persona's
// check-in prompt, the user's facts and the last few turns.
func (o *Orchestrator) ComposeProactive(ctx context.Context, state proactive.IdleState) (string, error) {
	logger := o.logger.With(zap.String("user_id", state.UserID))

	facts, err := o.cfg.Memory.Facts(ctx, state.UserID)
	if err != nil {
		logger.Warn("loading facts for check-in failed", zap.Error(err))
		facts = nil
	}
	if len(facts) > o.cfg.ProactiveFacts {
		facts = facts[:o.cfg.ProactiveFacts]
	}
	factTexts := make([]string, 0, len(facts))
	for _, f := range facts {
		factTexts = append(factTexts, f.Text)
	}

	recent, err := o.cfg.Memory.Recent(ctx, state.UserID, "", memory.KindTurn, o.cfg.ProactiveTurns)
	if err != nil {
		logger.Warn("loading recent turns for check-in failed", zap.Error(err))
		recent = nil
	}

	persona := o.cfg.Character.Current()

	var prompt strings.Builder
	prompt.WriteString(persona.CheckInPrompt())
	if len(recent) > 0 {
		prompt.WriteString("\n\nYour last messages together:\n")
		for _, r := range recent {
			fmt.Fprintf(&prompt, "- %s: %s\n", r.Role, utils.Truncate(utils.CollapseSpace(r.Text), proactiveSnippetChars))
		}
	}
	prompt.WriteString("\nReply with the message only.")

	cctx, cancel := o.detached(ctx)
	defer cancel()

	text, err := o.cfg.Completer.Complete(cctx, llm.CompletionRequest{
		Messages: []llm.Message{
			llm.NewTextMessage(llm.RoleSystem, persona.SystemPrompt("", factTexts)),
			llm.NewTextMessage(llm.RoleUser, prompt.String()),
		},
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("composing check-in: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("composing check-in: %w: empty reply", llm.ErrUnavailable)
	}
	return text, nil
}

// RecordProactive stores a delivered check-in as an assistant turn. It
// matches proactive.DeliveredFunc.
func (o *Orchestrator) RecordProactive(ctx context.Context, state proactive.IdleState, text string) {
	_, err := o.cfg.Memory.Put(context.WithoutCancel(ctx), memory.Record{
		Kind:     memory.KindTurn,
		Role:     memory.RoleAssistant,
		UserID:   state.UserID,
		Platform: state.Platform,
		Text:     text,
	})
	if err != nil {
		o.logger.Warn("storing check-in failed",
			zap.String("user_id", state.UserID),
			zap.Error(err),
		)
	}
}
