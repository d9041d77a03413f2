package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/pkg/memory"
	"github.com/papercomputeco/chatty/pkg/platform"
)

const helpText = `Here's what I understand:
/start - say hello
/facts - list what I remember about you
/forget <key> - forget one fact, for example /forget user.city
/forget all - forget everything about you
/help - show this message

Anything else is just a conversation.`

type command struct {
	name string
	arg  string
}

var commands = map[string]bool{
	"start":  true,
	"help":   true,
	"facts":  true,
	"forget": true,
}

// parseCommand recognizes the supported slash commands. Unknown commands are
// treated as ordinary messages.
func parseCommand(text string) (command, bool) {
	if !strings.HasPrefix(text, "/") {
		return command{}, false
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	// Telegram style "/facts@botname".
	name, _, _ = strings.Cut(name, "@")
	name = strings.ToLower(name)
	if !commands[name] {
		return command{}, false
	}
	return command{name: name, arg: strings.TrimSpace(arg)}, true
}

func (o *Orchestrator) runCommand(ctx context.Context, in platform.Inbound, cmd command) Reply {
	var text string
	switch cmd.name {
	case "start":
		text = o.greeting(in.UserName)
	case "help":
		text = helpText
	case "facts":
		text = o.listFacts(ctx, in.UserID)
	case "forget":
		text = o.forget(ctx, in.UserID, cmd.arg)
	}

	o.logger.Debug("command handled",
		zap.String("command", cmd.name),
		zap.String("user_id", in.UserID),
	)
	return Reply{Text: text, Command: true}
}

func (o *Orchestrator) greeting(userName string) string {
	name := o.cfg.Character.Current().Name
	hello := "Hi!"
	if userName != "" {
		hello = fmt.Sprintf("Hi %s!", userName)
	}
	return fmt.Sprintf("%s I'm %s. Just talk to me like you would to a friend, I'll remember what matters. Type /help to see what else I can do.", hello, name)
}

func (o *Orchestrator) listFacts(ctx context.Context, userID string) string {
	facts, err := o.cfg.Memory.Facts(ctx, userID)
	if err != nil {
		o.logger.Warn("listing facts failed", zap.Error(err))
		return "I can't reach my memory right now. Try again in a bit."
	}
	if len(facts) == 0 {
		return "I don't know anything about you yet."
	}

	var b strings.Builder
	b.WriteString("Here's what I remember about you:\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s (%s)\n", f.Text, f.FactKey)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (o *Orchestrator) forget(ctx context.Context, userID, arg string) string {
	switch strings.ToLower(arg) {
	case "":
		return "Tell me what to forget: /forget <key> for one fact, or /forget all for everything."
	case "all":
		if err := o.Reset(ctx, userID); err != nil {
			o.logger.Warn("reset failed", zap.Error(err))
			return "I couldn't forget everything just now. Try again in a bit."
		}
		return "Done. I've forgotten everything about you."
	}

	key := memory.NormalizeFactKey(arg)
	if err := o.Forget(ctx, userID, key); err != nil {
		o.logger.Warn("forget failed", zap.Error(err))
		return "I couldn't forget that just now. Try again in a bit."
	}
	return fmt.Sprintf("Okay, I've forgotten %s.", key)
}
