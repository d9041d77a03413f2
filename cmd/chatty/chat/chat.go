// Package chatcmder provides the chat command, an interactive terminal
// session with the assistant backed by the same memory as "chatty serve".
package chatcmder

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/cmd/chatty/resolve"
	"github.com/papercomputeco/chatty/pkg/assistant"
	"github.com/papercomputeco/chatty/pkg/chat"
	"github.com/papercomputeco/chatty/pkg/cliui"
	"github.com/papercomputeco/chatty/pkg/config"
	"github.com/papercomputeco/chatty/pkg/llm"
	"github.com/papercomputeco/chatty/pkg/logger"
	"github.com/papercomputeco/chatty/pkg/platform"
	"github.com/papercomputeco/chatty/pkg/platform/console"
)

type chatCommander struct {
	memory resolve.MemoryFlagTargets

	llmProvider string
	llmTarget   string
	llmModel    string
	character   string
	workers     uint

	userID   string
	userName string
	plain    bool

	in       io.Reader
	out      io.Writer
	progress io.Writer
	logger   *zap.Logger
}

const chatLongDesc string = `Start an interactive chat session in the terminal.

Messages are answered with the configured completion model and remembered
in the configured memory store, so the assistant recalls what you told it
in earlier sessions and on other platforms.

The terminal user is always allowed, whatever users.allowed says.
Slash commands work as they do everywhere else:
  /start          Say hello
  /help           List commands
  /facts          Show what the assistant remembers about you
  /forget <key>   Forget one fact, or "/forget all" to forget everything

Press Ctrl+D or Ctrl+C to exit.`

const chatShortDesc string = "Chat with the assistant in the terminal"

var chatFlags = append([]string{
	config.FlagLLMProvider,
	config.FlagLLMTarget,
	config.FlagLLMModel,
	config.FlagCharacter,
	config.FlagWorkers,
}, resolve.MemoryFlags...)

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := resolve.Load(cmd, chatFlags)
			if err != nil {
				return err
			}

			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()
			cmder.progress = cmd.ErrOrStderr()

			// Logs go to stderr so they never interleave with the transcript.
			cmder.logger = logger.New(logger.Options{Debug: env.Debug, Writers: []io.Writer{os.Stderr}})
			defer func() { _ = cmder.logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return cmder.run(ctx, env)
		},
	}

	resolve.AddMemoryFlags(cmd, &cmder.memory)
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMProvider, &cmder.llmProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMTarget, &cmder.llmTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMModel, &cmder.llmModel)
	config.AddStringFlag(cmd, config.Flags, config.FlagCharacter, &cmder.character)
	config.AddUintFlag(cmd, config.Flags, config.FlagWorkers, &cmder.workers)
	cmd.Flags().StringVarP(&cmder.userID, "user", "u", "local", "User ID the conversation is remembered under")
	cmd.Flags().StringVarP(&cmder.userName, "name", "n", "", "Your display name")
	cmd.Flags().BoolVar(&cmder.plain, "plain", false, "Print replies without markdown rendering")

	return cmd
}

func (c *chatCommander) run(ctx context.Context, env *resolve.Env) error {
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.progress == nil {
		c.progress = io.Discard
	}

	cfg := env.Config
	var a *assistant.Assistant
	err := cliui.Step(c.progress, "Opening memory ("+cfg.VectorStore.Provider+")", func() error {
		var err error
		a, err = assistant.OpenMemory(ctx, assistant.Options{
			Config:    cfg,
			StatePath: env.StatePath,
			Keys:      env.Keys,
			Logger:    c.logger,
		})
		return err
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			c.logger.Warn("error closing components", zap.Error(err))
		}
	}()

	var completer llm.Completer
	err = cliui.Step(c.progress, "Connecting to "+cfg.LLM.Provider, func() error {
		var err error
		completer, err = a.NewCompleter(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("creating completer: %w", err)
	}

	pool, err := a.StartWorkers(completer)
	if err != nil {
		return err
	}

	persona, watcher, err := a.Persona()
	if err != nil {
		return err
	}
	if watcher != nil {
		go func() {
			if err := watcher.Run(ctx); err != nil {
				c.logger.Warn("character watcher stopped", zap.Error(err))
			}
		}()
	}

	allow, err := assistant.Allowlist(cfg.Users)
	if err != nil {
		return err
	}
	allow.Allow(console.Name, c.userID)

	term := console.New(console.Config{
		In:            c.in,
		Out:           c.out,
		UserID:        c.userID,
		UserName:      c.userName,
		AssistantName: persona.Current().Name,
		Markdown:      !c.plain,
		Logger:        c.logger,
	})
	registry := platform.NewRegistry(term)
	defer registry.Close()

	occ := a.OrchestratorConfig()
	occ.Completer = completer
	occ.Extractions = pool
	occ.Sender = registry
	occ.Allowlist = allow
	occ.Character = persona

	orch, err := chat.NewOrchestrator(occ)
	if err != nil {
		return err
	}

	term.Notice(fmt.Sprintf("Chatting with %s (%s %s). Ctrl+D to exit.",
		persona.Current().Name, cfg.LLM.Provider, cfg.LLM.Model))

	if err := term.Start(ctx, orch.Handler()); err != nil {
		return err
	}

	fmt.Fprintln(c.out)
	term.Notice("Goodbye!")
	return nil
}
