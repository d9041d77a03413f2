// Package servecmder provides the serve command, which runs the assistant
// on every configured platform.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/chatty/api"
	"github.com/papercomputeco/chatty/api/mcp"
	"github.com/papercomputeco/chatty/cmd/chatty/resolve"
	"github.com/papercomputeco/chatty/pkg/assistant"
	"github.com/papercomputeco/chatty/pkg/chat"
	"github.com/papercomputeco/chatty/pkg/config"
	"github.com/papercomputeco/chatty/pkg/logger"
	"github.com/papercomputeco/chatty/pkg/platform"
	"github.com/papercomputeco/chatty/pkg/platform/matrix"
	"github.com/papercomputeco/chatty/pkg/platform/webhook"
	"github.com/papercomputeco/chatty/pkg/proactive"
)

type ServeCommander struct {
	memory resolve.MemoryFlagTargets

	apiListen     string
	llmProvider   string
	llmTarget     string
	llmModel      string
	character     string
	idleThreshold time.Duration
	pollInterval  time.Duration
	proactive     bool
	events        string
	workers       uint
	jsonLogs      bool

	logger *zap.Logger
}

const serveLongDesc string = `Run the chatty assistant.

Serve starts every configured surface in one process:
  - the HTTP API with the webhook messaging endpoint and /mcp
  - the Matrix adapter, when matrix.homeserver is configured
  - the proactive scheduler, when proactive.enabled is true

Memory, the fact extraction workers and the character file are shared by
every platform, so a user remembered on Matrix is remembered over the API.

Configuration comes from flags, CHATTY_* environment variables and
.chatty/config.toml, in that order of precedence.`

const serveShortDesc string = "Run the chatty assistant"

var serveFlags = append([]string{
	config.FlagAPIListen,
	config.FlagLLMProvider,
	config.FlagLLMTarget,
	config.FlagLLMModel,
	config.FlagCharacter,
	config.FlagIdleThreshold,
	config.FlagPollInterval,
	config.FlagProactive,
	config.FlagEventsProvider,
	config.FlagWorkers,
}, resolve.MemoryFlags...)

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := resolve.Load(cmd, serveFlags)
			if err != nil {
				return err
			}
			return cmder.run(cmd.Context(), env)
		},
	}

	resolve.AddMemoryFlags(cmd, &cmder.memory)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &cmder.apiListen)
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMProvider, &cmder.llmProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMTarget, &cmder.llmTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMModel, &cmder.llmModel)
	config.AddStringFlag(cmd, config.Flags, config.FlagCharacter, &cmder.character)
	config.AddDurationFlag(cmd, config.Flags, config.FlagIdleThreshold, &cmder.idleThreshold)
	config.AddDurationFlag(cmd, config.Flags, config.FlagPollInterval, &cmder.pollInterval)
	config.AddBoolFlag(cmd, config.Flags, config.FlagProactive, &cmder.proactive)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventsProvider, &cmder.events)
	config.AddUintFlag(cmd, config.Flags, config.FlagWorkers, &cmder.workers)
	cmd.Flags().BoolVar(&cmder.jsonLogs, "json-logs", false, "Emit JSON log lines")

	return cmd
}

func (c *ServeCommander) run(parent context.Context, env *resolve.Env) error {
	if parent == nil {
		parent = context.Background()
	}
	c.logger = logger.New(logger.Options{Debug: env.Debug, JSON: c.jsonLogs})
	defer func() { _ = c.logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := env.Config
	a, err := assistant.OpenMemory(ctx, assistant.Options{
		Config:    cfg,
		StatePath: env.StatePath,
		Keys:      env.Keys,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			c.logger.Warn("error closing components", zap.Error(err))
		}
	}()

	completer, err := a.NewCompleter(ctx)
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

	allow, err := assistant.Allowlist(cfg.Users)
	if err != nil {
		return err
	}
	if len(allow.Entries()) == 0 {
		c.logger.Warn("users.allowed is empty, every message will be rejected")
	}

	outbox := webhook.NewOutbox(0)
	registry := platform.NewRegistry(outbox)
	defer registry.Close()

	var mx *matrix.Messenger
	if cfg.Matrix.Homeserver != "" {
		token := cfg.Matrix.AccessToken
		if token == "" {
			if token, err = env.Keys.Resolve("matrix"); err != nil {
				return fmt.Errorf("resolving matrix token: %w", err)
			}
		}

		mx, err = matrix.New(matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: token,
			Rooms:       cfg.Matrix.Rooms,
			Logger:      c.logger,
		})
		if err != nil {
			return err
		}
		registry.Register(mx)
	}

	if !cfg.API.Enabled && mx == nil {
		return errors.New("nothing to serve: enable api.enabled or configure matrix.homeserver")
	}

	// The scheduler composes through the orchestrator, which in turn records
	// activity on the scheduler, so orch is bound after both exist.
	var orch *chat.Orchestrator
	var scheduler *proactive.Scheduler
	if cfg.Proactive.Enabled {
		idle, err := a.OpenIdleStore(env.StatePath)
		if err != nil {
			return err
		}

		scheduler, err = proactive.NewScheduler(ctx, proactive.Config{
			Store: idle,
			Composer: proactive.ComposerFunc(func(ctx context.Context, state proactive.IdleState) (string, error) {
				return orch.ComposeProactive(ctx, state)
			}),
			Sender: registry,
			Policy: assistant.Policy(cfg.Proactive),
			OnDelivered: func(ctx context.Context, state proactive.IdleState, text string) {
				orch.RecordProactive(ctx, state, text)
			},
			Logger: c.logger,
		})
		if err != nil {
			return fmt.Errorf("creating proactive scheduler: %w", err)
		}
	}

	occ := a.OrchestratorConfig()
	occ.Completer = completer
	occ.Extractions = pool
	occ.Sender = registry
	occ.Allowlist = allow
	occ.Character = persona
	if scheduler != nil {
		occ.Activity = scheduler
	}
	orch, err = chat.NewOrchestrator(occ)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	if scheduler != nil {
		g.Go(func() error { return scheduler.Run(gctx) })
	}
	if mx != nil {
		g.Go(func() error { return mx.Start(gctx, orch.Handler()) })
	}

	if cfg.API.Enabled {
		apiServer, err := c.newAPIServer(cfg, a, orch, scheduler, outbox)
		if err != nil {
			return err
		}

		g.Go(func() error {
			if err := apiServer.Run(); err != nil {
				return fmt.Errorf("API server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return apiServer.Shutdown()
		})
	}

	c.logger.Info("chatty is running",
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
		zap.Bool("api", cfg.API.Enabled),
		zap.Bool("matrix", mx != nil),
		zap.Bool("proactive", scheduler != nil),
	)

	err = g.Wait()
	c.logger.Info("shutting down")
	return err
}

func (c *ServeCommander) newAPIServer(
	cfg *config.Config,
	a *assistant.Assistant,
	orch *chat.Orchestrator,
	scheduler *proactive.Scheduler,
	outbox *webhook.Outbox,
) (*api.Server, error) {
	mcpServer, err := mcp.NewServer(mcp.Config{
		Retriever: a.Retriever,
		Facts:     a.Store,
		Logger:    c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	apiConfig := api.Config{
		ListenAddr: cfg.API.Listen,
		Chat:       orch,
		Retriever:  a.Retriever,
		Outbox:     outbox,
		MCP:        mcpServer.Handler(),
	}
	if scheduler != nil {
		apiConfig.Idle = scheduler
	}

	return api.NewServer(apiConfig, c.logger)
}
