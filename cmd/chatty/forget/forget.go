// Package forgetcmder provides the forget command, which deletes remembered
// facts or everything chatty knows about a user.
package forgetcmder

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/cmd/chatty/resolve"
	"github.com/papercomputeco/chatty/pkg/assistant"
	"github.com/papercomputeco/chatty/pkg/cliui"
	"github.com/papercomputeco/chatty/pkg/logger"
	"github.com/papercomputeco/chatty/pkg/memory"
)

type forgetCommander struct {
	memory resolve.MemoryFlagTargets

	userID string
	all    bool
	logger *zap.Logger
	out    io.Writer
}

const forgetLongDesc string = `Forget one fact about a user, or everything.

With a key, the matching fact is deleted. Keys are normalized the same way
the "/forget" chat command normalizes them, so "City" forgets user.city.

With --all, every turn and fact of the user is deleted along with their
proactive idle state.

Examples:
  chatty forget --user local city
  chatty forget --user @sam:example.org --all`

const forgetShortDesc string = "Forget facts about a user"

func NewForgetCmd() *cobra.Command {
	cmder := &forgetCommander{}

	cmd := &cobra.Command{
		Use:   "forget [key]",
		Short: forgetShortDesc,
		Long:  forgetLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmder.all == (len(args) == 1) {
				return errors.New("pass either a fact key or --all")
			}

			env, err := resolve.Load(cmd, resolve.MemoryFlags)
			if err != nil {
				return err
			}

			cmder.out = cmd.OutOrStdout()
			cmder.logger = logger.New(logger.Options{Debug: env.Debug, Writers: []io.Writer{os.Stderr}})
			defer func() { _ = cmder.logger.Sync() }()

			key := ""
			if len(args) == 1 {
				key = args[0]
			}
			return cmder.run(cmd, env, key)
		},
	}

	resolve.AddMemoryFlags(cmd, &cmder.memory)
	cmd.Flags().StringVarP(&cmder.userID, "user", "u", "local", "User ID to forget facts for")
	cmd.Flags().BoolVar(&cmder.all, "all", false, "Forget every turn and fact of the user")

	return cmd
}

func (c *forgetCommander) run(cmd *cobra.Command, env *resolve.Env, key string) error {
	ctx := cmd.Context()

	a, err := assistant.OpenMemory(ctx, assistant.Options{
		Config:    env.Config,
		StatePath: env.StatePath,
		Keys:      env.Keys,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	if !c.all {
		key = memory.NormalizeFactKey(key)
		if err := a.Store.Forget(ctx, c.userID, key); err != nil {
			return fmt.Errorf("forgetting %s: %w", key, err)
		}
		fmt.Fprintf(c.out, "  %s Forgot %s for %s\n", cliui.SuccessMark, cliui.KeyStyle.Render(key), c.userID)
		return nil
	}

	if err := a.Store.DeleteAll(ctx, c.userID); err != nil {
		return fmt.Errorf("deleting memories: %w", err)
	}

	idle, err := a.OpenIdleStore(env.StatePath)
	if err != nil {
		return err
	}
	if err := idle.Delete(ctx, c.userID); err != nil {
		return fmt.Errorf("resetting idle state: %w", err)
	}

	fmt.Fprintf(c.out, "  %s Forgot everything about %s\n", cliui.SuccessMark, c.userID)
	return nil
}
