// Package factscmder provides the facts command, which prints what chatty
// remembers about a user.
package factscmder

import (
	"encoding/json"
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

type factsCommander struct {
	memory resolve.MemoryFlagTargets

	userID  string
	jsonOut bool
	logger  *zap.Logger
	out     io.Writer
}

const factsLongDesc string = `List the facts chatty remembers about a user, newest first.

Facts are shared across platforms, so the user ID is the same one the
platform reports (for example @sam:example.org on Matrix, or "local" for
"chatty chat").

Examples:
  chatty facts --user local
  chatty facts --user @sam:example.org --json`

const factsShortDesc string = "List remembered facts for a user"

// Fact is the JSON form of a remembered fact.
type Fact struct {
	Key       string `json:"key"`
	Text      string `json:"text"`
	Platform  string `json:"platform"`
	CreatedAt string `json:"created_at"`
}

func NewFactsCmd() *cobra.Command {
	cmder := &factsCommander{}

	cmd := &cobra.Command{
		Use:   "facts",
		Short: factsShortDesc,
		Long:  factsLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := resolve.Load(cmd, resolve.MemoryFlags)
			if err != nil {
				return err
			}

			cmder.out = cmd.OutOrStdout()
			cmder.logger = logger.New(logger.Options{Debug: env.Debug, Writers: []io.Writer{os.Stderr}})
			defer func() { _ = cmder.logger.Sync() }()

			return cmder.run(cmd, env)
		},
	}

	resolve.AddMemoryFlags(cmd, &cmder.memory)
	cmd.Flags().StringVarP(&cmder.userID, "user", "u", "local", "User ID to list facts for")
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Print facts as JSON")

	return cmd
}

func (c *factsCommander) run(cmd *cobra.Command, env *resolve.Env) error {
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

	facts, err := a.Store.Facts(ctx, c.userID)
	if err != nil {
		return fmt.Errorf("listing facts: %w", err)
	}

	if c.jsonOut {
		return c.printJSON(facts)
	}
	c.printTable(facts)
	return nil
}

func (c *factsCommander) printJSON(facts []memory.Record) error {
	out := make([]Fact, 0, len(facts))
	for _, f := range facts {
		out = append(out, Fact{
			Key:       f.FactKey,
			Text:      f.Text,
			Platform:  f.Platform,
			CreatedAt: f.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func (c *factsCommander) printTable(facts []memory.Record) {
	if len(facts) == 0 {
		fmt.Fprintf(c.out, "\n  %s\n\n", cliui.DimStyle.Render("No facts remembered for "+c.userID+"."))
		return
	}

	maxLen := 0
	for _, f := range facts {
		if len(f.FactKey) > maxLen {
			maxLen = len(f.FactKey)
		}
	}

	fmt.Fprintf(c.out, "\n  %s %s\n\n", cliui.KeyStyle.Render("Facts for"), cliui.ValueStyle.Render(c.userID))
	for _, f := range facts {
		fmt.Fprintf(c.out, "  %-*s  %s  %s\n",
			maxLen, f.FactKey,
			f.Text,
			cliui.DimStyle.Render(f.CreatedAt.Format("2006-01-02")),
		)
	}
	fmt.Fprintln(c.out)
}
