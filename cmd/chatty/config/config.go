// Package configcmder provides the config command for managing persistent
// chatty configuration stored in the .chatty/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent chatty configuration.

Configuration is stored as config.toml in the .chatty/ directory and provides
default values for command flags. CLI flags and CHATTY_* environment
variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure, for example:
  llm.provider, llm.model, embedding.model, vector_store.provider,
  memory.turn_budget, proactive.idle_threshold, users.allowed

List values such as users.allowed and matrix.rooms are comma separated.

Use subcommands to get, set, or list configuration values:
  chatty config set <key> <value>    Set a configuration value
  chatty config get <key>            Get a configuration value
  chatty config list                 List all configuration values

Examples:
  chatty config set llm.provider anthropic
  chatty config set users.allowed console:local,matrix:@sam:example.org
  chatty config get proactive.idle_threshold
  chatty config list`

const configShortDesc string = "Manage persistent chatty configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

// configDirFlag reads the persistent --config-dir flag when the command is
// attached to the root command.
func configDirFlag(cmd *cobra.Command) string {
	dir, _ := cmd.Flags().GetString("config-dir")
	return dir
}
