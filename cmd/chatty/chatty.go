// Package chattycmder is the root of the chatty command tree.
package chattycmder

import (
	"github.com/spf13/cobra"

	authcmder "github.com/papercomputeco/chatty/cmd/chatty/auth"
	chatcmder "github.com/papercomputeco/chatty/cmd/chatty/chat"
	configcmder "github.com/papercomputeco/chatty/cmd/chatty/config"
	factscmder "github.com/papercomputeco/chatty/cmd/chatty/facts"
	forgetcmder "github.com/papercomputeco/chatty/cmd/chatty/forget"
	servecmder "github.com/papercomputeco/chatty/cmd/chatty/serve"
	versioncmder "github.com/papercomputeco/chatty/cmd/version"
)

const chattyLongDesc string = `Chatty is a personal chat assistant with a long-term memory.

It remembers what you tell it across conversations and platforms, and
checks in when you have been quiet for a while.

Run it using:
  chatty serve         Run the assistant on the API, Matrix and the scheduler
  chatty chat          Chat in the terminal
  chatty facts         List what chatty remembers about a user
  chatty forget        Forget facts about a user
  chatty config        Manage persistent configuration
  chatty auth          Store provider API keys`

const chattyShortDesc string = "Chatty - a chat assistant that remembers"

func NewChattyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "chatty",
		Short:        chattyShortDesc,
		Long:         chattyLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .chatty/ directory")

	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(factscmder.NewFactsCmd())
	cmd.AddCommand(forgetcmder.NewForgetCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(authcmder.NewAuthCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
