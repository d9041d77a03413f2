package main

import (
	"os"

	chattycmder "github.com/papercomputeco/chatty/cmd/chatty"
)

func main() {
	cmd := chattycmder.NewChattyCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
