// Package sqlitepath resolves where the local chatty state database lives.
package sqlitepath

import (
	"os"
	"strings"

	"github.com/papercomputeco/chatty/pkg/dotdir"
)

// EnvVar overrides the state database location for every command.
const EnvVar = "CHATTY_SQLITE"

// ResolveSQLitePath returns the state database path. Order of precedence:
//  1. override (the --sqlite flag or storage.sqlite_path)
//  2. the CHATTY_SQLITE environment variable
//  3. chatty.sqlite inside the resolved .chatty/ directory
func ResolveSQLitePath(override, configDir string) (string, error) {
	if override = strings.TrimSpace(override); override != "" {
		return override, nil
	}

	if envPath := strings.TrimSpace(os.Getenv(EnvVar)); envPath != "" {
		return envPath, nil
	}

	return dotdir.NewManager().StateDBPath(configDir)
}
