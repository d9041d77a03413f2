// Package resolve turns a command's flags, the CHATTY_* environment and
// config.toml into one resolved configuration.
package resolve

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatty/cmd/chatty/sqlitepath"
	"github.com/papercomputeco/chatty/pkg/config"
	"github.com/papercomputeco/chatty/pkg/credentials"
)

// Env is what every long-lived command needs before it builds components.
type Env struct {
	Config    *config.Config
	ConfigDir string
	StatePath string
	Debug     bool

	// Keys resolves provider secrets from the environment, then
	// .chatty/credentials.toml.
	Keys *credentials.Manager
}

// Load resolves the configuration for cmd, binding the given flag registry
// keys so explicitly passed flags win over every other layer.
func Load(cmd *cobra.Command, flagKeys []string) (*Env, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")
	debug, _ := cmd.Flags().GetBool("debug")

	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, err
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, flagKeys)

	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, fmt.Errorf("resolving config: %w", err)
	}

	statePath, err := sqlitepath.ResolveSQLitePath(cfg.Storage.SQLitePath, configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving state database: %w", err)
	}

	keys, err := credentials.NewManager(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	return &Env{
		Config:    cfg,
		ConfigDir: configDir,
		StatePath: statePath,
		Debug:     debug,
		Keys:      keys,
	}, nil
}

// MemoryFlags are the flags shared by every command that opens the memory
// store.
var MemoryFlags = []string{
	config.FlagSQLite,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
}

// MemoryFlagTargets holds the values cobra writes for MemoryFlags. Viper
// reads the bound flags, so the fields only give cobra somewhere to write.
type MemoryFlagTargets struct {
	SQLite       string
	VectorProv   string
	VectorTarget string
	EmbedProv    string
	EmbedTarget  string
	EmbedModel   string
	EmbedDims    uint
}

// AddMemoryFlags registers MemoryFlags on cmd.
func AddMemoryFlags(cmd *cobra.Command, t *MemoryFlagTargets) {
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &t.SQLite)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreProv, &t.VectorProv)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreTgt, &t.VectorTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingProv, &t.EmbedProv)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingTgt, &t.EmbedTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingModel, &t.EmbedModel)
	config.AddUintFlag(cmd, config.Flags, config.FlagEmbeddingDims, &t.EmbedDims)
}
