package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config represents the persistent chatty configuration stored as config.toml
// in the .chatty/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	API         APIConfig         `toml:"api"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	LLM         LLMConfig         `toml:"llm"`
	Memory      MemoryConfig      `toml:"memory"`
	Proactive   ProactiveConfig   `toml:"proactive"`
	Character   CharacterConfig   `toml:"character"`
	Users       UsersConfig       `toml:"users"`
	Matrix      MatrixConfig      `toml:"matrix"`
	Events      EventsConfig      `toml:"events"`
	Worker      WorkerConfig      `toml:"worker"`
}

// StorageConfig holds the local state database settings. An empty path
// resolves to chatty.sqlite inside the .chatty/ directory.
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path,omitempty"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Listen  string `toml:"listen,omitempty"`
	Enabled bool   `toml:"enabled"`
}

// VectorStoreConfig selects the vector driver backing the memory store.
type VectorStoreConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Collection string `toml:"collection,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
	CacheSize  uint   `toml:"cache_size,omitempty"`
}

// LLMConfig holds completion provider settings. API keys are read from the
// environment and never persisted.
type LLMConfig struct {
	Provider     string   `toml:"provider,omitempty"`
	Target       string   `toml:"target,omitempty"`
	Model        string   `toml:"model,omitempty"`
	Temperature  float64  `toml:"temperature,omitempty"`
	MaxTokens    uint     `toml:"max_tokens,omitempty"`
	ContextChars uint     `toml:"context_chars,omitempty"`
	Timeout      Duration `toml:"timeout"`

	// Tools enables the memory_search tool for providers that support
	// tool calling.
	Tools bool `toml:"tools,omitempty"`
}

// MemoryConfig holds retrieval and extraction tuning.
type MemoryConfig struct {
	TurnBudget       uint     `toml:"turn_budget,omitempty"`
	FactBudget       uint     `toml:"fact_budget,omitempty"`
	MinScore         float64  `toml:"min_score,omitempty"`
	DedupThreshold   float64  `toml:"dedup_threshold,omitempty"`
	WeightSimilarity float64  `toml:"weight_similarity,omitempty"`
	WeightRecency    float64  `toml:"weight_recency,omitempty"`
	HalfLife         Duration `toml:"half_life"`
	RecentTurns      uint     `toml:"recent_turns,omitempty"`
	ExtractWindow    uint     `toml:"extract_window,omitempty"`
}

// ProactiveConfig holds the idle check-in policy.
type ProactiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	IdleThreshold Duration `toml:"idle_threshold"`
	MinSpacing    Duration `toml:"min_spacing"`
	PollInterval  Duration `toml:"poll_interval"`
}

// CharacterConfig points at the YAML persona file. Empty uses the built-in one.
type CharacterConfig struct {
	Path string `toml:"path,omitempty"`
}

// UsersConfig is the allow-list of "platform:user_id" entries.
type UsersConfig struct {
	Allowed []string `toml:"allowed,omitempty"`
}

// MatrixConfig holds Matrix adapter settings.
type MatrixConfig struct {
	Homeserver  string   `toml:"homeserver,omitempty"`
	UserID      string   `toml:"user_id,omitempty"`
	AccessToken string   `toml:"access_token,omitempty"`
	Rooms       []string `toml:"rooms,omitempty"`
}

// EventsConfig selects the memory event publisher.
type EventsConfig struct {
	Provider string   `toml:"provider,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// WorkerConfig sizes the background fact extraction pool.
type WorkerConfig struct {
	NumWorkers uint `toml:"num_workers,omitempty"`
	QueueSize  uint `toml:"queue_size,omitempty"`
}

// Duration is a time.Duration that reads and writes as a Go duration string
// ("24h", "90m") in TOML.
type Duration struct {
	time.Duration
}

func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
// List values round-trip as comma separated strings.
type configKeyInfo struct {
	get  func(c *Config) string
	set  func(c *Config, v string) error
	list bool
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*field(c)), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

func floatKey(name string, field func(c *Config) *float64) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatFloat(*field(c), 'g', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = f
			return nil
		},
	}
}

func boolKey(name string, field func(c *Config) *bool) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = b
			return nil
		},
	}
}

func durationKey(name string, field func(c *Config) *Duration) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if field(c).Duration == 0 {
				return ""
			}
			return field(c).String()
		},
		set: func(c *Config, v string) error {
			if err := field(c).UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			return nil
		},
	}
}

func listKey(field func(c *Config) *[]string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strings.Join(*field(c), ",") },
		set: func(c *Config, v string) error {
			*field(c) = splitList(v)
			return nil
		},
		list: true,
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.sqlite_path": stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),

	"api.listen":  stringKey(func(c *Config) *string { return &c.API.Listen }),
	"api.enabled": boolKey("api.enabled", func(c *Config) *bool { return &c.API.Enabled }),

	"vector_store.provider":   stringKey(func(c *Config) *string { return &c.VectorStore.Provider }),
	"vector_store.target":     stringKey(func(c *Config) *string { return &c.VectorStore.Target }),
	"vector_store.collection": stringKey(func(c *Config) *string { return &c.VectorStore.Collection }),

	"embedding.provider":   stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":     stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":      stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.dimensions": uintKey("embedding.dimensions", func(c *Config) *uint { return &c.Embedding.Dimensions }),
	"embedding.cache_size": uintKey("embedding.cache_size", func(c *Config) *uint { return &c.Embedding.CacheSize }),

	"llm.provider":      stringKey(func(c *Config) *string { return &c.LLM.Provider }),
	"llm.target":        stringKey(func(c *Config) *string { return &c.LLM.Target }),
	"llm.model":         stringKey(func(c *Config) *string { return &c.LLM.Model }),
	"llm.temperature":   floatKey("llm.temperature", func(c *Config) *float64 { return &c.LLM.Temperature }),
	"llm.max_tokens":    uintKey("llm.max_tokens", func(c *Config) *uint { return &c.LLM.MaxTokens }),
	"llm.context_chars": uintKey("llm.context_chars", func(c *Config) *uint { return &c.LLM.ContextChars }),
	"llm.timeout":       durationKey("llm.timeout", func(c *Config) *Duration { return &c.LLM.Timeout }),
	"llm.tools":         boolKey("llm.tools", func(c *Config) *bool { return &c.LLM.Tools }),

	"memory.turn_budget":       uintKey("memory.turn_budget", func(c *Config) *uint { return &c.Memory.TurnBudget }),
	"memory.fact_budget":       uintKey("memory.fact_budget", func(c *Config) *uint { return &c.Memory.FactBudget }),
	"memory.min_score":         floatKey("memory.min_score", func(c *Config) *float64 { return &c.Memory.MinScore }),
	"memory.dedup_threshold":   floatKey("memory.dedup_threshold", func(c *Config) *float64 { return &c.Memory.DedupThreshold }),
	"memory.weight_similarity": floatKey("memory.weight_similarity", func(c *Config) *float64 { return &c.Memory.WeightSimilarity }),
	"memory.weight_recency":    floatKey("memory.weight_recency", func(c *Config) *float64 { return &c.Memory.WeightRecency }),
	"memory.half_life":         durationKey("memory.half_life", func(c *Config) *Duration { return &c.Memory.HalfLife }),
	"memory.recent_turns":      uintKey("memory.recent_turns", func(c *Config) *uint { return &c.Memory.RecentTurns }),
	"memory.extract_window":    uintKey("memory.extract_window", func(c *Config) *uint { return &c.Memory.ExtractWindow }),

	"proactive.enabled":        boolKey("proactive.enabled", func(c *Config) *bool { return &c.Proactive.Enabled }),
	"proactive.idle_threshold": durationKey("proactive.idle_threshold", func(c *Config) *Duration { return &c.Proactive.IdleThreshold }),
	"proactive.min_spacing":    durationKey("proactive.min_spacing", func(c *Config) *Duration { return &c.Proactive.MinSpacing }),
	"proactive.poll_interval":  durationKey("proactive.poll_interval", func(c *Config) *Duration { return &c.Proactive.PollInterval }),

	"character.path": stringKey(func(c *Config) *string { return &c.Character.Path }),

	"users.allowed": listKey(func(c *Config) *[]string { return &c.Users.Allowed }),

	"matrix.homeserver":   stringKey(func(c *Config) *string { return &c.Matrix.Homeserver }),
	"matrix.user_id":      stringKey(func(c *Config) *string { return &c.Matrix.UserID }),
	"matrix.access_token": stringKey(func(c *Config) *string { return &c.Matrix.AccessToken }),
	"matrix.rooms":        listKey(func(c *Config) *[]string { return &c.Matrix.Rooms }),

	"events.provider": stringKey(func(c *Config) *string { return &c.Events.Provider }),
	"events.brokers":  listKey(func(c *Config) *[]string { return &c.Events.Brokers }),
	"events.topic":    stringKey(func(c *Config) *string { return &c.Events.Topic }),

	"worker.num_workers": uintKey("worker.num_workers", func(c *Config) *uint { return &c.Worker.NumWorkers }),
	"worker.queue_size":  uintKey("worker.queue_size", func(c *Config) *uint { return &c.Worker.QueueSize }),
}

// orderedKeys is the stable, logical order matching the TOML section layout.
var orderedKeys = []string{
	"storage.sqlite_path",
	"api.listen",
	"api.enabled",
	"vector_store.provider",
	"vector_store.target",
	"vector_store.collection",
	"embedding.provider",
	"embedding.target",
	"embedding.model",
	"embedding.dimensions",
	"embedding.cache_size",
	"llm.provider",
	"llm.target",
	"llm.model",
	"llm.temperature",
	"llm.max_tokens",
	"llm.context_chars",
	"llm.timeout",
	"llm.tools",
	"memory.turn_budget",
	"memory.fact_budget",
	"memory.min_score",
	"memory.dedup_threshold",
	"memory.weight_similarity",
	"memory.weight_recency",
	"memory.half_life",
	"memory.recent_turns",
	"memory.extract_window",
	"proactive.enabled",
	"proactive.idle_threshold",
	"proactive.min_spacing",
	"proactive.poll_interval",
	"character.path",
	"users.allowed",
	"matrix.homeserver",
	"matrix.user_id",
	"matrix.access_token",
	"matrix.rooms",
	"events.provider",
	"events.brokers",
	"events.topic",
	"worker.num_workers",
	"worker.queue_size",
}
