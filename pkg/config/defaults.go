package config

import "time"

const (
	defaultAPIListen = ":8081"

	defaultVectorProvider   = "sqlite"
	defaultVectorCollection = "chatty_memory"

	defaultOllamaTarget        = "http://localhost:11434"
	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingModel      = "embeddinggemma"
	defaultEmbeddingDimensions = 768
	defaultEmbeddingCacheSize  = 4096

	defaultLLMProvider     = "ollama"
	defaultLLMModel        = "llama3.2"
	defaultLLMTemperature  = 0.7
	defaultLLMMaxTokens    = 1024
	defaultLLMContextChars = 24000
	defaultLLMTimeout      = 60 * time.Second

	defaultTurnBudget       = 5
	defaultFactBudget       = 10
	defaultDedupThreshold   = 0.95
	defaultWeightSimilarity = 0.8
	defaultWeightRecency    = 0.2
	defaultHalfLife         = 72 * time.Hour
	defaultRecentTurns      = 10
	defaultExtractWindow    = 6

	defaultIdleThreshold = 24 * time.Hour
	defaultMinSpacing    = 24 * time.Hour
	defaultPollInterval  = time.Hour

	defaultEventsProvider = "nop"
	defaultEventsTopic    = "chatty.memory"

	defaultNumWorkers = 3
	defaultQueueSize  = 256
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		API: APIConfig{
			Listen:  defaultAPIListen,
			Enabled: true,
		},
		VectorStore: VectorStoreConfig{
			Provider:   defaultVectorProvider,
			Collection: defaultVectorCollection,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultOllamaTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
			CacheSize:  defaultEmbeddingCacheSize,
		},
		LLM: LLMConfig{
			Provider:     defaultLLMProvider,
			Target:       defaultOllamaTarget,
			Model:        defaultLLMModel,
			Temperature:  defaultLLMTemperature,
			MaxTokens:    defaultLLMMaxTokens,
			ContextChars: defaultLLMContextChars,
			Timeout:      NewDuration(defaultLLMTimeout),
		},
		Memory: MemoryConfig{
			TurnBudget:       defaultTurnBudget,
			FactBudget:       defaultFactBudget,
			DedupThreshold:   defaultDedupThreshold,
			WeightSimilarity: defaultWeightSimilarity,
			WeightRecency:    defaultWeightRecency,
			HalfLife:         NewDuration(defaultHalfLife),
			RecentTurns:      defaultRecentTurns,
			ExtractWindow:    defaultExtractWindow,
		},
		Proactive: ProactiveConfig{
			Enabled:       true,
			IdleThreshold: NewDuration(defaultIdleThreshold),
			MinSpacing:    NewDuration(defaultMinSpacing),
			PollInterval:  NewDuration(defaultPollInterval),
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Topic:    defaultEventsTopic,
		},
		Worker: WorkerConfig{
			NumWorkers: defaultNumWorkers,
			QueueSize:  defaultQueueSize,
		},
	}
}
