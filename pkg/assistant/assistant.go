// Package assistant builds the chatty component graph from a resolved config.
// Commands share it so "chatty serve" and "chatty chat" talk to the same
// memory the same way.
package assistant

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/pkg/character"
	"github.com/papercomputeco/chatty/pkg/chat"
	"github.com/papercomputeco/chatty/pkg/config"
	"github.com/papercomputeco/chatty/pkg/credentials"
	"github.com/papercomputeco/chatty/pkg/embeddings"
	embeddingutils "github.com/papercomputeco/chatty/pkg/embeddings/utils"
	"github.com/papercomputeco/chatty/pkg/eventstream"
	eventstreamutils "github.com/papercomputeco/chatty/pkg/eventstream/utils"
	"github.com/papercomputeco/chatty/pkg/extract"
	"github.com/papercomputeco/chatty/pkg/llm"
	"github.com/papercomputeco/chatty/pkg/llm/provider"
	"github.com/papercomputeco/chatty/pkg/memory"
	"github.com/papercomputeco/chatty/pkg/platform"
	"github.com/papercomputeco/chatty/pkg/proactive"
	"github.com/papercomputeco/chatty/pkg/retrieval"
	"github.com/papercomputeco/chatty/pkg/storage"
	"github.com/papercomputeco/chatty/pkg/storage/sqlite"
	"github.com/papercomputeco/chatty/pkg/vector"
	vectorutils "github.com/papercomputeco/chatty/pkg/vector/utils"
	"github.com/papercomputeco/chatty/pkg/worker"
)

// Options configures Open.
type Options struct {
	Config *config.Config

	// StatePath is the SQLite file holding idle state, and the vector store
	// when the provider is sqlite with no explicit target.
	StatePath string

	// Keys resolves provider API keys. Defaults to the environment.
	Keys credentials.Resolver

	Logger *zap.Logger
}

// Assistant holds the long-lived components. Close releases them in reverse
// order of creation.
type Assistant struct {
	Config *config.Config

	Embedder  embeddings.Embedder
	Vectors   vector.Driver
	Publisher eventstream.Publisher
	Store     *memory.Store
	Retriever *retrieval.Engine

	keys    credentials.Resolver
	logger  *zap.Logger
	closers []func() error
}

// OpenMemory builds the memory half of the graph: embedder, vector store,
// event publisher, memory store and retrieval engine. No completion model is
// needed, so fact inspection commands use it directly.
func OpenMemory(ctx context.Context, o Options) (*Assistant, error) {
	if o.Config == nil {
		return nil, errors.New("config is required")
	}
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	keys := o.Keys
	if keys == nil {
		keys = credentials.Env{}
	}

	a := &Assistant{Config: o.Config, keys: keys, logger: logger}
	if err := a.openMemory(ctx, o.StatePath); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Assistant) openMemory(ctx context.Context, statePath string) error {
	cfg := a.Config

	embedKey, err := a.keys.Resolve(cfg.Embedding.Provider)
	if err != nil {
		return fmt.Errorf("resolving embedding key: %w", err)
	}
	emb, err := embeddingutils.NewEmbedder(ctx, &embeddingutils.NewEmbedderOpts{
		ProviderType: cfg.Embedding.Provider,
		TargetURL:    cfg.Embedding.Target,
		Model:        cfg.Embedding.Model,
		APIKey:       embedKey,
		Dimensions:   cfg.Embedding.Dimensions,
		Timeout:      cfg.LLM.Timeout.Duration,
		CacheSize:    cfg.Embedding.CacheSize,
	})
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	a.Embedder = emb
	a.closers = append(a.closers, emb.Close)

	target := cfg.VectorStore.Target
	if target == "" && cfg.VectorStore.Provider == "sqlite" {
		target = statePath
	}
	vectorKey, err := a.keys.Resolve(cfg.VectorStore.Provider)
	if err != nil {
		return fmt.Errorf("resolving vector store key: %w", err)
	}
	vectors, err := vectorutils.NewVectorDriver(ctx, &vectorutils.NewVectorDriverOpts{
		ProviderType: cfg.VectorStore.Provider,
		TargetURL:    target,
		Collection:   cfg.VectorStore.Collection,
		Dimensions:   cfg.Embedding.Dimensions,
		APIKey:       vectorKey,
		Logger:       a.logger,
	})
	if err != nil {
		return fmt.Errorf("creating vector store: %w", err)
	}
	a.Vectors = vectors
	a.closers = append(a.closers, vectors.Close)

	publisher, err := eventstreamutils.NewPublisher(&eventstreamutils.NewPublisherOpts{
		ProviderType: cfg.Events.Provider,
		Brokers:      cfg.Events.Brokers,
		Topic:        cfg.Events.Topic,
		Logger:       a.logger,
	})
	if err != nil {
		return fmt.Errorf("creating event publisher: %w", err)
	}
	a.Publisher = publisher
	a.closers = append(a.closers, publisher.Close)

	store, err := memory.NewStore(memory.Config{
		Embedder:   emb,
		Driver:     vectors,
		Dimensions: cfg.Embedding.Dimensions,
		Publisher:  publisher,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("creating memory store: %w", err)
	}
	a.Store = store
	// The store owns the embedder and the vector driver from here on.
	a.closers = []func() error{publisher.Close, store.Close}

	retriever, err := retrieval.NewEngine(retrieval.Config{
		Embedder:         emb,
		Store:            store,
		MinScore:         float32(cfg.Memory.MinScore),
		DedupThreshold:   float32(cfg.Memory.DedupThreshold),
		WeightSimilarity: cfg.Memory.WeightSimilarity,
		WeightRecency:    cfg.Memory.WeightRecency,
		HalfLife:         cfg.Memory.HalfLife.Duration,
		Logger:           a.logger,
	})
	if err != nil {
		return fmt.Errorf("creating retrieval engine: %w", err)
	}
	a.Retriever = retriever

	a.logger.Info("memory ready",
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.String("vector_store", cfg.VectorStore.Provider),
		zap.String("events", cfg.Events.Provider),
	)
	return nil
}

// NewCompleter builds the configured completion client with the key the
// resolver returns for its provider.
func (a *Assistant) NewCompleter(ctx context.Context) (llm.Completer, error) {
	cfg := a.Config.LLM

	apiKey, err := a.keys.Resolve(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("resolving %s key: %w", cfg.Provider, err)
	}

	return provider.NewCompleter(ctx, &provider.NewCompleterOpts{
		Provider: cfg.Provider,
		BaseURL:  cfg.Target,
		Model:    cfg.Model,
		APIKey:   apiKey,
		Timeout:  cfg.Timeout.Duration,
	})
}

// StartWorkers builds the fact extractor and its worker pool over the
// assistant's store. The pool is drained on Close.
func (a *Assistant) StartWorkers(completer llm.Completer) (*worker.Pool, error) {
	extractor, err := extract.New(extract.Config{
		Completer: completer,
		Store:     a.Store,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating fact extractor: %w", err)
	}

	pool, err := worker.NewPool(&worker.Config{
		Extractor:  extractor,
		NumWorkers: a.Config.Worker.NumWorkers,
		QueueSize:  a.Config.Worker.QueueSize,
		Timeout:    a.Config.LLM.Timeout.Duration,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	return pool, nil
}

// OpenIdleStore opens the persisted idle state at path.
func (a *Assistant) OpenIdleStore(path string) (storage.Driver, error) {
	driver, err := sqlite.NewSQLiteDriver(path)
	if err != nil {
		return nil, fmt.Errorf("opening idle state: %w", err)
	}
	a.closers = append(a.closers, driver.Close)
	return driver, nil
}

// Persona loads the configured character, or the built-in one when no path
// is set. The returned watcher is nil for the built-in persona.
func (a *Assistant) Persona() (chat.Persona, *character.Watcher, error) {
	if a.Config.Character.Path == "" {
		return character.Default(), nil, nil
	}

	w, err := character.NewWatcher(a.Config.Character.Path, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("loading character: %w", err)
	}
	return w, w, nil
}

// Policy converts the proactive config section.
func Policy(cfg config.ProactiveConfig) proactive.Policy {
	return proactive.Policy{
		IdleThreshold: cfg.IdleThreshold.Duration,
		MinSpacing:    cfg.MinSpacing.Duration,
		PollInterval:  cfg.PollInterval.Duration,
	}
}

// Allowlist parses the configured users.allowed entries.
func Allowlist(cfg config.UsersConfig) (*platform.Allowlist, error) {
	allow, err := platform.ParseAllowlist(cfg.Allowed)
	if err != nil {
		return nil, fmt.Errorf("parsing users.allowed: %w", err)
	}
	return allow, nil
}

// OrchestratorConfig fills the chat budgets from the config file.
func (a *Assistant) OrchestratorConfig() chat.Config {
	cfg := a.Config
	return chat.Config{
		Memory:        a.Store,
		Retriever:     a.Retriever,
		TurnBudget:    int(cfg.Memory.TurnBudget),    //nolint:gosec // small config value
		FactBudget:    int(cfg.Memory.FactBudget),    //nolint:gosec // small config value
		RecentTurns:   int(cfg.Memory.RecentTurns),   //nolint:gosec // small config value
		ExtractWindow: int(cfg.Memory.ExtractWindow), //nolint:gosec // small config value
		ContextChars:  int(cfg.LLM.ContextChars),     //nolint:gosec // small config value
		MaxTokens:     int(cfg.LLM.MaxTokens),        //nolint:gosec // small config value
		Temperature:   cfg.LLM.Temperature,
		Timeout:       cfg.LLM.Timeout.Duration,
		Tools:         cfg.LLM.Tools,
		Logger:        a.logger,
	}
}

// Close releases every component in reverse order.
func (a *Assistant) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
