// Package embeddingutils is the embeddings utility package
package embeddingutils

import (
	"context"
	"fmt"
	"time"

	"github.com/papercomputeco/chatty/pkg/embeddings"
	"github.com/papercomputeco/chatty/pkg/embeddings/cached"
	"github.com/papercomputeco/chatty/pkg/embeddings/gemini"
	"github.com/papercomputeco/chatty/pkg/embeddings/ollama"
)

type NewEmbedderOpts struct {
	ProviderType string
	TargetURL    string
	Model        string
	APIKey       string
	Dimensions   uint
	Timeout      time.Duration

	// CacheSize wraps the embedder in a cache of that many vectors. Zero disables caching.
	CacheSize uint
}

func NewEmbedder(ctx context.Context, o *NewEmbedderOpts) (embeddings.Embedder, error) {
	var (
		emb embeddings.Embedder
		err error
	)

	switch o.ProviderType {
	case "ollama":
		emb, err = ollama.NewEmbedder(ollama.EmbedderConfig{
			BaseURL: o.TargetURL,
			Model:   o.Model,
			Timeout: o.Timeout,
		})
	case "gemini":
		emb, err = gemini.NewEmbedder(ctx, gemini.EmbedderConfig{
			APIKey:     o.APIKey,
			Model:      o.Model,
			Dimensions: o.Dimensions,
			Timeout:    o.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", o.ProviderType)
	}
	if err != nil {
		return nil, err
	}

	if o.CacheSize == 0 {
		return emb, nil
	}

	return cached.New(emb, cached.Config{
		Model: o.ProviderType + "/" + o.Model,
		Size:  int64(o.CacheSize), //nolint:gosec // cache size is a small config value
	})
}
