// Package embeddings defines the embedding client boundary used by the memory store
// and the retrieval engine.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrUnavailable is returned when the embedding service cannot produce a
// usable vector: it is unreachable, timed out, or returned a malformed result.
var ErrUnavailable = errors.New("embedding unavailable")

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts every text into a vector, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Close releases any resources held by the embedder.
	Close() error
}

// Validate checks that vec is usable for cosine search: it must have the
// expected dimensionality (when dims > 0) and a non-zero norm.
func Validate(vec []float32, dims int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrUnavailable)
	}
	if dims > 0 && len(vec) != dims {
		return fmt.Errorf("%w: expected %d dimensions, got %d", ErrUnavailable, dims, len(vec))
	}

	var norm float64
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: vector contains non-finite values", ErrUnavailable)
		}
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return fmt.Errorf("%w: zero vector", ErrUnavailable)
	}

	return nil
}
