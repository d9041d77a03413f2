// Package cached decorates an embeddings.Embedder with an in-process
// ristretto cache keyed by model and text.
package cached

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/papercomputeco/chatty/pkg/embeddings"
)

// DefaultSize is the number of vectors kept when Config.Size is zero.
const DefaultSize = 4096

type Config struct {
	// Model namespaces cache keys so switching models never serves stale vectors.
	Model string

	// Size is the maximum number of cached vectors.
	Size int64
}

// Embedder serves repeated texts from cache and forwards misses to the
// wrapped embedder.
type Embedder struct {
	next  embeddings.Embedder
	model string
	cache *ristretto.Cache
}

func New(next embeddings.Embedder, cfg Config) (*Embedder, error) {
	size := cfg.Size
	if size <= 0 {
		size = DefaultSize
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,

		// Cost is counted in vectors, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}

	return &Embedder{
		next:  next,
		model: cfg.Model,
		cache: cache,
	}, nil
}

func (e *Embedder) key(text string) string {
	return e.model + "\x00" + text
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(e.key(text)); ok {
		return clone(v.([]float32)), nil
	}

	vec, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.cache.Set(e.key(text), clone(vec), 1)
	return vec, nil
}

// EmbedBatch only forwards the texts that missed the cache, in a single call.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var (
		missTexts []string
		missIdx   []int
	)
	for i, t := range texts {
		if v, ok := e.cache.Get(e.key(t)); ok {
			out[i] = clone(v.([]float32))
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := e.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", embeddings.ErrUnavailable, len(missTexts), len(vecs))
	}

	for j, vec := range vecs {
		out[missIdx[j]] = vec
		e.cache.Set(e.key(missTexts[j]), clone(vec), 1)
	}

	return out, nil
}

// Wait blocks until pending cache writes are visible to Get.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

func (e *Embedder) Close() error {
	e.cache.Close()
	return e.next.Close()
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

var _ embeddings.Embedder = (*Embedder)(nil)
