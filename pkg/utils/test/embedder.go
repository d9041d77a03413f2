package testutils

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/papercomputeco/chatty/pkg/embeddings"
)

// MockEmbedder is a test embedder that returns predictable embeddings.
// Texts without an explicit entry get a deterministic hash-derived vector.
type MockEmbedder struct {
	mu sync.Mutex

	Embeddings map[string][]float32

	// Dims is the size of generated vectors. Defaults to 3.
	Dims int

	// FailOn causes Embed to return an error when the input text matches
	FailOn string

	// Down makes every call fail with embeddings.ErrUnavailable.
	Down bool

	Calls int
}

func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{
		Embeddings: make(map[string][]float32),
		Dims:       3,
	}
}

// Set registers the vector returned for text.
func (m *MockEmbedder) Set(text string, vec []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Embeddings[text] = vec
}

// SetDown toggles a simulated outage.
func (m *MockEmbedder) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Down = down
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embed(text)
}

func (m *MockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		vec, err := m.embed(t)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (m *MockEmbedder) embed(text string) ([]float32, error) {
	m.Calls++

	if m.Down {
		return nil, fmt.Errorf("%w: mock outage", embeddings.ErrUnavailable)
	}
	if m.FailOn != "" && text == m.FailOn {
		return nil, fmt.Errorf("%w: mock embedding failure for: %s", embeddings.ErrUnavailable, text)
	}

	if emb, ok := m.Embeddings[text]; ok {
		out := make([]float32, len(emb))
		copy(out, emb)
		return out, nil
	}

	return HashVector(text, m.Dims), nil
}

func (m *MockEmbedder) Close() error {
	return nil
}

// HashVector derives a stable non-zero vector of the given size from text.
func HashVector(text string, dims int) []float32 {
	if dims <= 0 {
		dims = 3
	}

	vec := make([]float32, dims)
	for i := range vec {
		h := fnv.New32a()
		_, _ = h.Write([]byte{byte(i)})
		_, _ = h.Write([]byte(text))
		vec[i] = float32(h.Sum32()%1000+1) / 1000
	}
	return vec
}

var _ embeddings.Embedder = (*MockEmbedder)(nil)
