package testutils

import (
	"github.com/papercomputeco/chatty/pkg/clock"
	"github.com/papercomputeco/chatty/pkg/memory"
	"github.com/papercomputeco/chatty/pkg/retrieval"
)

// MemoryStack is a real memory store and retrieval engine running over the
// mock embedder and vector driver.
type MemoryStack struct {
	Embedder *MockEmbedder
	Driver   *MockVectorDriver
	Store    *memory.Store
	Engine   *retrieval.Engine
}

// NewMemoryStack wires a MemoryStack on clk.
func NewMemoryStack(clk clock.Clock) (*MemoryStack, error) {
	embedder := NewMockEmbedder()
	driver := NewMockVectorDriver()

	store, err := memory.NewStore(memory.Config{Embedder: embedder, Driver: driver, Clock: clk})
	if err != nil {
		return nil, err
	}

	engine, err := retrieval.NewEngine(retrieval.Config{Embedder: embedder, Store: store, Clock: clk})
	if err != nil {
		return nil, err
	}

	return &MemoryStack{Embedder: embedder, Driver: driver, Store: store, Engine: engine}, nil
}
