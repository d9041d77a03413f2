package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/papercomputeco/chatty/pkg/vector"
	"github.com/papercomputeco/chatty/pkg/vector/inmemory"
)

// MockVectorDriver is an in-memory vector driver that can be switched off to
// simulate an unreachable store.
type MockVectorDriver struct {
	*inmemory.Driver

	mu   sync.Mutex
	down bool

	// Adds counts documents passed to Add and Replace.
	Adds int
}

func NewMockVectorDriver() *MockVectorDriver {
	return &MockVectorDriver{Driver: inmemory.NewDriver()}
}

// SetDown makes every call fail with vector.ErrConnection while down is true.
func (m *MockVectorDriver) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

func (m *MockVectorDriver) check() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return fmt.Errorf("%w: mock store is down", vector.ErrConnection)
	}
	return nil
}

func (m *MockVectorDriver) Add(ctx context.Context, docs []vector.Document) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	m.Adds += len(docs)
	m.mu.Unlock()
	return m.Driver.Add(ctx, docs)
}

func (m *MockVectorDriver) Replace(ctx context.Context, filter vector.Filter, doc vector.Document) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	m.Adds++
	m.mu.Unlock()
	return m.Driver.Replace(ctx, filter, doc)
}

func (m *MockVectorDriver) Query(ctx context.Context, q vector.Query) ([]vector.QueryResult, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	return m.Driver.Query(ctx, q)
}

func (m *MockVectorDriver) List(ctx context.Context, filter vector.Filter, limit int) ([]vector.Document, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	return m.Driver.List(ctx, filter, limit)
}

func (m *MockVectorDriver) Delete(ctx context.Context, filter vector.Filter) error {
	if err := m.check(); err != nil {
		return err
	}
	return m.Driver.Delete(ctx, filter)
}
