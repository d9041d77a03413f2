package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/papercomputeco/chatty/pkg/llm"
)

// MockCompleter returns queued responses in order, then Default.
type MockCompleter struct {
	mu sync.Mutex

	Responses []string
	Default   string

	// Down makes every call fail with llm.ErrUnavailable.
	Down bool

	Requests []llm.CompletionRequest
}

func NewMockCompleter(responses ...string) *MockCompleter {
	return &MockCompleter{Responses: responses}
}

// SetDown toggles a simulated outage.
func (m *MockCompleter) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Down = down
}

// Queue appends responses returned by subsequent calls.
func (m *MockCompleter) Queue(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, responses...)
}

func (m *MockCompleter) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.Down {
		return "", fmt.Errorf("%w: mock completer is down", llm.ErrUnavailable)
	}
	if len(m.Responses) == 0 {
		return m.Default, nil
	}

	out := m.Responses[0]
	m.Responses = m.Responses[1:]
	return out, nil
}

// Calls returns the number of completion requests received.
func (m *MockCompleter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// LastRequest returns the most recent request.
func (m *MockCompleter) LastRequest() llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return llm.CompletionRequest{}
	}
	return m.Requests[len(m.Requests)-1]
}
