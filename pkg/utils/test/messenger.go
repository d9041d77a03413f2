package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/papercomputeco/chatty/pkg/platform"
)

// SentMessage is a message captured by MockMessenger.
type SentMessage struct {
	Handle string
	Text   string
}

// MockMessenger records sends and can simulate delivery failures.
type MockMessenger struct {
	mu sync.Mutex

	Name string
	Sent []SentMessage

	// FailSends is the number of upcoming sends that fail.
	FailSends int

	Attempts int
	Closed   bool
}

func NewMockMessenger(name string) *MockMessenger {
	return &MockMessenger{Name: name}
}

func (m *MockMessenger) Platform() string {
	return m.Name
}

func (m *MockMessenger) Send(_ context.Context, handle, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Attempts++
	if m.FailSends > 0 {
		m.FailSends--
		return fmt.Errorf("%w: mock send failed", platform.ErrDeliveryFailure)
	}
	m.Sent = append(m.Sent, SentMessage{Handle: handle, Text: text})
	return nil
}

// Start blocks until ctx is cancelled.
func (m *MockMessenger) Start(ctx context.Context, _ platform.Handler) error {
	<-ctx.Done()
	return nil
}

func (m *MockMessenger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// SetFailSends makes the next n sends fail.
func (m *MockMessenger) SetFailSends(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailSends = n
}

// Messages returns a copy of the sent messages.
func (m *MockMessenger) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}

// Texts returns the text of each sent message.
func (m *MockMessenger) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Sent))
	for _, s := range m.Sent {
		out = append(out, s.Text)
	}
	return out
}
