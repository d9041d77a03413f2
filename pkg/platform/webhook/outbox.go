// Package webhook provides an HTTP-polled messenger: inbound messages arrive
// through the API and replies wait in an in-process outbox until fetched.
package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/papercomputeco/chatty/pkg/platform"
)

// Name is the platform name used in allowlists and idle state.
const Name = "webhook"

// DefaultCapacity caps pending messages per handle.
const DefaultCapacity = 100

// Message is a pending outbound message.
type Message struct {
	Handle string    `json:"handle"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// Outbox implements platform.Messenger by queueing messages per handle.
type Outbox struct {
	capacity int

	mu      sync.Mutex
	pending map[string][]Message
	closed  bool
}

// NewOutbox creates an outbox. A capacity of zero or less uses
// DefaultCapacity. When a handle is full the oldest message is dropped.
func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Outbox{
		capacity: capacity,
		pending:  make(map[string][]Message),
	}
}

func (o *Outbox) Platform() string {
	return Name
}

// Send queues text for handle.
func (o *Outbox) Send(_ context.Context, handle, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("%w: outbox closed", platform.ErrDeliveryFailure)
	}

	queue := append(o.pending[handle], Message{Handle: handle, Text: text, SentAt: time.Now().UTC()})
	if len(queue) > o.capacity {
		queue = queue[len(queue)-o.capacity:]
	}
	o.pending[handle] = queue
	return nil
}

// Drain returns and removes every pending message for handle, oldest first.
func (o *Outbox) Drain(handle string) []Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := o.pending[handle]
	delete(o.pending, handle)
	if out == nil {
		out = []Message{}
	}
	return out
}

// Start blocks until ctx is cancelled. Inbound messages reach the
// orchestrator through the HTTP API instead.
func (o *Outbox) Start(ctx context.Context, _ platform.Handler) error {
	<-ctx.Done()
	return nil
}

func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}
