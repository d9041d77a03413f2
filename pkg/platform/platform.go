// Package platform is the boundary between chat transports and the
// conversation orchestrator.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrDeliveryFailure wraps any error sending a message to a user.
var ErrDeliveryFailure = errors.New("delivery failure")

// Inbound is a message received from a user.
type Inbound struct {
	Platform string
	UserID   string

	// Handle identifies where replies go, such as a room or chat id.
	Handle string

	// UserName is a display name, if the transport provides one.
	UserName string

	Text       string
	ReceivedAt time.Time
}

// Handler processes an inbound message.
type Handler func(ctx context.Context, msg Inbound)

// Messenger is a chat transport.
type Messenger interface {
	// Platform is the name used in allowlists and idle state.
	Platform() string

	// Send delivers text to handle. Errors wrap ErrDeliveryFailure.
	Send(ctx context.Context, handle, text string) error

	// Start feeds inbound messages to handler and blocks until ctx is
	// cancelled or the transport ends.
	Start(ctx context.Context, handler Handler) error

	Close() error
}

// Registry maps platform names to messengers.
type Registry struct {
	mu         sync.RWMutex
	messengers map[string]Messenger
}

func NewRegistry(messengers ...Messenger) *Registry {
	r := &Registry{messengers: make(map[string]Messenger)}
	for _, m := range messengers {
		r.Register(m)
	}
	return r
}

// Register adds m, replacing any messenger with the same platform name.
func (r *Registry) Register(m Messenger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messengers[m.Platform()] = m
}

func (r *Registry) Get(platform string) (Messenger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messengers[platform]
	return m, ok
}

// All returns every messenger ordered by platform name.
func (r *Registry) All() []Messenger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Messenger, 0, len(r.messengers))
	for _, m := range r.messengers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform() < out[j].Platform() })
	return out
}

// Send delivers text through the messenger registered for platform.
func (r *Registry) Send(ctx context.Context, platform, handle, text string) error {
	m, ok := r.Get(platform)
	if !ok {
		return fmt.Errorf("%w: no messenger registered for %q", ErrDeliveryFailure, platform)
	}

	if err := m.Send(ctx, handle, text); err != nil {
		if errors.Is(err, ErrDeliveryFailure) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ErrDeliveryFailure, platform, err)
	}
	return nil
}

// Close closes every messenger.
func (r *Registry) Close() error {
	var errs []error
	for _, m := range r.All() {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", m.Platform(), err))
		}
	}
	return errors.Join(errs...)
}
