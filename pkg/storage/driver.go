// Package storage persists the proactive scheduler's per-user idle state so
// that check-in timing survives restarts.
package storage

import (
	"context"
	"time"
)

// IdleState tracks when a user last spoke and when they last received a
// proactive message. A zero time means never.
type IdleState struct {
	UserID   string
	Platform string

	// Handle is where proactive messages are delivered, such as a room or
	// chat id.
	Handle string

	LastActivityAt  time.Time
	LastProactiveAt time.Time
}

// RepliedSinceProactive reports whether the user has spoken since the last
// proactive message. It is true when no proactive message was ever sent.
func (s IdleState) RepliedSinceProactive() bool {
	if s.LastProactiveAt.IsZero() {
		return true
	}
	return s.LastActivityAt.After(s.LastProactiveAt)
}

// Driver defines the interface for persisting idle state.
type Driver interface {
	// Load returns the state for a user on a platform, or NotFoundError.
	Load(ctx context.Context, userID, platform string) (IdleState, error)

	// Save inserts or replaces the state keyed by user and platform.
	Save(ctx context.Context, state IdleState) error

	// Delete removes the user's state on every platform. Deleting an unknown
	// user is not an error.
	Delete(ctx context.Context, userID string) error

	// List returns every stored state ordered by platform then user.
	List(ctx context.Context) ([]IdleState, error)

	// Close closes the store and releases any resources.
	Close() error
}

// ToUnixNano encodes t for an integer column, mapping the zero time to 0.
func ToUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// FromUnixNano reverses ToUnixNano.
func FromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
