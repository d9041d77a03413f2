package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/papercomputeco/chatty/pkg/storage"
)

type key struct {
	userID   string
	platform string
}

// Driver implements storage.Driver using an in-memory map.
type Driver struct {
	// mu is a read write sync mutex for locking the mapping of states
	mu sync.RWMutex

	states map[key]storage.IdleState
}

// NewDriver creates a new in-memory idle state store.
func NewDriver() *Driver {
	return &Driver{
		states: make(map[key]storage.IdleState),
	}
}

func (s *Driver) Load(_ context.Context, userID, platform string) (storage.IdleState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[key{userID, platform}]
	if !ok {
		return storage.IdleState{}, storage.NotFoundError{UserID: userID, Platform: platform}
	}
	return state, nil
}

func (s *Driver) Save(_ context.Context, state storage.IdleState) error {
	if state.UserID == "" {
		return errors.New("cannot store idle state without a user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key{state.UserID, state.Platform}] = state
	return nil
}

func (s *Driver) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.states {
		if k.userID == userID {
			delete(s.states, k)
		}
	}
	return nil
}

func (s *Driver) List(_ context.Context) ([]storage.IdleState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.IdleState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *Driver) Close() error {
	return nil
}
