package proactive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/pkg/clock"
	"github.com/papercomputeco/chatty/pkg/storage"
)

// Composer writes the text of a check-in for a user.
type Composer interface {
	ComposeProactive(ctx context.Context, state IdleState) (string, error)
}

// ComposerFunc adapts a function to Composer.
type ComposerFunc func(ctx context.Context, state IdleState) (string, error)

func (f ComposerFunc) ComposeProactive(ctx context.Context, state IdleState) (string, error) {
	return f(ctx, state)
}

// Sender delivers a message to a handle on a named platform.
type Sender interface {
	Send(ctx context.Context, platform, handle, text string) error
}

// DeliveredFunc is called after a check-in was delivered.
type DeliveredFunc func(ctx context.Context, state IdleState, text string)

// Config configures a Scheduler.
type Config struct {
	Store    storage.Driver
	Composer Composer
	Sender   Sender
	Policy   Policy

	// Clock defaults to the real clock.
	Clock clock.Clock

	// OnDelivered runs after each successful delivery, for example to store
	// the message as an assistant turn.
	OnDelivered DeliveredFunc

	Logger *zap.Logger
}

type userKey struct {
	userID   string
	platform string
}

type entry struct {
	mu       sync.Mutex
	state    IdleState
	inFlight bool
	removed  bool
}

// Scheduler owns every user's IdleState. RecordActivity is the only path that
// marks a user active, and Tick is the only path that sends check-ins.
type Scheduler struct {
	store       storage.Driver
	composer    Composer
	sender      Sender
	policy      Policy
	clock       clock.Clock
	onDelivered DeliveredFunc
	logger      *zap.Logger

	mu    sync.Mutex
	users map[userKey]*entry
}

// NewScheduler validates the policy and loads persisted state.
func NewScheduler(ctx context.Context, c Config) (*Scheduler, error) {
	if c.Store == nil {
		return nil, errors.New("scheduler requires an idle state store")
	}
	if err := c.Policy.Validate(); err != nil {
		return nil, err
	}

	clk := c.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		store:       c.Store,
		composer:    c.Composer,
		sender:      c.Sender,
		policy:      c.Policy,
		clock:       clk,
		onDelivered: c.OnDelivered,
		logger:      logger,
		users:       make(map[userKey]*entry),
	}

	states, err := c.Store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading idle state: %w", err)
	}
	for _, st := range states {
		s.users[userKey{st.UserID, st.Platform}] = &entry{state: st}
	}

	logger.Debug("proactive scheduler loaded",
		zap.Int("users", len(states)),
		zap.Duration("idle_threshold", c.Policy.IdleThreshold),
		zap.Duration("poll_interval", c.Policy.PollInterval),
	)
	return s, nil
}

func (s *Scheduler) entry(userID, platform string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := userKey{userID, platform}
	e, ok := s.users[k]
	if !ok {
		e = &entry{state: IdleState{UserID: userID, Platform: platform}}
		s.users[k] = e
	}
	return e
}

func (s *Scheduler) snapshot() []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*entry, 0, len(s.users))
	for _, e := range s.users {
		out = append(out, e)
	}
	return out
}

// RecordActivity marks the user active at at, returning them to
// idle_below_threshold, and persists the state. An empty handle keeps the
// previously known one.
func (s *Scheduler) RecordActivity(ctx context.Context, userID, platform, handle string, at time.Time) error {
	if userID == "" {
		return errors.New("record activity requires a user id")
	}
	if at.IsZero() {
		at = s.clock.Now()
	}

	e := s.entry(userID, platform)
	e.mu.Lock()
	defer e.mu.Unlock()

	if at.After(e.state.LastActivityAt) {
		e.state.LastActivityAt = at
	}
	if handle != "" {
		e.state.Handle = handle
	}
	e.removed = false

	if err := s.store.Save(ctx, e.state); err != nil {
		return fmt.Errorf("saving idle state: %w", err)
	}
	return nil
}

// Tick evaluates every user once and sends at most one check-in to each
// eligible user. It returns the number of messages delivered. Failures are
// logged and the user is retried on the next tick.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.clock.Now()
	delivered := 0

	for _, e := range s.snapshot() {
		state, ok := s.claim(e, now)
		if !ok {
			continue
		}
		if s.attempt(ctx, e, state, now) {
			delivered++
		}
	}
	return delivered
}

// claim marks e in flight when it is eligible at now.
func (s *Scheduler) claim(e *entry, now time.Time) (IdleState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inFlight || e.removed || Evaluate(e.state, now, s.policy) != StatusEligible {
		return IdleState{}, false
	}
	e.inFlight = true
	return e.state, true
}

func (s *Scheduler) attempt(ctx context.Context, e *entry, state IdleState, now time.Time) bool {
	defer func() {
		e.mu.Lock()
		e.inFlight = false
		e.mu.Unlock()
	}()

	logger := s.logger.With(
		zap.String("user_id", state.UserID),
		zap.String("platform", state.Platform),
	)

	if s.composer == nil || s.sender == nil {
		logger.Warn("proactive message skipped, no composer or sender configured")
		return false
	}
	if state.Handle == "" {
		logger.Warn("proactive message skipped, no delivery handle known")
		return false
	}

	text, err := s.composer.ComposeProactive(ctx, state)
	if err != nil {
		logger.Error("composing proactive message failed", zap.Error(err))
		return false
	}

	if err := s.sender.Send(ctx, state.Platform, state.Handle, text); err != nil {
		logger.Error("delivering proactive message failed", zap.Error(err))
		return false
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		logger.Debug("user reset while a proactive message was in flight")
		return true
	}
	e.state.LastProactiveAt = now
	if e.state.Handle == "" {
		e.state.Handle = state.Handle
	}
	saved := e.state
	e.mu.Unlock()

	if err := s.store.Save(ctx, saved); err != nil {
		logger.Error("saving idle state after proactive message failed", zap.Error(err))
	}

	logger.Info("proactive message delivered")
	if s.onDelivered != nil {
		s.onDelivered(ctx, saved, text)
	}
	return true
}

// Run ticks every PollInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("proactive scheduler started", zap.Duration("poll_interval", s.policy.PollInterval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("proactive scheduler stopped")
			return nil
		case <-s.clock.After(s.policy.PollInterval):
			if n := s.Tick(ctx); n > 0 {
				s.logger.Debug("proactive tick finished", zap.Int("delivered", n))
			}
		}
	}
}

// Reset forgets the user's idle state on every platform.
func (s *Scheduler) Reset(ctx context.Context, userID string) error {
	s.mu.Lock()
	for k, e := range s.users {
		if k.userID != userID {
			continue
		}
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
		delete(s.users, k)
	}
	s.mu.Unlock()

	if err := s.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("deleting idle state: %w", err)
	}
	return nil
}

// State returns a copy of the user's state and its status at the current
// time. ok is false when the user is unknown.
func (s *Scheduler) State(userID, platform string) (IdleState, Status, bool) {
	s.mu.Lock()
	e, ok := s.users[userKey{userID, platform}]
	s.mu.Unlock()
	if !ok {
		return IdleState{}, "", false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, Evaluate(e.state, s.clock.Now(), s.policy), true
}

// Policy returns the active timing rules.
func (s *Scheduler) Policy() Policy {
	return s.policy
}
