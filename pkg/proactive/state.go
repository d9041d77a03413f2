// Package proactive decides when an idle user should receive a check-in and
// delivers it.
package proactive

import (
	"errors"
	"fmt"
	"time"

	"github.com/papercomputeco/chatty/pkg/storage"
)

// IdleState is the per-user timing record the scheduler owns.
type IdleState = storage.IdleState

// Status is the computed scheduler state for a user.
type Status string

const (
	StatusIdleBelowThreshold Status = "idle_below_threshold"
	StatusEligible           Status = "eligible"
	StatusCooldown           Status = "cooldown"
)

const (
	DefaultIdleThreshold = 24 * time.Hour
	DefaultMinSpacing    = 24 * time.Hour
	DefaultPollInterval  = time.Hour
)

// ErrInvalidPolicy is returned for a policy the scheduler cannot run.
var ErrInvalidPolicy = errors.New("invalid proactive policy")

// Policy holds the timing rules.
type Policy struct {
	// IdleThreshold is how long a user must be quiet before a check-in.
	IdleThreshold time.Duration

	// MinSpacing is the minimum time between two proactive messages.
	MinSpacing time.Duration

	// PollInterval is how often Run evaluates every user.
	PollInterval time.Duration
}

// DefaultPolicy returns the 24h threshold, 24h spacing and hourly poll.
func DefaultPolicy() Policy {
	return Policy{
		IdleThreshold: DefaultIdleThreshold,
		MinSpacing:    DefaultMinSpacing,
		PollInterval:  DefaultPollInterval,
	}
}

// Validate checks that every duration is positive and that the poll runs more
// often than the idle threshold.
func (p Policy) Validate() error {
	if p.IdleThreshold <= 0 || p.MinSpacing < 0 || p.PollInterval <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalidPolicy)
	}
	if p.PollInterval >= p.IdleThreshold {
		return fmt.Errorf("%w: poll interval %s must be shorter than idle threshold %s",
			ErrInvalidPolicy, p.PollInterval, p.IdleThreshold)
	}
	return nil
}

// Evaluate computes the status of state at now.
//
// A user is in cooldown after a proactive message until they reply. Any reply
// returns them to idle_below_threshold. They become eligible once the quiet
// period since the later of their last message and the last check-in exceeds
// IdleThreshold and at least MinSpacing has passed since the last check-in.
// A user who never spoke is never eligible.
func Evaluate(state IdleState, now time.Time, p Policy) Status {
	if !state.LastProactiveAt.IsZero() && !state.RepliedSinceProactive() {
		return StatusCooldown
	}

	if state.LastActivityAt.IsZero() {
		return StatusIdleBelowThreshold
	}

	last := state.LastActivityAt
	if state.LastProactiveAt.After(last) {
		last = state.LastProactiveAt
	}
	if now.Sub(last) <= p.IdleThreshold {
		return StatusIdleBelowThreshold
	}
	if !state.LastProactiveAt.IsZero() && now.Sub(state.LastProactiveAt) < p.MinSpacing {
		return StatusIdleBelowThreshold
	}
	return StatusEligible
}
