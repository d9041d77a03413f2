// Package clock abstracts time.Now and time.After so the proactive scheduler
// and the retrieval engine can be driven by a fake clock in tests.
package clock

import "time"

// Clock is the subset of the time package the memory engine depends on.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real delegates to the standard library.
type Real struct{}

func (Real) Now() time.Time                         { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
