package trigger

import "time"

// Clock abstracts wall-clock time so the supervisor can be driven by a
// simulated clock in tests instead of real waits.
type Clock interface {
	Now() time.Time
	// After behaves like time.After.
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns the real wall clock.
func SystemClock() Clock { return systemClock{} }
