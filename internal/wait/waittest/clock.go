// Package waittest provides a clock that advances itself whenever the code
// under test waits on it, so poll loops run instantly in tests.
package waittest

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// StepClock is a fake clock whose After advances time by the requested
// duration and fires immediately.
type StepClock struct {
	clockwork.FakeClock
	Waits []time.Duration
}

// NewStepClock returns a StepClock starting at a fixed instant
func NewStepClock() *StepClock {
	return &StepClock{
		FakeClock: clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
}

// After advances the clock by d and returns an already fired channel
func (c *StepClock) After(d time.Duration) <-chan time.Time {
	c.Waits = append(c.Waits, d)
	c.FakeClock.Advance(d)
	ch := make(chan time.Time, 1)
	ch <- c.FakeClock.Now()
	return ch
}

// Sleep advances the clock by d without blocking
func (c *StepClock) Sleep(d time.Duration) {
	c.Waits = append(c.Waits, d)
	c.FakeClock.Advance(d)
}
