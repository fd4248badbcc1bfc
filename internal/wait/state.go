// Package wait implements the poll-until-terminal loops used for
// asynchronous AWS operations. The transition logic (PollOnce) is pure;
// Driver owns timing and sleeps between polls.
package wait

import (
	"fmt"
	"time"

	"github.com/rustyrazorblade/edl/pkg/provider"
)

// Phase is the normalized lifecycle phase of a polled resource
type Phase int

const (
	PhaseStarting Phase = iota
	PhaseReady
	PhaseTerminating
	PhaseFailed
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseReady:
		return "ready"
	case PhaseTerminating:
		return "terminating"
	case PhaseFailed:
		return "failed"
	case PhaseTerminated:
		return "terminated"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Terminal reports whether a resource can no longer leave this phase
// on its own.
func (p Phase) Terminal() bool {
	return p == PhaseFailed || p == PhaseTerminated
}

// Observation is one raw status sample of a resource
type Observation struct {
	Phase  Phase
	Status string // provider specific status string
	Reason string
}

// State is what the driver knows after a number of polls
type State struct {
	Phase  Phase
	Status string
	Polls  int
	Done   bool
}

// StateError is returned when a resource settles in a terminal phase
// other than the one being waited for.
type StateError struct {
	Resource string
	Goal     Phase
	Status   string
	Reason   string
}

func (e *StateError) Error() string {
	msg := fmt.Sprintf("%s reached terminal state %s while waiting for %s", e.Resource, e.Status, e.Goal)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// TimeoutError is returned when the deadline elapses before the goal phase
type TimeoutError struct {
	Resource   string
	Goal       Phase
	Elapsed    time.Duration
	Timeout    time.Duration
	LastStatus string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s to become %s: elapsed %s (timeout %s), last status %q",
		e.Resource, e.Goal, e.Elapsed.Round(time.Second), e.Timeout, e.LastStatus)
}

// Is makes errors.Is(err, provider.ErrTimeout) hold
func (e *TimeoutError) Is(target error) bool {
	return target == provider.ErrTimeout
}

// PollOnce folds one observation into the previous state. It never
// sleeps and never looks at the clock.
func PollOnce(resource string, goal Phase, prev State, obs Observation) (State, error) {
	next := State{
		Phase:  obs.Phase,
		Status: obs.Status,
		Polls:  prev.Polls + 1,
	}
	if obs.Phase == goal {
		next.Done = true
		return next, nil
	}
	if obs.Phase.Terminal() {
		return next, &StateError{Resource: resource, Goal: goal, Status: obs.Status, Reason: obs.Reason}
	}
	return next, nil
}
