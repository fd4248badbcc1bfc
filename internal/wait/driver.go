package wait

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Probe samples the current status of the resource being waited for
type Probe func(ctx context.Context) (Observation, error)

// Driver runs a probe at a fixed interval until the goal phase, a terminal
// failure, or the timeout.
type Driver struct {
	Clock    clockwork.Clock
	Interval time.Duration
	Timeout  time.Duration
	Log      logrus.FieldLogger
}

// NewDriver returns a driver on the real clock
func NewDriver(interval, timeout time.Duration, log logrus.FieldLogger) Driver {
	return Driver{
		Clock:    clockwork.NewRealClock(),
		Interval: interval,
		Timeout:  timeout,
		Log:      log,
	}
}

// Until polls probe until the resource reaches goal
func (d Driver) Until(ctx context.Context, resource string, goal Phase, probe Probe) (State, error) {
	clock := d.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	start := clock.Now()
	var state State
	for {
		obs, err := probe(ctx)
		if err != nil {
			return state, err
		}
		state, err = PollOnce(resource, goal, state, obs)
		if err != nil {
			return state, err
		}
		if state.Done {
			log.WithFields(logrus.Fields{
				"resource": resource,
				"status":   state.Status,
				"elapsed":  clock.Since(start),
			}).Debug("Wait complete.")
			return state, nil
		}

		elapsed := clock.Since(start)
		if elapsed >= d.Timeout {
			return state, &TimeoutError{
				Resource:   resource,
				Goal:       goal,
				Elapsed:    elapsed,
				Timeout:    d.Timeout,
				LastStatus: state.Status,
			}
		}
		log.WithFields(logrus.Fields{
			"resource": resource,
			"status":   state.Status,
			"poll":     state.Polls,
		}).Debug("Waiting.")

		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-clock.After(d.Interval):
		}
	}
}
