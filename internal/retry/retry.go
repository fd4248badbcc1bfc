package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Option customizes a single Do call
type Option func(*options)

type options struct {
	timer backoff.Timer
	log   logrus.FieldLogger
}

// WithTimer replaces the wall-clock timer used between attempts
func WithTimer(t backoff.Timer) Option {
	return func(o *options) {
		o.timer = t
	}
}

// WithLogger logs every retry on log
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) {
		o.log = log
	}
}

// policyBackOff adapts a Policy to backoff.BackOff
type policyBackOff struct {
	policy  Policy
	attempt int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.attempt >= b.policy.MaxAttempts {
		return backoff.Stop
	}
	return b.policy.Backoff(b.attempt)
}

func (b *policyBackOff) Reset() {
	b.attempt = 0
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// policy runs out of attempts. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, op func() error, opts ...Option) error {
	o := options{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		o.log.WithFields(logrus.Fields{
			"policy":  p.Name,
			"attempt": attempt,
			"delay":   delay,
		}).WithError(err).Debug("Retrying.")
	}

	b := backoff.WithContext(&policyBackOff{policy: p}, ctx)
	return backoff.RetryNotifyWithTimer(operation, b, notify, o.timer)
}

// DoWithData is Do for operations that return a value
func DoWithData[T any](ctx context.Context, p Policy, op func() (T, error), opts ...Option) (T, error) {
	var result T
	err := Do(ctx, p, func() error {
		var err error
		result, err = op()
		return err
	}, opts...)
	return result, err
}
