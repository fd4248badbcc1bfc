package aws

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/rustyrazorblade/edl/internal/output"
	"github.com/rustyrazorblade/edl/internal/retry"
)

// ServiceOption customizes a resource service
type ServiceOption func(*service)

// WithLogger sets the structured logger
func WithLogger(log logrus.FieldLogger) ServiceOption {
	return func(s *service) {
		s.log = log
	}
}

// WithPublisher sets the sink for progress messages
func WithPublisher(p output.Publisher) ServiceOption {
	return func(s *service) {
		s.out = p
	}
}

// WithRetryTimer replaces the timer used between retries
func WithRetryTimer(t backoff.Timer) ServiceOption {
	return func(s *service) {
		s.retryOpts = append(s.retryOpts, retry.WithTimer(t))
	}
}

// WithPolicy overrides the retry policy of the service
func WithPolicy(p retry.Policy) ServiceOption {
	return func(s *service) {
		s.policy = p
	}
}

// service holds what every resource wrapper shares: the retry policy for
// its API family, a logger and the progress sink.
type service struct {
	policy    retry.Policy
	log       logrus.FieldLogger
	out       output.Publisher
	retryOpts []retry.Option
}

func newService(s retry.Service, opts []ServiceOption) service {
	svc := service{
		policy: retry.ForService(s),
		log:    logrus.StandardLogger(),
		out:    output.Discard,
	}
	for _, opt := range opts {
		opt(&svc)
	}
	svc.log = svc.log.WithField("service", string(s))
	svc.retryOpts = append(svc.retryOpts, retry.WithLogger(svc.log))
	return svc
}

func (s *service) call(ctx context.Context, op func() error) error {
	return retry.Do(ctx, s.policy, op, s.retryOpts...)
}

func (s *service) publish(format string, args ...interface{}) {
	s.out.Publish(fmt.Sprintf(format, args...))
}

// callWithData runs op under the service's retry policy
func callWithData[T any](ctx context.Context, s *service, op func() (T, error)) (T, error) {
	return retry.DoWithData(ctx, s.policy, op, s.retryOpts...)
}

// callWithPolicy runs op under p instead of the service's own policy
func (s *service) callWithPolicy(ctx context.Context, p retry.Policy, op func() error) error {
	return retry.Do(ctx, p, op, s.retryOpts...)
}
