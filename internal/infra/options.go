// Package infra builds and tears down the network a lab runs in, and drives
// the longer lived EMR, OpenSearch and image lifecycles on top of the
// resource services.
package infra

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/rustyrazorblade/edl/internal/output"
	"github.com/rustyrazorblade/edl/internal/wait"
)

// Settings holds the poll intervals and deadlines of every wait
type Settings struct {
	PollInterval    time.Duration
	InstanceTimeout time.Duration
	NatTimeout      time.Duration

	EMRPollInterval time.Duration
	EMRTimeout      time.Duration

	SearchPollInterval time.Duration
	SearchTimeout      time.Duration

	ImagePollInterval time.Duration
	ImageTimeout      time.Duration
}

// DefaultSettings returns the stock intervals and deadlines
func DefaultSettings() Settings {
	return Settings{
		PollInterval:       5 * time.Second,
		InstanceTimeout:    10 * time.Minute,
		NatTimeout:         10 * time.Minute,
		EMRPollInterval:    15 * time.Second,
		EMRTimeout:         30 * time.Minute,
		SearchPollInterval: 30 * time.Second,
		SearchTimeout:      45 * time.Minute,
		ImagePollInterval:  15 * time.Second,
		ImageTimeout:       30 * time.Minute,
	}
}

// Option customizes the reconciler, the teardown and the lifecycles
type Option func(*options)

type options struct {
	log      logrus.FieldLogger
	out      output.Publisher
	clock    clockwork.Clock
	settings Settings
}

// WithLogger sets the structured logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithPublisher sets the sink for progress messages
func WithPublisher(p output.Publisher) Option {
	return func(o *options) {
		o.out = p
	}
}

// WithClock replaces the clock the waits run on
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithSettings replaces the poll intervals and deadlines
func WithSettings(s Settings) Option {
	return func(o *options) {
		o.settings = s
	}
}

func newOptions(opts []Option) options {
	o := options{
		log:      logrus.StandardLogger(),
		out:      output.Discard,
		clock:    clockwork.NewRealClock(),
		settings: DefaultSettings(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) driver(interval, timeout time.Duration) wait.Driver {
	return wait.Driver{Clock: o.clock, Interval: interval, Timeout: timeout, Log: o.log}
}
