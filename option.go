package sendlater

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/sendlater/delivery"
	"github.com/rbaliyan/sendlater/trigger"
)

// Options configures a Pipeline.
type Options struct {
	// Clock is shared by the worker and the outbox.
	// Default: time.Now
	Clock func() time.Time

	// Logger for pipeline lifecycle events.
	// Default: slog.Default() with component=sendlater.pipeline
	Logger *slog.Logger

	// WorkerOptions are passed to delivery.NewWorker after the clock.
	WorkerOptions []delivery.Option

	// FastInterval is the FastLoop interval.
	// Default: 5s
	FastInterval time.Duration

	// DurableInterval is the DurableJob interval.
	// Default: 15m
	DurableInterval time.Duration

	// InitialDelay is the DurableJob first-run delay.
	// Default: 10s
	InitialDelay time.Duration

	// StateStore persists the DurableJob schedule.
	// Default: trigger.NewMemoryStateStore()
	StateStore trigger.StateStore

	// Constraint gates DurableJob runs and ConstraintRecheck is how soon an
	// unmet constraint is checked again.
	// Default: trigger.Always, 30s
	Constraint        trigger.Constraint
	ConstraintRecheck time.Duration

	// KickstartOffsets are the one-shot runs after Start. An empty slice
	// disables kickstart.
	// Default: 2s, 10s, 30s
	KickstartOffsets []time.Duration
}

// Option configures a Pipeline.
type Option func(*Options)

// DefaultOptions returns the default pipeline options.
func DefaultOptions() *Options {
	return &Options{
		Clock:             time.Now,
		Logger:            slog.Default().With("component", "sendlater.pipeline"),
		FastInterval:      trigger.DefaultFastInterval,
		DurableInterval:   trigger.DefaultDurableInterval,
		InitialDelay:      trigger.DefaultInitialDelay,
		StateStore:        trigger.NewMemoryStateStore(),
		Constraint:        trigger.Always,
		ConstraintRecheck: trigger.DefaultConstraintRecheck,
		KickstartOffsets:  trigger.DefaultKickstartOffsets,
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Clock = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithWorkerOptions appends delivery worker options.
func WithWorkerOptions(opts ...delivery.Option) Option {
	return func(o *Options) {
		o.WorkerOptions = append(o.WorkerOptions, opts...)
	}
}

// WithFastInterval sets the FastLoop interval.
func WithFastInterval(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.FastInterval = d
		}
	}
}

// WithDurableInterval sets the DurableJob interval.
func WithDurableInterval(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.DurableInterval = d
		}
	}
}

// WithInitialDelay sets the DurableJob first-run delay.
func WithInitialDelay(d time.Duration) Option {
	return func(o *Options) {
		if d >= 0 {
			o.InitialDelay = d
		}
	}
}

// WithStateStore sets where the DurableJob schedule is persisted.
func WithStateStore(s trigger.StateStore) Option {
	return func(o *Options) {
		if s != nil {
			o.StateStore = s
		}
	}
}

// WithConstraint sets the DurableJob run precondition.
func WithConstraint(c trigger.Constraint, recheck time.Duration) Option {
	return func(o *Options) {
		if c != nil {
			o.Constraint = c
		}
		if recheck > 0 {
			o.ConstraintRecheck = recheck
		}
	}
}

// WithKickstartOffsets sets the startup one-shot runs. Passing no offsets
// disables kickstart.
func WithKickstartOffsets(offsets ...time.Duration) Option {
	return func(o *Options) {
		o.KickstartOffsets = offsets
	}
}
