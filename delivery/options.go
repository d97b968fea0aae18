package delivery

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/sendlater/deadletter"
	"github.com/rbaliyan/sendlater/guard"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Options configures a Worker.
//
// Use the With* functions to configure options:
//
//	worker := delivery.NewWorker(store, resolver, sender,
//	    delivery.WithGuard(guard.NewRedis(rdb, time.Minute)),
//	    delivery.WithDeadLetter(dl, 50),
//	)
type Options struct {
	// Clock returns the current time. Used for the pending cutoff and for the
	// timestamp of delivered messages.
	// Default: time.Now
	Clock func() time.Time

	// Logger receives per-run and per-message logs.
	// Default: slog.Default() with component=delivery.worker
	Logger *slog.Logger

	// Guard suppresses concurrent delivery of the same id.
	// Default: guard.NewMemory()
	Guard guard.Guard

	// DeadLetter receives messages that failed MaxAttempts consecutive
	// times. Nil disables dead-lettering and failing messages are retried
	// on every run.
	// Default: nil
	DeadLetter deadletter.Store

	// MaxAttempts is the dead-letter threshold. Ignored when DeadLetter is
	// nil or MaxAttempts <= 0.
	MaxAttempts int

	// Attempts counts consecutive failures for the dead-letter threshold.
	// Default: NewMemoryAttempts()
	Attempts AttemptCounter

	// MeterProvider creates the worker's instruments.
	// Default: otel.GetMeterProvider()
	MeterProvider metric.MeterProvider

	// TracerProvider creates the worker's spans.
	// Default: otel.GetTracerProvider()
	TracerProvider trace.TracerProvider
}

// Option configures a Worker.
type Option func(*Options)

// DefaultOptions returns the default worker options.
func DefaultOptions() *Options {
	return &Options{
		Clock:          time.Now,
		Logger:         slog.Default().With("component", "delivery.worker"),
		Guard:          guard.NewMemory(),
		Attempts:       NewMemoryAttempts(),
		MeterProvider:  otel.GetMeterProvider(),
		TracerProvider: otel.GetTracerProvider(),
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

// WithGuard sets the processing guard.
func WithGuard(g guard.Guard) Option {
	return func(o *Options) {
		if g != nil {
			o.Guard = g
		}
	}
}

// WithDeadLetter enables dead-lettering after maxAttempts consecutive
// failures of the same message.
func WithDeadLetter(store deadletter.Store, maxAttempts int) Option {
	return func(o *Options) {
		o.DeadLetter = store
		o.MaxAttempts = maxAttempts
	}
}

// WithAttemptCounter sets where failure counts are kept.
func WithAttemptCounter(c AttemptCounter) Option {
	return func(o *Options) {
		if c != nil {
			o.Attempts = c
		}
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *Options) {
		if mp != nil {
			o.MeterProvider = mp
		}
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		if tp != nil {
			o.TracerProvider = tp
		}
	}
}
