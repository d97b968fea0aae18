package trigger

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// DefaultFastInterval is the FastLoop interval when none is set.
const DefaultFastInterval = 5 * time.Second

// FastLoop runs the delivery function repeatedly while the process is alive.
//
// The wait between runs is measured from the end of the previous run, so a
// slow run never overlaps the next one. A rate limiter with one token per
// interval gates every invocation: a Kick that arrives sooner than one
// interval after the last run started is dropped.
//
// Example:
//
//	loop := trigger.NewFastLoop(worker.Run).
//	    WithInterval(2 * time.Second)
//	go loop.Start(ctx)
//
//	// after scheduling something due now
//	loop.Kick()
type FastLoop struct {
	run      RunFunc
	interval time.Duration
	limiter  *rate.Limiter
	kick     chan struct{}
	logger   *slog.Logger

	runs      atomic.Int64
	debounced atomic.Int64
}

// NewFastLoop creates a loop with the default 5s interval.
func NewFastLoop(run RunFunc) *FastLoop {
	l := &FastLoop{
		run:    run,
		kick:   make(chan struct{}, 1),
		logger: slog.Default().With("component", "trigger.fastloop"),
	}
	return l.WithInterval(DefaultFastInterval)
}

// WithInterval sets the wait between runs and the debounce window.
// Call before Start.
func (l *FastLoop) WithInterval(d time.Duration) *FastLoop {
	if d <= 0 {
		d = DefaultFastInterval
	}
	l.interval = d
	l.limiter = rate.NewLimiter(rate.Every(d), 1)
	return l
}

// WithLogger sets a custom logger.
func (l *FastLoop) WithLogger(logger *slog.Logger) *FastLoop {
	l.logger = logger
	return l
}

// Interval returns the configured interval.
func (l *FastLoop) Interval() time.Duration {
	return l.interval
}

// Kick requests an early run. It never blocks; repeated kicks before the
// loop wakes up collapse into one.
func (l *FastLoop) Kick() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// Runs returns how many times the run function was invoked.
func (l *FastLoop) Runs() int64 {
	return l.runs.Load()
}

// Debounced returns how many invocations the rate gate dropped.
func (l *FastLoop) Debounced() int64 {
	return l.debounced.Load()
}

// Start runs immediately and then every interval until ctx is done.
// It returns ctx.Err().
func (l *FastLoop) Start(ctx context.Context) error {
	l.logger.Info("fast loop started", "interval", l.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("fast loop stopped")
			return ctx.Err()
		case <-timer.C:
			l.fire(ctx)
			timer.Reset(l.interval)
		case <-l.kick:
			if l.fire(ctx) {
				timer.Stop()
				timer.Reset(l.interval)
			}
		}
	}
}

// fire invokes the run function if the rate gate allows it.
func (l *FastLoop) fire(ctx context.Context) bool {
	if !l.limiter.Allow() {
		l.debounced.Add(1)
		l.logger.Debug("run debounced")
		return false
	}

	l.runs.Add(1)
	result := l.run(ctx)
	l.logger.Debug("fast run finished", "result", result)
	return true
}
