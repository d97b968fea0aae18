package trigger

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rbaliyan/sendlater/delivery"
)

// DurableJob defaults.
const (
	DefaultDurableInterval   = 15 * time.Minute
	DefaultInitialDelay      = 10 * time.Second
	DefaultConstraintRecheck = 30 * time.Second
	DefaultBackoffInitial    = 30 * time.Second
	DefaultBackoffMax        = 10 * time.Minute
)

// DurableJob is the coarse periodic backstop.
//
// Its next run time and consecutive retry count live in a StateStore, so a
// schedule survives the process: on Start the job reloads the state and runs
// at the persisted time, immediately if that time has passed.
//
// Before each run the Constraint is checked. An unmet constraint postpones
// the run by the recheck interval without counting as an attempt. A run
// returning delivery.Retry schedules the next one with exponential backoff
// (30s, 1m, 2m ... capped at 10m); Success resets the count and schedules
// one interval later.
type DurableJob struct {
	name       string
	run        RunFunc
	state      StateStore
	constraint Constraint

	interval       time.Duration
	initialDelay   time.Duration
	recheck        time.Duration
	backoffInitial time.Duration
	backoffMax     time.Duration

	clock  func() time.Time
	logger *slog.Logger
}

// NewDurableJob creates a job. The name keys its persisted state.
func NewDurableJob(name string, run RunFunc, state StateStore) *DurableJob {
	if state == nil {
		state = NewMemoryStateStore()
	}
	return &DurableJob{
		name:           name,
		run:            run,
		state:          state,
		constraint:     Always,
		interval:       DefaultDurableInterval,
		initialDelay:   DefaultInitialDelay,
		recheck:        DefaultConstraintRecheck,
		backoffInitial: DefaultBackoffInitial,
		backoffMax:     DefaultBackoffMax,
		clock:          time.Now,
		logger:         slog.Default().With("component", "trigger.durable", "job", name),
	}
}

// WithInterval sets the period between successful runs.
func (j *DurableJob) WithInterval(d time.Duration) *DurableJob {
	j.interval = d
	return j
}

// WithInitialDelay sets the delay before the first run of a job that has no
// persisted state.
func (j *DurableJob) WithInitialDelay(d time.Duration) *DurableJob {
	j.initialDelay = d
	return j
}

// WithConstraint sets the run precondition and how soon an unmet one is
// checked again.
func (j *DurableJob) WithConstraint(c Constraint, recheck time.Duration) *DurableJob {
	if c != nil {
		j.constraint = c
	}
	if recheck > 0 {
		j.recheck = recheck
	}
	return j
}

// WithBackoff sets the retry backoff bounds.
func (j *DurableJob) WithBackoff(initial, max time.Duration) *DurableJob {
	j.backoffInitial = initial
	j.backoffMax = max
	return j
}

// WithClock sets the time source.
func (j *DurableJob) WithClock(now func() time.Time) *DurableJob {
	j.clock = now
	return j
}

// WithLogger sets a custom logger.
func (j *DurableJob) WithLogger(l *slog.Logger) *DurableJob {
	j.logger = l
	return j
}

// Start reloads the persisted schedule and runs the job until ctx is done.
// It returns ctx.Err().
func (j *DurableJob) Start(ctx context.Context) error {
	st := j.load(ctx)
	if st.NextRun.IsZero() {
		st.NextRun = j.clock().Add(j.initialDelay)
		j.save(ctx, st)
	}
	j.logger.Info("durable job armed",
		"next_run", st.NextRun,
		"attempts", st.Attempts)

	for {
		if err := sleep(ctx, st.NextRun.Sub(j.clock())); err != nil {
			j.logger.Info("durable job stopped")
			return err
		}
		st = j.step(ctx, st)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		j.save(ctx, st)
	}
}

// step performs one wake-up and returns the next state.
func (j *DurableJob) step(ctx context.Context, st State) State {
	if err := j.constraint.Check(ctx); err != nil {
		j.logger.Info("constraint not met, rechecking later",
			"error", err,
			"recheck", j.recheck)
		st.NextRun = j.clock().Add(j.recheck)
		return st
	}

	result := j.run(ctx)
	now := j.clock()

	if result == delivery.Retry {
		st.Attempts++
		delay := j.backoffDelay(st.Attempts)
		st.NextRun = now.Add(delay)
		j.logger.Warn("durable run asked for retry",
			"attempts", st.Attempts,
			"delay", delay)
		return st
	}

	st.Attempts = 0
	st.NextRun = now.Add(j.interval)
	return st
}

// backoffDelay returns the wait before retry number attempts (1-based).
func (j *DurableJob) backoffDelay(attempts int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     j.backoffInitial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         j.backoffMax,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (j *DurableJob) load(ctx context.Context) State {
	st, err := j.state.Load(ctx, j.name)
	if err != nil {
		j.logger.Warn("failed to load job state, starting fresh", "error", err)
		return State{}
	}
	return st
}

func (j *DurableJob) save(ctx context.Context, st State) {
	if err := j.state.Save(ctx, j.name, st); err != nil {
		j.logger.Warn("failed to persist job state", "error", err)
	}
}
