package trigger

import (
	"context"
	"log/slog"
	"time"
)

// DefaultKickstartOffsets are the one-shot runs after startup.
var DefaultKickstartOffsets = []time.Duration{2 * time.Second, 10 * time.Second, 30 * time.Second}

// Kickstart runs once immediately and once at each offset from now, in a
// background goroutine. With no offsets DefaultKickstartOffsets is used.
// The returned channel is closed after the last run or when ctx is done.
func Kickstart(ctx context.Context, run RunFunc, offsets ...time.Duration) <-chan struct{} {
	if len(offsets) == 0 {
		offsets = DefaultKickstartOffsets
	}
	logger := slog.Default().With("component", "trigger.kickstart")
	start := time.Now()
	done := make(chan struct{})

	go func() {
		defer close(done)
		if ctx.Err() != nil {
			return
		}

		logger.Debug("kickstart run", "offset", time.Duration(0), "result", run(ctx))
		for _, off := range offsets {
			if err := sleep(ctx, time.Until(start.Add(off))); err != nil {
				return
			}
			logger.Debug("kickstart run", "offset", off, "result", run(ctx))
		}
	}()
	return done
}
