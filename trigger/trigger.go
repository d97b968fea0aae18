// Package trigger schedules delivery runs.
//
// Two independent cadences invoke the same run function:
//   - FastLoop: a short in-process loop for prompt delivery while the
//     process is alive.
//   - DurableJob: a coarse periodic job whose schedule is persisted in a
//     StateStore, honours a connectivity Constraint and backs off
//     exponentially when a run asks for a retry.
//
// Kickstart adds a handful of one-shot runs right after startup so messages
// that came due while the process was down go out quickly.
//
// # Basic Usage
//
//	worker := delivery.NewWorker(store, resolver, sender)
//
//	fast := trigger.NewFastLoop(worker.Run)
//	durable := trigger.NewDurableJob("delivery", worker.Run, trigger.NewRedisStateStore(rdb))
//
//	go fast.Start(ctx)
//	go durable.Start(ctx)
//	trigger.Kickstart(ctx, worker.Run)
//
// Overlapping invocations are expected. The worker collapses them.
package trigger

import (
	"context"
	"time"

	"github.com/rbaliyan/sendlater/delivery"
)

// RunFunc performs one delivery run.
type RunFunc func(ctx context.Context) delivery.Result

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
