package trigger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/rbaliyan/sendlater/delivery"
)

func countingRun(result delivery.Result) (RunFunc, *atomic.Int32) {
	var n atomic.Int32
	return func(context.Context) delivery.Result {
		n.Add(1)
		return result
	}, &n
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestFastLoop(t *testing.T) {
	t.Run("runs immediately and repeatedly", func(t *testing.T) {
		run, n := countingRun(delivery.Success)
		loop := NewFastLoop(run).WithInterval(10 * time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- loop.Start(ctx) }()

		eventually(t, func() bool { return n.Load() >= 3 })
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("kick within interval is debounced", func(t *testing.T) {
		run, n := countingRun(delivery.Success)
		loop := NewFastLoop(run).WithInterval(time.Hour)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go loop.Start(ctx)

		eventually(t, func() bool { return n.Load() == 1 })
		loop.Kick()
		eventually(t, func() bool { return loop.Debounced() == 1 })
		if n.Load() != 1 || loop.Runs() != 1 {
			t.Errorf("expected a single run, got %d", n.Load())
		}
	})

	t.Run("kick never blocks", func(t *testing.T) {
		run, _ := countingRun(delivery.Success)
		loop := NewFastLoop(run)
		for range 10 {
			loop.Kick()
		}
	})

	t.Run("non-positive interval falls back to default", func(t *testing.T) {
		run, _ := countingRun(delivery.Success)
		if got := NewFastLoop(run).WithInterval(0).Interval(); got != DefaultFastInterval {
			t.Errorf("expected %v, got %v", DefaultFastInterval, got)
		}
	})
}

func TestDurableJobStep(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	clock := func() time.Time { return now }

	t.Run("success schedules one interval later", func(t *testing.T) {
		run, n := countingRun(delivery.Success)
		j := NewDurableJob("test", run, nil).WithClock(clock).WithInterval(15 * time.Minute)

		got := j.step(ctx, State{NextRun: now, Attempts: 3})
		want := State{NextRun: now.Add(15 * time.Minute)}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("state mismatch (-want +got):\n%s", diff)
		}
		if n.Load() != 1 {
			t.Errorf("expected 1 run, got %d", n.Load())
		}
	})

	t.Run("retry backs off exponentially", func(t *testing.T) {
		run, _ := countingRun(delivery.Retry)
		j := NewDurableJob("test", run, nil).WithClock(clock)

		want := []time.Duration{
			30 * time.Second,
			time.Minute,
			2 * time.Minute,
			4 * time.Minute,
			8 * time.Minute,
			10 * time.Minute,
			10 * time.Minute,
		}
		st := State{NextRun: now}
		for i, d := range want {
			st = j.step(ctx, st)
			if st.Attempts != i+1 {
				t.Fatalf("step %d: expected %d attempts, got %d", i, i+1, st.Attempts)
			}
			if got := st.NextRun.Sub(now); got != d {
				t.Errorf("step %d: expected delay %v, got %v", i, d, got)
			}
		}
	})

	t.Run("unmet constraint postpones without running", func(t *testing.T) {
		run, n := countingRun(delivery.Success)
		offline := ConstraintFunc(func(context.Context) error { return errors.New("offline") })
		j := NewDurableJob("test", run, nil).
			WithClock(clock).
			WithConstraint(offline, 45*time.Second)

		got := j.step(ctx, State{NextRun: now, Attempts: 2})
		want := State{NextRun: now.Add(45 * time.Second), Attempts: 2}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("state mismatch (-want +got):\n%s", diff)
		}
		if n.Load() != 0 {
			t.Error("expected no run")
		}
	})
}

func TestDurableJobStart(t *testing.T) {
	t.Run("first start waits initial delay and persists schedule", func(t *testing.T) {
		run, n := countingRun(delivery.Success)
		states := NewMemoryStateStore()
		j := NewDurableJob("job", run, states).
			WithInitialDelay(10 * time.Millisecond).
			WithInterval(time.Hour)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- j.Start(ctx) }()

		eventually(t, func() bool {
			st, _ := states.Load(ctx, "job")
			return n.Load() == 1 && time.Until(st.NextRun) > 30*time.Minute
		})
		cancel()
		<-done
	})

	t.Run("overdue persisted schedule runs at once", func(t *testing.T) {
		run, n := countingRun(delivery.Success)
		states := NewMemoryStateStore()
		states.Save(context.Background(), "job", State{NextRun: time.Now().Add(-time.Hour)})
		j := NewDurableJob("job", run, states).
			WithInitialDelay(time.Hour).
			WithInterval(time.Hour)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go j.Start(ctx)

		eventually(t, func() bool { return n.Load() == 1 })
	})

	t.Run("future persisted schedule is honoured", func(t *testing.T) {
		run, n := countingRun(delivery.Success)
		states := NewMemoryStateStore()
		states.Save(context.Background(), "job", State{NextRun: time.Now().Add(time.Hour)})
		j := NewDurableJob("job", run, states).WithInitialDelay(0)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		if err := j.Start(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
		if n.Load() != 0 {
			t.Error("expected no run before the persisted time")
		}
	})
}

func TestStateStores(t *testing.T) {
	factories := map[string]func(t *testing.T) StateStore{
		"memory": func(t *testing.T) StateStore { return NewMemoryStateStore() },
		"redis": func(t *testing.T) StateStore {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { rdb.Close() })
			return NewRedisStateStore(rdb).WithPrefix("test:")
		},
	}

	for name, newStore := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			empty, err := store.Load(ctx, "job")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if !empty.NextRun.IsZero() || empty.Attempts != 0 {
				t.Errorf("expected zero state, got %+v", empty)
			}

			want := State{NextRun: time.UnixMilli(1_700_000_000_123), Attempts: 4}
			if err := store.Save(ctx, "job", want); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			got, err := store.Load(ctx, "job")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if !got.NextRun.Equal(want.NextRun) || got.Attempts != want.Attempts {
				t.Errorf("expected %+v, got %+v", want, got)
			}
		})
	}
}

func TestKickstart(t *testing.T) {
	t.Run("runs immediately and at each offset", func(t *testing.T) {
		var mu sync.Mutex
		var at []time.Duration
		start := time.Now()
		run := func(context.Context) delivery.Result {
			mu.Lock()
			at = append(at, time.Since(start))
			mu.Unlock()
			return delivery.Success
		}

		done := Kickstart(context.Background(), run, 10*time.Millisecond, 30*time.Millisecond)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("kickstart did not finish")
		}

		mu.Lock()
		defer mu.Unlock()
		if len(at) != 3 {
			t.Fatalf("expected 3 runs, got %d", len(at))
		}
		if at[2] < 30*time.Millisecond {
			t.Errorf("last run too early: %v", at[2])
		}
	})

	t.Run("stops on cancel", func(t *testing.T) {
		run, n := countingRun(delivery.Success)
		ctx, cancel := context.WithCancel(context.Background())

		done := Kickstart(ctx, run, time.Hour)
		eventually(t, func() bool { return n.Load() == 1 })
		cancel()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("kickstart did not stop")
		}
		if n.Load() != 1 {
			t.Errorf("expected 1 run, got %d", n.Load())
		}
	})
}

func TestNetworkConstraint(t *testing.T) {
	mr := miniredis.RunT(t)

	if err := Network(mr.Addr(), time.Second).Check(context.Background()); err != nil {
		t.Errorf("expected reachable address, got %v", err)
	}
	if err := Always.Check(context.Background()); err != nil {
		t.Errorf("Always should pass: %v", err)
	}
}
