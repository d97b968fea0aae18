// Package guard suppresses duplicate concurrent delivery of the same
// scheduled message.
//
// A Guard is a set of message ids currently being delivered. The delivery
// worker acquires an id before sending and releases it when done, whatever
// the outcome. A second attempt on an id that is still held is skipped.
//
// # Overview
//
// The package provides:
//   - Guard interface
//   - Memory: process-lifetime set, the default
//   - Redis: shared set with a TTL, for several daemons on one store
//
// The guard is best effort. It is not a lock on the stored message: a process
// that dies while holding an id simply loses its set (Memory) or leaves a key
// that expires (Redis), and the message is picked up again on a later cycle.
//
// # Basic Usage
//
//	g := guard.NewMemory()
//
//	ok, err := g.TryAcquire(ctx, msg.ID)
//	if err != nil || !ok {
//	    return // someone else is delivering it
//	}
//	defer g.Release(ctx, msg.ID)
package guard

import (
	"context"
	"sync"
)

// Guard tracks ids that are currently being processed.
//
// Implementations must be safe for concurrent use.
type Guard interface {
	// TryAcquire inserts id if absent. It reports false when id is already
	// held.
	TryAcquire(ctx context.Context, id string) (bool, error)

	// Release removes id. Releasing an id that is not held is a no-op.
	Release(ctx context.Context, id string) error
}

// Memory is an in-process Guard backed by sync.Map.
type Memory struct {
	inFlight sync.Map // map[string]struct{}
}

// NewMemory creates an empty in-process guard.
func NewMemory() *Memory {
	return &Memory{}
}

// TryAcquire atomically inserts id.
func (m *Memory) TryAcquire(_ context.Context, id string) (bool, error) {
	_, loaded := m.inFlight.LoadOrStore(id, struct{}{})
	return !loaded, nil
}

// Release removes id.
func (m *Memory) Release(_ context.Context, id string) error {
	m.inFlight.Delete(id)
	return nil
}

// Held reports whether id is currently held.
func (m *Memory) Held(id string) bool {
	_, ok := m.inFlight.Load(id)
	return ok
}

var _ Guard = (*Memory)(nil)
