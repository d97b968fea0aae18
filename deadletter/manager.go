package deadletter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbaliyan/sendlater/scheduled"
)

// Manager lists, replays and purges dead letters.
type Manager struct {
	store     Store
	scheduled scheduled.Store
	now       func() time.Time
	logger    *slog.Logger
}

// NewManager creates a manager that replays into target.
func NewManager(store Store, target scheduled.Store) *Manager {
	return &Manager{
		store:     store,
		scheduled: target,
		now:       time.Now,
		logger:    slog.Default().With("component", "deadletter.manager"),
	}
}

// WithLogger sets a custom logger.
func (m *Manager) WithLogger(l *slog.Logger) *Manager {
	m.logger = l
	return m
}

// WithClock sets the time source used for replayed sending times.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Get returns a single entry.
func (m *Manager) Get(ctx context.Context, id string) (*Entry, error) {
	return m.store.Get(ctx, id)
}

// List returns entries matching the filter.
func (m *Manager) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	return m.store.List(ctx, filter)
}

// Replay puts the entry back into the scheduled store, due immediately, and
// removes the dead letter. The original id is kept so the sender's outbox
// shows the same message again.
func (m *Manager) Replay(ctx context.Context, id string) error {
	e, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}

	msg := e.Message()
	msg.SendingTime = m.now().UnixMilli()
	if _, err := m.scheduled.Add(ctx, msg); err != nil {
		return fmt.Errorf("reschedule: %w", err)
	}

	if err := m.store.Delete(ctx, id); err != nil {
		m.logger.Error("failed to remove replayed dead letter", "id", id, "error", err)
	}

	m.logger.Info("replayed dead letter", "id", id, "sender", e.SenderID)
	return nil
}

// ReplayAll replays every entry matching the filter and returns how many were
// rescheduled. It continues past individual failures.
func (m *Manager) ReplayAll(ctx context.Context, filter Filter) (int, error) {
	entries, err := m.store.List(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("list: %w", err)
	}

	replayed := 0
	for _, e := range entries {
		if err := m.Replay(ctx, e.ID); err != nil {
			m.logger.Error("failed to replay dead letter", "id", e.ID, "error", err)
			continue
		}
		replayed++
	}
	return replayed, nil
}

// Purge deletes entries parked more than olderThan ago and returns how many
// were removed.
func (m *Manager) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := m.store.List(ctx, Filter{Before: m.now().Add(-olderThan)})
	if err != nil {
		return 0, fmt.Errorf("list: %w", err)
	}

	for i, e := range entries {
		if err := m.store.Delete(ctx, e.ID); err != nil {
			return i, fmt.Errorf("delete %s: %w", e.ID, err)
		}
	}

	if len(entries) > 0 {
		m.logger.Info("purged dead letters", "count", len(entries), "older_than", olderThan)
	}
	return len(entries), nil
}
