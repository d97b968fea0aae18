// Package delivery releases scheduled messages whose sending time has come.
//
// A Worker run queries the scheduled store for every message due at or
// before now and drives each one through resolution, send and delete. Runs
// are cheap to trigger redundantly: overlapping runs of the same Worker
// collapse into one, and a Guard keeps two deliveries of the same message from
// running at once.
//
// # Per-message protocol
//
//	Pending -> Processing -> Delivered
//	                      -> Failed
//
//  1. Acquire the message id in the Guard. If it is already held the message
//     is skipped with ErrDuplicateInFlight. A guard error fails the message
//     with ErrGuardUnavailable and never counts toward dead-lettering.
//  2. Use the stored conversation id, or resolve it from sender and receiver.
//  3. Send with the worker's current time as timestamp, type "text".
//  4. On send success delete the stored message. A failed delete is logged
//     only: the message reached the recipient and must not be sent again.
//
// A Failed message stays in the store and is picked up by the next run.
//
// # Run result
//
// Run returns Retry when the pending query failed or any message failed, and
// Success otherwise. Triggers use the result to decide on backoff.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/sendlater/conversation"
	"github.com/rbaliyan/sendlater/deadletter"
	"github.com/rbaliyan/sendlater/scheduled"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrDuplicateInFlight is returned for a message that another delivery holds.
// It is a short-circuit, not a failure.
var ErrDuplicateInFlight = errors.New("delivery already in flight")

// ErrGuardUnavailable is returned when the processing guard cannot be
// queried. The message is retried without counting toward dead-lettering.
var ErrGuardUnavailable = errors.New("processing guard unavailable")

// Result is the outcome of a worker run.
type Result int

const (
	// Success means every due message was delivered or skipped.
	Success Result = iota

	// Retry means at least one message, or the pending query, failed.
	Retry
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Retry:
		return "retry"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// State is the position of a message in the per-message protocol.
type State int

const (
	StatePending State = iota
	StateProcessing
	StateDelivered
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProcessing:
		return "processing"
	case StateDelivered:
		return "delivered"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Resolver maps a sender and receiver to their conversation id.
type Resolver interface {
	Resolve(ctx context.Context, sender, receiver string) (string, error)
}

// Sender appends a message to a conversation.
type Sender interface {
	Send(ctx context.Context, out conversation.Outgoing) (string, error)
}

// Worker delivers due scheduled messages.
type Worker struct {
	running atomic.Bool

	store    scheduled.Store
	resolver Resolver
	sender   Sender
	opts     *Options
	logger   *slog.Logger
	metrics  *metrics
	tracer   trace.Tracer
}

// NewWorker creates a worker. One Worker should be shared by every trigger
// of a process so that overlapping runs collapse.
func NewWorker(store scheduled.Store, resolver Resolver, sender Sender, opts ...Option) *Worker {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Worker{
		store:    store,
		resolver: resolver,
		sender:   sender,
		opts:     o,
		logger:   o.Logger,
		metrics:  newMetrics(o.MeterProvider),
		tracer:   o.TracerProvider.Tracer(instrumentationName),
	}
}

// Running reports whether a run is in progress.
func (w *Worker) Running() bool {
	return w.running.Load()
}

// Run delivers every message due now.
//
// If a run of this Worker is already in progress, Run returns Success
// immediately without doing anything.
func (w *Worker) Run(ctx context.Context) Result {
	if !w.running.CompareAndSwap(false, true) {
		w.logger.Debug("run already in progress, skipping")
		return Success
	}
	defer w.running.Store(false)

	start := time.Now()
	ctx, span := w.tracer.Start(ctx, "delivery.run", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	result := w.run(ctx)

	span.SetAttributes(attribute.String("result", result.String()))
	w.metrics.recordRun(ctx, result, time.Since(start).Seconds())
	return result
}

func (w *Worker) run(ctx context.Context) Result {
	now := w.opts.Clock()
	pending, err := w.store.Pending(ctx, now)
	if err != nil {
		w.logger.Error("failed to query pending messages", "error", err)
		trace.SpanFromContext(ctx).RecordError(err)
		return Retry
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("pending", len(pending)))
	w.forgetAttempts(pending)
	if len(pending) == 0 {
		return Success
	}

	result := Success
	var delivered, failed, skipped int
	for _, msg := range pending {
		if ctx.Err() != nil {
			w.logger.Warn("run cancelled", "remaining", len(pending)-delivered-failed-skipped)
			return Retry
		}

		state, err := w.deliverSafe(ctx, msg)
		switch {
		case errors.Is(err, ErrDuplicateInFlight):
			skipped++
		case errors.Is(err, ErrGuardUnavailable):
			failed++
			result = Retry
		case state == StateDelivered:
			delivered++
			w.resetAttempts(ctx, msg.ID)
		default:
			failed++
			if !w.recordAttempt(ctx, msg, err) {
				result = Retry
			}
		}
	}

	w.logger.Info("delivery run complete",
		"pending", len(pending),
		"delivered", delivered,
		"failed", failed,
		"skipped", skipped)
	return result
}

// deliverSafe runs the per-message protocol, turning a panic into a failure
// of this message only.
func (w *Worker) deliverSafe(ctx context.Context, msg *scheduled.Message) (state State, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic delivering scheduled message", "id", msg.ID, "panic", r)
			w.metrics.recordFailure(ctx, "panic")
			state = StateFailed
			err = fmt.Errorf("panic delivering %s: %v", msg.ID, r)
		}
	}()
	return w.deliver(ctx, msg)
}

func (w *Worker) deliver(ctx context.Context, msg *scheduled.Message) (State, error) {
	ctx, span := w.tracer.Start(ctx, "delivery.message",
		trace.WithAttributes(
			attribute.String("message.id", msg.ID),
			attribute.String("message.sender", msg.SenderID)))
	defer span.End()

	ok, err := w.opts.Guard.TryAcquire(ctx, msg.ID)
	if err != nil {
		w.logger.Error("guard unavailable", "id", msg.ID, "error", err)
		w.metrics.recordFailure(ctx, "guard")
		span.SetStatus(codes.Error, "guard")
		return StateFailed, fmt.Errorf("%w: %s: %v", ErrGuardUnavailable, msg.ID, err)
	}
	if !ok {
		w.logger.Debug("skipping message already in flight", "id", msg.ID)
		w.metrics.skipped.Add(ctx, 1)
		span.SetAttributes(attribute.Bool("skipped", true))
		return StatePending, ErrDuplicateInFlight
	}
	defer func() {
		if err := w.opts.Guard.Release(context.WithoutCancel(ctx), msg.ID); err != nil {
			w.logger.Warn("failed to release guard", "id", msg.ID, "error", err)
		}
	}()

	convID := msg.ConversationID
	resolved := false
	if convID == "" {
		convID, err = w.resolver.Resolve(ctx, msg.SenderID, msg.ReceiverID)
		if err != nil {
			w.logger.Warn("failed to resolve conversation",
				"id", msg.ID,
				"sender", msg.SenderID,
				"receiver", msg.ReceiverID,
				"error", err)
			w.metrics.recordFailure(ctx, "resolve")
			span.RecordError(err)
			span.SetStatus(codes.Error, "resolve")
			return StateFailed, fmt.Errorf("resolve %s: %w", msg.ID, err)
		}
		resolved = true
	}

	_, err = w.sender.Send(ctx, conversation.Outgoing{
		ConversationID: convID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Type:           conversation.TypeText,
		Timestamp:      w.opts.Clock().UnixMilli(),
		Scheduled:      true,
	})
	if err != nil {
		w.logger.Warn("failed to send scheduled message",
			"id", msg.ID,
			"conversation", convID,
			"error", err)
		w.metrics.recordFailure(ctx, "send")
		span.RecordError(err)
		span.SetStatus(codes.Error, "send")
		if resolved {
			w.bindConversation(ctx, msg, convID)
		}
		return StateFailed, fmt.Errorf("send %s: %w", msg.ID, err)
	}

	if err := w.store.Delete(ctx, msg.ID); err != nil {
		w.logger.Error("failed to delete delivered message",
			"id", msg.ID,
			"error", err)
	}

	w.metrics.delivered.Add(ctx, 1)
	w.logger.Debug("delivered scheduled message",
		"id", msg.ID,
		"conversation", convID)
	return StateDelivered, nil
}

// bindConversation stores a resolved conversation id so the next attempt
// skips resolution.
func (w *Worker) bindConversation(ctx context.Context, msg *scheduled.Message, convID string) {
	msg.ConversationID = convID

	binder, ok := w.store.(scheduled.ConversationBinder)
	if !ok {
		return
	}
	if err := binder.BindConversation(ctx, msg.ID, convID); err != nil {
		w.logger.Warn("failed to bind conversation",
			"id", msg.ID,
			"conversation", convID,
			"error", err)
	}
}

// deadLettering reports whether failures are counted at all.
func (w *Worker) deadLettering() bool {
	return w.opts.DeadLetter != nil && w.opts.MaxAttempts > 0
}

// recordAttempt counts a failure and dead-letters the message when the
// threshold is reached. It reports whether the message left the store.
func (w *Worker) recordAttempt(ctx context.Context, msg *scheduled.Message, cause error) bool {
	if !w.deadLettering() {
		return false
	}

	n, err := w.opts.Attempts.Increment(ctx, msg.ID)
	if err != nil {
		w.logger.Warn("failed to count delivery attempt", "id", msg.ID, "error", err)
		return false
	}
	if n < w.opts.MaxAttempts {
		return false
	}

	entry := deadletter.NewEntry(msg, cause, n, w.opts.Clock())
	if err := w.opts.DeadLetter.Store(ctx, entry); err != nil {
		w.logger.Error("failed to dead-letter message", "id", msg.ID, "error", err)
		return false
	}
	if err := w.store.Delete(ctx, msg.ID); err != nil {
		w.logger.Error("failed to remove dead-lettered message", "id", msg.ID, "error", err)
		return false
	}
	w.resetAttempts(ctx, msg.ID)

	w.metrics.deadLettered.Add(ctx, 1)
	w.logger.Warn("moved message to dead letters",
		"id", msg.ID,
		"sender", msg.SenderID,
		"attempts", n,
		"error", cause)
	return true
}

func (w *Worker) resetAttempts(ctx context.Context, id string) {
	if !w.deadLettering() {
		return
	}
	if err := w.opts.Attempts.Reset(ctx, id); err != nil {
		w.logger.Warn("failed to reset delivery attempts", "id", id, "error", err)
	}
}

// forgetAttempts drops in-memory counts of messages that are no longer
// pending, whether delivered, cancelled or dead-lettered elsewhere.
func (w *Worker) forgetAttempts(pending []*scheduled.Message) {
	r, ok := w.opts.Attempts.(interface{ Retain(keep []string) })
	if !ok {
		return
	}
	ids := make([]string, len(pending))
	for i, m := range pending {
		ids[i] = m.ID
	}
	r.Retain(ids)
}
