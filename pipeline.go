package sendlater

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/sendlater/delivery"
	"github.com/rbaliyan/sendlater/scheduled"
	"github.com/rbaliyan/sendlater/trigger"
	"golang.org/x/sync/errgroup"
)

// DurableJobName keys the persisted DurableJob schedule.
const DurableJobName = "sendlater.delivery"

// Pipeline owns one delivery worker and the triggers that invoke it.
//
// Every trigger holds the same Worker.Run, so overlapping invocations from
// the fast loop, the durable job and kickstart collapse into one run.
type Pipeline struct {
	store   scheduled.Store
	worker  *delivery.Worker
	fast    *trigger.FastLoop
	durable *trigger.DurableJob
	opts    *Options
	logger  *slog.Logger
	started atomic.Bool
}

// New creates a pipeline over the given store, resolver and sender.
func New(store scheduled.Store, resolver delivery.Resolver, sender delivery.Sender, opts ...Option) *Pipeline {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	workerOpts := append([]delivery.Option{delivery.WithClock(o.Clock)}, o.WorkerOptions...)
	worker := delivery.NewWorker(store, resolver, sender, workerOpts...)

	fast := trigger.NewFastLoop(worker.Run).
		WithInterval(o.FastInterval).
		WithLogger(o.Logger.With("trigger", "fast"))

	durable := trigger.NewDurableJob(DurableJobName, worker.Run, o.StateStore).
		WithInterval(o.DurableInterval).
		WithInitialDelay(o.InitialDelay).
		WithConstraint(o.Constraint, o.ConstraintRecheck).
		WithLogger(o.Logger.With("trigger", "durable"))

	return &Pipeline{
		store:   store,
		worker:  worker,
		fast:    fast,
		durable: durable,
		opts:    o,
		logger:  o.Logger,
	}
}

// Worker returns the shared delivery worker.
func (p *Pipeline) Worker() *delivery.Worker {
	return p.worker
}

// Start launches the fast loop, the durable job and kickstart, and blocks
// until ctx is done. It returns ctx.Err().
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	p.logger.Info("pipeline starting",
		"fast_interval", p.opts.FastInterval,
		"durable_interval", p.opts.DurableInterval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.fast.Start(ctx) })
	g.Go(func() error { return p.durable.Start(ctx) })
	if len(p.opts.KickstartOffsets) > 0 {
		done := trigger.Kickstart(ctx, p.worker.Run, p.opts.KickstartOffsets...)
		g.Go(func() error {
			<-done
			return nil
		})
	}

	err := g.Wait()
	p.logger.Info("pipeline stopped", "error", err)
	return err
}

// RunOnce runs the worker immediately.
func (p *Pipeline) RunOnce(ctx context.Context) delivery.Result {
	return p.worker.Run(ctx)
}

// Schedule adds a message for delivery at the given time and returns its id.
// conversationID may be empty; it is then resolved at delivery time. A
// message already due wakes the fast loop.
func (p *Pipeline) Schedule(ctx context.Context, senderID, receiverID, content string, at time.Time, conversationID string) (string, error) {
	msg := &scheduled.Message{
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		SendingTime:    at.UnixMilli(),
		ConversationID: conversationID,
	}
	id, err := p.store.Add(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("schedule: %w", err)
	}

	if msg.Due(p.opts.Clock()) {
		p.fast.Kick()
	}
	return id, nil
}

// Outbox returns the sender's pending messages, earliest first.
func (p *Pipeline) Outbox(ctx context.Context, senderID string) ([]*scheduled.Message, error) {
	msgs, err := p.store.ListForSender(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("outbox: %w", err)
	}
	slices.SortStableFunc(msgs, func(a, b *scheduled.Message) int {
		return cmp.Compare(a.SendingTime, b.SendingTime)
	})
	return msgs, nil
}

// Cancel deletes a pending message owned by senderID. It returns
// scheduled.ErrNotFound for an unknown id and ErrNotOwner when the message
// belongs to someone else. Malformed records can be cancelled by the sender
// named in their raw sender_id. A delivery that already read the message may
// still send it.
func (p *Pipeline) Cancel(ctx context.Context, senderID, id string) error {
	owner, err := p.owner(ctx, id)
	if err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	if owner == "" || owner != senderID {
		return ErrNotOwner
	}
	if err := p.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}

	p.logger.Debug("cancelled scheduled message", "id", id, "sender", senderID)
	return nil
}

// owner returns the sender of a stored record, falling back to the raw
// sender_id of a record that does not decode.
func (p *Pipeline) owner(ctx context.Context, id string) (string, error) {
	msg, err := p.store.Get(ctx, id)
	if err == nil {
		return msg.SenderID, nil
	}

	var me *scheduled.MalformedError
	if errors.As(err, &me) {
		return me.SenderID, nil
	}
	return "", err
}
