// Package sendlater delivers chat messages that were composed for a future
// time.
//
// A sender writes a scheduled message to a remote store. When its sending
// time arrives, the message is appended to the conversation between sender
// and receiver exactly as if it had been sent live, and the scheduled entry is
// removed. The remote store is the only queue.
//
// Architecture:
//   - scheduled: the store of pending entries (memory, Redis, MongoDB,
//     Postgres, Firestore)
//   - conversation: conversation lookup (Resolver) and the append primitive
//     (Sender)
//   - guard: suppresses concurrent delivery of the same id
//   - delivery: the Worker that drains due messages and returns Success or
//     Retry
//   - trigger: FastLoop, DurableJob and Kickstart, the cadences that invoke
//     the Worker
//   - deadletter: optional parking of messages that keep failing
//   - notify: realtime fan-out after a send (NATS, Kafka)
//
// Basic example:
//
//	store := scheduled.NewRedisStore(rdb)
//	convs := conversation.NewMongoStore(db)
//
//	p := sendlater.New(store,
//	    conversation.NewResolver(convs),
//	    conversation.NewSender(convs).WithNotifier(natsNotifier),
//	    sendlater.WithFastInterval(5*time.Second),
//	    sendlater.WithStateStore(trigger.NewRedisStateStore(rdb)),
//	)
//	go p.Start(ctx)
//
//	// Outbox
//	id, err := p.Schedule(ctx, "alice", "bob", "happy birthday!", tomorrow, "")
//	pending, err := p.Outbox(ctx, "alice")
//	err = p.Cancel(ctx, "alice", id)
//
// Pipeline Options:
//   - WithClock: time source shared by worker and outbox. Default time.Now.
//   - WithLogger: set logger for the pipeline.
//   - WithWorkerOptions: options passed to delivery.NewWorker.
//   - WithFastInterval: FastLoop interval. Default 5s.
//   - WithDurableInterval: DurableJob interval. Default 15m.
//   - WithInitialDelay: DurableJob first-run delay. Default 10s.
//   - WithStateStore: where the DurableJob schedule is persisted. Default in memory.
//   - WithConstraint: DurableJob run precondition. Default always met.
//   - WithKickstartOffsets: one-shot runs after Start. Default 2s, 10s, 30s.
//
// Cancelling a message races with a delivery that already read it. The race
// is accepted: the message may still be sent.
package sendlater
