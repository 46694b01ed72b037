// Package broadcast provides a single-process pub/sub hub that fans out
// state-change events to long-lived subscriber connections, with bounded
// per-topic history and replay-on-reconnect.
//
// # Architecture
//
// The Broadcaster is the only entry point. Route handlers publish events
// after state mutations; transport handlers (see core/stream) subscribe on
// behalf of remote clients and hand the broadcaster a Sink to push into.
// All state (connections, history, rate counters) is partitioned by topic
// and owned by the broadcaster; callers never touch it directly.
//
//	b := broadcast.New(
//	    broadcast.WithConnectionLimit(50),
//	    broadcast.WithHistorySize(1000),
//	    broadcast.WithLogger(logger),
//	)
//	defer b.Close()
//
//	// Publishing after a state change (fire-and-forget):
//	event, err := b.Publish(ctx, "session-42", "item_created", payload)
//
//	// Subscribing on behalf of a remote client:
//	sub, err := b.Subscribe(ctx, "session-42", clientID, sink,
//	    broadcast.WithLastEventID(lastSeen),
//	)
//	if errors.Is(err, broadcast.ErrCapacityExceeded) {
//	    // translate into a "try again" rejection
//	}
//
// # Delivery Semantics
//
// Events on one topic reach each connection in publish order: every
// connection owns a buffered queue drained by a single pump goroutine, so a
// slow or broken consumer never delays fanout to the rest of the topic. A
// send that fails or exceeds the delivery timeout, or a queue that fills up,
// removes the connection silently. No delivery status ever reaches the
// publisher; the only externally visible failure is ErrCapacityExceeded at
// subscribe time.
//
// Exactly-once delivery is explicitly out of scope. History replay plus
// per-connection rate limiting give at-least-once within the retained
// window: a live event skipped by the limiter remains in history and is
// backfilled on the next reconnect.
//
// # Event IDs and Replay
//
// Each topic assigns events a monotonically increasing integer id under the
// same lock that appends history, so "everything after id k" is a total
// order with no timestamp parsing. History is a FIFO buffer capped per
// topic; its events are dropped as soon as the topic's last connection
// leaves, but the id sequence survives, so ids stay unique across
// subscriber churn and a stale resume position never skips newer events.
//
// # Idle Reclamation
//
// The broadcaster exposes Touch and SweepIdle but schedules nothing itself.
// Run a Sweeper (or call SweepIdle from the host's scheduler) to reclaim
// connections whose transport stopped heartbeating:
//
//	sweeper := broadcast.NewSweeper(b, broadcast.WithMaxIdle(5*time.Minute))
//	g.Go(sweeper.Run(ctx))
//
// # Thread Safety
//
// All Broadcaster methods are safe for concurrent use. Mutations to a
// topic's connection set and history are serialized, so a connection can
// never be concurrently removed and delivered to.
package broadcast
