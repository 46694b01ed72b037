// Package sseclient provides a reconnecting Server-Sent Events subscriber
// that survives network drops, host suspension and server restarts without
// losing its place in the stream.
//
// # Behavior
//
// The client owns one logical subscription that may span many physical
// connections. On any transport failure it schedules a reconnect with
// exponential backoff plus jitter (min(initial·2ⁿ + jitter, max)), carrying
// the last event id it processed so the server replays the gap. Attempts
// reset to zero on every successful open. Transient failures are never
// returned to the caller; only invalid input is.
//
//	client, err := sseclient.New("https://api.example.com/events",
//	    sseclient.WithEventHandler(func(ev sseclient.Event) {
//	        // ev.ID is already recorded as the resume position
//	    }),
//	    sseclient.WithReconnectHandler(func(attempt int, delay time.Duration) {
//	        log.Printf("reconnect %d in %v", attempt, delay)
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := client.Connect(ctx, "session-42"); err != nil {
//	    log.Fatal(err) // empty topic or already connected
//	}
//	defer client.Disconnect()
//
// # Suspension
//
// Hosts that get backgrounded (a hidden browser tab, a mobile app entering
// the background) should call Suspend rather than Disconnect: the transport
// closes and no reconnect attempts run while hidden, but the topic, client
// id and last event id survive, so Resume reattaches with replay:
//
//	onHidden:  client.Suspend()
//	onVisible: client.Resume(ctx)
//
// # State Machine
//
// Disconnected → Connecting → Connected, with Connecting covering both an
// in-flight transport attempt and a pending backoff timer. Disconnect is
// valid in every state and idempotent; a disconnect issued during a pending
// backoff delay prevents the scheduled attempt from firing.
package sseclient
