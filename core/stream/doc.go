// Package stream exposes broadcaster topics to remote subscribers over push
// transports: Server-Sent Events and WebSocket.
//
// Both handlers speak the same protocol: the first frame is a `connected`
// event carrying the subscriber's assigned client id, followed by replayed
// history (when the request carries a resume position) and then live events.
// Every event frame carries its id, type, serialized payload and a
// wall-clock timestamp.
//
// # SSE
//
//	mux.Handle("GET /events", stream.SSE(b,
//	    stream.WithHeartbeatInterval(30*time.Second),
//	    stream.WithReconnectTime(3000),
//	))
//
// Clients resume with the standard Last-Event-ID header; the
// `last_event_id` query parameter works for clients that cannot set
// headers. Keep-alive comments go out on the heartbeat interval and count
// as connection activity for idle sweeping.
//
// # WebSocket
//
//	mux.Handle("GET /ws", stream.WebSocket(b, stream.WithAllowAnyOrigin()))
//
// The WebSocket endpoint is push-only: it delivers the same JSON envelope as
// SSE, pings on the heartbeat interval and treats pongs as activity. Resume
// position comes from the `last_event_id` query parameter.
//
// # Capacity
//
// A topic at its connection limit rejects new subscribers: 503 on SSE, close
// code 1013 (try again later) on WebSocket. Existing connections are
// unaffected.
package stream
