// Package events fans session lifecycle events out to subscribers.
//
// # Components
//
//   - [Dispatcher]: unbounded (or capped) queue drained by one delivery goroutine.
//   - [Handler]: subscriber callback, invoked in publish order.
//
// # Architecture boundaries
//
// This package owns queueing and delivery. It does NOT decide which events exist;
// the session store publishes them and the Engine wires subscribers.
//
// # What this package must NOT do
//
//   - Block a publisher, whatever subscribers are doing.
//   - Import goSession.
//   - Retry a handler that panicked.
package events
