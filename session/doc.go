// Package session provides the Redis-backed session store, its time-bucketed
// expiration index and the passive-expiry listener.
//
// # Record layout
//
// Each session is a Redis hash keyed <prefix>:sessions:<id> with fields id,
// creationTime and lastAccessedTime (epoch millis), maxInactiveInterval (seconds) and
// one sessionAttr:<name> field per attribute holding a JSON value. Saves write only
// changed fields, so concurrent writers of different attributes never lose updates.
//
// # Expiration
//
// A session expiring at E is indexed in the bucket set <prefix>:expirations:<B>, where
// B is the first bucket boundary strictly after E. The [Tracker] sweeps buckets whose
// time has passed; the [KeyspaceListener] reacts to the expiry of the marker key
// <prefix>:sessions:expires:<id>, which carries the exact logical TTL. The primary hash
// outlives the marker by a safety margin so both reapers can still re-validate it.
// Only the reaper that deletes the hash publishes Expired.
//
// # Architecture boundaries
//
// This package owns Redis operations and the [Session] model. It does NOT dispatch
// events to subscribers (it hands them to a [Publisher]) and does not interpret
// attribute values.
//
// # What this package must NOT do
//
//   - Import goSession (no upward imports).
//   - Block on event delivery inside a store operation.
//   - Resurrect a deleted session id.
package session
