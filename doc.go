// Package goSession provides a Redis-backed HTTP session repository with remote
// expiration and lifecycle notifications.
//
// Sessions live in Redis, one hash per session with one field per attribute, so
// application instances share them and concurrent writers of different attributes
// never lose each other's updates. Expiration happens remotely: a time-bucketed index
// is swept periodically and Redis keyspace expiry notifications reap sessions as they
// lapse. Subscribers are told when sessions are created, deleted or expired.
//
// Engine methods are safe to call from multiple goroutines after [Builder.Build].
//
// # Architecture boundaries
//
// goSession is the public surface. It exposes [Engine], [Builder], [Config] and value
// types. Redis operations and the session model live in package session; event
// dispatch lives under internal/ and is never exported.
//
// # What this package must NOT do
//
//   - Intercept HTTP requests or decide who may own a session.
//   - Close the caller's Redis client.
//   - Import any sub-package that re-imports goSession (no import cycles).
//
// # Consistency contract
//
// A Save is one Lua script: attribute writes, TTL refresh and the move between
// expiration buckets are atomic per session. Each expiration publishes at most one
// Expired event, from whichever of the sweep or the keyspace listener reaps it. A
// read or save of an expired session reports ErrNotFound and leaves the record for
// them.
package goSession
