// Package redislock implements short-lived, token-checked Redis locks used to keep
// concurrent sweep workers from processing the same expiration bucket at once.
//
// # Architecture boundaries
//
// Locks are advisory. Correctness of the sweep never depends on them: every sweep
// operation is idempotent, and a lost lock only costs duplicate work.
package redislock
