// Package internal holds packages that are private to goSession.
//
// # Sub-packages
//
//   - config: sweeper daemon configuration (viper + validator)
//   - events: non-blocking, ordered lifecycle event dispatcher
//   - logging: slog constructors shared by the engine and the daemon
//   - redislock: token-checked Redis locks for sweep workers
//
// # What this package must NOT do
//
//   - Export types that appear in the public goSession API.
//   - Be imported by any package outside the goSession module.
package internal
