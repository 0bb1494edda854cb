package goSession

import (
	"errors"

	"github.com/MrEthical07/goSession/session"
)

var (
	// ErrNotFound is returned when a session does not exist or has expired.
	ErrNotFound = session.ErrNotFound
	// ErrStoreUnavailable wraps Redis failures. Retry with backoff.
	ErrStoreUnavailable = session.ErrStoreUnavailable
	// ErrCorruptRecord accompanies ErrNotFound when a stored record cannot be parsed.
	ErrCorruptRecord = session.ErrCorruptRecord
	// ErrInvalidSession is returned when saving a nil or unencodable session.
	ErrInvalidSession = session.ErrInvalidSession
	// ErrEngineNotReady is returned by calls on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrEngineStarted is returned when Start is called twice.
	ErrEngineStarted = errors.New("engine already started")
	// ErrRedisRequired is returned by Build without a Redis client.
	ErrRedisRequired = errors.New("redis client required")
)
