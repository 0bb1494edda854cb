package session

import (
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// DefaultMaxInactiveInterval is used when a store is created without an explicit interval.
const DefaultMaxInactiveInterval = 1800 * time.Second

// ErrAttributeMissing is returned by [Session.DecodeAttribute] when the key is not set.
var ErrAttributeMissing = errors.New("session attribute missing")

// Session is a server-side record of per-user state keyed by an opaque id with a
// sliding expiration.
//
// A Session is not safe for concurrent mutation. Concurrent callers should each load
// their own copy; the [Store] persists only changed fields, so copies never clobber
// each other's attributes.
type Session struct {
	id                  string
	creationTime        time.Time
	lastAccessedTime    time.Time
	maxInactiveInterval time.Duration

	attributes map[string]any
	delta      map[string]struct{}
	isNew      bool

	clock func() time.Time
}

// New allocates a session with the given id. Callers normally use [Store.CreateSession].
func New(id string, now time.Time, maxInactiveInterval time.Duration) *Session {
	return &Session{
		id:                  id,
		creationTime:        now,
		lastAccessedTime:    now,
		maxInactiveInterval: wholeSeconds(maxInactiveInterval),
		attributes:          make(map[string]any),
		delta:               make(map[string]struct{}),
		isNew:               true,
		clock:               time.Now,
	}
}

func (s *Session) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock()
}

// ID returns the immutable session identifier.
func (s *Session) ID() string { return s.id }

// CreationTime returns when the session was created.
func (s *Session) CreationTime() time.Time { return s.creationTime }

// LastAccessedTime returns the last read or write access.
func (s *Session) LastAccessedTime() time.Time { return s.lastAccessedTime }

// MaxInactiveInterval returns the idle duration after which the session expires.
func (s *Session) MaxInactiveInterval() time.Duration { return s.maxInactiveInterval }

// IsNew reports whether the session has never been saved.
func (s *Session) IsNew() bool { return s.isNew }

// SetMaxInactiveInterval changes the idle timeout. A value <= 0 disables expiry.
// The interval is persisted in whole seconds; fractions are rounded up.
func (s *Session) SetMaxInactiveInterval(d time.Duration) {
	s.maxInactiveInterval = wholeSeconds(d)
	s.Touch()
}

func wholeSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	if r := d % time.Second; r != 0 {
		d += time.Second - r
	}
	return d
}

// ExpiresAt returns lastAccessedTime + maxInactiveInterval, or the zero time when the
// session never expires.
func (s *Session) ExpiresAt() time.Time {
	if s.maxInactiveInterval <= 0 {
		return time.Time{}
	}
	return s.lastAccessedTime.Add(s.maxInactiveInterval)
}

// IsExpired reports whether now is at or past ExpiresAt.
func (s *Session) IsExpired(now time.Time) bool {
	if s.maxInactiveInterval <= 0 {
		return false
	}
	return !now.Before(s.ExpiresAt())
}

// Touch refreshes lastAccessedTime without changing attributes.
func (s *Session) Touch() {
	s.lastAccessedTime = s.now()
}

// Attribute returns the value stored under key. Values loaded from the store are
// decoded into their generic JSON form (string, float64, bool, map, slice).
func (s *Session) Attribute(key string) (any, bool) {
	v, ok := s.attributes[key]
	s.Touch()
	if !ok {
		return nil, false
	}
	raw, isRaw := v.(json.RawMessage)
	if !isRaw {
		return v, true
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

// DecodeAttribute decodes the value stored under key into dst.
func (s *Session) DecodeAttribute(key string, dst any) error {
	v, ok := s.attributes[key]
	s.Touch()
	if !ok {
		return ErrAttributeMissing
	}
	raw, err := encodeValue(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// SetAttribute stores value under key and marks it for persistence.
// A nil value removes the attribute.
func (s *Session) SetAttribute(key string, value any) {
	if value == nil {
		s.RemoveAttribute(key)
		return
	}
	s.attributes[key] = value
	s.delta[key] = struct{}{}
	s.Touch()
}

// RemoveAttribute deletes key and marks the removal for persistence.
func (s *Session) RemoveAttribute(key string) {
	delete(s.attributes, key)
	s.delta[key] = struct{}{}
	s.Touch()
}

// AttributeNames returns the attribute keys in sorted order.
func (s *Session) AttributeNames() []string {
	names := make([]string, 0, len(s.attributes))
	for k := range s.attributes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (s *Session) clearDelta() {
	s.delta = make(map[string]struct{})
	s.isNew = false
}
