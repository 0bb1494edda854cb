package session

import (
	"context"
	"time"
)

// EventType identifies a session lifecycle transition.
type EventType uint8

const (
	// EventCreated is published after the first successful save of a new session.
	EventCreated EventType = iota + 1
	// EventDeleted is published when a session is explicitly deleted.
	EventDeleted
	// EventExpired is published once per expiration, by whichever reaper removed the record.
	EventExpired
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDeleted:
		return "deleted"
	case EventExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// MarshalText renders the event type by name.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Event sources.
const (
	SourceSave     = "save"
	SourceDelete   = "delete"
	SourceSweep    = "sweep"
	SourceKeyspace = "keyspace"
	SourceReindex  = "reindex"
)

// Event describes one session lifecycle transition.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher receives lifecycle events from the store. Implementations must not block.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// PublisherFunc adapts a function to [Publisher].
type PublisherFunc func(ctx context.Context, event Event)

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, event Event) {
	f(ctx, event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) {}
