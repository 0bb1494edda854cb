package goSession

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/MrEthical07/goSession/session"
)

type (
	// Session is a server-side session. See [session.Session].
	Session = session.Session
	// Event is a session lifecycle event.
	Event = session.Event
	// EventType identifies Created, Deleted or Expired.
	EventType = session.EventType
	// SweepResult summarizes a sweep or re-index pass.
	SweepResult = session.SweepResult
)

const (
	EventCreated = session.EventCreated
	EventDeleted = session.EventDeleted
	EventExpired = session.EventExpired
)

// EventHandler receives session events. Handlers run on the notifier goroutine, in
// publish order, and should return quickly.
type EventHandler func(ctx context.Context, event Event)

// EventSink is a reusable event consumer.
type EventSink interface {
	Handle(ctx context.Context, event Event)
}

// ChannelSink forwards events into a buffered channel. When the channel is full the
// event is dropped and counted rather than stalling the notifier.
type ChannelSink struct {
	events  chan Event
	mu      sync.Mutex
	dropped uint64
}

// NewChannelSink creates a sink with the given channel capacity.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

// Handle implements [EventSink].
func (s *ChannelSink) Handle(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// Dropped returns how many events did not fit in the channel.
func (s *ChannelSink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink creates a sink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

// Handle implements [EventSink].
func (s *JSONWriterSink) Handle(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
