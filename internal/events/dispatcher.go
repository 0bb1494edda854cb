package events

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/MrEthical07/goSession/session"
)

// Handler receives one session event. Handlers run on the dispatcher goroutine and
// should return quickly.
type Handler func(ctx context.Context, event session.Event)

// Config controls dispatcher queueing.
type Config struct {
	// MaxPending caps queued, undelivered events. 0 means unbounded. When the cap is
	// reached new events are dropped and counted.
	MaxPending int
	Logger     *slog.Logger
}

// Dispatcher delivers published events to every subscriber asynchronously.
// Publish never blocks.
type Dispatcher struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	queue  []session.Event
	subs   map[uint64]Handler
	nextID uint64
	closed bool

	wake      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	dropped   atomic.Uint64
	delivered atomic.Uint64
	panics    atomic.Uint64
}

// NewDispatcher starts a dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.MaxPending < 0 {
		cfg.MaxPending = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	d := &Dispatcher{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[uint64]Handler),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

// Subscribe registers h and returns a function that removes it. Events already
// queued when h subscribes are delivered to it.
func (d *Dispatcher) Subscribe(h Handler) (unsubscribe func()) {
	if d == nil || h == nil {
		return func() {}
	}
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs[id] = h
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
		})
	}
}

// Publish queues event for delivery. It implements session.Publisher.
func (d *Dispatcher) Publish(_ context.Context, event session.Event) {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if d.cfg.MaxPending > 0 && len(d.queue) >= d.cfg.MaxPending {
		d.mu.Unlock()
		d.dropped.Add(1)
		return
	}
	d.queue = append(d.queue, event)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case <-d.wake:
			d.drain()
		case <-d.done:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		handlers := d.handlersLocked()
		d.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, event := range batch {
			for _, h := range handlers {
				d.deliver(h, event)
			}
			d.delivered.Add(1)
		}
	}
}

// handlersLocked returns subscribers in subscription order.
func (d *Dispatcher) handlersLocked() []Handler {
	ids := make([]uint64, 0, len(d.subs))
	for id := range d.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Handler, 0, len(ids))
	for _, id := range ids {
		out = append(out, d.subs[id])
	}
	return out
}

func (d *Dispatcher) deliver(h Handler, event session.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("session event handler panicked",
				"event", event.Type.String(),
				"session_id", event.SessionID,
				"panic", r,
			)
		}
	}()
	h(context.Background(), event)
}

// Close stops accepting events, delivers everything already queued and waits for
// the delivery goroutine to exit.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.done)
		d.wg.Wait()
	})
}

// Pending returns the number of queued, undelivered events.
func (d *Dispatcher) Pending() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Dropped returns how many events were discarded because MaxPending was reached.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered returns how many events have been handed to all subscribers.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}

// Panics returns how many handler invocations panicked.
func (d *Dispatcher) Panics() uint64 {
	if d == nil {
		return 0
	}
	return d.panics.Load()
}
