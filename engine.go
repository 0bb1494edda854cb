package goSession

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/goSession/internal/events"
	"github.com/MrEthical07/goSession/session"
	"github.com/redis/go-redis/v9"
)

const (
	listenerRetryMin = 500 * time.Millisecond
	listenerRetryMax = 30 * time.Second
)

// Engine is the session repository facade: it owns the store, the expiration tracker,
// the passive expiry listener and the change notifier.
//
// Engine methods are safe for concurrent use after [Builder.Build].
type Engine struct {
	config  Config
	redis   redis.UniversalClient
	logger  *slog.Logger
	metrics *Metrics

	store    *session.Store
	tracker  *session.Tracker
	listener *session.KeyspaceListener
	events   *events.Dispatcher

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// CreateSession allocates a new, unsaved session with a fresh id and the configured
// max inactive interval.
func (e *Engine) CreateSession() *Session {
	return e.store.CreateSession()
}

// GetSession loads a live session and refreshes its expiry. Expired, deleted and
// unknown ids return [ErrNotFound].
func (e *Engine) GetSession(ctx context.Context, id string) (*Session, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	sess, err := e.store.Load(ctx, id)
	e.metrics.Observe(MetricLoadLatency, time.Since(start))

	switch {
	case err == nil:
		e.metrics.Inc(MetricSessionLoaded)
	case errors.Is(err, ErrCorruptRecord):
		e.metrics.Inc(MetricSessionCorrupt)
	case errors.Is(err, ErrNotFound):
		e.metrics.Inc(MetricSessionNotFound)
	case errors.Is(err, ErrStoreUnavailable):
		e.metrics.Inc(MetricStoreUnavailable)
	}
	return sess, err
}

// SaveSession persists the changed attributes of s and refreshes its expiry. Saving a
// session that has since been deleted or expired returns [ErrNotFound].
func (e *Engine) SaveSession(ctx context.Context, s *Session) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	start := time.Now()
	err := e.store.Save(ctx, s)
	e.metrics.Observe(MetricSaveLatency, time.Since(start))

	switch {
	case err == nil:
		e.metrics.Inc(MetricSessionSaved)
	case errors.Is(err, ErrNotFound):
		e.metrics.Inc(MetricSessionNotFound)
	case errors.Is(err, ErrStoreUnavailable):
		e.metrics.Inc(MetricStoreUnavailable)
	}
	return err
}

// DeleteSession removes a session. Deleting an unknown id is not an error.
func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	err := e.store.Delete(ctx, id)
	if errors.Is(err, ErrStoreUnavailable) {
		e.metrics.Inc(MetricStoreUnavailable)
	}
	return err
}

// Subscribe registers h for every future lifecycle event and returns a function that
// unregisters it.
func (e *Engine) Subscribe(h EventHandler) (unsubscribe func()) {
	if e == nil || h == nil {
		return func() {}
	}
	return e.events.Subscribe(events.Handler(h))
}

// SubscribeSink registers sink like [Engine.Subscribe].
func (e *Engine) SubscribeSink(sink EventSink) (unsubscribe func()) {
	if sink == nil {
		return func() {}
	}
	return e.Subscribe(sink.Handle)
}

// Start launches the background sweep and the keyspace listener. They stop when ctx
// is cancelled or [Engine.Close] is called.
func (e *Engine) Start(ctx context.Context) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineNotReady
	}
	if e.started {
		return ErrEngineStarted
	}
	e.started = true

	if e.config.Expiration.ReindexOnStart {
		result, err := e.store.Reindex(ctx)
		e.recordSweep(result, err)
		if err != nil {
			e.logger.Warn("startup reindex failed", "err", err)
		} else {
			e.logger.Info("startup reindex complete",
				"expired", result.Expired,
				"reindexed", result.Reindexed,
				"corrupt", result.Corrupt,
			)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if e.listener != nil {
		if e.config.Keyspace.ConfigureNotifications {
			if err := e.listener.EnableNotifications(ctx); err != nil {
				e.logger.Warn("could not enable keyspace notifications; relying on sweep", "err", err)
			}
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runListener(runCtx)
		}()
	}

	if e.config.Expiration.Enabled {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			_ = e.tracker.Run(runCtx)
		}()
	}

	e.logger.Info("session engine started",
		"sweep_interval", e.tracker.Interval(),
		"expiration", e.config.Expiration.Enabled,
		"keyspace", e.listener != nil,
	)
	return nil
}

// runListener keeps the keyspace subscription alive across Redis disconnects.
func (e *Engine) runListener(ctx context.Context) {
	backoff := listenerRetryMin
	for {
		err := e.listener.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			e.logger.Warn("keyspace listener stopped; retrying", "err", err, "backoff", backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff *= 2
		if backoff > listenerRetryMax {
			backoff = listenerRetryMax
		}
	}
}

// Close stops background work, delivers pending events and releases the notifier.
// It does not close the Redis client. Close is idempotent.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.events.Close()
}

// Sweep runs one expiration pass immediately.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	if e == nil || e.tracker == nil {
		return SweepResult{}, ErrEngineNotReady
	}
	result, err := e.tracker.Sweep(ctx)
	e.recordSweep(result, err)
	return result, err
}

// Reindex rebuilds the expiration index from the session records.
func (e *Engine) Reindex(ctx context.Context) (SweepResult, error) {
	if e == nil || e.store == nil {
		return SweepResult{}, ErrEngineNotReady
	}
	result, err := e.store.Reindex(ctx)
	e.recordSweep(result, err)
	return result, err
}

// Ping checks Redis reachability.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}
	return e.store.Ping(ctx)
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

// EventsDropped returns how many events the notifier discarded because
// Events.MaxPending was reached.
func (e *Engine) EventsDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.events.Dropped()
}

// EventsPending returns the number of undelivered events.
func (e *Engine) EventsPending() int {
	if e == nil {
		return 0
	}
	return e.events.Pending()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) publish(ctx context.Context, event Event) {
	e.metrics.Inc(MetricEventsPublished)
	switch event.Type {
	case EventCreated:
		e.metrics.Inc(MetricSessionCreated)
	case EventDeleted:
		e.metrics.Inc(MetricSessionDeleted)
	case EventExpired:
		e.metrics.Inc(MetricSessionExpired)
	}
	e.events.Publish(ctx, event)
}

func (e *Engine) recordSweep(result SweepResult, err error) {
	e.metrics.Observe(MetricSweepLatency, result.Duration)
	if err != nil {
		e.metrics.Inc(MetricSweepFailures)
		if errors.Is(err, ErrStoreUnavailable) {
			e.metrics.Inc(MetricStoreUnavailable)
		}
		return
	}
	e.metrics.Inc(MetricSweepRuns)
	e.metrics.Add(MetricSweepReindexed, uint64(result.Reindexed))
	e.metrics.Add(MetricSweepBucketsSkipped, uint64(result.Skipped))
}
