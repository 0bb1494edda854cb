package goSession

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrEthical07/goSession/internal/events"
	"github.com/MrEthical07/goSession/internal/logging"
	"github.com/MrEthical07/goSession/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. Configure it during initialization and call Build
// once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	logger *slog.Logger

	handlers []EventHandler
	storeOps []session.Option

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client. Standalone, Sentinel and Cluster clients all
// satisfy redis.UniversalClient; in Cluster mode every key of a session shares the
// prefix but not a hash slot, so the Lua scripts require a single-shard deployment
// or a prefix wrapped in a hash tag such as "{gs}".
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the logger shared by every component. The default discards output.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithEventHandler subscribes h before the engine starts, so no event is missed.
func (b *Builder) WithEventHandler(h EventHandler) *Builder {
	if h != nil {
		b.handlers = append(b.handlers, h)
	}
	return b
}

// WithMetricsEnabled toggles counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles latency histograms. Requires metrics.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithStoreOptions passes low-level options, such as a test clock, to the store.
// A publisher passed here is ignored; use [Builder.WithEventHandler].
func (b *Builder) WithStoreOptions(opts ...session.Option) *Builder {
	b.storeOps = append(b.storeOps, opts...)
	return b
}

// Build validates the configuration and wires the store, tracker, listener and
// notifier. No goroutine other than the notifier runs until [Engine.Start].
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, ErrRedisRequired
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = logging.NewNop()
	}

	engine := &Engine{
		config:  cfg,
		redis:   b.redis,
		logger:  logger,
		metrics: NewMetrics(cfg.Metrics),
	}

	engine.events = events.NewDispatcher(events.Config{
		MaxPending: cfg.Events.MaxPending,
		Logger:     logger.With("component", "events"),
	})
	for _, h := range b.handlers {
		engine.Subscribe(h)
	}

	// -------- SESSION STORE --------
	opts := []session.Option{
		session.WithBucketWidth(cfg.Expiration.BucketWidth),
		session.WithSafetyMargin(cfg.Expiration.SafetyMargin),
		session.WithMaxInactiveInterval(cfg.Session.MaxInactiveInterval),
		session.WithLogger(logger.With("component", "store")),
	}
	opts = append(opts, b.storeOps...)
	opts = append(opts, session.WithPublisher(session.PublisherFunc(engine.publish)))
	engine.store = session.NewStore(b.redis, cfg.Session.RedisPrefix, opts...)

	// -------- EXPIRATION TRACKER --------
	trackerOpts := []session.TrackerOption{
		session.WithSweepInterval(cfg.Expiration.SweepInterval),
		session.WithTrackerLogger(logger.With("component", "tracker")),
		session.WithSweepHook(engine.recordSweep),
	}
	if cfg.Expiration.SweepLock {
		trackerOpts = append(trackerOpts, session.WithSweepLock(cfg.Expiration.SweepLockTTL))
	}
	engine.tracker = session.NewTracker(engine.store, trackerOpts...)

	// -------- KEYSPACE LISTENER --------
	if cfg.Keyspace.Enabled {
		engine.listener = session.NewKeyspaceListener(
			engine.store,
			cfg.Keyspace.Database,
			logger.With("component", "keyspace"),
		)
	}

	b.built = true

	logger.Debug("session engine built",
		"prefix", fmt.Sprintf("%q", cfg.Session.RedisPrefix),
		"bucket_width", cfg.Expiration.BucketWidth,
		"keyspace", cfg.Keyspace.Enabled,
	)

	return engine, nil
}
