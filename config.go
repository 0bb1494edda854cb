package goSession

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/session"
)

// ErrInvalidConfig is returned by [Config.Validate] and [Builder.Build].
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full engine configuration. Start from [DefaultConfig] and override
// fields; Build validates the result.
type Config struct {
	Session    SessionConfig
	Expiration ExpirationConfig
	Keyspace   KeyspaceConfig
	Events     EventsConfig
	Metrics    MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls record layout and default lifetime.
type SessionConfig struct {
	// RedisPrefix namespaces every key, e.g. "gs" gives gs:sessions:<id>.
	RedisPrefix string
	// MaxInactiveInterval is given to new sessions. <= 0 creates sessions that never expire.
	MaxInactiveInterval time.Duration
}

/*
====================================
EXPIRATION CONFIG
====================================
*/

// ExpirationConfig controls the bucket index and the background sweep.
type ExpirationConfig struct {
	Enabled       bool
	BucketWidth   time.Duration
	SweepInterval time.Duration
	// SafetyMargin is how long the primary record outlives its logical expiry so
	// reapers can still re-validate it.
	SafetyMargin   time.Duration
	SweepLock      bool
	SweepLockTTL   time.Duration
	ReindexOnStart bool
}

// KeyspaceConfig controls the passive expiry listener.
type KeyspaceConfig struct {
	Enabled bool
	// ConfigureNotifications runs CONFIG SET notify-keyspace-events on start. Failures
	// are logged and the sweep remains the fallback.
	ConfigureNotifications bool
	// Database is the logical Redis database whose keyspace channel is subscribed.
	Database int
}

// EventsConfig controls the change notifier.
type EventsConfig struct {
	// MaxPending caps undelivered events; 0 is unbounded.
	MaxPending int
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the production defaults: 30 minute sessions, one minute
// buckets swept every minute, keyspace listener on.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			RedisPrefix:         "gs",
			MaxInactiveInterval: session.DefaultMaxInactiveInterval,
		},
		Expiration: ExpirationConfig{
			Enabled:        true,
			BucketWidth:    session.DefaultBucketWidth,
			SweepInterval:  session.DefaultBucketWidth,
			SafetyMargin:   session.DefaultSafetyMargin,
			SweepLock:      true,
			SweepLockTTL:   30 * time.Second,
			ReindexOnStart: false,
		},
		Keyspace: KeyspaceConfig{
			Enabled:                true,
			ConfigureNotifications: true,
			Database:               0,
		},
		Events: EventsConfig{
			MaxPending: 0,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	// Session
	prefix := c.Session.RedisPrefix
	if strings.TrimSpace(prefix) == "" {
		return fmt.Errorf("%w: Session RedisPrefix must not be empty", ErrInvalidConfig)
	}
	if strings.ContainsAny(prefix, " \t\r\n*?[]") {
		return fmt.Errorf("%w: Session RedisPrefix contains whitespace or glob characters", ErrInvalidConfig)
	}
	if c.Session.MaxInactiveInterval > 0 && c.Session.MaxInactiveInterval < time.Second {
		return fmt.Errorf("%w: Session MaxInactiveInterval must be >= 1s (persisted in seconds)", ErrInvalidConfig)
	}

	// Expiration
	if c.Expiration.BucketWidth < time.Millisecond {
		return fmt.Errorf("%w: Expiration BucketWidth must be >= 1ms", ErrInvalidConfig)
	}
	if c.Expiration.SafetyMargin < 0 {
		return fmt.Errorf("%w: Expiration SafetyMargin must be >= 0", ErrInvalidConfig)
	}
	if c.Expiration.Enabled {
		if c.Expiration.SweepInterval <= 0 {
			return fmt.Errorf("%w: Expiration SweepInterval must be > 0", ErrInvalidConfig)
		}
		if c.Expiration.SweepInterval > c.Expiration.BucketWidth {
			return fmt.Errorf("%w: Expiration SweepInterval must be <= BucketWidth", ErrInvalidConfig)
		}
		if c.Expiration.SweepLock && c.Expiration.SweepLockTTL <= 0 {
			return fmt.Errorf("%w: Expiration SweepLockTTL must be > 0 when SweepLock is true", ErrInvalidConfig)
		}
	}

	// Keyspace
	if c.Keyspace.Database < 0 {
		return fmt.Errorf("%w: Keyspace Database must be >= 0", ErrInvalidConfig)
	}

	// Events
	if c.Events.MaxPending < 0 {
		return fmt.Errorf("%w: Events MaxPending must be >= 0", ErrInvalidConfig)
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return fmt.Errorf("%w: Metrics EnableLatencyHistograms requires Metrics Enabled", ErrInvalidConfig)
	}

	return nil
}
