// Package config loads the sweeper daemon configuration from YAML and GOSESSION_
// environment variables.
package config

import (
	"fmt"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/redis/go-redis/v9"
)

// DaemonConfig is the top-level configuration of gosession-sweeper.
type DaemonConfig struct {
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Expiration ExpirationConfig `yaml:"expiration" mapstructure:"expiration"`
	Keyspace   KeyspaceConfig   `yaml:"keyspace" mapstructure:"keyspace"`
	Events     EventsConfig     `yaml:"events" mapstructure:"events"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// RedisConfig selects a standalone, Sentinel or Cluster deployment. One address
// without MasterName is standalone; several addresses form a cluster.
type RedisConfig struct {
	Addrs       []string `yaml:"addrs" mapstructure:"addrs" validate:"required,min=1,dive,hostname_port"`
	Username    string   `yaml:"username,omitempty" mapstructure:"username"`
	Password    string   `yaml:"password,omitempty" mapstructure:"password"`
	DB          int      `yaml:"db" mapstructure:"db" validate:"gte=0,lte=15"`
	MasterName  string   `yaml:"master_name,omitempty" mapstructure:"master_name"`
	DialTimeout string   `yaml:"dial_timeout" mapstructure:"dial_timeout" validate:"duration"`
}

// SessionConfig mirrors goSession.SessionConfig.
type SessionConfig struct {
	Prefix              string `yaml:"prefix" mapstructure:"prefix" validate:"required,excludesall=*?[]"`
	MaxInactiveInterval string `yaml:"max_inactive_interval" mapstructure:"max_inactive_interval" validate:"duration"`
}

// ExpirationConfig mirrors goSession.ExpirationConfig.
type ExpirationConfig struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	BucketWidth    string `yaml:"bucket_width" mapstructure:"bucket_width" validate:"duration"`
	SweepInterval  string `yaml:"sweep_interval" mapstructure:"sweep_interval" validate:"duration"`
	SafetyMargin   string `yaml:"safety_margin" mapstructure:"safety_margin" validate:"duration"`
	SweepLock      bool   `yaml:"sweep_lock" mapstructure:"sweep_lock"`
	SweepLockTTL   string `yaml:"sweep_lock_ttl" mapstructure:"sweep_lock_ttl" validate:"duration"`
	ReindexOnStart bool   `yaml:"reindex_on_start" mapstructure:"reindex_on_start"`
}

// KeyspaceConfig mirrors goSession.KeyspaceConfig. The database comes from Redis.DB.
type KeyspaceConfig struct {
	Enabled                bool `yaml:"enabled" mapstructure:"enabled"`
	ConfigureNotifications bool `yaml:"configure_notifications" mapstructure:"configure_notifications"`
}

// EventsConfig mirrors goSession.EventsConfig.
type EventsConfig struct {
	MaxPending int  `yaml:"max_pending" mapstructure:"max_pending" validate:"gte=0"`
	LogEvents  bool `yaml:"log_events" mapstructure:"log_events"`
}

// MetricsConfig controls engine metrics and the /metrics listener.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	Latency    bool   `yaml:"latency" mapstructure:"latency"`
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr" validate:"omitempty,hostname_port"`
	Path       string `yaml:"path" mapstructure:"path" validate:"omitempty,startswith=/"`
}

// LogConfig controls the daemon logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=text json"`
}

// Defaults returns the daemon defaults, derived from goSession.DefaultConfig.
func Defaults() DaemonConfig {
	d := goSession.DefaultConfig()
	return DaemonConfig{
		Redis: RedisConfig{
			Addrs:       []string{"127.0.0.1:6379"},
			DialTimeout: (5 * time.Second).String(),
		},
		Session: SessionConfig{
			Prefix:              d.Session.RedisPrefix,
			MaxInactiveInterval: d.Session.MaxInactiveInterval.String(),
		},
		Expiration: ExpirationConfig{
			Enabled:        d.Expiration.Enabled,
			BucketWidth:    d.Expiration.BucketWidth.String(),
			SweepInterval:  d.Expiration.SweepInterval.String(),
			SafetyMargin:   d.Expiration.SafetyMargin.String(),
			SweepLock:      d.Expiration.SweepLock,
			SweepLockTTL:   d.Expiration.SweepLockTTL.String(),
			ReindexOnStart: true,
		},
		Keyspace: KeyspaceConfig{
			Enabled:                d.Keyspace.Enabled,
			ConfigureNotifications: d.Keyspace.ConfigureNotifications,
		},
		Events: EventsConfig{
			MaxPending: 10000,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			Latency:    true,
			ListenAddr: ":9464",
			Path:       "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ToEngineConfig converts the daemon configuration into a validated engine Config.
func (c *DaemonConfig) ToEngineConfig() (goSession.Config, error) {
	cfg := goSession.DefaultConfig()

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"session.max_inactive_interval", c.Session.MaxInactiveInterval, &cfg.Session.MaxInactiveInterval},
		{"expiration.bucket_width", c.Expiration.BucketWidth, &cfg.Expiration.BucketWidth},
		{"expiration.sweep_interval", c.Expiration.SweepInterval, &cfg.Expiration.SweepInterval},
		{"expiration.safety_margin", c.Expiration.SafetyMargin, &cfg.Expiration.SafetyMargin},
		{"expiration.sweep_lock_ttl", c.Expiration.SweepLockTTL, &cfg.Expiration.SweepLockTTL},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return goSession.Config{}, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}

	cfg.Session.RedisPrefix = c.Session.Prefix
	cfg.Expiration.Enabled = c.Expiration.Enabled
	cfg.Expiration.SweepLock = c.Expiration.SweepLock
	cfg.Expiration.ReindexOnStart = c.Expiration.ReindexOnStart
	cfg.Keyspace.Enabled = c.Keyspace.Enabled
	cfg.Keyspace.ConfigureNotifications = c.Keyspace.ConfigureNotifications
	cfg.Keyspace.Database = c.Redis.DB
	cfg.Events.MaxPending = c.Events.MaxPending
	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.Enabled && c.Metrics.Latency

	if err := cfg.Validate(); err != nil {
		return goSession.Config{}, err
	}
	return cfg, nil
}

// RedisOptions builds client options for redis.NewUniversalClient.
func (c *DaemonConfig) RedisOptions() *redis.UniversalOptions {
	dial, err := time.ParseDuration(c.Redis.DialTimeout)
	if err != nil {
		dial = 5 * time.Second
	}
	return &redis.UniversalOptions{
		Addrs:       c.Redis.Addrs,
		Username:    c.Redis.Username,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		MasterName:  c.Redis.MasterName,
		DialTimeout: dial,
	}
}
