package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GOSESSION_REDIS_DB.
const EnvPrefix = "GOSESSION"

// Loader reads DaemonConfig through its own viper instance.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a loader for configFile. An empty path searches for
// gosession.yaml in the working directory and /etc/gosession.
func NewLoader(configFile string) *Loader {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("gosession")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/gosession")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v, Defaults())
	return &Loader{v: v}
}

// setDefaults registers every key so AutomaticEnv can override it without a file.
func setDefaults(v *viper.Viper, d DaemonConfig) {
	v.SetDefault("redis.addrs", d.Redis.Addrs)
	v.SetDefault("redis.username", d.Redis.Username)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.master_name", d.Redis.MasterName)
	v.SetDefault("redis.dial_timeout", d.Redis.DialTimeout)

	v.SetDefault("session.prefix", d.Session.Prefix)
	v.SetDefault("session.max_inactive_interval", d.Session.MaxInactiveInterval)

	v.SetDefault("expiration.enabled", d.Expiration.Enabled)
	v.SetDefault("expiration.bucket_width", d.Expiration.BucketWidth)
	v.SetDefault("expiration.sweep_interval", d.Expiration.SweepInterval)
	v.SetDefault("expiration.safety_margin", d.Expiration.SafetyMargin)
	v.SetDefault("expiration.sweep_lock", d.Expiration.SweepLock)
	v.SetDefault("expiration.sweep_lock_ttl", d.Expiration.SweepLockTTL)
	v.SetDefault("expiration.reindex_on_start", d.Expiration.ReindexOnStart)

	v.SetDefault("keyspace.enabled", d.Keyspace.Enabled)
	v.SetDefault("keyspace.configure_notifications", d.Keyspace.ConfigureNotifications)

	v.SetDefault("events.max_pending", d.Events.MaxPending)
	v.SetDefault("events.log_events", d.Events.LogEvents)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.latency", d.Metrics.Latency)
	v.SetDefault("metrics.listen_addr", d.Metrics.ListenAddr)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Set overrides one key, typically from a CLI flag.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// Load reads the config file (if any), applies environment overrides and validates
// the result. A missing file is not an error when no explicit path was given.
func (l *Loader) Load() (*DaemonConfig, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg DaemonConfig
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// GOSESSION_REDIS_ADDRS="a:6379, b:6379" is split on commas by viper's decode hook.
	for i := range cfg.Redis.Addrs {
		cfg.Redis.Addrs[i] = strings.TrimSpace(cfg.Redis.Addrs[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the loaded file path, or "" when running on env and defaults.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}
