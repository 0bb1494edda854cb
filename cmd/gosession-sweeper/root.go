package main

import (
	"fmt"
	"log/slog"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal/config"
	"github.com/MrEthical07/goSession/internal/logging"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "gosession-sweeper",
		Short:         "Expire Redis-backed sessions and publish lifecycle events",
		Long:          `gosession-sweeper runs the bucketed expiration sweep and the keyspace expiry listener for a goSession deployment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "path to gosession.yaml (default: ./gosession.yaml or /etc/gosession/gosession.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	cmd.AddCommand(
		newRunCmd(opts),
		newSweepCmd(opts),
		newReindexCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func (o *rootOptions) load() (*config.DaemonConfig, error) {
	loader := config.NewLoader(o.configFile)
	if o.logLevel != "" {
		loader.Set("log.level", o.logLevel)
	}
	return loader.Load()
}

func newLogger(cmd *cobra.Command, cfg *config.DaemonConfig) *slog.Logger {
	return logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format == "json")
}

// openEngine connects to Redis and builds an engine that the caller must close
// together with the returned client.
func openEngine(cfg *config.DaemonConfig, logger *slog.Logger, handlers ...goSession.EventHandler) (*goSession.Engine, redis.UniversalClient, error) {
	engineCfg, err := cfg.ToEngineConfig()
	if err != nil {
		return nil, nil, err
	}

	client := redis.NewUniversalClient(cfg.RedisOptions())
	builder := goSession.New().
		WithConfig(engineCfg).
		WithRedis(client).
		WithLogger(logger)
	for _, h := range handlers {
		builder = builder.WithEventHandler(h)
	}

	engine, err := builder.Build()
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("build engine: %w", err)
	}
	return engine, client, nil
}
