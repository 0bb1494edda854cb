package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal/config"
	promexp "github.com/MrEthical07/goSession/metrics/export/prometheus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the expiration sweep and keyspace listener until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cmd, cfg)
		},
	}
}

func runDaemon(ctx context.Context, cmd *cobra.Command, cfg *config.DaemonConfig) error {
	logger := newLogger(cmd, cfg)

	var handlers []goSession.EventHandler
	if cfg.Events.LogEvents {
		handlers = append(handlers, goSession.NewJSONWriterSink(cmd.OutOrStdout()).Handle)
	}

	engine, client, err := openEngine(cfg, logger, handlers...)
	if err != nil {
		return err
	}
	defer func() {
		engine.Close()
		_ = client.Close()
	}()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	rtt, err := engine.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("connected to redis", "addrs", cfg.Redis.Addrs, "rtt", rtt)

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	var srv *http.Server
	serverErrors := make(chan error, 1)
	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddr != "" {
		srv = &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           newMetricsMux(engine, cfg.Metrics.Path),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("serving metrics", "addr", srv.Addr, "path", cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serverErrors:
		logger.Error("metrics server failed", "err", err)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown incomplete", "err", err)
			_ = srv.Close()
		}
	}
	return err
}

// newMetricsMux serves Prometheus metrics at path and a Redis health check at /healthz.
func newMetricsMux(engine *goSession.Engine, path string) *http.ServeMux {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promexp.NewPrometheusExporter(engine).Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if _, err := engine.Ping(ctx); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
