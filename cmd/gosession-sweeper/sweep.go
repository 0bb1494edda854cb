package main

import (
	"context"
	"fmt"
	"io"

	goSession "github.com/MrEthical07/goSession"
	"github.com/spf13/cobra"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiration sweep over every due bucket and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, opts, "sweep", func(ctx context.Context, e *goSession.Engine) (goSession.SweepResult, error) {
				return e.Sweep(ctx)
			})
		},
	}
}

func newReindexCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the expiration index from the stored sessions and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, opts, "reindex", func(ctx context.Context, e *goSession.Engine) (goSession.SweepResult, error) {
				return e.Reindex(ctx)
			})
		},
	}
}

func runOnce(cmd *cobra.Command, opts *rootOptions, name string, fn func(context.Context, *goSession.Engine) (goSession.SweepResult, error)) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}

	var handlers []goSession.EventHandler
	if cfg.Events.LogEvents {
		handlers = append(handlers, goSession.NewJSONWriterSink(cmd.OutOrStdout()).Handle)
	}
	engine, client, err := openEngine(cfg, newLogger(cmd, cfg), handlers...)
	if err != nil {
		return err
	}
	defer func() {
		engine.Close()
		_ = client.Close()
	}()

	result, err := fn(cmd.Context(), engine)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	printResult(cmd.OutOrStdout(), name, result)
	return nil
}

func printResult(w io.Writer, name string, r goSession.SweepResult) {
	fmt.Fprintf(w, "%s: buckets=%d skipped=%d expired=%d reindexed=%d missing=%d corrupt=%d duration=%s\n",
		name, r.Buckets, r.Skipped, r.Expired, r.Reindexed, r.Missing, r.Corrupt, r.Duration)
}
