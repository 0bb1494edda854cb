package goSession

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func BenchmarkGetSession(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	sess := engine.CreateSession()
	sess.SetAttribute("user", "alice")
	if err := engine.SaveSession(context.Background(), sess); err != nil {
		b.Fatalf("save failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.GetSession(context.Background(), sess.ID()); err != nil {
			b.Fatalf("get failed: %v", err)
		}
	}
}

func BenchmarkSaveSessionDelta(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	sess := engine.CreateSession()
	sess.SetAttribute("user", "alice")
	if err := engine.SaveSession(context.Background(), sess); err != nil {
		b.Fatalf("save failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sess.SetAttribute("hits", i)
		if err := engine.SaveSession(context.Background(), sess); err != nil {
			b.Fatalf("save failed: %v", err)
		}
	}
}

func BenchmarkCreateAndDelete(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sess := engine.CreateSession()
		if err := engine.SaveSession(context.Background(), sess); err != nil {
			b.Fatalf("save failed: %v", err)
		}
		if err := engine.DeleteSession(context.Background(), sess.ID()); err != nil {
			b.Fatalf("delete failed: %v", err)
		}
	}
}

func newBenchmarkEngine(tb testing.TB) (*Engine, func()) {
	tb.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		tb.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := DefaultConfig()
	cfg.Keyspace.Enabled = false
	cfg.Metrics.Enabled = false

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		Build()
	if err != nil {
		tb.Fatalf("Build failed: %v", err)
	}

	return engine, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}
