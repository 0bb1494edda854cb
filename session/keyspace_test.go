package session

import (
	"context"
	"testing"
	"time"
)

func TestMergeNotifyFlags(t *testing.T) {
	cases := map[string]string{
		"":     "Kx",
		"Ex":   "ExK",
		"KA":   "KA",
		"Kx":   "Kx",
		"Kgx$": "Kgx$",
		"El":   "ElKx",
	}
	for in, want := range cases {
		if got := mergeNotifyFlags(in); got != want {
			t.Fatalf("mergeNotifyFlags(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestKeyspaceListenerPattern(t *testing.T) {
	f := newSessionStoreTest(t)
	l := NewKeyspaceListener(f.store, 3, nil)
	if got, want := l.Pattern(), "__keyspace@3__:gs:sessions:expires:*"; got != want {
		t.Fatalf("expected pattern %q, got %q", want, got)
	}
}

func TestKeyspaceListenerExpiresOnMarkerNotification(t *testing.T) {
	f := newSessionStoreTest(t)
	sess := f.saveNew(t, nil)
	other := f.saveNew(t, nil)
	f.clock.Advance(DefaultMaxInactiveInterval + time.Second)

	l := NewKeyspaceListener(f.store, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	waitForPatternSubscriber(t, f)

	channel := "__keyspace@0__:" + f.store.markerKey(sess.ID())
	// Non-expiry events and foreign keys are ignored.
	f.rdb.Publish(ctx, channel, "set")
	f.rdb.Publish(ctx, "__keyspace@0__:gs:sessions:"+other.ID(), "expired")
	f.rdb.Publish(ctx, channel, "expired")

	deadline := time.Now().Add(2 * time.Second)
	for f.events.count(EventExpired) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for expired event")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A second notification for the same id publishes nothing new.
	f.rdb.Publish(ctx, channel, "expired")
	time.Sleep(50 * time.Millisecond)

	events := f.events.snapshot()
	expired := 0
	for _, e := range events {
		if e.Type != EventExpired {
			continue
		}
		expired++
		if e.SessionID != sess.ID() || e.Source != SourceKeyspace {
			t.Fatalf("unexpected event %+v", e)
		}
	}
	if expired != 1 {
		t.Fatalf("expected one expired event, got %d", expired)
	}
	if !f.mr.Exists(f.store.sessionKey(other.ID())) {
		t.Fatal("expected unrelated session to remain")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func waitForPatternSubscriber(t *testing.T, f *storeFixture) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := f.rdb.PubSubNumPat(context.Background()).Result()
		if err == nil && n > 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("pattern subscription not registered (n=%d err=%v)", n, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
