package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestSweepExpiresSessionAtBucketTime(t *testing.T) {
	f := newSessionStoreTest(t)
	ctx := context.Background()
	tracker := NewTracker(f.store)

	sess := f.saveNew(t, nil)
	bucket := BucketFor(sess.ExpiresAt(), time.Minute)
	if want := testEpoch.Add(1860 * time.Second).UnixMilli(); bucket != want {
		t.Fatalf("expected bucket %d, got %d", want, bucket)
	}

	f.clock.Advance(1859 * time.Second)
	result, err := tracker.Sweep(ctx)
	if err != nil {
		t.Fatalf("early sweep: %v", err)
	}
	if result.Expired != 0 || result.Buckets != 0 {
		t.Fatalf("expected nothing due before bucket time, got %+v", result)
	}

	f.clock.Advance(time.Second)
	result, err = tracker.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Expired != 1 || result.Buckets != 1 {
		t.Fatalf("expected one expired session in one bucket, got %+v", result)
	}
	if n := f.events.count(EventExpired); n != 1 {
		t.Fatalf("expected one expired event, got %d", n)
	}
	if f.mr.Exists(f.store.sessionKey(sess.ID())) {
		t.Fatal("expected record to be deleted by sweep")
	}
	if f.mr.Exists(f.store.bucketKey(bucket)) {
		t.Fatal("expected drained bucket to be removed")
	}
	buckets, err := f.rdb.ZCard(ctx, f.store.registryKey()).Result()
	if err != nil {
		t.Fatalf("zcard: %v", err)
	}
	if buckets != 0 {
		t.Fatalf("expected empty bucket registry, got %d", buckets)
	}

	result, err = tracker.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if result.Expired != 0 || f.events.count(EventExpired) != 1 {
		t.Fatalf("expected second sweep to be a no-op, got %+v", result)
	}
}

func TestSweepSkipsTouchedSession(t *testing.T) {
	f := newSessionStoreTest(t)
	ctx := context.Background()
	tracker := NewTracker(f.store)
	sess := f.saveNew(t, nil)

	f.clock.Advance(10 * time.Minute)
	if _, err := f.store.Load(ctx, sess.ID()); err != nil {
		t.Fatalf("load: %v", err)
	}

	f.clock.Advance(30*time.Minute - 10*time.Minute + time.Minute)
	result, err := tracker.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Expired != 0 {
		t.Fatalf("expected touched session to survive, got %+v", result)
	}
	if _, err := f.store.Load(ctx, sess.ID()); err != nil {
		t.Fatalf("expected session alive after sweep: %v", err)
	}
}

func TestSweepReindexesStaleMembership(t *testing.T) {
	f := newSessionStoreTest(t)
	ctx := context.Background()
	tracker := NewTracker(f.store)
	sess := f.saveNew(t, nil)

	// Simulate a crash that left the id in an early bucket.
	stale := testEpoch.Add(2 * time.Minute).UnixMilli()
	if err := f.rdb.SAdd(ctx, f.store.bucketKey(stale), sess.ID()).Err(); err != nil {
		t.Fatalf("sadd: %v", err)
	}
	if err := f.rdb.ZAdd(ctx, f.store.registryKey(), redisZ(stale)).Err(); err != nil {
		t.Fatalf("zadd: %v", err)
	}

	f.clock.Advance(3 * time.Minute)
	result, err := tracker.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Reindexed != 1 || result.Expired != 0 {
		t.Fatalf("expected one reindexed session, got %+v", result)
	}
	if members := f.bucketMembers(t, stale); len(members) != 0 {
		t.Fatalf("expected stale bucket drained, got %v", members)
	}
	members := f.bucketMembers(t, BucketFor(sess.ExpiresAt(), time.Minute))
	if len(members) != 1 {
		t.Fatalf("expected correct bucket to keep the session, got %v", members)
	}
}

func TestSweepCountsMissingRecords(t *testing.T) {
	f := newSessionStoreTest(t)
	ctx := context.Background()
	tracker := NewTracker(f.store)
	sess := f.saveNew(t, nil)
	bucket := BucketFor(sess.ExpiresAt(), time.Minute)

	f.mr.Del(f.store.sessionKey(sess.ID()))
	f.clock.Advance(31 * time.Minute)

	result, err := tracker.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Missing != 1 || result.Expired != 0 {
		t.Fatalf("expected one missing session, got %+v", result)
	}
	if f.events.count(EventExpired) != 0 {
		t.Fatal("expected no event for an already removed record")
	}
	if f.mr.Exists(f.store.bucketKey(bucket)) {
		t.Fatal("expected bucket removed")
	}
}

func TestSweepDeletesCorruptRecordSilently(t *testing.T) {
	f := newSessionStoreTest(t)
	ctx := context.Background()
	tracker := NewTracker(f.store)
	sess := f.saveNew(t, nil)

	f.mr.HSet(f.store.sessionKey(sess.ID()), fieldLastAccessedTime, "not-a-number")
	f.clock.Advance(31 * time.Minute)

	result, err := tracker.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Corrupt != 1 {
		t.Fatalf("expected one corrupt record, got %+v", result)
	}
	if f.mr.Exists(f.store.sessionKey(sess.ID())) {
		t.Fatal("expected corrupt record deleted")
	}
	if f.events.count(EventExpired) != 0 {
		t.Fatal("expected no expired event for corrupt record")
	}
}

func TestSweepAndPassiveExpiryPublishOnce(t *testing.T) {
	f := newSessionStoreTest(t)
	ctx := context.Background()
	tracker := NewTracker(f.store)

	ids := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		ids = append(ids, f.saveNew(t, nil).ID())
	}
	f.clock.Advance(31 * time.Minute)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := tracker.Sweep(ctx); err != nil {
			t.Errorf("sweep: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		for _, id := range ids {
			if err := f.store.ExpirePassive(ctx, id); err != nil {
				t.Errorf("passive expire: %v", err)
			}
		}
	}()
	wg.Wait()

	if n := f.events.count(EventExpired); n != len(ids) {
		t.Fatalf("expected %d expired events, got %d", len(ids), n)
	}
	seen := make(map[string]int)
	for _, e := range f.events.snapshot() {
		if e.Type == EventExpired {
			seen[e.SessionID]++
		}
	}
	for _, id := range ids {
		if seen[id] != 1 {
			t.Fatalf("expected exactly one expired event for %s, got %d", id, seen[id])
		}
	}
}

func TestSweepSkipsLockedBucket(t *testing.T) {
	f := newSessionStoreTest(t)
	ctx := context.Background()
	tracker := NewTracker(f.store, WithSweepLock(time.Minute))
	sess := f.saveNew(t, nil)
	bucket := BucketFor(sess.ExpiresAt(), time.Minute)

	lockKey := f.store.prefix + sweepLockKeyInfix + sweepLockNamePrefix + strconv.FormatInt(bucket, 10)
	if err := f.mr.Set(lockKey, "other-worker"); err != nil {
		t.Fatalf("set lock: %v", err)
	}
	f.clock.Advance(31 * time.Minute)

	result, err := tracker.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Skipped != 1 || result.Expired != 0 {
		t.Fatalf("expected locked bucket skipped, got %+v", result)
	}

	f.mr.Del(lockKey)
	result, err = tracker.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep after unlock: %v", err)
	}
	if result.Expired != 1 {
		t.Fatalf("expected session expired after unlock, got %+v", result)
	}
	if f.mr.Exists(lockKey) {
		t.Fatal("expected sweep lock released")
	}
}

func TestSweepDropsMalformedRegistryEntry(t *testing.T) {
	f := newSessionStoreTest(t)
	ctx := context.Background()
	if _, err := f.mr.ZAdd(f.store.registryKey(), 1, "garbage"); err != nil {
		t.Fatalf("zadd: %v", err)
	}

	if _, err := NewTracker(f.store).Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	n, err := f.rdb.ZCard(ctx, f.store.registryKey()).Result()
	if err != nil {
		t.Fatalf("zcard: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected malformed entry removed, got %d entries", n)
	}
}

func TestSweepReportsUnavailableStore(t *testing.T) {
	f := newSessionStoreTest(t)
	f.mr.Close()
	if _, err := NewTracker(f.store).Sweep(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestTrackerIntervalClampedToBucketWidth(t *testing.T) {
	f := newSessionStoreTest(t)
	if got := NewTracker(f.store, WithSweepInterval(time.Hour)).Interval(); got != time.Minute {
		t.Fatalf("expected interval clamped to 1m, got %v", got)
	}
	if got := NewTracker(f.store, WithSweepInterval(10*time.Second)).Interval(); got != 10*time.Second {
		t.Fatalf("expected 10s interval, got %v", got)
	}
}

func TestTrackerRunInvokesHookAndStops(t *testing.T) {
	f := newSessionStoreTest(t, WithBucketWidth(20*time.Millisecond))
	f.saveNew(t, nil)
	f.clock.Advance(time.Hour)

	results := make(chan SweepResult, 16)
	tracker := NewTracker(f.store, WithSweepHook(func(r SweepResult, err error) {
		if err == nil {
			select {
			case results <- r:
			default:
			}
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tracker.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	expired := 0
	for expired == 0 {
		select {
		case r := <-results:
			expired += r.Expired
		case <-deadline:
			cancel()
			t.Fatal("timed out waiting for sweep")
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not stop")
	}
}

func TestReindexRebuildsLostIndex(t *testing.T) {
	f := newSessionStoreTest(t)
	ctx := context.Background()
	alive := f.saveNew(t, nil)

	f.clock.Advance(20 * time.Minute)
	fresh := f.saveNew(t, nil)
	f.clock.Advance(11 * time.Minute)

	f.mr.Del(f.store.registryKey())
	for _, s := range []*Session{alive, fresh} {
		f.mr.Del(f.store.bucketKey(BucketFor(s.ExpiresAt(), time.Minute)))
	}

	result, err := f.store.Reindex(ctx)
	if err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if result.Expired != 1 || result.Reindexed != 1 {
		t.Fatalf("expected one expired and one reindexed, got %+v", result)
	}
	members := f.bucketMembers(t, BucketFor(fresh.ExpiresAt(), time.Minute))
	if len(members) != 1 || members[0] != fresh.ID() {
		t.Fatalf("expected fresh session indexed, got %v", members)
	}
	events := f.events.snapshot()
	if last := events[len(events)-1]; last.Type != EventExpired || last.Source != SourceReindex || last.SessionID != alive.ID() {
		t.Fatalf("unexpected last event %+v", last)
	}
}
