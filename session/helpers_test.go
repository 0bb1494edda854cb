package session

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// testEpoch is aligned to a one-minute bucket boundary.
var testEpoch = time.UnixMilli(1_700_000_040_000)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, event Event) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
}

func (p *recordingPublisher) count(typ EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) snapshot() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

type storeFixture struct {
	store  *Store
	rdb    *redis.Client
	mr     *miniredis.Miniredis
	clock  *fakeClock
	events *recordingPublisher
}

func newSessionStoreTest(t *testing.T, opts ...Option) *storeFixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	clock := newFakeClock(testEpoch)
	events := &recordingPublisher{}
	base := []Option{
		WithClock(clock.Now),
		WithPublisher(events),
		WithBucketWidth(time.Minute),
	}
	store := NewStore(rdb, "gs", append(base, opts...)...)

	return &storeFixture{
		store:  store,
		rdb:    rdb,
		mr:     mr,
		clock:  clock,
		events: events,
	}
}

func (f *storeFixture) saveNew(t *testing.T, attrs map[string]any) *Session {
	t.Helper()
	sess := f.store.CreateSession()
	for k, v := range attrs {
		sess.SetAttribute(k, v)
	}
	if err := f.store.Save(context.Background(), sess); err != nil {
		t.Fatalf("save session: %v", err)
	}
	return sess
}

func (f *storeFixture) bucketMembers(t *testing.T, bucket int64) []string {
	t.Helper()
	members, err := f.rdb.SMembers(context.Background(), f.store.bucketKey(bucket)).Result()
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	return members
}

func redisZ(score int64) redis.Z {
	return redis.Z{Score: float64(score), Member: strconv.FormatInt(score, 10)}
}
