package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/goSession/internal/redislock"
	"github.com/redis/go-redis/v9"
)

const removeEmptyBucketScript = `
if redis.call("SCARD", KEYS[1]) == 0 then
  redis.call("ZREM", KEYS[2], ARGV[1])
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`

var removeEmptyBucketLua = redis.NewScript(removeEmptyBucketScript)

const (
	defaultBucketBatch  = 100
	defaultMemberBatch  = 500
	defaultSweepLockTTL = 30 * time.Second
	sweepLockNamePrefix = "bucket:"
	sweepLockKeyInfix   = ":expirations:lock:"
	maxBucketsPerSweep  = 10000
)

// SweepResult summarizes one sweep or re-index pass.
type SweepResult struct {
	Buckets   int
	Skipped   int
	Expired   int
	Reindexed int
	Missing   int
	Corrupt   int
	Duration  time.Duration
}

func (r *SweepResult) record(status int64) {
	switch status {
	case expireDone:
		r.Expired++
	case expireAlive:
		r.Reindexed++
	case expireMissing:
		r.Missing++
	case expireCorrupt:
		r.Corrupt++
	}
}

func (r *SweepResult) add(o SweepResult) {
	r.Buckets += o.Buckets
	r.Skipped += o.Skipped
	r.Expired += o.Expired
	r.Reindexed += o.Reindexed
	r.Missing += o.Missing
	r.Corrupt += o.Corrupt
}

// Tracker expires sessions whose bucket time has passed, whether or not any client
// reads them again.
type Tracker struct {
	store    *Store
	interval time.Duration
	locker   *redislock.Locker
	lockTTL  time.Duration
	logger   *slog.Logger
	onSweep  func(SweepResult, error)
}

// TrackerOption configures a [Tracker].
type TrackerOption func(*Tracker)

// WithSweepInterval sets the tick period of [Tracker.Run]. Values above the bucket
// width are clamped to it.
func WithSweepInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithSweepLock enables per-bucket Redis locks so concurrent workers skip a bucket
// another worker is processing.
func WithSweepLock(ttl time.Duration) TrackerOption {
	return func(t *Tracker) {
		t.locker = redislock.New(t.store.redis, t.store.prefix+sweepLockKeyInfix)
		if ttl > 0 {
			t.lockTTL = ttl
		}
	}
}

// WithTrackerLogger sets the sweep logger.
func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithSweepHook registers a callback invoked after every sweep run by [Tracker.Run].
func WithSweepHook(fn func(SweepResult, error)) TrackerOption {
	return func(t *Tracker) {
		t.onSweep = fn
	}
}

// NewTracker creates an expiration tracker for store.
func NewTracker(store *Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:    store,
		interval: store.width,
		lockTTL:  defaultSweepLockTTL,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.interval > store.width {
		t.interval = store.width
	}
	return t
}

// Interval returns the sweep period.
func (t *Tracker) Interval() time.Duration {
	return t.interval
}

// Run sweeps every interval until ctx is cancelled. A sweep in progress finishes the
// bucket it is working on before Run returns.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			result, err := t.sweep(context.WithoutCancel(ctx), ctx.Done())
			if err != nil {
				t.logger.Warn("expiration sweep failed", "err", err)
			} else if result.Expired > 0 || result.Reindexed > 0 || result.Corrupt > 0 {
				t.logger.Debug("expiration sweep",
					"buckets", result.Buckets,
					"expired", result.Expired,
					"reindexed", result.Reindexed,
					"corrupt", result.Corrupt,
				)
			}
			if t.onSweep != nil {
				t.onSweep(result, err)
			}
		}
	}
}

// Sweep processes every bucket whose time has passed.
func (t *Tracker) Sweep(ctx context.Context) (SweepResult, error) {
	return t.sweep(ctx, ctx.Done())
}

func (t *Tracker) sweep(ctx context.Context, stop <-chan struct{}) (result SweepResult, err error) {
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	now := t.store.now()
	processed := 0

	for processed < maxBucketsPerSweep {
		buckets, err := t.store.redis.ZRangeByScore(ctx, t.store.registryKey(), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(now.UnixMilli(), 10),
			Count: defaultBucketBatch,
		}).Result()
		if err != nil {
			return result, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if len(buckets) == 0 {
			return result, nil
		}

		progressed := false
		for _, member := range buckets {
			select {
			case <-stop:
				return result, nil
			default:
			}

			bucket, err := strconv.ParseInt(member, 10, 64)
			if err != nil {
				t.logger.Warn("dropping malformed expiration bucket", "bucket", member)
				if err := t.store.redis.ZRem(ctx, t.store.registryKey(), member).Err(); err != nil {
					return result, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
				}
				progressed = true
				continue
			}

			br, removed, err := t.sweepBucket(ctx, bucket, now)
			result.add(br)
			processed++
			if err != nil {
				return result, err
			}
			if removed {
				progressed = true
			}
		}

		// Every remaining bucket is locked by another worker or still refilling.
		if !progressed {
			return result, nil
		}
	}

	return result, nil
}

// sweepBucket expires the members of one bucket and reports whether the bucket was
// removed from the registry.
func (t *Tracker) sweepBucket(ctx context.Context, bucket int64, now time.Time) (SweepResult, bool, error) {
	var result SweepResult

	if t.locker != nil {
		lock, err := t.locker.TryAcquire(ctx, sweepLockNamePrefix+strconv.FormatInt(bucket, 10), t.lockTTL)
		if err != nil {
			return result, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if lock == nil {
			result.Skipped++
			return result, false, nil
		}
		defer func() {
			if err := lock.Release(ctx); err != nil {
				t.logger.Warn("sweep lock release failed", "bucket", bucket, "err", err)
			}
		}()
	}

	result.Buckets++
	bucketKey := t.store.bucketKey(bucket)

	var cursor uint64
	for {
		ids, next, err := t.store.redis.SScan(ctx, bucketKey, cursor, "", defaultMemberBatch).Result()
		if err != nil {
			return result, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		for _, id := range ids {
			status, err := t.store.expire(ctx, id, bucket, now, SourceSweep)
			if err != nil {
				return result, false, err
			}
			result.record(status)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	removed, err := removeEmptyBucketLua.Run(
		ctx,
		t.store.redis,
		[]string{bucketKey, t.store.registryKey()},
		strconv.FormatInt(bucket, 10),
	).Int64()
	if err != nil {
		return result, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return result, removed == 1, nil
}
