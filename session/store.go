package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// ErrStoreUnavailable wraps transient Redis failures. Callers may retry with backoff.
var ErrStoreUnavailable = errors.New("session store unavailable")

// ErrCorruptRecord is returned when persisted session fields cannot be parsed.
var ErrCorruptRecord = errors.New("session record corrupt")

// ErrInvalidSession is returned when Save is called with a nil or id-less session.
var ErrInvalidSession = errors.New("invalid session")

const (
	// DefaultBucketWidth is the granularity of the expiration index.
	DefaultBucketWidth = time.Minute
	// DefaultSafetyMargin keeps the primary record readable after its logical expiry.
	DefaultSafetyMargin = 5 * time.Minute
)

const (
	expireMissing int64 = 0
	expireDone    int64 = 1
	expireAlive   int64 = 2
	expireCorrupt int64 = 3
)

const saveSessionScript = `
local id = ARGV[1]
local bucket_prefix = ARGV[2]
local width = tonumber(ARGV[3])
local is_new = ARGV[4] == "1"
local record_ttl = tonumber(ARGV[5])
local new_bucket = tonumber(ARGV[7])
local nset = tonumber(ARGV[9])
local now = tonumber(ARGV[10])

if redis.call("EXISTS", KEYS[1]) == 0 then
  if not is_new then
    return 0
  end
else
  local current = redis.call("HMGET", KEYS[1], "lastAccessedTime", "maxInactiveInterval")
  local last = tonumber(current[1])
  local max = tonumber(current[2])
  if last and max and max > 0 then
    if not is_new and last + max * 1000 <= now then
      return 0
    end
    local old_bucket = (math.floor((last + max * 1000) / width) + 1) * width
    if old_bucket ~= new_bucket then
      redis.call("SREM", bucket_prefix .. old_bucket, id)
    end
  end
end

if nset > 0 then
  redis.call("HSET", KEYS[1], unpack(ARGV, 11, 10 + nset))
end
if #ARGV > 10 + nset then
  redis.call("HDEL", KEYS[1], unpack(ARGV, 11 + nset, #ARGV))
end

if record_ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[5])
else
  redis.call("PERSIST", KEYS[1])
end

if new_bucket > 0 then
  redis.call("SET", KEYS[2], "", "PX", ARGV[6])
  redis.call("SADD", KEYS[4], id)
  redis.call("PEXPIRE", KEYS[4], ARGV[8])
  redis.call("ZADD", KEYS[3], ARGV[7], ARGV[7])
else
  redis.call("DEL", KEYS[2])
end

return 1
`

var saveSessionLua = redis.NewScript(saveSessionScript)

const deleteSessionScript = `
local width = tonumber(ARGV[3])
local current = redis.call("HMGET", KEYS[1], "lastAccessedTime", "maxInactiveInterval")
local last = tonumber(current[1])
local max = tonumber(current[2])
if last and max and max > 0 then
  local bucket = (math.floor((last + max * 1000) / width) + 1) * width
  redis.call("SREM", ARGV[2] .. bucket, ARGV[1])
end
redis.call("DEL", KEYS[2])
return redis.call("DEL", KEYS[1])
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// expireSessionScript re-validates a session against its persisted timestamps and
// either deletes it, re-indexes it, or clears a stale index entry. Only the caller
// that deletes the hash gets status 1, so at most one Expired event is published.
const expireSessionScript = `
local id = ARGV[1]
local bucket_prefix = ARGV[2]
local width = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local candidate = tonumber(ARGV[5])
local extra_ttl = tonumber(ARGV[6])

if redis.call("EXISTS", KEYS[1]) == 0 then
  redis.call("SREM", KEYS[3], id)
  redis.call("DEL", KEYS[2])
  return {0, 0}
end

local current = redis.call("HMGET", KEYS[1], "lastAccessedTime", "maxInactiveInterval")
local last = tonumber(current[1])
local max = tonumber(current[2])
if not last or not max then
  redis.call("SREM", KEYS[3], id)
  redis.call("DEL", KEYS[1], KEYS[2])
  return {3, 0}
end

if max <= 0 then
  redis.call("SREM", KEYS[3], id)
  redis.call("DEL", KEYS[2])
  return {2, 0}
end

local expires_at = last + max * 1000
local bucket = (math.floor(expires_at / width) + 1) * width

if expires_at <= now then
  redis.call("SREM", KEYS[3], id)
  redis.call("SREM", bucket_prefix .. bucket, id)
  redis.call("DEL", KEYS[1], KEYS[2])
  return {1, bucket}
end

if bucket ~= candidate then
  local bucket_key = bucket_prefix .. bucket
  redis.call("SREM", KEYS[3], id)
  redis.call("SADD", bucket_key, id)
  redis.call("PEXPIRE", bucket_key, bucket - now + extra_ttl)
  redis.call("ZADD", KEYS[4], bucket, bucket)
end

return {2, bucket}
`

var expireSessionLua = redis.NewScript(expireSessionScript)

// Store is a Redis-backed session store. Each session is a hash with one field per
// attribute, so concurrent writers of different attributes never lose updates.
type Store struct {
	redis        redis.UniversalClient
	prefix       string
	width        time.Duration
	margin       time.Duration
	maxInactive  time.Duration
	now          func() time.Time
	publisher    Publisher
	logger       *slog.Logger
	newSessionID func() string
}

// Option configures a [Store].
type Option func(*Store)

// WithBucketWidth sets the expiration index granularity.
func WithBucketWidth(width time.Duration) Option {
	return func(s *Store) {
		if width >= time.Millisecond {
			s.width = width
		}
	}
}

// WithSafetyMargin sets how long the primary record outlives its logical expiry.
func WithSafetyMargin(margin time.Duration) Option {
	return func(s *Store) {
		if margin >= 0 {
			s.margin = margin
		}
	}
}

// WithMaxInactiveInterval sets the interval given to sessions from [Store.CreateSession].
func WithMaxInactiveInterval(d time.Duration) Option {
	return func(s *Store) {
		s.maxInactive = d
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPublisher sets the receiver of lifecycle events.
func WithPublisher(p Publisher) Option {
	return func(s *Store) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithLogger sets the logger for corrupt records and index repairs.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIDGenerator replaces the UUID session id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.newSessionID = gen
		}
	}
}

// NewStore creates a session [Store] backed by the given Redis client. prefix sets
// the Redis key namespace.
func NewStore(client redis.UniversalClient, prefix string, opts ...Option) *Store {
	s := &Store{
		redis:        client,
		prefix:       prefix,
		width:        DefaultBucketWidth,
		margin:       DefaultSafetyMargin,
		maxInactive:  DefaultMaxInactiveInterval,
		now:          time.Now,
		publisher:    noopPublisher{},
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		newSessionID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// validID rejects ids that would place a session key inside the marker namespace.
func validID(id string) bool {
	return id != "" && !strings.Contains(id, ":")
}

func (s *Store) sessionKey(id string) string {
	return s.prefix + ":sessions:" + id
}

func (s *Store) markerPrefix() string {
	return s.prefix + ":sessions:expires:"
}

func (s *Store) markerKey(id string) string {
	return s.markerPrefix() + id
}

func (s *Store) bucketPrefix() string {
	return s.prefix + ":expirations:"
}

func (s *Store) bucketKey(bucket int64) string {
	return s.bucketPrefix() + strconv.FormatInt(bucket, 10)
}

func (s *Store) registryKey() string {
	return s.prefix + ":expiration-buckets"
}

// BucketWidth returns the expiration index granularity.
func (s *Store) BucketWidth() time.Duration {
	return s.width
}

// BucketFor returns the index bucket, in epoch milliseconds, of a session expiring
// at expiresAt: the first bucket boundary strictly after it.
func BucketFor(expiresAt time.Time, width time.Duration) int64 {
	w := width.Milliseconds()
	if w <= 0 {
		w = DefaultBucketWidth.Milliseconds()
	}
	ms := expiresAt.UnixMilli()
	return (ms/w + 1) * w
}

// CreateSession allocates a new, unsaved session with a fresh id.
func (s *Store) CreateSession() *Session {
	sess := New(s.newSessionID(), s.now(), s.maxInactive)
	sess.clock = s.now
	return sess
}

// Save persists the changed fields of sess, refreshes its TTLs and moves its
// expiration index membership, all in one atomic script. Saving a session whose
// record has since been deleted or whose persisted expiry has passed returns
// [ErrNotFound]; ids are never resurrected. Ids must not contain ':'.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess == nil || !validID(sess.id) {
		return ErrInvalidSession
	}

	wasNew := sess.isNew
	if err := s.persist(ctx, sess, s.now()); err != nil {
		return err
	}
	sess.clearDelta()

	if wasNew {
		s.publish(ctx, EventCreated, sess.id, SourceSave)
	}
	return nil
}

func (s *Store) persist(ctx context.Context, sess *Session, now time.Time) error {
	delta, err := encodeDelta(sess)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	var (
		bucket    int64
		recordTTL int64
		markerTTL int64
		bucketTTL int64
	)
	if expiresAt := sess.ExpiresAt(); !expiresAt.IsZero() {
		remaining := expiresAt.Sub(now)
		if remaining < time.Millisecond {
			remaining = time.Millisecond
		}
		bucket = BucketFor(expiresAt, s.width)
		markerTTL = remaining.Milliseconds()
		recordTTL = (remaining + s.margin).Milliseconds()
		floor := (s.margin + s.width).Milliseconds()
		bucketTTL = bucket - now.UnixMilli() + floor
		if bucketTTL < floor {
			bucketTTL = floor
		}
	}

	isNew := "0"
	if sess.isNew {
		isNew = "1"
	}

	args := make([]any, 0, 10+len(delta.set)+len(delta.hdel))
	args = append(args,
		sess.id,
		s.bucketPrefix(),
		s.width.Milliseconds(),
		isNew,
		recordTTL,
		markerTTL,
		bucket,
		bucketTTL,
		len(delta.set),
		now.UnixMilli(),
	)
	args = append(args, delta.set...)
	for _, f := range delta.hdel {
		args = append(args, f)
	}

	keys := []string{
		s.sessionKey(sess.id),
		s.markerKey(sess.id),
		s.registryKey(),
		s.bucketKey(bucket),
	}

	res, err := saveSessionLua.Run(ctx, s.redis, keys, args...).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if res == 0 {
		return ErrNotFound
	}
	return nil
}

// Load fetches a session by id. A successful load touches the session and persists
// the refreshed TTL and bucket; attributes are never rewritten by a load. Expired
// sessions are reported as [ErrNotFound] and left for the sweep or the keyspace
// listener to remove. Unparseable records return an error matching both
// [ErrNotFound] and [ErrCorruptRecord].
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}

	fields, err := s.redis.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	sess, err := decodeRecord(id, fields)
	if err != nil {
		s.logger.Warn("corrupt session record", "session_id", id, "err", err)
		return nil, errors.Join(ErrNotFound, err)
	}
	sess.clock = s.now

	now := s.now()
	if sess.IsExpired(now) {
		return nil, ErrNotFound
	}

	sess.lastAccessedTime = now
	if err := s.persist(ctx, sess, now); err != nil {
		return nil, err
	}
	return sess, nil
}

// Delete removes a session, its expiry marker and its index membership. Deleting an
// absent session is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return nil
	}

	removed, err := deleteSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.sessionKey(id), s.markerKey(id)},
		id,
		s.bucketPrefix(),
		s.width.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if removed > 0 {
		s.publish(ctx, EventDeleted, id, SourceDelete)
	}
	return nil
}

// ExpirePassive reconciles a backend expiry signal for id with the expiration index.
// It publishes Expired only if this call removed the record.
func (s *Store) ExpirePassive(ctx context.Context, id string) error {
	if !validID(id) {
		return nil
	}
	_, err := s.expire(ctx, id, 0, s.now(), SourceKeyspace)
	return err
}

// expire runs the expire script for id, found in candidate bucket (0 when unknown).
func (s *Store) expire(ctx context.Context, id string, candidate int64, now time.Time, source string) (int64, error) {
	res, err := expireSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.sessionKey(id), s.markerKey(id), s.bucketKey(candidate), s.registryKey()},
		id,
		s.bucketPrefix(),
		s.width.Milliseconds(),
		now.UnixMilli(),
		candidate,
		(s.margin + s.width).Milliseconds(),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	parts, ok := res.([]interface{})
	if !ok || len(parts) == 0 {
		return 0, fmt.Errorf("%w: invalid expire script response", ErrStoreUnavailable)
	}
	status, ok := parts[0].(int64)
	if !ok {
		return 0, fmt.Errorf("%w: invalid expire script status", ErrStoreUnavailable)
	}

	switch status {
	case expireDone:
		s.publish(ctx, EventExpired, id, source)
	case expireCorrupt:
		s.logger.Warn("removed corrupt session record", "session_id", id, "source", source)
	}
	return status, nil
}

// Reindex scans every session record and moves it to the bucket matching its
// persisted expiry, reaping sessions that are already expired. It repairs index
// entries lost to crashes or manual edits.
func (s *Store) Reindex(ctx context.Context) (result SweepResult, err error) {
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	var cursor uint64
	pattern := s.prefix + ":sessions:*"
	markers := s.markerPrefix()
	keyPrefix := s.prefix + ":sessions:"

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return result, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		for _, key := range keys {
			if strings.HasPrefix(key, markers) {
				continue
			}
			id := strings.TrimPrefix(key, keyPrefix)
			status, err := s.expire(ctx, id, 0, s.now(), SourceReindex)
			if err != nil {
				return result, err
			}
			result.record(status)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return result, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) publish(ctx context.Context, typ EventType, id, source string) {
	s.publisher.Publish(ctx, Event{
		Type:      typ,
		SessionID: id,
		Source:    source,
		Timestamp: s.now(),
	})
}
