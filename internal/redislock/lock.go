package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps Redis failures while acquiring or releasing a lock.
var ErrRedisUnavailable = errors.New("redis unavailable")

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseLua = redis.NewScript(releaseScript)

// Locker acquires token-checked locks under a key prefix.
type Locker struct {
	redis  redis.UniversalClient
	prefix string
}

// Lock is a held lock. Release is safe to call more than once.
type Lock struct {
	locker *Locker
	key    string
	token  string
}

// New creates a Locker. Lock keys are prefix + name.
func New(client redis.UniversalClient, prefix string) *Locker {
	return &Locker{
		redis:  client,
		prefix: prefix,
	}
}

// TryAcquire attempts SET NX PX once. It returns (nil, nil) when another holder owns
// the lock.
func (l *Locker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	key := l.prefix + name
	token := uuid.NewString()

	ok, err := l.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lock{locker: l, key: key, token: token}, nil
}

// Release deletes the lock only if it is still held by this token.
func (lk *Lock) Release(ctx context.Context) error {
	if lk == nil || lk.token == "" {
		return nil
	}
	err := releaseLua.Run(ctx, lk.locker.redis, []string{lk.key}, lk.token).Err()
	lk.token = ""
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
