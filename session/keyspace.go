package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	notifyKeyspaceEvents = "notify-keyspace-events"
	keyspaceEventExpired = "expired"
)

// KeyspaceListener turns Redis keyspace expiry notifications for session expiry
// markers into passive expirations reconciled with the index.
type KeyspaceListener struct {
	store  *Store
	db     int
	logger *slog.Logger
}

// NewKeyspaceListener creates a listener for store on Redis logical database db.
func NewKeyspaceListener(store *Store, db int, logger *slog.Logger) *KeyspaceListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &KeyspaceListener{
		store:  store,
		db:     db,
		logger: logger,
	}
}

// EnableNotifications makes sure the server publishes keyspace events for expired
// keys. Managed Redis offerings often reject CONFIG; callers should log the error
// and rely on the sweep.
func (l *KeyspaceListener) EnableNotifications(ctx context.Context) error {
	current, err := l.store.redis.ConfigGet(ctx, notifyKeyspaceEvents).Result()
	if err != nil {
		return fmt.Errorf("%w: config get: %v", ErrStoreUnavailable, err)
	}

	flags := current[notifyKeyspaceEvents]
	next := mergeNotifyFlags(flags)
	if next == flags {
		return nil
	}

	if err := l.store.redis.ConfigSet(ctx, notifyKeyspaceEvents, next).Err(); err != nil {
		return fmt.Errorf("%w: config set: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// mergeNotifyFlags adds keyspace (K) and expired (x) classes to an existing
// notify-keyspace-events value. "A" already implies x.
func mergeNotifyFlags(flags string) string {
	next := flags
	if !strings.Contains(next, "K") {
		next += "K"
	}
	if !strings.Contains(next, "x") && !strings.Contains(next, "A") {
		next += "x"
	}
	return next
}

// Pattern returns the PSUBSCRIBE pattern for expiry marker notifications.
func (l *KeyspaceListener) Pattern() string {
	return l.channelPrefix() + "*"
}

func (l *KeyspaceListener) channelPrefix() string {
	return fmt.Sprintf("__keyspace@%d__:%s", l.db, l.store.markerPrefix())
}

// Run subscribes to marker notifications and handles them until ctx is cancelled.
func (l *KeyspaceListener) Run(ctx context.Context) error {
	pubsub := l.store.redis.PSubscribe(ctx, l.Pattern())
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: psubscribe: %v", ErrStoreUnavailable, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			l.handle(ctx, msg)
		}
	}
}

func (l *KeyspaceListener) handle(ctx context.Context, msg *redis.Message) {
	if msg == nil || msg.Payload != keyspaceEventExpired {
		return
	}
	id, ok := strings.CutPrefix(msg.Channel, l.channelPrefix())
	if !ok || id == "" {
		return
	}
	if err := l.store.ExpirePassive(context.WithoutCancel(ctx), id); err != nil {
		l.logger.Warn("passive expiry reconciliation failed", "session_id", id, "err", err)
	}
}
