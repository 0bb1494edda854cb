package goSession_test

import (
	"context"
	"errors"
	"fmt"

	goSession "github.com/MrEthical07/goSession"
	"github.com/redis/go-redis/v9"
)

// ExampleNew demonstrates engine construction with production-style dependencies.
func ExampleNew() {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})

	cfg := goSession.DefaultConfig()
	cfg.Session.RedisPrefix = "myapp"

	engine, _ := goSession.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithMetricsEnabled(true).
		Build()
	_ = engine
}

// ExampleEngine_GetSession shows the load, modify, save cycle and error handling.
func ExampleEngine_GetSession() {
	var engine *goSession.Engine
	ctx := context.Background()

	sess, err := engine.GetSession(ctx, "session-id")
	switch {
	case errors.Is(err, goSession.ErrNotFound):
		// expired, deleted or never existed
		return
	case err != nil:
		return
	}
	sess.SetAttribute("cart_items", 3)
	_ = engine.SaveSession(goSession.WithSession(ctx, sess), sess)
}

// ExampleEngine_Subscribe shows how to react to expirations.
func ExampleEngine_Subscribe() {
	var engine *goSession.Engine
	unsubscribe := engine.Subscribe(func(ctx context.Context, ev goSession.Event) {
		if ev.Type == goSession.EventExpired {
			fmt.Println("session expired:", ev.SessionID)
		}
	})
	defer unsubscribe()
}
