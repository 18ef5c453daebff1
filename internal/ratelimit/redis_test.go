package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestRedis connects to a local Redis instance and clears test keys.
// Tests that call this helper require a running Redis on localhost:6379.
func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cfg := DefaultConfig()
	cfg.KeyPrefix = "test:rl:msg:"
	clean := func() {
		iter := client.Scan(ctx, 0, cfg.KeyPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return NewRedis(client, cfg)
}

func TestRedis_LimitAndCount(t *testing.T) {
	l := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		ok, err := l.Allow(ctx, "u1")
		if err != nil || !ok {
			t.Fatalf("send %d: ok=%v err=%v", i+1, ok, err)
		}
		if err := l.Record(ctx, "u1"); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if ok, _ := l.Allow(ctx, "u1"); ok {
		t.Fatal("11th send should be rejected")
	}
	n, err := l.LimitedCount(ctx)
	if err != nil {
		t.Fatalf("LimitedCount: %v", err)
	}
	if n != 1 {
		t.Errorf("LimitedCount = %d, want 1", n)
	}
}

func TestRedis_WindowSlides(t *testing.T) {
	l := newTestRedis(t)
	ctx := context.Background()
	base := time.Now()
	l.now = func() time.Time { return base }

	for i := 0; i < 10; i++ {
		l.Record(ctx, "u2")
	}
	l.now = func() time.Time { return base.Add(61 * time.Second) }
	if ok, _ := l.Allow(ctx, "u2"); !ok {
		t.Fatal("expected window to have slid")
	}
}

func TestRedis_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer client.Close()

	ok, err := NewRedis(client, DefaultConfig()).Allow(context.Background(), "u1")
	if !ok {
		t.Fatal("expected fail-open when redis is unreachable")
	}
	if err == nil {
		t.Error("expected the redis error to be reported")
	}
}
