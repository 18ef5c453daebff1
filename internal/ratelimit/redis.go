package ratelimit

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis is a sliding-window limiter backed by one sorted set per user, scored
// by send time in milliseconds. Keys expire after one idle window, so no
// sweep is needed.
type Redis struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time
}

var _ Limiter = (*Redis)(nil)

// NewRedis creates a Limiter backed by the given Redis client.
func NewRedis(client *redis.Client, cfg Config) *Redis {
	return &Redis{client: client, cfg: cfg, now: time.Now}
}

// Allow trims the user's window and compares its size to the limit. On Redis
// errors it fails open so an outage does not block legitimate traffic.
func (l *Redis) Allow(ctx context.Context, userID string) (bool, error) {
	key := l.cfg.KeyPrefix + userID
	cutoff := l.now().Add(-l.cfg.Window).UnixMilli()

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[ratelimit] redis window error key=%s: %v (failing open)", key, err)
		return true, err
	}
	return int(card.Val()) < l.cfg.Limit, nil
}

// Record adds a send to the user's window and refreshes its expiry.
func (l *Redis) Record(ctx context.Context, userID string) error {
	key := l.cfg.KeyPrefix + userID
	now := l.now()

	pipe := l.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
	pipe.PExpire(ctx, key, l.cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[ratelimit] redis record error key=%s: %v", key, err)
		return err
	}
	return nil
}

// LimitedCount scans every window key and counts users at the limit.
func (l *Redis) LimitedCount(ctx context.Context) (int, error) {
	cutoff := strconv.FormatInt(l.now().Add(-l.cfg.Window).UnixMilli(), 10)
	n := 0
	iter := l.client.Scan(ctx, 0, l.cfg.KeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		count, err := l.client.ZCount(ctx, iter.Val(), "("+cutoff, "+inf").Result()
		if err != nil {
			return n, err
		}
		if int(count) >= l.cfg.Limit {
			n++
		}
	}
	return n, iter.Err()
}
