// Package ratelimit guards message sends with a per-user sliding window. Two
// backends share the Limiter interface: an in-memory window for the
// single-process deployment and a Redis sorted-set window that survives
// restarts.
package ratelimit

import (
	"context"
	"time"
)

// Config defines the sliding-window policy.
type Config struct {
	Limit         int           // max sends inside Window
	Window        time.Duration // trailing window length
	SweepInterval time.Duration // how often stale in-memory records are dropped
	KeyPrefix     string        // Redis key prefix
}

// DefaultConfig allows 10 messages per trailing 60 seconds per user.
func DefaultConfig() Config {
	return Config{
		Limit:         10,
		Window:        60 * time.Second,
		SweepInterval: 60 * time.Second,
		KeyPrefix:     "rl:msg:",
	}
}

// Limiter checks and records sends. Allow never records; callers invoke
// Record only once the guarded action has succeeded.
type Limiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
	Record(ctx context.Context, userID string) error
	LimitedCount(ctx context.Context) (int, error)
}
