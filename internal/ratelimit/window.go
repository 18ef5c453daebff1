package ratelimit

import (
	"context"
	"log"
	"sync"
	"time"
)

// Window is an in-memory sliding-window limiter. Timestamps are pruned lazily
// on every check and a background sweep drops users whose whole window has
// expired.
type Window struct {
	cfg  Config
	now  func() time.Time
	mu   sync.Mutex
	hits map[string][]time.Time
}

var _ Limiter = (*Window)(nil)

// NewWindow creates an in-memory limiter. A nil now uses time.Now.
func NewWindow(cfg Config, now func() time.Time) *Window {
	if now == nil {
		now = time.Now
	}
	return &Window{cfg: cfg, now: now, hits: make(map[string][]time.Time)}
}

// Allow reports whether userID has sent fewer than Limit messages in the
// trailing window.
func (w *Window) Allow(_ context.Context, userID string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pruneLocked(userID, w.now())) < w.cfg.Limit, nil
}

// Record appends a send timestamp for userID.
func (w *Window) Record(_ context.Context, userID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.hits[userID] = append(w.pruneLocked(userID, now), now)
	return nil
}

// LimitedCount returns the number of users currently at or above the limit.
func (w *Window) LimitedCount(_ context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	n := 0
	for id := range w.hits {
		if len(w.pruneLocked(id, now)) >= w.cfg.Limit {
			n++
		}
	}
	return n, nil
}

// Sweep removes users whose every timestamp has left the window and returns
// how many were dropped.
func (w *Window) Sweep() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := w.now().Add(-w.cfg.Window)
	removed := 0
	for id, ts := range w.hits {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(w.hits, id)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of users with a live record.
func (w *Window) Tracked() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.hits)
}

// Run sweeps every SweepInterval until ctx is cancelled.
func (w *Window) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ratelimit] sweep loop stopped")
			return
		case <-ticker.C:
			if n := w.Sweep(); n > 0 {
				log.Printf("[ratelimit] sweep: dropped %d stale records", n)
			}
		}
	}
}

// pruneLocked drops timestamps outside the window for userID. Caller holds mu.
func (w *Window) pruneLocked(userID string, now time.Time) []time.Time {
	ts := w.hits[userID]
	cutoff := now.Add(-w.cfg.Window)
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		ts = append(ts[:0], ts[i:]...)
		w.hits[userID] = ts
	}
	return ts
}
