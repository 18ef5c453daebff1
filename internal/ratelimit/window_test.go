package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func newTestWindow() (*Window, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewWindow(DefaultConfig(), clock.Now), clock
}

func TestWindow_TenPerMinute(t *testing.T) {
	w, _ := newTestWindow()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		ok, _ := w.Allow(ctx, "u1")
		if !ok {
			t.Fatalf("send %d should be allowed", i+1)
		}
		w.Record(ctx, "u1")
	}
	if ok, _ := w.Allow(ctx, "u1"); ok {
		t.Fatal("11th send within the window should be rejected")
	}
	if ok, _ := w.Allow(ctx, "u2"); !ok {
		t.Fatal("other users must not be affected")
	}
}

func TestWindow_AllowDoesNotRecord(t *testing.T) {
	w, _ := newTestWindow()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if ok, _ := w.Allow(ctx, "u1"); !ok {
			t.Fatalf("check %d rejected although nothing was recorded", i+1)
		}
	}
}

func TestWindow_Slides(t *testing.T) {
	w, clock := newTestWindow()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		w.Record(ctx, "u1")
		clock.Advance(time.Second)
	}
	if ok, _ := w.Allow(ctx, "u1"); ok {
		t.Fatal("expected limit to be reached")
	}

	// The first send was at t=0; after t=60s it leaves the window.
	clock.Advance(51 * time.Second)
	if ok, _ := w.Allow(ctx, "u1"); !ok {
		t.Fatal("expected oldest send to have slid out of the window")
	}
}

func TestWindow_LimitedCount(t *testing.T) {
	w, clock := newTestWindow()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		w.Record(ctx, "spammer")
	}
	w.Record(ctx, "casual")

	if n, _ := w.LimitedCount(ctx); n != 1 {
		t.Fatalf("LimitedCount = %d, want 1", n)
	}
	clock.Advance(61 * time.Second)
	if n, _ := w.LimitedCount(ctx); n != 0 {
		t.Fatalf("LimitedCount after window = %d, want 0", n)
	}
}

func TestWindow_Sweep(t *testing.T) {
	w, clock := newTestWindow()
	ctx := context.Background()

	w.Record(ctx, "old")
	clock.Advance(30 * time.Second)
	w.Record(ctx, "recent")
	clock.Advance(31 * time.Second)

	if removed := w.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed %d, want 1", removed)
	}
	if w.Tracked() != 1 {
		t.Fatalf("Tracked = %d, want 1", w.Tracked())
	}
}

func TestWindow_RunStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SweepInterval = time.Millisecond
	w := NewWindow(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
