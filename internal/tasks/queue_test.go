package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueue_RunsSubmittedTasks(t *testing.T) {
	q := NewQueue(Config{Workers: 4, QueueSize: 16})

	var wg sync.WaitGroup
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		if err := q.Submit("count", func(ctx context.Context) error {
			defer wg.Done()
			n.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()

	if got := n.Load(); got != 10 {
		t.Fatalf("ran %d tasks, want 10", got)
	}
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestQueue_IsolatesFailures(t *testing.T) {
	q := NewQueue(Config{Workers: 1, QueueSize: 8})

	done := make(chan struct{})
	q.Submit("boom", func(ctx context.Context) error { panic("boom") })
	q.Submit("fail", func(ctx context.Context) error { return errors.New("nope") })
	q.Submit("ok", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive earlier failures")
	}
	q.Shutdown(context.Background())
}

func TestQueue_ShutdownCancelsAndRejects(t *testing.T) {
	q := NewQueue(Config{Workers: 1, QueueSize: 1})

	started := make(chan struct{})
	cancelled := make(chan struct{})
	q.Submit("long", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	<-started

	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-cancelled:
	default:
		t.Fatal("running task did not observe cancellation")
	}
	if err := q.Submit("late", func(ctx context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("Submit after Shutdown = %v, want ErrClosed", err)
	}
}

func TestQueue_FullDrops(t *testing.T) {
	q := NewQueue(Config{Workers: 1, QueueSize: 1})
	defer q.Shutdown(context.Background())

	block := make(chan struct{})
	started := make(chan struct{})
	q.Submit("block", func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	})
	<-started
	if err := q.Submit("buffered", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if err := q.Submit("overflow", func(ctx context.Context) error { return nil }); !errors.Is(err, ErrFull) {
		t.Fatalf("third Submit = %v, want ErrFull", err)
	}
	close(block)
}
