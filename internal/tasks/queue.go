// Package tasks runs deferred, best-effort work on a fixed pool of workers.
// The chat server uses it for the post-send cascade (unread refresh, activity
// fan-out, push dispatch) so that work never delays the room broadcast.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"

	"github.com/listingchat/chat-app/internal/metrics"
)

// ErrClosed is returned by Submit after Shutdown has started.
var ErrClosed = errors.New("tasks: queue closed")

// ErrFull is returned by Submit when the buffer is full.
var ErrFull = errors.New("tasks: queue full")

// Func is one unit of background work. ctx is cancelled when the queue shuts
// down.
type Func func(ctx context.Context) error

// Config holds queue sizing.
type Config struct {
	Workers   int
	QueueSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Workers: 8, QueueSize: 1024}
}

type job struct {
	name string
	fn   Func
}

// Queue is a bounded buffered queue drained by a fixed set of workers.
// Failures and panics are isolated per task.
type Queue struct {
	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewQueue starts cfg.Workers workers.
func NewQueue(cfg Config) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		jobs:   make(chan job, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit enqueues fn without blocking. name is used in failure logs.
func (q *Queue) Submit(name string, fn Func) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job{name: name, fn: fn}:
		return nil
	default:
		log.Printf("[tasks] queue full, dropping %s", name)
		return ErrFull
	}
}

// Shutdown stops accepting work, cancels the context seen by running tasks
// and waits for the workers to exit or ctx to expire. Tasks still buffered
// run with an already-cancelled context.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		if err := q.run(j); err != nil {
			metrics.TaskFailures.Inc()
			log.Printf("[tasks] %s failed: %v", j.name, err)
		}
	}
}

func (q *Queue) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return j.fn(q.ctx)
}
