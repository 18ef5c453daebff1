package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/listingchat/chat-app/internal/metrics"
)

// Sender delivers one job to the push gateway.
type Sender interface {
	Send(ctx context.Context, job Job) error
}

// ResultPublisher reports delivery outcomes back to the chat servers.
type ResultPublisher interface {
	PublishPushResult(roomID string, data []byte) error
}

// Worker consumes push jobs published by NATSDispatcher.
type Worker struct {
	sender  Sender
	results ResultPublisher
	timeout time.Duration
}

// NewWorker creates a Worker. results may be nil.
func NewWorker(sender Sender, results ResultPublisher, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Worker{sender: sender, results: results, timeout: timeout}
}

// Handle decodes and delivers one job. Failures are logged and reported, never
// retried: push is best effort.
func (w *Worker) Handle(data []byte) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		log.Printf("[push] failed to unmarshal job: %v", err)
		return
	}
	n := job.Notification

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	err := w.sender.Send(ctx, job)
	cancel()

	res := Result{RoomID: n.RoomID, SenderID: n.SenderID, Delivered: err == nil}
	if err != nil {
		res.Error = err.Error()
		metrics.PushTotal.WithLabelValues("failed").Inc()
		log.Printf("[push] FAILED room=%s sender=%s queued=%s: %v",
			n.RoomID, n.SenderID, time.Since(job.QueuedAt).Round(time.Millisecond), err)
	} else {
		metrics.PushTotal.WithLabelValues("delivered").Inc()
		log.Printf("[push] delivered room=%s sender=%s", n.RoomID, n.SenderID)
	}

	if w.results == nil {
		return
	}
	out, err := json.Marshal(res)
	if err != nil {
		log.Printf("[push] failed to marshal result: %v", err)
		return
	}
	if err := w.results.PublishPushResult(n.RoomID, out); err != nil {
		log.Printf("[push] failed to publish result: %v", err)
	}
}
