// Package notify is the boundary to push delivery. The chat server only
// enqueues jobs; delivery to the push gateway happens in cmd/pusher. Push is
// best-effort: callers log and swallow every error.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/listingchat/chat-app/internal/metrics"
)

// ErrInvalidToken is returned for tokens the gateway would reject.
var ErrInvalidToken = errors.New("notify: invalid push token")

// Notification is the payload of one push.
type Notification struct {
	SenderName   string            `json:"senderName"`
	Message      string            `json:"message"`
	SenderAvatar string            `json:"senderAvatar,omitempty"`
	RoomID       string            `json:"roomId"`
	SenderID     string            `json:"senderId"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Job is the unit published to the push workers.
type Job struct {
	PushToken    string       `json:"pushToken"`
	Notification Notification `json:"notification"`
	QueuedAt     time.Time    `json:"queuedAt"`
}

// Result is published by the workers after a delivery attempt.
type Result struct {
	RoomID    string `json:"roomId"`
	SenderID  string `json:"senderId"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// Dispatcher hands a notification to the push pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, pushToken string, n Notification) error
}

// ValidToken reports whether token looks like an Expo push token.
func ValidToken(token string) bool {
	return (strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")) &&
		strings.HasSuffix(token, "]")
}

// Publisher is the NATS side used by NATSDispatcher.
type Publisher interface {
	PublishPush(data []byte) error
}

// NATSDispatcher publishes push jobs on NATS for the pusher workers.
type NATSDispatcher struct {
	pub Publisher
	now func() time.Time
}

// NewNATSDispatcher creates a dispatcher that publishes through pub.
func NewNATSDispatcher(pub Publisher) *NATSDispatcher {
	return &NATSDispatcher{pub: pub, now: time.Now}
}

// Dispatch validates the token and enqueues the job.
func (d *NATSDispatcher) Dispatch(_ context.Context, pushToken string, n Notification) error {
	if !ValidToken(pushToken) {
		metrics.PushTotal.WithLabelValues("skipped").Inc()
		return fmt.Errorf("%w: %q", ErrInvalidToken, pushToken)
	}
	data, err := json.Marshal(Job{PushToken: pushToken, Notification: n, QueuedAt: d.now()})
	if err != nil {
		return fmt.Errorf("notify: marshal job: %w", err)
	}
	if err := d.pub.PublishPush(data); err != nil {
		metrics.PushTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("notify: publish job: %w", err)
	}
	metrics.PushTotal.WithLabelValues("queued").Inc()
	return nil
}

// Nop drops every notification. Used when push is disabled.
type Nop struct{}

// Dispatch implements Dispatcher.
func (Nop) Dispatch(context.Context, string, Notification) error { return nil }
