// Package messaging wraps the NATS connection shared by the chat server and
// the push worker. The chat server publishes push jobs; cmd/pusher consumes
// them in a queue group so several workers can share the load.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects used between the chat server and the push worker.
const (
	SubjectPushSend   = "push.send"
	SubjectPushResult = "push.result" // + .<room_id>
	QueuePushWorkers  = "pushers"
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "listing-chat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS and returns a ready client. It returns an
// error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{conn: nc, subs: make(map[string]*nats.Subscription)}, nil
}

// Publish sends data to the given subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// PublishPush enqueues a push job for the workers.
func (c *NATSClient) PublishPush(data []byte) error {
	return c.Publish(SubjectPushSend, data)
}

// SubscribePush consumes push jobs as a member of the worker queue group, so
// each job is handled by exactly one worker.
func (c *NATSClient) SubscribePush(handler func(data []byte)) error {
	sub, err := c.conn.QueueSubscribe(SubjectPushSend, QueuePushWorkers, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats queue subscribe %s: %w", SubjectPushSend, err)
	}
	c.track(SubjectPushSend, sub)
	return nil
}

// PublishPushResult reports the outcome of a push job for a room.
func (c *NATSClient) PublishPushResult(roomID string, data []byte) error {
	return c.Publish(SubjectPushResult+"."+roomID, data)
}

// SubscribePushResults receives every push outcome. Used for logging and
// metrics on the chat server side.
func (c *NATSClient) SubscribePushResults(handler func(subject string, data []byte)) error {
	subject := SubjectPushResult + ".*"
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.track(subject, sub)
	return nil
}

// Unsubscribe removes the subscription registered under subject.
func (c *NATSClient) Unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}

// Close drains all active subscriptions and closes the connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
	log.Printf("[nats] client closed")
}

func (c *NATSClient) track(subject string, sub *nats.Subscription) {
	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
}
