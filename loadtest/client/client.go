// Package client is a WebSocket load test client for the listing chat server.
// It connects with gobwas/ws (the library the server uses), waits for the
// connected greeting and dispatches server events to registered handlers.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Client -> Server event types.
const (
	TypeUserOnline   = "userOnline"
	TypeJoinUserRoom = "joinUserRoom"
	TypeJoinRoom     = "joinRoom"
	TypeLeaveRoom    = "leaveRoom"
	TypeSendMessage  = "sendMessage"
	TypeMarkAsRead   = "markAsRead"
	TypeTyping       = "typing"
	TypePing         = "ping"
)

// Server -> Client event types.
const (
	TypeConnected            = "connected"
	TypeInitialData          = "initialData"
	TypeNewMessage           = "newMessage"
	TypeMessagesMarkedAsSeen = "messagesMarkedAsSeen"
	TypeOnlineStatuses       = "onlineStatuses"
	TypeUserTyping           = "userTyping"
	TypeError                = "error"
	TypePong                 = "pong"
)

// Envelope is the frame shape in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrorEvent is the payload of an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Metrics tracks per-connection counters.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	ServerErrors     map[string]int // error events by code
	ReadErrors       int
}

// Client is one simulated user connection.
type Client struct {
	conn net.Conn

	connID    chan string
	writeMu   sync.Mutex
	mu        sync.Mutex
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	done      chan struct{}
	closeOnce sync.Once
}

// New dials url and starts the read loop. Register handlers with On before
// the traffic they care about is sent.
func New(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	if br != nil {
		// The greeting can arrive in the same segment as the handshake.
		conn = &bufferedConn{Conn: conn, r: br}
	}
	c := &Client{
		conn:     conn,
		connID:   make(chan string, 1),
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
		metrics:  Metrics{ServerErrors: make(map[string]int)},
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()
	return c, nil
}

// WaitConnected blocks until the server greeting arrives and returns the
// connection id it carried.
func (c *Client) WaitConnected(ctx context.Context) (string, error) {
	select {
	case id := <-c.connID:
		return id, nil
	case <-c.done:
		return "", fmt.Errorf("connection closed before greeting")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Send writes one event. It is goroutine-safe.
func (c *Client) Send(msgType string, data interface{}) error {
	env := map[string]interface{}{"type": msgType}
	if data != nil {
		env["data"] = data
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(c.conn, ws.OpText, frame); err != nil {
		return err
	}
	c.mu.Lock()
	c.metrics.MessagesSent++
	c.mu.Unlock()
	return nil
}

// On registers the handler for a server event type, replacing any previous
// one. Handlers run on the read loop and must not block.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// Alive reports whether the read loop is still running.
func (c *Client) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.metrics
	m.ServerErrors = make(map[string]int, len(c.metrics.ServerErrors))
	for k, v := range c.metrics.ServerErrors {
		m.ServerErrors[k] = v
	}
	return m
}

type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

func (c *Client) readLoop() {
	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.mu.Lock()
			c.metrics.ReadErrors++
			c.mu.Unlock()
			c.Close()
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		if env.Type == TypeError {
			var e ErrorEvent
			_ = json.Unmarshal(env.Data, &e)
			c.metrics.ServerErrors[e.Code]++
		}
		handler := c.handlers[env.Type]
		c.mu.Unlock()

		if env.Type == TypeConnected {
			var hello struct {
				ConnectionID string `json:"connectionId"`
			}
			_ = json.Unmarshal(env.Data, &hello)
			select {
			case c.connID <- hello.ConnectionID:
			default:
			}
		}
		if handler != nil {
			handler(env.Data)
		}
	}
}
