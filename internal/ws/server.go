// Package ws is the WebSocket transport of the chat server. It upgrades HTTP
// requests with gobwas/ws, watches sockets with epoll, reads frames on a
// bounded worker pool and owns the channel subscriptions used to fan events
// out to rooms and users.
package ws

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/listingchat/chat-app/internal/metrics"
	"github.com/listingchat/chat-app/internal/protocol"
)

// maxFrameBytes bounds a single inbound data frame.
const maxFrameBytes = 64 << 10

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address the HTTP listener binds, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read workers
	MaxConnections int           // hard cap on live connections
	ReadTimeout    time.Duration // deadline for reading one frame
	WriteTimeout   time.Duration // deadline for writing one frame
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server accepts WebSocket clients and delivers frames between them and the
// chat core. Inbound frames for one connection are handled one at a time, in
// arrival order.
type Server struct {
	config       ServerConfig
	poller       *poller
	conns        *ConnectionManager
	channels     *channelSet
	workerPool   chan struct{}
	onMessage    func(c *Connection, data []byte)
	onDisconnect func(connID string)
	done         chan struct{}
	closeOnce    sync.Once
	startedAt    time.Time
}

// NewServer creates a Server. onMessage runs on a worker goroutine for every
// complete text frame.
func NewServer(config ServerConfig, onMessage func(c *Connection, data []byte)) (*Server, error) {
	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("ws: failed to create poller: %w", err)
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 1
	}
	return &Server{
		config:     config,
		poller:     p,
		conns:      NewConnectionManager(),
		channels:   newChannelSet(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
		startedAt:  time.Now(),
	}, nil
}

// SetOnMessage replaces the frame callback. Call before Run.
func (s *Server) SetOnMessage(fn func(c *Connection, data []byte)) {
	s.onMessage = fn
}

// SetOnDisconnect registers a callback invoked once per removed connection,
// after it has left every channel.
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// Run starts the event loop and the heartbeat monitor and returns
// immediately. Both stop on Shutdown.
func (s *Server) Run() {
	go s.eventLoop()
	StartHeartbeat(s, s.config.Heartbeat)
	log.Printf("ws: transport running (workers=%d, max_conns=%d)",
		s.config.WorkerPoolSize, s.config.MaxConnections)
}

// HandleUpgrade upgrades the request, registers the connection with the
// poller and greets the client with its connection id.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	c := newConnection(uuid.NewString(), conn, time.Now())
	s.conns.Add(c)
	if err := s.poller.add(conn); err != nil {
		log.Printf("ws: poller add failed conn=%s: %v", c.ID, err)
		s.conns.Remove(c.ID)
		_ = conn.Close()
		return
	}
	metrics.ConnectionsTotal.Inc()

	hello, err := protocol.NewServerMessage(protocol.TypeConnected, protocol.ConnectedMsg{ConnectionID: c.ID})
	if err == nil {
		err = s.write(c, hello)
	}
	if err != nil {
		log.Printf("ws: failed to greet conn=%s: %v", c.ID, err)
	}

	log.Printf("ws: new connection conn=%s remote=%s (total=%d)", c.ID, c.RemoteAddr, s.conns.Count())
}

func (s *Server) eventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		ready, err := s.poller.wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if isEINTR(err) {
				continue
			}
			log.Printf("ws: poller wait error: %v", err)
			continue
		}

		for _, conn := range ready {
			conn := conn
			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.readFrame(conn)
			}()
		}
	}
}

// readFrame reads one frame from a ready connection. Control frames are
// answered here; text frames go to onMessage.
func (s *Server) readFrame(netConn net.Conn) {
	defer s.poller.release(netConn)
	c := s.conns.GetByConn(underlying(netConn))
	if c == nil {
		return
	}
	// Level-triggered readiness can report the same socket twice.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}
	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}
	_ = netConn.SetReadDeadline(time.Time{})
	c.Touch(time.Now())

	if header.OpCode.IsControl() {
		switch header.OpCode {
		case ws.OpClose:
			s.RemoveConnection(c)
		case ws.OpPing:
			c.writeMu.Lock()
			_ = ws.WriteFrame(c.Conn, ws.NewPongFrame(nil))
			c.writeMu.Unlock()
		}
		return
	}

	if header.Length > maxFrameBytes {
		log.Printf("ws: oversized frame conn=%s len=%d", c.ID, header.Length)
		s.RemoveConnection(c)
		return
	}
	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}
	if len(data) == 0 || s.onMessage == nil {
		return
	}
	s.onMessage(c, data)
}

// RemoveConnection unregisters and closes the connection, drops its channel
// subscriptions and notifies the disconnect callback once.
func (s *Server) RemoveConnection(c *Connection) {
	_ = s.poller.remove(c.Conn)
	if !s.conns.Remove(c.ID) {
		return
	}
	s.channels.drop(c.ID)
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}
	log.Printf("ws: connection closed conn=%s (total=%d)", c.ID, s.conns.Count())
}

// Subscribe adds connID to channel.
func (s *Server) Subscribe(connID, channel string) {
	if s.conns.Get(connID) == nil {
		return
	}
	s.channels.add(connID, channel)
}

// Unsubscribe removes connID from channel.
func (s *Server) Unsubscribe(connID, channel string) {
	s.channels.remove(connID, channel)
}

// Publish writes data to every subscriber of channel except exceptConn and
// returns the number of successful deliveries. Failed writes evict the
// connection.
func (s *Server) Publish(channel string, data []byte, exceptConn string) int {
	delivered := 0
	for _, id := range s.channels.members(channel) {
		if id == exceptConn {
			continue
		}
		c := s.conns.Get(id)
		if c == nil {
			continue
		}
		if err := s.write(c, data); err != nil {
			log.Printf("ws: publish to conn=%s channel=%s failed: %v", id, channel, err)
			s.RemoveConnection(c)
			continue
		}
		delivered++
	}
	return delivered
}

func (s *Server) write(c *Connection, data []byte) error {
	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return c.WriteMessage(data)
}

// Connections returns the connection registry.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// ConnectionInfos lists live connections with their channels.
func (s *Server) ConnectionInfos() []ConnectionInfo {
	all := s.conns.All()
	out := make([]ConnectionInfo, 0, len(all))
	for _, c := range all {
		out = append(out, ConnectionInfo{
			ID:         c.ID,
			RemoteAddr: c.RemoteAddr,
			CreatedAt:  c.CreatedAt,
			LastSeen:   c.LastSeen(),
			Channels:   s.channels.channelsOf(c.ID),
		})
	}
	return out
}

// Channels maps every channel to its subscribed connection ids.
func (s *Server) Channels() map[string][]string {
	return s.channels.snapshot()
}

// Uptime returns the time since the server was created.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// Shutdown stops the event loop and heartbeat and closes every connection.
// Disconnect callbacks still fire so presence is cleared.
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		log.Println("ws: shutting down transport...")
		close(s.done)
		for _, c := range s.conns.All() {
			s.RemoveConnection(c)
		}
		_ = s.poller.close()
		log.Printf("ws: transport stopped, all connections closed")
	})
}

// isEINTR reports an interrupted system call, which is retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" || err.Error() == "errno 4"
}
