package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one upgraded WebSocket client. Writes are serialized by
// writeMu so broadcasts, replies and heartbeat pings never interleave.
type Connection struct {
	ID         string
	Conn       net.Conn
	Fd         int
	RemoteAddr string
	CreatedAt  time.Time

	lastSeen   atomic.Int64 // unix nanos of the last frame read
	writeMu    sync.Mutex
	processing int32 // 1 while a worker is reading this connection
}

func newConnection(id string, conn net.Conn, now time.Time) *Connection {
	c := &Connection{
		ID:         id,
		Conn:       conn,
		Fd:         socketFD(conn),
		RemoteAddr: conn.RemoteAddr().String(),
		CreatedAt:  now,
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// Touch records activity on the connection.
func (c *Connection) Touch(t time.Time) { c.lastSeen.Store(t.UnixNano()) }

// LastSeen returns the time of the last inbound frame.
func (c *Connection) LastSeen() time.Time { return time.Unix(0, c.lastSeen.Load()) }

// WriteMessage sends a text frame.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionInfo is the diagnostic view of a connection.
type ConnectionInfo struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remoteAddr"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeen   time.Time `json:"lastSeen"`
	Channels   []string  `json:"channels"`
}

// ConnectionManager indexes live connections by id and by file descriptor.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
	byFd map[int]*Connection
}

// NewConnectionManager creates an empty ConnectionManager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a connection.
func (cm *ConnectionManager) Add(c *Connection) {
	cm.mu.Lock()
	cm.byID[c.ID] = c
	if c.Fd >= 0 {
		cm.byFd[c.Fd] = c
	}
	cm.mu.Unlock()
}

// Remove unregisters and closes the connection. It reports false when the
// connection was already gone, so concurrent removals clean up once.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	c, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		if cm.byFd[c.Fd] == c {
			delete(cm.byFd, c.Fd)
		}
	}
	cm.mu.Unlock()

	if ok {
		c.Close()
	}
	return ok
}

// Get returns the connection with the given id, or nil.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byID[id]
}

// GetByConn resolves a net.Conn reported ready by the poller.
func (cm *ConnectionManager) GetByConn(conn net.Conn) *Connection {
	fd := socketFD(conn)
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if c, ok := cm.byFd[fd]; ok && fd >= 0 {
		return c
	}
	for _, c := range cm.byID {
		if c.Conn == conn {
			return c
		}
	}
	return nil
}

// Count returns the number of live connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byID)
}

// All returns a snapshot of the live connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]*Connection, 0, len(cm.byID))
	for _, c := range cm.byID {
		out = append(out, c)
	}
	return out
}
