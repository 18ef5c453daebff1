//go:build !linux

package ws

import (
	"bufio"
	"net"
	"sync"
)

// poller is the portable fallback: one goroutine per connection blocks on
// Peek and reports the connection when bytes arrive. Peek leaves the data
// in a buffered reader that readFrame consumes through bufferedConn, and the
// watcher waits for release before peeking again.
type poller struct {
	mu    sync.Mutex
	conns map[net.Conn]chan struct{}
	ready chan net.Conn
	done  chan struct{}
}

func newPoller() (*poller, error) {
	return &poller{
		conns: make(map[net.Conn]chan struct{}),
		ready: make(chan net.Conn, 128),
		done:  make(chan struct{}),
	}, nil
}

func (p *poller) add(conn net.Conn) error {
	resume := make(chan struct{}, 1)
	p.mu.Lock()
	p.conns[conn] = resume
	p.mu.Unlock()
	go p.watch(conn, resume)
	return nil
}

func (p *poller) watch(conn net.Conn, resume chan struct{}) {
	br := bufio.NewReader(conn)
	for {
		_, err := br.Peek(1)
		select {
		case p.ready <- &bufferedConn{Conn: conn, r: br, resume: resume}:
		case <-p.done:
			return
		}
		if err != nil {
			return
		}
		select {
		case <-resume:
		case <-p.done:
			return
		}
	}
}

func (p *poller) remove(conn net.Conn) error {
	if bc, ok := conn.(*bufferedConn); ok {
		conn = bc.Conn
	}
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
	return nil
}

func (p *poller) wait() ([]net.Conn, error) {
	select {
	case first := <-p.ready:
		out := []net.Conn{first}
		for {
			select {
			case c := <-p.ready:
				out = append(out, c)
			default:
				return out, nil
			}
		}
	case <-p.done:
		return nil, net.ErrClosed
	}
}

// release lets the watcher of conn look for the next frame.
func (p *poller) release(conn net.Conn) {
	if bc, ok := conn.(*bufferedConn); ok {
		select {
		case bc.resume <- struct{}{}:
		default:
		}
	}
}

func (p *poller) close() error {
	close(p.done)
	return nil
}

// bufferedConn reads through the watcher's buffer and lets the watcher peek
// again once the frame has been consumed.
type bufferedConn struct {
	net.Conn
	r      *bufio.Reader
	resume chan struct{}
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

// underlying unwraps the connection handed out by wait.
func underlying(conn net.Conn) net.Conn {
	if bc, ok := conn.(*bufferedConn); ok {
		return bc.Conn
	}
	return conn
}

// socketFD is unused by the fallback.
func socketFD(net.Conn) int { return -1 }
