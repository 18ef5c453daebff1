//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// poller reports sockets that have data to read using epoll, so idle
// connections cost no goroutine.
type poller struct {
	fd     int
	mu     sync.RWMutex
	conns  map[int]net.Conn
	events []unix.EpollEvent
}

func newPoller() (*poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &poller{
		fd:     fd,
		conns:  make(map[int]net.Conn),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

func (p *poller) add(conn net.Conn) error {
	fd := socketFD(conn)
	ev := &unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLRDHUP, Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return err
	}
	p.mu.Lock()
	p.conns[fd] = conn
	p.mu.Unlock()
	return nil
}

func (p *poller) remove(conn net.Conn) error {
	fd := socketFD(conn)
	p.mu.Lock()
	delete(p.conns, fd)
	p.mu.Unlock()
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks until at least one socket is readable. Sockets removed while
// the call was blocked are skipped.
func (p *poller) wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(p.fd, p.events, 100)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	ready := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if c, ok := p.conns[int(p.events[i].Fd)]; ok {
			ready = append(ready, c)
		}
	}
	return ready, nil
}

// release is a no-op: epoll re-arms by itself.
func (p *poller) release(net.Conn) {}

func (p *poller) close() error {
	p.mu.Lock()
	p.conns = nil
	p.mu.Unlock()
	return unix.Close(p.fd)
}

func underlying(conn net.Conn) net.Conn { return conn }

// socketFD returns the descriptor behind conn without duplicating it, or -1.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	_ = raw.Control(func(s uintptr) { fd = int(s) })
	return fd
}
