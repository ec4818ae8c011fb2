//go:build !linux

package ws

import (
	"bufio"
	"net"
	"sync"
)

// Epoll provides a goroutine-per-connection fallback for non-Linux
// platforms so the server runs on developer machines. Each connection is
// wrapped so readiness can be detected with a buffered peek that consumes
// nothing the server later reads.
type Epoll struct {
	mu      sync.RWMutex
	conns   map[net.Conn]*watched
	readyCh chan net.Conn // connections with pending data
	done    chan struct{}
	once    sync.Once
}

// watched is one monitored connection.
type watched struct {
	conn   *peekConn
	resume chan struct{} // signalled by Done once the server has read
}

// peekConn serves reads from the buffer the monitor peeks into.
type peekConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *peekConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// NewEpoll creates a new fallback poller.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]*watched),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add starts monitoring conn and returns the wrapped conn the server must
// use for all subsequent reads and writes.
func (e *Epoll) Add(conn net.Conn) (net.Conn, error) {
	w := &watched{
		conn:   &peekConn{Conn: conn, r: bufio.NewReader(conn)},
		resume: make(chan struct{}, 1),
	}

	e.mu.Lock()
	e.conns[w.conn] = w
	e.mu.Unlock()

	go e.monitor(w)
	return w.conn, nil
}

// monitor blocks until the connection has data (or fails), reports it
// ready, then waits for the server to finish reading before peeking again.
// The bufio.Reader is never used by two goroutines at once.
func (e *Epoll) monitor(w *watched) {
	for {
		_, err := w.conn.r.Peek(1)

		select {
		case e.readyCh <- w.conn:
		case <-e.done:
			return
		}
		// A failed peek is reported once; the server's read sees the same
		// error and removes the connection.
		if err != nil {
			return
		}

		select {
		case <-w.resume:
		case <-e.done:
			return
		}
		if !e.registered(w.conn) {
			return
		}
	}
}

func (e *Epoll) registered(conn net.Conn) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.conns[conn]
	return ok
}

// Done lets the monitor for conn resume peeking.
func (e *Epoll) Done(conn net.Conn) {
	e.mu.RLock()
	w := e.conns[conn]
	e.mu.RUnlock()
	if w == nil {
		return
	}
	select {
	case w.resume <- struct{}{}:
	default:
	}
}

// Remove stops monitoring conn.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	w := e.conns[conn]
	delete(e.conns, conn)
	e.mu.Unlock()

	if w != nil {
		select {
		case w.resume <- struct{}{}:
		default:
		}
	}
	return nil
}

// Wait blocks until at least one connection is ready for reading and
// returns every connection ready at that moment.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback poller.
func (e *Epoll) Close() error {
	e.once.Do(func() { close(e.done) })
	e.mu.Lock()
	e.conns = make(map[net.Conn]*watched)
	e.mu.Unlock()
	return nil
}
