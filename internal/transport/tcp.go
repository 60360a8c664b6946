package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// DefaultPort is used when a peer address carries no port.
const DefaultPort = "20490"

// TCPConn implements Conn over a TCP connection.
type TCPConn struct {
	conn net.Conn

	mu     sync.Mutex
	closed bool
}

// Dial establishes a TCP connection to the peer address. Addresses without a
// port use DefaultPort.
func Dial(ctx context.Context, peer string, config Config) (*TCPConn, error) {
	host, port, err := net.SplitHostPort(peer)
	if err != nil {
		host = peer
		port = DefaultPort
	}

	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: config.KeepAliveInterval,
	}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("failed to dial TCP: %w", err)
	}

	return &TCPConn{conn: conn}, nil
}

// newTCPConn wraps an accepted net.Conn.
func newTCPConn(conn net.Conn) *TCPConn {
	return &TCPConn{conn: conn}
}

// Send writes the full byte slice to the peer.
func (t *TCPConn) Send(p []byte) error {
	if t.isClosed() {
		return ErrClosed
	}

	if _, err := t.conn.Write(p); err != nil {
		return classify(err)
	}
	return nil
}

// ReceiveExact blocks until exactly n bytes have been read from the peer.
func (t *TCPConn) ReceiveExact(n int) ([]byte, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(t.conn, buf); err != nil {
		return nil, classify(err)
	}
	return buf, nil
}

// Close closes the connection. It is safe to call multiple times and from a
// goroutine other than the one blocked in ReceiveExact.
func (t *TCPConn) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if err := t.conn.Close(); err != nil {
		return fmt.Errorf("failed to close TCP connection: %w", err)
	}
	return nil
}

// RemoteAddr returns the remote address.
func (t *TCPConn) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *TCPConn) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// classify maps low-level read/write failures onto ErrConnectionLost so the
// session layer sees a single connection-loss signal.
func classify(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && !netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return fmt.Errorf("transport error: %w", err)
}

// Listener accepts incoming TCP connections.
type Listener struct {
	ln net.Listener
}

// Listen starts listening on the given address.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept blocks until the next connection arrives. After Close it returns
// ErrClosed.
func (l *Listener) Accept() (*TCPConn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("failed to accept connection: %w", err)
	}
	return newTCPConn(conn), nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// Close stops the listener and unblocks any pending Accept.
func (l *Listener) Close() error {
	if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close listener: %w", err)
	}
	return nil
}
