// Package transport provides the raw byte-stream primitive the session layer
// runs on: connect, listen, send, receive-exact, close. It performs no
// framing; that belongs to the wire codec.
package transport

import (
	"errors"
	"time"
)

// Common errors returned by the transport package.
var (
	// ErrConnectionLost signals that the remote side went away or the
	// connection was closed mid-operation.
	ErrConnectionLost = errors.New("connection lost")
	// ErrClosed signals use of an already-closed transport.
	ErrClosed = errors.New("transport closed")
)

// Conn is a byte-stream connection to a single peer. Implementations report
// connection loss as ErrConnectionLost so the session layer can tell it apart
// from other failures. Close is idempotent and interrupts a blocked receive.
type Conn interface {
	// Send writes the full byte slice to the peer.
	Send(p []byte) error
	// ReceiveExact blocks until exactly n bytes have been read.
	ReceiveExact(n int) ([]byte, error)
	// Close closes the connection.
	Close() error
	// RemoteAddr returns the remote address.
	RemoteAddr() string
}

// Config contains configuration options for the transport layer.
type Config struct {
	// ConnectTimeout is the timeout for establishing a connection.
	ConnectTimeout time.Duration
	// KeepAliveInterval is the interval for TCP keep-alive probes.
	KeepAliveInterval time.Duration
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    30 * time.Second,
		KeepAliveInterval: 30 * time.Second,
	}
}
