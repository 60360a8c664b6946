package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lockstep/lockstep/internal/log"
	"github.com/lockstep/lockstep/internal/transport"
	"github.com/lockstep/lockstep/internal/wire"
)

// Common errors returned by the session package.
var (
	ErrConnectionLost   = errors.New("connection lost")
	ErrNotConnected     = errors.New("not connected")
	ErrVersionMismatch  = errors.New("protocol version mismatch")
	ErrAuthentication   = errors.New("authentication failed")
	ErrHostshipRejected = errors.New("hostship request rejected")
)

// Connection is the session-level view of one remote peer. It exclusively
// owns its transport handle. Status transitions are driven by protocol
// messages only, never by direct external mutation.
type Connection struct {
	conn transport.Conn

	sendMu sync.Mutex // serializes frame writes

	mu          sync.Mutex
	status      Status
	view        ViewStatus
	peerName    string
	independent bool
	lastRecv    float64 // timestamp of the last received data message
}

// newConnection wraps an established transport in the Connecting state.
func newConnection(conn transport.Conn) *Connection {
	return &Connection{
		conn:   conn,
		status: StatusConnecting,
		view:   ViewIndependent,
	}
}

// Status returns the current protocol state.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Connection) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// ViewStatus returns the current view status.
func (c *Connection) ViewStatus() ViewStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

func (c *Connection) setView(v ViewStatus) {
	c.mu.Lock()
	c.view = v
	c.mu.Unlock()
}

// PeerName returns the name the peer announced during authentication.
func (c *Connection) PeerName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerName
}

func (c *Connection) setPeerName(name string) {
	c.mu.Lock()
	c.peerName = name
	c.mu.Unlock()
}

// Independent reports whether the peer is inside an independent session.
func (c *Connection) Independent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.independent
}

func (c *Connection) setIndependent(on bool) {
	c.mu.Lock()
	c.independent = on
	c.mu.Unlock()
}

// lastReceived returns the timestamp of the last received data message.
func (c *Connection) lastReceived() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRecv
}

func (c *Connection) noteReceived(ts float64) {
	c.mu.Lock()
	if ts > c.lastRecv {
		c.lastRecv = ts
	}
	c.mu.Unlock()
}

// IsConnectedOrConnecting reports whether the connection is live.
func (c *Connection) IsConnectedOrConnecting() bool {
	return c.Status() != StatusDisconnected
}

// RemoteAddr returns the transport's remote address.
func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr()
}

// SendMessage frames and writes a message. It returns false when the write
// failed; the connection is then considered lost.
func (c *Connection) SendMessage(msg wire.Message) bool {
	frame, err := wire.EncodeMessage(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type.String()).Msg("failed to encode message")
		return false
	}

	c.sendMu.Lock()
	err = c.conn.Send(frame)
	c.sendMu.Unlock()

	if err != nil {
		log.Debug().Err(err).Str("type", msg.Type.String()).Msg("failed to send message")
		return false
	}
	return true
}

// SendDataMessage wraps a data message in a Data frame and sends it. Fire and
// forget: failures are logged, no backpressure signal reaches the caller.
func (c *Connection) SendDataMessage(dm wire.DataMessage) {
	c.SendMessage(wire.Message{Type: wire.TypeData, Payload: dm.Encode()})
}

// ReceiveMessage blocks until a full frame arrives. It fails with
// ErrConnectionLost when the transport reports loss and with a framing error
// when the header is malformed; framing errors are fatal to the connection.
func (c *Connection) ReceiveMessage() (wire.Message, error) {
	raw, err := c.conn.ReceiveExact(wire.HeaderSize)
	if err != nil {
		return wire.Message{}, receiveErr(err)
	}

	header, err := wire.DecodeHeader(raw)
	if err != nil {
		return wire.Message{}, fmt.Errorf("malformed frame: %w", err)
	}

	if header.PayloadLength == 0 {
		return wire.Message{Type: header.Type}, nil
	}

	payload, err := c.conn.ReceiveExact(int(header.PayloadLength))
	if err != nil {
		return wire.Message{}, receiveErr(err)
	}
	return wire.Message{Type: header.Type, Payload: payload}, nil
}

// receiveErr maps transport failures onto the session error taxonomy.
func receiveErr(err error) error {
	if errors.Is(err, transport.ErrConnectionLost) || errors.Is(err, transport.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return err
}

// Disconnect releases the transport and moves the connection to Disconnected.
// It is idempotent and interrupts a blocked ReceiveMessage.
func (c *Connection) Disconnect() {
	c.setStatus(StatusDisconnected)
	if err := c.conn.Close(); err != nil {
		log.Debug().Err(err).Msg("failed to close connection transport")
	}
}
