package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/lockstep/lockstep/internal/auth"
	"github.com/lockstep/lockstep/internal/handoff"
	"github.com/lockstep/lockstep/internal/log"
	"github.com/lockstep/lockstep/internal/syncable"
	"github.com/lockstep/lockstep/internal/transport"
	"github.com/lockstep/lockstep/internal/wire"
)

// PeerConfig configures a Peer.
type PeerConfig struct {
	// Name is announced to the hub during authentication.
	Name string
	// ServerName binds password digests; it must match the hub's Name.
	ServerName string
	// Password is the session password.
	Password string
	// HostPassword is sent with hostship requests. May stay empty when the
	// hub runs without one.
	HostPassword string
	// Transport contains transport-specific configuration.
	Transport transport.Config
	// Clock returns the current simulation time. It is read only at the
	// synchronization point, on the simulation goroutine.
	Clock func() float64
	// BlockAtSyncPoint makes SynchronizationPoint wait for at least one
	// data message instead of polling.
	BlockAtSyncPoint bool
}

// Peer is one renderer instance's session with a hub. The receive goroutine
// decodes messages and either updates session status or enqueues data
// payloads; the simulation goroutine drains the queue at its synchronization
// point and applies payloads through the registry.
type Peer struct {
	cfg      PeerConfig
	conn     *Connection
	registry *syncable.Registry
	queue    *handoff.Queue[wire.DataMessage]

	mu           sync.Mutex
	hostName     string
	nConnections uint32
	independent  bool

	authCh chan error
	done   chan struct{}
}

// NewPeer creates a disconnected peer around a syncable registry.
func NewPeer(cfg PeerConfig, registry *syncable.Registry) *Peer {
	if cfg.Clock == nil {
		cfg.Clock = func() float64 { return 0 }
	}
	return &Peer{
		cfg:      cfg,
		registry: registry,
		queue:    handoff.New[wire.DataMessage](),
		authCh:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Registry returns the peer's syncable registry.
func (p *Peer) Registry() *syncable.Registry {
	return p.registry
}

// Connect dials the hub, authenticates, and starts the receive goroutine. It
// blocks until the hub accepts or rejects the authentication.
func (p *Peer) Connect(ctx context.Context, addr string) error {
	// The hub rejects nameless peers; fail before dialing
	if p.cfg.Name == "" {
		return fmt.Errorf("%w: peer name required", ErrAuthentication)
	}

	t, err := transport.Dial(ctx, addr, p.cfg.Transport)
	if err != nil {
		return fmt.Errorf("failed to connect to hub: %w", err)
	}
	p.conn = newConnection(t)

	digest, err := auth.SessionDigest(p.cfg.Password, p.cfg.ServerName)
	if err != nil {
		p.conn.Disconnect()
		return err
	}

	ok := p.conn.SendMessage(wire.Message{
		Type: wire.TypeAuthentication,
		Payload: wire.AuthenticationPayload{
			Version:        wire.ProtocolVersion,
			PasswordDigest: digest,
			PeerName:       p.cfg.Name,
		}.Encode(),
	})
	if !ok {
		p.conn.Disconnect()
		return ErrConnectionLost
	}

	go p.receiveLoop()

	select {
	case err := <-p.authCh:
		if err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
		p.Disconnect()
		return fmt.Errorf("authentication interrupted: %w", ctx.Err())
	}
}

// receiveLoop reads messages until the connection dies. It mutates only
// session status; data payloads go through the handoff queue.
func (p *Peer) receiveLoop() {
	defer func() {
		p.conn.setStatus(StatusDisconnected)
		p.queue.Close()
		close(p.done)
	}()

	for {
		msg, err := p.conn.ReceiveMessage()
		if err != nil {
			log.Info().Err(err).Msg("session receive failed")
			p.authResult(fmt.Errorf("%w: %v", ErrAuthentication, err))
			p.conn.Disconnect()
			return
		}
		if done := p.handleMessage(msg); done {
			return
		}
	}
}

// handleMessage applies one received message. It returns true when the
// session is over.
func (p *Peer) handleMessage(msg wire.Message) bool {
	switch msg.Type {
	case wire.TypeConnectionStatus:
		status, err := wire.DecodeConnectionStatus(msg.Payload)
		if err != nil {
			log.Error().Err(err).Msg("malformed connection status, disconnecting")
			p.conn.Disconnect()
			return true
		}
		p.applyConnectionStatus(status)
		p.authResult(nil)

	case wire.TypeData, wire.TypeIndependentData:
		dm, err := wire.DecodeDataMessage(msg.Payload)
		if err != nil {
			// Fatal to this message only; it is dropped, not retried
			log.Error().Err(err).Msg("malformed data message dropped")
			return false
		}
		p.conn.noteReceived(dm.Timestamp)
		p.queue.Push(dm)

	case wire.TypeNConnections:
		n, err := wire.DecodeNConnections(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Msg("malformed peer count dropped")
			return false
		}
		p.mu.Lock()
		p.nConnections = n.Count
		p.mu.Unlock()

	case wire.TypeViewStatus:
		v, err := wire.DecodeViewStatus(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Msg("malformed view status dropped")
			return false
		}
		if p.conn.Status() != StatusHost {
			if v.Following {
				p.conn.setView(ViewFollowsHost)
			} else {
				p.conn.setView(ViewIndependent)
			}
		}

	case wire.TypeDisconnection:
		reason := ""
		if d, err := wire.DecodeDisconnection(msg.Payload); err == nil {
			reason = d.Reason
		}
		log.Info().Str("reason", reason).Msg("disconnected by hub")
		p.authResult(fmt.Errorf("%w: %s", ErrAuthentication, reason))
		p.conn.Disconnect()
		return true

	default:
		log.Warn().Str("type", msg.Type.String()).Msg("unexpected message ignored")
	}
	return false
}

// applyConnectionStatus drives the client-side status transitions.
func (p *Peer) applyConnectionStatus(status wire.ConnectionStatusPayload) {
	p.mu.Lock()
	p.hostName = status.HostName
	p.mu.Unlock()

	if !status.HasHost {
		// Host resigned or never existed
		p.conn.setStatus(StatusClientWithoutHost)
		if p.conn.ViewStatus() == ViewHost {
			p.conn.setView(ViewIndependent)
		}
		return
	}

	if status.HostName == p.cfg.Name {
		p.conn.setStatus(StatusHost)
		p.conn.setView(ViewHost)
		return
	}

	p.conn.setStatus(StatusClientWithHost)
	if p.conn.ViewStatus() == ViewHost {
		p.conn.setView(ViewIndependent)
	}
}

// authResult delivers the authentication outcome exactly once.
func (p *Peer) authResult(err error) {
	select {
	case p.authCh <- err:
	default:
	}
}

// SynchronizationPoint is the simulation loop's single interaction with the
// session. On the host it collects dirty syncables and broadcasts them
// stamped with the current simulation time; on a client it drains received
// data messages and applies them latest-write-wins.
func (p *Peer) SynchronizationPoint() {
	if p.conn == nil {
		return
	}

	if p.conn.Status() == StatusHost {
		p.broadcastDirty()
		return
	}
	p.applyReceived()
}

// broadcastDirty sends every dirty syncable as a data message.
func (p *Peer) broadcastDirty() {
	updates := p.registry.CollectDirty()
	if len(updates) == 0 {
		return
	}

	timestamp := p.cfg.Clock()
	msgType := wire.TypeData
	if p.IndependentSession() {
		msgType = wire.TypeIndependentData
	}

	for _, u := range updates {
		dm := wire.DataMessage{Domain: u.ID, Timestamp: timestamp, Content: u.Content}
		p.conn.SendMessage(wire.Message{Type: msgType, Payload: dm.Encode()})
	}
}

// applyReceived drains the handoff queue and applies payloads through the
// registry. Strictly older updates are dropped silently apart from a debug
// log; decode failures drop the offending message only.
func (p *Peer) applyReceived() {
	if p.cfg.BlockAtSyncPoint {
		dm, ok := p.queue.Pop()
		if !ok {
			return
		}
		p.applyOne(dm)
	}

	for {
		dm, ok := p.queue.TryPop()
		if !ok {
			return
		}
		p.applyOne(dm)
	}
}

func (p *Peer) applyOne(dm wire.DataMessage) {
	applied, err := p.registry.Apply(dm.Domain, dm.Timestamp, dm.Content)
	if err != nil {
		log.Error().Err(err).Uint32("domain", dm.Domain).Msg("failed to apply data message")
		return
	}
	if !applied {
		log.Debug().Uint32("domain", dm.Domain).Float64("timestamp", dm.Timestamp).
			Msg("stale data message dropped")
	}
}

// RequestHostship asks the hub to make this peer the host.
func (p *Peer) RequestHostship() error {
	if !p.IsConnectedOrConnecting() {
		return ErrNotConnected
	}

	digest, err := auth.HostshipDigest(p.cfg.HostPassword, p.cfg.ServerName)
	if err != nil {
		return err
	}
	if !p.conn.SendMessage(wire.Message{
		Type:    wire.TypeHostshipRequest,
		Payload: wire.HostshipRequestPayload{HostPasswordDigest: digest}.Encode(),
	}) {
		return ErrConnectionLost
	}
	return nil
}

// ResignHostship relinquishes hostship.
func (p *Peer) ResignHostship() error {
	if !p.IsConnectedOrConnecting() {
		return ErrNotConnected
	}
	if !p.conn.SendMessage(wire.Message{Type: wire.TypeHostshipResignation}) {
		return ErrConnectionLost
	}
	return nil
}

// FollowHostView asks to follow the host's camera.
func (p *Peer) FollowHostView() error {
	return p.sendSimple(wire.TypeViewRequest)
}

// UnfollowHostView switches back to an independent view.
func (p *Peer) UnfollowHostView() error {
	return p.sendSimple(wire.TypeViewResignation)
}

// SetIndependentSession brackets a period of intentional local divergence.
func (p *Peer) SetIndependentSession(on bool) error {
	msgType := wire.TypeIndependentSessionOff
	if on {
		msgType = wire.TypeIndependentSessionOn
	}
	if err := p.sendSimple(msgType); err != nil {
		return err
	}
	p.mu.Lock()
	p.independent = on
	p.mu.Unlock()
	return nil
}

func (p *Peer) sendSimple(msgType wire.MessageType) error {
	if !p.IsConnectedOrConnecting() {
		return ErrNotConnected
	}
	if !p.conn.SendMessage(wire.Message{Type: msgType}) {
		return ErrConnectionLost
	}
	return nil
}

// IndependentSession reports whether the peer is inside an independent session.
func (p *Peer) IndependentSession() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.independent
}

// Status returns the peer's session status.
func (p *Peer) Status() Status {
	if p.conn == nil {
		return StatusDisconnected
	}
	return p.conn.Status()
}

// ViewStatus returns the peer's view status.
func (p *Peer) ViewStatus() ViewStatus {
	if p.conn == nil {
		return ViewIndependent
	}
	return p.conn.ViewStatus()
}

// HostName returns the current host's name, or "" when no host exists.
func (p *Peer) HostName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hostName
}

// NConnections returns the hub's last announced live peer count.
func (p *Peer) NConnections() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nConnections
}

// IsConnectedOrConnecting reports whether the session is live.
func (p *Peer) IsConnectedOrConnecting() bool {
	return p.conn != nil && p.conn.IsConnectedOrConnecting()
}

// Done is closed when the receive goroutine exits.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Disconnect announces an orderly disconnect and releases the transport.
// Idempotent; no automatic reconnection is attempted.
func (p *Peer) Disconnect() {
	if p.conn == nil {
		return
	}
	if p.conn.IsConnectedOrConnecting() {
		p.conn.SendMessage(wire.Message{Type: wire.TypeDisconnection})
	}
	p.conn.Disconnect()
}
