package session

import (
	"fmt"
	"sync"

	"github.com/lockstep/lockstep/internal/auth"
	"github.com/lockstep/lockstep/internal/handoff"
	"github.com/lockstep/lockstep/internal/journal"
	"github.com/lockstep/lockstep/internal/log"
	"github.com/lockstep/lockstep/internal/transport"
	"github.com/lockstep/lockstep/internal/wire"
)

// HostshipPolicy selects what happens to a hostship request that arrives
// while a host already exists.
type HostshipPolicy int

const (
	// RejectWhileHosted rejects the request; the requester keeps its status.
	RejectWhileHosted HostshipPolicy = iota
	// QueueWhileHosted queues the request; it is granted when the current
	// host resigns or disconnects.
	QueueWhileHosted
)

// HubConfig configures a Hub.
type HubConfig struct {
	// Name is the server name; password digests are bound to it.
	Name string
	// SessionPassword authenticates joining peers.
	SessionPassword string
	// HostPassword gates hostship requests. Empty means any authenticated
	// client may request hostship.
	HostPassword string
	// Policy is the arbitration policy for concurrent hostship requests.
	Policy HostshipPolicy
	// Journal, when non-nil, records session events.
	Journal *journal.Journal
}

// eventKind discriminates hub events.
type eventKind int

const (
	evAttach eventKind = iota
	evMessage
	evFailure
)

// hubEvent is one item handed from a connection goroutine to the hub's run
// loop. Connection goroutines never mutate hub state directly; they only
// enqueue.
type hubEvent struct {
	kind eventKind
	conn *Connection
	msg  wire.Message
	err  error
}

// Hub owns the set of live connections, arbitrates hostship, and relays host
// data to followers. All bookkeeping is mutated exclusively by the Run loop;
// the small state mutex exists only so snapshot accessors can be called from
// other goroutines.
type Hub struct {
	cfg            HubConfig
	sessionDigest  []byte
	hostshipDigest []byte

	queue *handoff.Queue[hubEvent]

	mu      sync.Mutex
	conns   map[*Connection]struct{}
	host    *Connection
	pending []*Connection
}

// NewHub creates a hub with no connections.
func NewHub(cfg HubConfig) (*Hub, error) {
	sessionDigest, err := auth.SessionDigest(cfg.SessionPassword, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to derive session digest: %w", err)
	}

	var hostshipDigest []byte
	if cfg.HostPassword != "" {
		hostshipDigest, err = auth.HostshipDigest(cfg.HostPassword, cfg.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to derive hostship digest: %w", err)
		}
	}

	return &Hub{
		cfg:            cfg,
		sessionDigest:  sessionDigest,
		hostshipDigest: hostshipDigest,
		queue:          handoff.New[hubEvent](),
		conns:          make(map[*Connection]struct{}),
	}, nil
}

// Attach adopts an established transport and starts its receive goroutine.
// The connection enters the session once the run loop drains its attach event.
func (h *Hub) Attach(t transport.Conn) {
	c := newConnection(t)
	h.queue.Push(hubEvent{kind: evAttach, conn: c})

	go func() {
		for {
			msg, err := c.ReceiveMessage()
			if err != nil {
				h.queue.Push(hubEvent{kind: evFailure, conn: c, err: err})
				return
			}
			h.queue.Push(hubEvent{kind: evMessage, conn: c, msg: msg})
		}
	}()
}

// Run drains the event queue until Shutdown closes it, then disconnects every
// remaining connection. Run owns all hub bookkeeping.
func (h *Hub) Run() {
	for {
		ev, ok := h.queue.Pop()
		if !ok {
			break
		}
		switch ev.kind {
		case evAttach:
			h.mu.Lock()
			h.conns[ev.conn] = struct{}{}
			h.mu.Unlock()
			log.Info().Str("remote", ev.conn.RemoteAddr()).Msg("peer attached")
		case evMessage:
			h.handleMessage(ev.conn, ev.msg)
		case evFailure:
			log.Info().Err(ev.err).Str("peer", ev.conn.PeerName()).Msg("connection failed")
			h.removeConnection(ev.conn)
		}
	}

	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[*Connection]struct{})
	h.host = nil
	h.pending = nil
	h.mu.Unlock()

	for _, c := range conns {
		c.SendMessage(wire.Message{
			Type:    wire.TypeDisconnection,
			Payload: wire.DisconnectionPayload{Reason: "server shutting down"}.Encode(),
		})
		c.Disconnect()
	}
}

// Shutdown closes the event queue, which wakes the Run loop and makes it tear
// down every connection. Safe to call more than once.
func (h *Hub) Shutdown() {
	h.queue.Close()
}

// NumConnections returns the number of authenticated peers.
func (h *Hub) NumConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.countAuthenticatedLocked()
}

// HostName returns the current host's peer name, or "" when no host exists.
func (h *Hub) HostName() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.host == nil {
		return ""
	}
	return h.host.PeerName()
}

func (h *Hub) countAuthenticatedLocked() int {
	n := 0
	for c := range h.conns {
		if c.Status() == StatusClientWithoutHost || c.Status() == StatusClientWithHost || c.Status() == StatusHost {
			n++
		}
	}
	return n
}

// handleMessage validates a message against the sender's current state and
// applies it. Runs only on the Run goroutine.
func (h *Hub) handleMessage(c *Connection, msg wire.Message) {
	if c.Status() == StatusConnecting {
		if msg.Type != wire.TypeAuthentication {
			// Nothing but authentication is meaningful before the
			// session is established.
			log.Warn().Str("type", msg.Type.String()).Str("remote", c.RemoteAddr()).
				Msg("message before authentication")
			h.rejectAndDisconnect(c, "not authenticated")
			return
		}
		h.handleAuthentication(c, msg.Payload)
		return
	}

	switch msg.Type {
	case wire.TypeAuthentication:
		log.Warn().Str("peer", c.PeerName()).Msg("duplicate authentication ignored")
	case wire.TypeHostshipRequest:
		h.handleHostshipRequest(c, msg.Payload)
	case wire.TypeHostshipResignation:
		h.handleHostshipResignation(c)
	case wire.TypeData, wire.TypeIndependentData:
		h.handleData(c, msg)
	case wire.TypeViewRequest:
		if c.Status() == StatusHost {
			// The host's view status is always ViewHost
			return
		}
		c.setView(ViewFollowsHost)
		c.SendMessage(wire.Message{Type: wire.TypeViewStatus, Payload: wire.ViewStatusPayload{Following: true}.Encode()})
	case wire.TypeViewResignation:
		if c.Status() == StatusHost {
			return
		}
		c.setView(ViewIndependent)
		c.SendMessage(wire.Message{Type: wire.TypeViewStatus, Payload: wire.ViewStatusPayload{Following: false}.Encode()})
	case wire.TypeIndependentSessionOn:
		c.setIndependent(true)
	case wire.TypeIndependentSessionOff:
		c.setIndependent(false)
	case wire.TypeDisconnection:
		log.Info().Str("peer", c.PeerName()).Msg("peer disconnected")
		h.removeConnection(c)
	default:
		// Server-originated types arriving from a client
		log.Warn().Str("type", msg.Type.String()).Str("peer", c.PeerName()).
			Msg("unexpected message ignored")
	}
}

func (h *Hub) handleAuthentication(c *Connection, payload []byte) {
	p, err := wire.DecodeAuthentication(payload)
	if err != nil {
		log.Warn().Err(err).Str("remote", c.RemoteAddr()).Msg("malformed authentication")
		h.rejectAndDisconnect(c, "malformed authentication")
		return
	}

	if p.Version != wire.ProtocolVersion {
		log.Warn().Uint32("peer_version", p.Version).Uint32("version", wire.ProtocolVersion).
			Str("remote", c.RemoteAddr()).Msg("protocol version mismatch")
		h.rejectAndDisconnect(c, "protocol version mismatch")
		return
	}

	if !auth.Verify(p.PasswordDigest, h.sessionDigest) {
		log.Warn().Str("remote", c.RemoteAddr()).Msg("authentication failed")
		h.rejectAndDisconnect(c, "authentication failed")
		return
	}

	// Host identity travels by peer name, so names must be present and
	// unique; a nameless peer could never recognize itself as host
	name := p.PeerName
	if name == "" {
		log.Warn().Str("remote", c.RemoteAddr()).Msg("authentication without peer name")
		h.rejectAndDisconnect(c, "peer name required")
		return
	}

	taken := false
	h.forEachAuthenticated(func(peer *Connection) {
		if peer.PeerName() == name {
			taken = true
		}
	})
	if taken {
		log.Warn().Str("peer", name).Str("remote", c.RemoteAddr()).Msg("peer name already in use")
		h.rejectAndDisconnect(c, "peer name already in use")
		return
	}

	c.setPeerName(name)

	h.mu.Lock()
	hasHost := h.host != nil
	hostName := ""
	if hasHost {
		hostName = h.host.PeerName()
	}
	h.mu.Unlock()

	if hasHost {
		c.setStatus(StatusClientWithHost)
	} else {
		c.setStatus(StatusClientWithoutHost)
	}

	c.SendMessage(wire.Message{
		Type:    wire.TypeConnectionStatus,
		Payload: wire.ConnectionStatusPayload{HasHost: hasHost, HostName: hostName}.Encode(),
	})
	h.broadcastNConnections()
	h.journalRecord(journal.KindJoin, name)

	log.Info().Str("peer", name).Str("remote", c.RemoteAddr()).Msg("peer authenticated")
}

func (h *Hub) handleHostshipRequest(c *Connection, payload []byte) {
	if c.Status() == StatusHost {
		return
	}

	p, err := wire.DecodeHostshipRequest(payload)
	if err != nil {
		log.Warn().Err(err).Str("peer", c.PeerName()).Msg("malformed hostship request dropped")
		return
	}

	if h.hostshipDigest != nil && !auth.Verify(p.HostPasswordDigest, h.hostshipDigest) {
		log.Warn().Str("peer", c.PeerName()).Msg("hostship request with wrong host password")
		h.sendCurrentStatus(c)
		h.journalRecord(journal.KindHostshipRejected, c.PeerName())
		return
	}

	h.mu.Lock()
	hosted := h.host != nil
	h.mu.Unlock()

	if !hosted {
		h.grantHostship(c)
		return
	}

	switch h.cfg.Policy {
	case QueueWhileHosted:
		h.mu.Lock()
		queued := false
		for _, pc := range h.pending {
			if pc == c {
				queued = true
				break
			}
		}
		if !queued {
			h.pending = append(h.pending, c)
		}
		h.mu.Unlock()
		log.Info().Str("peer", c.PeerName()).Msg("hostship request queued")
		h.sendCurrentStatus(c)
	default:
		log.Info().Str("peer", c.PeerName()).Str("host", h.HostName()).
			Msg("hostship request rejected, host exists")
		h.sendCurrentStatus(c)
		h.journalRecord(journal.KindHostshipRejected, c.PeerName())
	}
}

// grantHostship promotes c to host and reclassifies every other peer. Any
// pending request from c is consumed by the grant.
func (h *Hub) grantHostship(c *Connection) {
	h.mu.Lock()
	h.host = c
	for i, p := range h.pending {
		if p == c {
			h.pending = append(h.pending[:i], h.pending[i+1:]...)
			break
		}
	}
	h.mu.Unlock()

	c.setStatus(StatusHost)
	c.setView(ViewHost)

	h.forEachAuthenticated(func(peer *Connection) {
		if peer != c {
			peer.setStatus(StatusClientWithHost)
		}
	})

	h.broadcastStatus(wire.ConnectionStatusPayload{HasHost: true, HostName: c.PeerName()})
	h.journalRecord(journal.KindHostshipGranted, c.PeerName())
	log.Info().Str("peer", c.PeerName()).Msg("hostship granted")
}

func (h *Hub) handleHostshipResignation(c *Connection) {
	h.mu.Lock()
	isHost := h.host == c
	h.mu.Unlock()

	if !isHost {
		log.Warn().Str("peer", c.PeerName()).Msg("hostship resignation from non-host")
		h.sendCurrentStatus(c)
		return
	}
	h.clearHostship()
}

// clearHostship demotes the current host and grants a queued request, if any.
func (h *Hub) clearHostship() {
	h.mu.Lock()
	host := h.host
	h.host = nil
	h.mu.Unlock()

	if host != nil && host.IsConnectedOrConnecting() {
		host.setStatus(StatusClientWithoutHost)
		host.setView(ViewIndependent)
	}

	h.forEachAuthenticated(func(peer *Connection) {
		if peer.Status() == StatusClientWithHost {
			peer.setStatus(StatusClientWithoutHost)
		}
	})

	h.broadcastStatus(wire.ConnectionStatusPayload{HasHost: false})
	if host != nil {
		h.journalRecord(journal.KindHostshipResigned, host.PeerName())
		log.Info().Str("peer", host.PeerName()).Msg("hostship resigned")
	}

	h.mu.Lock()
	var next *Connection
	if len(h.pending) > 0 {
		next = h.pending[0]
		h.pending = h.pending[1:]
	}
	h.mu.Unlock()

	if next != nil && next.IsConnectedOrConnecting() {
		h.grantHostship(next)
	}
}

// handleData relays host data to followers. Data from a non-host is a
// protocol violation: the sender is told its actual status, the connection
// stays alive.
func (h *Hub) handleData(c *Connection, msg wire.Message) {
	h.mu.Lock()
	isHost := h.host == c
	h.mu.Unlock()

	if msg.Type == wire.TypeIndependentData {
		// Independent session data marks intentional divergence and is
		// never relayed, from the host or anyone else
		return
	}
	if !isHost {
		log.Warn().Str("peer", c.PeerName()).Msg("data message from non-host rejected")
		h.sendCurrentStatus(c)
		return
	}

	dm, err := wire.DecodeDataMessage(msg.Payload)
	if err != nil {
		// Fatal to this message only, never to the connection
		log.Error().Err(err).Str("peer", c.PeerName()).Msg("malformed data message dropped")
		return
	}
	c.noteReceived(dm.Timestamp)

	relayed := 0
	h.forEachAuthenticated(func(peer *Connection) {
		if peer == c || peer.Status() != StatusClientWithHost {
			return
		}
		if peer.Independent() {
			return
		}
		// Camera data is host-view data; peers with an independent view
		// still receive everything else (time, script state)
		if dm.Domain == wire.DomainCamera && peer.ViewStatus() != ViewFollowsHost {
			return
		}
		peer.SendMessage(msg)
		relayed++
	})

	if h.cfg.Journal != nil && relayed > 0 {
		h.cfg.Journal.CountBroadcast(dm.Domain, len(msg.Payload)*relayed)
	}
}

// sendCurrentStatus sends a ConnectionStatus reflecting the hub's actual host
// state to a single peer. Used as the negative acknowledgment.
func (h *Hub) sendCurrentStatus(c *Connection) {
	h.mu.Lock()
	hasHost := h.host != nil
	hostName := ""
	if hasHost {
		hostName = h.host.PeerName()
	}
	h.mu.Unlock()

	c.SendMessage(wire.Message{
		Type:    wire.TypeConnectionStatus,
		Payload: wire.ConnectionStatusPayload{HasHost: hasHost, HostName: hostName}.Encode(),
	})
}

// broadcastStatus sends a ConnectionStatus to every authenticated peer.
func (h *Hub) broadcastStatus(p wire.ConnectionStatusPayload) {
	msg := wire.Message{Type: wire.TypeConnectionStatus, Payload: p.Encode()}
	h.forEachAuthenticated(func(peer *Connection) {
		peer.SendMessage(msg)
	})
}

// broadcastNConnections announces the live peer count to every peer.
func (h *Hub) broadcastNConnections() {
	h.mu.Lock()
	count := h.countAuthenticatedLocked()
	h.mu.Unlock()

	msg := wire.Message{
		Type:    wire.TypeNConnections,
		Payload: wire.NConnectionsPayload{Count: uint32(count)}.Encode(),
	}
	h.forEachAuthenticated(func(peer *Connection) {
		peer.SendMessage(msg)
	})
}

// forEachAuthenticated runs fn for every authenticated connection.
func (h *Hub) forEachAuthenticated(fn func(*Connection)) {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		switch c.Status() {
		case StatusClientWithoutHost, StatusClientWithHost, StatusHost:
			fn(c)
		}
	}
}

// rejectAndDisconnect sends a Disconnection with a reason and tears the
// connection down.
func (h *Hub) rejectAndDisconnect(c *Connection, reason string) {
	c.SendMessage(wire.Message{
		Type:    wire.TypeDisconnection,
		Payload: wire.DisconnectionPayload{Reason: reason}.Encode(),
	})
	h.removeConnection(c)
}

// removeConnection tears down a connection and repairs arbitration state.
// A vanished host clears hostship; a vanished pending requester leaves the
// queue consistent.
func (h *Hub) removeConnection(c *Connection) {
	h.mu.Lock()
	_, known := h.conns[c]
	delete(h.conns, c)
	wasHost := h.host == c
	for i, p := range h.pending {
		if p == c {
			h.pending = append(h.pending[:i], h.pending[i+1:]...)
			break
		}
	}
	h.mu.Unlock()

	if !known {
		return
	}

	wasAuthenticated := c.Status() != StatusConnecting && c.Status() != StatusDisconnected
	name := c.PeerName()
	c.Disconnect()

	if wasHost {
		h.clearHostship()
	}
	if wasAuthenticated {
		log.Info().Str("peer", name).Float64("last_timestamp", c.lastReceived()).
			Msg("peer removed")
		h.journalRecord(journal.KindLeave, name)
		h.broadcastNConnections()
	}
}

func (h *Hub) journalRecord(kind, peer string) {
	if h.cfg.Journal != nil {
		h.cfg.Journal.Record(kind, peer)
	}
}
