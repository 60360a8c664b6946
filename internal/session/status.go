// Package session implements the connection/session protocol: the per-peer
// state machine, the peer-side synchronization engine, and the hub that
// arbitrates hostship and relays host data to followers.
package session

// Status is the protocol state of a connection.
type Status int

const (
	// StatusDisconnected is the terminal state.
	StatusDisconnected Status = iota
	// StatusConnecting covers the window between transport handshake and
	// completed authentication.
	StatusConnecting
	// StatusClientWithoutHost is an authenticated client while no host exists.
	StatusClientWithoutHost
	// StatusClientWithHost is an authenticated client while some other
	// connection is host.
	StatusClientWithHost
	// StatusHost is the single connection authoritative for broadcast state.
	StatusHost
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusClientWithoutHost:
		return "ClientWithoutHost"
	case StatusClientWithHost:
		return "ClientWithHost"
	case StatusHost:
		return "Host"
	default:
		return "Unknown"
	}
}

// ViewStatus is whether a peer's camera follows the host. It is orthogonal to
// Status, except that ViewHost is held only by the host connection.
type ViewStatus int

const (
	// ViewIndependent means the peer controls its own camera.
	ViewIndependent ViewStatus = iota
	// ViewFollowsHost means the peer's camera follows the host's.
	ViewFollowsHost
	// ViewHost is the view status of the host connection itself.
	ViewHost
)

// String returns a string representation of the view status.
func (v ViewStatus) String() string {
	switch v {
	case ViewIndependent:
		return "IndependentView"
	case ViewFollowsHost:
		return "HostView"
	case ViewHost:
		return "Host"
	default:
		return "Unknown"
	}
}
