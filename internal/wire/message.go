// Package wire implements the typed message framing protocol spoken between
// peers. It converts between in-memory Message values and the length-prefixed,
// type-tagged byte frames carried by the transport. The codec performs no
// socket I/O.
package wire

import (
	"errors"
)

// Common errors returned by the wire package.
var (
	ErrBadMagic        = errors.New("bad frame magic")
	ErrUnknownType     = errors.New("unknown message type")
	ErrFrameTooShort   = errors.New("frame shorter than declared length")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
)

// ProtocolVersion is exchanged during authentication. A mismatch is a fatal
// rejection, not a negotiation.
const ProtocolVersion uint32 = 1

// Magic identifies a lockstep frame ("LKSP").
const Magic uint32 = 0x4C4B5350

// MaxPayloadSize bounds the declared payload length of a single frame.
const MaxPayloadSize = 16 * 1024 * 1024

// HeaderSize is the fixed size of the frame header:
// magic (4) + message type (4) + payload length (4).
const HeaderSize = 12

// MessageType identifies the kind of a protocol message. The numeric order is
// part of the wire protocol and must not change without a version bump.
type MessageType uint32

const (
	// TypeAuthentication carries protocol version, password digest and peer name.
	TypeAuthentication MessageType = iota
	// TypeData carries host-authoritative syncable state.
	TypeData
	// TypeIndependentData carries syncable state produced during an
	// independent session.
	TypeIndependentData
	// TypeConnectionStatus announces the peer's session status and the
	// current host, if any.
	TypeConnectionStatus
	// TypeHostshipRequest asks the hub to grant hostship to the sender.
	TypeHostshipRequest
	// TypeHostshipResignation relinquishes hostship.
	TypeHostshipResignation
	// TypeViewRequest asks to follow the host's view.
	TypeViewRequest
	// TypeViewResignation stops following the host's view.
	TypeViewResignation
	// TypeViewStatus announces a peer's view status.
	TypeViewStatus
	// TypeIndependentSessionOn brackets the start of intentional divergence.
	TypeIndependentSessionOn
	// TypeIndependentSessionOff brackets the end of intentional divergence.
	TypeIndependentSessionOff
	// TypeNConnections announces the number of live peers.
	TypeNConnections
	// TypeDisconnection announces an orderly disconnect.
	TypeDisconnection

	numMessageTypes
)

// String returns a string representation of the message type.
func (t MessageType) String() string {
	switch t {
	case TypeAuthentication:
		return "Authentication"
	case TypeData:
		return "Data"
	case TypeIndependentData:
		return "IndependentData"
	case TypeConnectionStatus:
		return "ConnectionStatus"
	case TypeHostshipRequest:
		return "HostshipRequest"
	case TypeHostshipResignation:
		return "HostshipResignation"
	case TypeViewRequest:
		return "ViewRequest"
	case TypeViewResignation:
		return "ViewResignation"
	case TypeViewStatus:
		return "ViewStatus"
	case TypeIndependentSessionOn:
		return "IndependentSessionOn"
	case TypeIndependentSessionOff:
		return "IndependentSessionOff"
	case TypeNConnections:
		return "NConnections"
	case TypeDisconnection:
		return "Disconnection"
	default:
		return "Unknown"
	}
}

// Valid reports whether the type tag is a recognized enumerant.
func (t MessageType) Valid() bool {
	return t < numMessageTypes
}

// Message is the wire-level unit: a type tag and an opaque payload. Messages
// are stateless and constructed per send/receive.
type Message struct {
	Type    MessageType
	Payload []byte
}
