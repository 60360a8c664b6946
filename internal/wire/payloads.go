package wire

import (
	"fmt"

	"github.com/lockstep/lockstep/internal/syncbuf"
)

// AuthenticationPayload is the body of an Authentication message. The password
// digest is an HKDF derivation of the session password, never the raw password.
type AuthenticationPayload struct {
	Version        uint32
	PasswordDigest []byte
	PeerName       string
}

// Encode serializes the authentication payload.
func (p AuthenticationPayload) Encode() []byte {
	buf := syncbuf.New()
	buf.WriteUint32(p.Version)
	buf.WriteBytes(p.PasswordDigest)
	buf.WriteString(p.PeerName)
	return buf.Bytes()
}

// DecodeAuthentication parses an Authentication payload.
func DecodeAuthentication(payload []byte) (AuthenticationPayload, error) {
	buf := syncbuf.FromBytes(payload)

	version, err := buf.ReadUint32()
	if err != nil {
		return AuthenticationPayload{}, fmt.Errorf("failed to read protocol version: %w", err)
	}
	digest, err := buf.ReadBytes()
	if err != nil {
		return AuthenticationPayload{}, fmt.Errorf("failed to read password digest: %w", err)
	}
	name, err := buf.ReadString()
	if err != nil {
		return AuthenticationPayload{}, fmt.Errorf("failed to read peer name: %w", err)
	}

	return AuthenticationPayload{Version: version, PasswordDigest: digest, PeerName: name}, nil
}

// ConnectionStatusPayload announces whether a host exists and, when it does,
// the host's peer name.
type ConnectionStatusPayload struct {
	HasHost  bool
	HostName string
}

// Encode serializes the connection status payload.
func (p ConnectionStatusPayload) Encode() []byte {
	buf := syncbuf.New()
	buf.WriteBool(p.HasHost)
	buf.WriteString(p.HostName)
	return buf.Bytes()
}

// DecodeConnectionStatus parses a ConnectionStatus payload.
func DecodeConnectionStatus(payload []byte) (ConnectionStatusPayload, error) {
	buf := syncbuf.FromBytes(payload)

	hasHost, err := buf.ReadBool()
	if err != nil {
		return ConnectionStatusPayload{}, fmt.Errorf("failed to read host flag: %w", err)
	}
	hostName, err := buf.ReadString()
	if err != nil {
		return ConnectionStatusPayload{}, fmt.Errorf("failed to read host name: %w", err)
	}

	return ConnectionStatusPayload{HasHost: hasHost, HostName: hostName}, nil
}

// HostshipRequestPayload carries the digest of the host password.
type HostshipRequestPayload struct {
	HostPasswordDigest []byte
}

// Encode serializes the hostship request payload.
func (p HostshipRequestPayload) Encode() []byte {
	buf := syncbuf.New()
	buf.WriteBytes(p.HostPasswordDigest)
	return buf.Bytes()
}

// DecodeHostshipRequest parses a HostshipRequest payload.
func DecodeHostshipRequest(payload []byte) (HostshipRequestPayload, error) {
	buf := syncbuf.FromBytes(payload)

	digest, err := buf.ReadBytes()
	if err != nil {
		return HostshipRequestPayload{}, fmt.Errorf("failed to read host password digest: %w", err)
	}

	return HostshipRequestPayload{HostPasswordDigest: digest}, nil
}

// NConnectionsPayload announces the number of live peers.
type NConnectionsPayload struct {
	Count uint32
}

// Encode serializes the peer count payload.
func (p NConnectionsPayload) Encode() []byte {
	buf := syncbuf.New()
	buf.WriteUint32(p.Count)
	return buf.Bytes()
}

// DecodeNConnections parses an NConnections payload.
func DecodeNConnections(payload []byte) (NConnectionsPayload, error) {
	buf := syncbuf.FromBytes(payload)

	count, err := buf.ReadUint32()
	if err != nil {
		return NConnectionsPayload{}, fmt.Errorf("failed to read connection count: %w", err)
	}

	return NConnectionsPayload{Count: count}, nil
}

// ViewStatusPayload announces whether the sender's camera follows the host.
type ViewStatusPayload struct {
	Following bool
}

// Encode serializes the view status payload.
func (p ViewStatusPayload) Encode() []byte {
	buf := syncbuf.New()
	buf.WriteBool(p.Following)
	return buf.Bytes()
}

// DecodeViewStatus parses a ViewStatus payload.
func DecodeViewStatus(payload []byte) (ViewStatusPayload, error) {
	buf := syncbuf.FromBytes(payload)

	following, err := buf.ReadBool()
	if err != nil {
		return ViewStatusPayload{}, fmt.Errorf("failed to read view flag: %w", err)
	}

	return ViewStatusPayload{Following: following}, nil
}

// DisconnectionPayload carries an optional human-readable reason.
type DisconnectionPayload struct {
	Reason string
}

// Encode serializes the disconnection payload.
func (p DisconnectionPayload) Encode() []byte {
	buf := syncbuf.New()
	buf.WriteString(p.Reason)
	return buf.Bytes()
}

// DecodeDisconnection parses a Disconnection payload.
func DecodeDisconnection(payload []byte) (DisconnectionPayload, error) {
	buf := syncbuf.FromBytes(payload)

	reason, err := buf.ReadString()
	if err != nil {
		return DisconnectionPayload{}, fmt.Errorf("failed to read disconnect reason: %w", err)
	}

	return DisconnectionPayload{Reason: reason}, nil
}
