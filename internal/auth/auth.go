// Package auth derives the password digests exchanged during session
// authentication and hostship requests. Raw passwords never cross the wire;
// both sides derive a digest bound to the server name and compare.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DigestSize is the length of every derived digest in bytes.
const DigestSize = 32

const (
	sessionContext  = "lockstep/session-password"
	hostshipContext = "lockstep/host-password"
)

// derive derives DigestSize bytes from a password with a context string bound
// to the server name.
func derive(password, serverName, context string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(password), []byte(serverName), []byte(context))
	out := make([]byte, DigestSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("failed to derive digest: %w", err)
	}
	return out, nil
}

// SessionDigest derives the digest sent in an Authentication message.
func SessionDigest(password, serverName string) ([]byte, error) {
	return derive(password, serverName, sessionContext)
}

// HostshipDigest derives the digest sent in a HostshipRequest message.
func HostshipDigest(password, serverName string) ([]byte, error) {
	return derive(password, serverName, hostshipContext)
}

// Verify compares a received digest against the expected one in constant time.
func Verify(received, expected []byte) bool {
	if len(received) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare(received, expected) == 1
}
