package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockstep/lockstep/internal/syncbuf"
)

func TestDataMessageRoundTrip(t *testing.T) {
	dm := DataMessage{
		Domain:    DomainCamera,
		Timestamp: 1234.5,
		Content:   []byte("pose bytes"),
	}

	decoded, err := DecodeDataMessage(dm.Encode())
	require.NoError(t, err)
	assert.Equal(t, dm, decoded)
}

func TestDataMessageEmptyContent(t *testing.T) {
	dm := DataMessage{Domain: DomainTime, Timestamp: 0}

	decoded, err := DecodeDataMessage(dm.Encode())
	require.NoError(t, err)
	assert.Equal(t, DomainTime, decoded.Domain)
	assert.Empty(t, decoded.Content)
}

func TestDataMessageTruncated(t *testing.T) {
	// Only the domain tag, no timestamp
	buf := syncbuf.New()
	buf.WriteUint32(DomainScript)

	_, err := DecodeDataMessage(buf.Bytes())
	assert.ErrorIs(t, err, syncbuf.ErrBufferExhausted)
}

func TestAuthenticationRoundTrip(t *testing.T) {
	p := AuthenticationPayload{
		Version:        ProtocolVersion,
		PasswordDigest: []byte{0xAA, 0xBB},
		PeerName:       "node-17",
	}

	decoded, err := DecodeAuthentication(p.Encode())
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
}

func TestConnectionStatusRoundTrip(t *testing.T) {
	p := ConnectionStatusPayload{HasHost: true, HostName: "alice"}

	decoded, err := DecodeConnectionStatus(p.Encode())
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
}

func TestTruncatedPayloadsFail(t *testing.T) {
	_, err := DecodeAuthentication([]byte{0, 0})
	assert.Error(t, err)

	_, err = DecodeConnectionStatus(nil)
	assert.Error(t, err)

	_, err = DecodeNConnections([]byte{1})
	assert.Error(t, err)
}
