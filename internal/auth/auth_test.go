package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionDigestIsDeterministic(t *testing.T) {
	d1, err := SessionDigest("hunter2", "relay.example")
	require.NoError(t, err)
	d2, err := SessionDigest("hunter2", "relay.example")
	require.NoError(t, err)

	assert.Len(t, d1, DigestSize)
	assert.Equal(t, d1, d2)
}

func TestDigestBoundToServerName(t *testing.T) {
	d1, err := SessionDigest("hunter2", "relay-a")
	require.NoError(t, err)
	d2, err := SessionDigest("hunter2", "relay-b")
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2)
}

func TestSessionAndHostshipContextsDiffer(t *testing.T) {
	session, err := SessionDigest("same", "server")
	require.NoError(t, err)
	hostship, err := HostshipDigest("same", "server")
	require.NoError(t, err)

	assert.NotEqual(t, session, hostship)
}

func TestVerify(t *testing.T) {
	d, err := SessionDigest("pw", "server")
	require.NoError(t, err)

	assert.True(t, Verify(d, d))

	other, err := SessionDigest("wrong", "server")
	require.NoError(t, err)
	assert.False(t, Verify(other, d))
	assert.False(t, Verify(d[:16], d))
	assert.False(t, Verify(nil, d))
}
