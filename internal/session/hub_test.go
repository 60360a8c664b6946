package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockstep/lockstep/internal/auth"
	"github.com/lockstep/lockstep/internal/syncable"
	"github.com/lockstep/lockstep/internal/transport"
	"github.com/lockstep/lockstep/internal/wire"
)

const (
	testServerName   = "test-relay"
	testPassword     = "session-pw"
	testHostPassword = "host-pw"
	waitFor          = 3 * time.Second
	tick             = 10 * time.Millisecond
)

// startHub runs a hub plus accept loop on a loopback listener.
func startHub(t *testing.T, cfg HubConfig) (*Hub, string) {
	t.Helper()

	hub, err := NewHub(cfg)
	require.NoError(t, err)

	ln, err := transport.Listen("127.0.0.1:0")
	require.NoError(t, err)

	go hub.Run()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			hub.Attach(conn)
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		hub.Shutdown()
	})
	return hub, ln.Addr()
}

func defaultHubConfig() HubConfig {
	return HubConfig{
		Name:            testServerName,
		SessionPassword: testPassword,
		HostPassword:    testHostPassword,
	}
}

// connectPeer creates and connects a peer with its own registry.
func connectPeer(t *testing.T, addr, name string) *Peer {
	t.Helper()

	p := NewPeer(PeerConfig{
		Name:         name,
		ServerName:   testServerName,
		Password:     testPassword,
		HostPassword: testHostPassword,
	}, syncable.NewRegistry())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, p.Connect(ctx, addr))
	t.Cleanup(p.Disconnect)
	return p
}

func TestAuthenticationAndPeerCount(t *testing.T) {
	hub, addr := startHub(t, defaultHubConfig())

	p1 := connectPeer(t, addr, "alice")
	assert.Equal(t, StatusClientWithoutHost, p1.Status())

	p2 := connectPeer(t, addr, "bob")
	assert.Equal(t, StatusClientWithoutHost, p2.Status())

	require.Eventually(t, func() bool { return hub.NumConnections() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return p1.NConnections() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return p2.NConnections() == 2 }, waitFor, tick)
}

func TestWrongPasswordIsFatal(t *testing.T) {
	_, addr := startHub(t, defaultHubConfig())

	p := NewPeer(PeerConfig{
		Name:       "mallory",
		ServerName: testServerName,
		Password:   "wrong",
	}, syncable.NewRegistry())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	err := p.Connect(ctx, addr)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.False(t, p.IsConnectedOrConnecting())
}

func TestVersionMismatchIsFatal(t *testing.T) {
	_, addr := startHub(t, defaultHubConfig())

	tc, err := transport.Dial(context.Background(), addr, transport.DefaultConfig())
	require.NoError(t, err)
	defer tc.Close()

	c := newConnection(tc)
	c.SendMessage(wire.Message{
		Type: wire.TypeAuthentication,
		Payload: wire.AuthenticationPayload{
			Version:  wire.ProtocolVersion + 1,
			PeerName: "old-build",
		}.Encode(),
	})

	msg, err := c.ReceiveMessage()
	require.NoError(t, err)
	assert.Equal(t, wire.TypeDisconnection, msg.Type)

	// The hub closes the transport after the rejection
	_, err = c.ReceiveMessage()
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestEmptyPeerNameRejected(t *testing.T) {
	hub, addr := startHub(t, defaultHubConfig())

	// Peer side fails before dialing
	p := NewPeer(PeerConfig{
		ServerName: testServerName,
		Password:   testPassword,
	}, syncable.NewRegistry())
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	err := p.Connect(ctx, addr)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthentication)

	// A raw connection with a valid digest but no name is rejected too
	digest, err := auth.SessionDigest(testPassword, testServerName)
	require.NoError(t, err)

	tc, err := transport.Dial(context.Background(), addr, transport.DefaultConfig())
	require.NoError(t, err)
	defer tc.Close()

	c := newConnection(tc)
	c.SendMessage(wire.Message{
		Type: wire.TypeAuthentication,
		Payload: wire.AuthenticationPayload{
			Version:        wire.ProtocolVersion,
			PasswordDigest: digest,
		}.Encode(),
	})

	msg, err := c.ReceiveMessage()
	require.NoError(t, err)
	assert.Equal(t, wire.TypeDisconnection, msg.Type)
	assert.Equal(t, 0, hub.NumConnections())
}

func TestHostshipGrantAndReject(t *testing.T) {
	hub, addr := startHub(t, defaultHubConfig())

	p1 := connectPeer(t, addr, "alice")
	p2 := connectPeer(t, addr, "bob")

	require.NoError(t, p1.RequestHostship())
	require.Eventually(t, func() bool { return p1.Status() == StatusHost }, waitFor, tick)
	assert.Equal(t, ViewHost, p1.ViewStatus())

	require.Eventually(t, func() bool { return p2.Status() == StatusClientWithHost }, waitFor, tick)
	assert.Equal(t, "alice", hub.HostName())

	// A request while a host exists is rejected
	require.NoError(t, p2.RequestHostship())
	require.Eventually(t, func() bool { return p2.HostName() == "alice" }, waitFor, tick)
	assert.NotEqual(t, StatusHost, p2.Status())
	assert.Equal(t, "alice", hub.HostName())

	// After resignation the second client can win hostship
	require.NoError(t, p1.ResignHostship())
	require.Eventually(t, func() bool { return p1.Status() == StatusClientWithoutHost }, waitFor, tick)
	require.Eventually(t, func() bool { return p2.Status() == StatusClientWithoutHost }, waitFor, tick)
	assert.Equal(t, "", hub.HostName())

	require.NoError(t, p2.RequestHostship())
	require.Eventually(t, func() bool { return p2.Status() == StatusHost }, waitFor, tick)
	assert.Equal(t, "bob", hub.HostName())
}

func TestAtMostOneHostUnderConcurrentRequests(t *testing.T) {
	hub, addr := startHub(t, defaultHubConfig())

	peers := []*Peer{
		connectPeer(t, addr, "p0"),
		connectPeer(t, addr, "p1"),
		connectPeer(t, addr, "p2"),
	}

	for _, p := range peers {
		require.NoError(t, p.RequestHostship())
	}

	require.Eventually(t, func() bool { return hub.HostName() != "" }, waitFor, tick)

	// Exactly one peer ends up host no matter the interleaving
	require.Eventually(t, func() bool {
		hosts := 0
		for _, p := range peers {
			if p.Status() == StatusHost {
				hosts++
			}
		}
		return hosts == 1
	}, waitFor, tick)

	hosts := 0
	for _, p := range peers {
		if p.Status() == StatusHost {
			hosts++
		}
	}
	assert.Equal(t, 1, hosts)
}

func TestWrongHostPasswordRejected(t *testing.T) {
	hub, addr := startHub(t, defaultHubConfig())

	p := NewPeer(PeerConfig{
		Name:         "alice",
		ServerName:   testServerName,
		Password:     testPassword,
		HostPassword: "not-it",
	}, syncable.NewRegistry())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, p.Connect(ctx, addr))
	defer p.Disconnect()

	require.NoError(t, p.RequestHostship())

	// The request is answered with the current (host-less) status and the
	// connection stays alive
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, "", hub.HostName())
	assert.NotEqual(t, StatusHost, p.Status())
	assert.True(t, p.IsConnectedOrConnecting())
}

func TestQueuedHostshipGrantedAfterResignation(t *testing.T) {
	cfg := defaultHubConfig()
	cfg.Policy = QueueWhileHosted
	hub, addr := startHub(t, cfg)

	p1 := connectPeer(t, addr, "alice")
	p2 := connectPeer(t, addr, "bob")

	require.NoError(t, p1.RequestHostship())
	require.Eventually(t, func() bool { return p1.Status() == StatusHost }, waitFor, tick)

	require.NoError(t, p2.RequestHostship())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "alice", hub.HostName())

	require.NoError(t, p1.ResignHostship())
	require.Eventually(t, func() bool { return p2.Status() == StatusHost }, waitFor, tick)
	assert.Equal(t, "bob", hub.HostName())
}

func TestRepeatedQueuedRequestGrantedOnlyOnce(t *testing.T) {
	cfg := defaultHubConfig()
	cfg.Policy = QueueWhileHosted
	hub, addr := startHub(t, cfg)

	p1 := connectPeer(t, addr, "alice")
	p2 := connectPeer(t, addr, "bob")

	require.NoError(t, p1.RequestHostship())
	require.Eventually(t, func() bool { return p1.Status() == StatusHost }, waitFor, tick)

	// An impatient client asks twice while alice hosts
	require.NoError(t, p2.RequestHostship())
	require.NoError(t, p2.RequestHostship())

	require.NoError(t, p1.ResignHostship())
	require.Eventually(t, func() bool { return p2.Status() == StatusHost }, waitFor, tick)

	// Resigning must actually stick: no stale queue entry may re-grant
	require.NoError(t, p2.ResignHostship())
	require.Eventually(t, func() bool { return p2.Status() == StatusClientWithoutHost }, waitFor, tick)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, "", hub.HostName())
	assert.Equal(t, StatusClientWithoutHost, p2.Status())
}

func TestHostDisconnectClearsHostship(t *testing.T) {
	hub, addr := startHub(t, defaultHubConfig())

	p1 := connectPeer(t, addr, "alice")
	p2 := connectPeer(t, addr, "bob")

	require.NoError(t, p1.RequestHostship())
	require.Eventually(t, func() bool { return p2.Status() == StatusClientWithHost }, waitFor, tick)

	p1.Disconnect()

	require.Eventually(t, func() bool { return p2.Status() == StatusClientWithoutHost }, waitFor, tick)
	assert.Equal(t, "", hub.HostName())
	require.Eventually(t, func() bool { return hub.NumConnections() == 1 }, waitFor, tick)
}

func TestDataRelayAndLatestWriteWins(t *testing.T) {
	_, addr := startHub(t, defaultHubConfig())

	host := connectPeer(t, addr, "host")
	require.NoError(t, host.RequestHostship())
	require.Eventually(t, func() bool { return host.Status() == StatusHost }, waitFor, tick)

	follower := connectPeer(t, addr, "follower")
	cam := &blobSyncable{}
	clock := &blobSyncable{}
	require.NoError(t, follower.registry.Register(wire.DomainCamera, cam))
	require.NoError(t, follower.registry.Register(wire.DomainTime, clock))

	require.NoError(t, follower.FollowHostView())
	require.Eventually(t, func() bool { return follower.ViewStatus() == ViewFollowsHost }, waitFor, tick)

	sendData := func(domain uint32, ts float64, content string) {
		dm := wire.DataMessage{Domain: domain, Timestamp: ts, Content: encodeBlob([]byte(content))}
		host.conn.SendMessage(wire.Message{Type: wire.TypeData, Payload: dm.Encode()})
	}

	// Newer camera state first, stale one second, then a time marker
	sendData(wire.DomainCamera, 10.0, "C1")
	sendData(wire.DomainCamera, 9.0, "C2")
	sendData(wire.DomainTime, 11.0, "T1")

	// Per-connection order is preserved end-to-end, so once the time
	// marker has been applied both camera messages have been drained
	require.Eventually(t, func() bool {
		follower.SynchronizationPoint()
		return string(clock.value) == "T1"
	}, waitFor, tick)

	assert.Equal(t, []byte("C1"), cam.value)
}

func TestIndependentViewSkipsCameraData(t *testing.T) {
	_, addr := startHub(t, defaultHubConfig())

	host := connectPeer(t, addr, "host")
	require.NoError(t, host.RequestHostship())
	require.Eventually(t, func() bool { return host.Status() == StatusHost }, waitFor, tick)

	follower := connectPeer(t, addr, "solo")
	cam := &blobSyncable{}
	clock := &blobSyncable{}
	require.NoError(t, follower.registry.Register(wire.DomainCamera, cam))
	require.NoError(t, follower.registry.Register(wire.DomainTime, clock))
	require.Eventually(t, func() bool { return follower.Status() == StatusClientWithHost }, waitFor, tick)

	// Default view is independent: camera data must not arrive, time must
	dm := wire.DataMessage{Domain: wire.DomainCamera, Timestamp: 1.0, Content: encodeBlob([]byte("pose"))}
	host.conn.SendMessage(wire.Message{Type: wire.TypeData, Payload: dm.Encode()})
	dm = wire.DataMessage{Domain: wire.DomainTime, Timestamp: 2.0, Content: encodeBlob([]byte("tick"))}
	host.conn.SendMessage(wire.Message{Type: wire.TypeData, Payload: dm.Encode()})

	require.Eventually(t, func() bool {
		follower.SynchronizationPoint()
		return string(clock.value) == "tick"
	}, waitFor, tick)

	assert.Nil(t, cam.value)
}

func TestIndependentSessionDataNotRelayed(t *testing.T) {
	_, addr := startHub(t, defaultHubConfig())

	host := connectPeer(t, addr, "host")
	require.NoError(t, host.RequestHostship())
	require.Eventually(t, func() bool { return host.Status() == StatusHost }, waitFor, tick)

	follower := connectPeer(t, addr, "follower")
	script := &blobSyncable{}
	clock := &blobSyncable{}
	require.NoError(t, follower.registry.Register(wire.DomainScript, script))
	require.NoError(t, follower.registry.Register(wire.DomainTime, clock))
	require.Eventually(t, func() bool { return follower.Status() == StatusClientWithHost }, waitFor, tick)

	// Divergence data first, regular data second; per-connection ordering
	// means the script frame would have arrived before the time frame if
	// the hub had relayed it
	dm := wire.DataMessage{Domain: wire.DomainScript, Timestamp: 1.0, Content: encodeBlob([]byte("solo"))}
	host.conn.SendMessage(wire.Message{Type: wire.TypeIndependentData, Payload: dm.Encode()})
	dm = wire.DataMessage{Domain: wire.DomainTime, Timestamp: 2.0, Content: encodeBlob([]byte("shared"))}
	host.conn.SendMessage(wire.Message{Type: wire.TypeData, Payload: dm.Encode()})

	require.Eventually(t, func() bool {
		follower.SynchronizationPoint()
		return string(clock.value) == "shared"
	}, waitFor, tick)

	assert.Nil(t, script.value)
}

func TestDataFromNonHostRejected(t *testing.T) {
	_, addr := startHub(t, defaultHubConfig())

	host := connectPeer(t, addr, "host")
	require.NoError(t, host.RequestHostship())
	require.Eventually(t, func() bool { return host.Status() == StatusHost }, waitFor, tick)

	imposter := connectPeer(t, addr, "imposter")
	require.Eventually(t, func() bool { return imposter.Status() == StatusClientWithHost }, waitFor, tick)

	dm := wire.DataMessage{Domain: wire.DomainCamera, Timestamp: 5.0, Content: encodeBlob([]byte("x"))}
	imposter.conn.SendMessage(wire.Message{Type: wire.TypeData, Payload: dm.Encode()})

	// Rejected with a status answer; the connection stays alive
	time.Sleep(100 * time.Millisecond)
	assert.True(t, imposter.IsConnectedOrConnecting())
	assert.Equal(t, StatusClientWithHost, imposter.Status())
}

func TestMalformedFrameIsFatalToThatConnectionOnly(t *testing.T) {
	hub, addr := startHub(t, defaultHubConfig())

	good := connectPeer(t, addr, "good")
	require.Eventually(t, func() bool { return hub.NumConnections() == 1 }, waitFor, tick)

	// A second connection that sends garbage instead of a frame header
	tc, err := transport.Dial(context.Background(), addr, transport.DefaultConfig())
	require.NoError(t, err)
	defer tc.Close()
	require.NoError(t, tc.Send([]byte("this is not a lockstep frame....")))

	// The offender is dropped, the healthy peer is untouched
	require.Eventually(t, func() bool {
		_, err := tc.ReceiveExact(1)
		return err != nil
	}, waitFor, tick)
	assert.True(t, good.IsConnectedOrConnecting())
	assert.Equal(t, 1, hub.NumConnections())
}

func TestShutdownNotifiesPeers(t *testing.T) {
	hub, addr := startHub(t, defaultHubConfig())

	p := connectPeer(t, addr, "alice")
	require.Eventually(t, func() bool { return hub.NumConnections() == 1 }, waitFor, tick)

	hub.Shutdown()

	select {
	case <-p.Done():
	case <-time.After(waitFor):
		t.Fatal("peer did not observe shutdown")
	}
	assert.False(t, p.IsConnectedOrConnecting())
}
