package p2p

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/gochain/gochain/pkg/p2p/wire"
	"github.com/stretchr/testify/require"
)

func newPipePeer(t *testing.T) (*Peer, net.Conn, chan Event) {
	t.Helper()
	client, server := net.Pipe()
	events := make(chan Event, 16)
	p := NewPeer(1, client, "pipe", false, events, nil)
	t.Cleanup(func() { p.Close(); server.Close() })
	return p, server, events
}

func TestPeerMisbehaveCrossesBanThreshold(t *testing.T) {
	p, _, _ := newPipePeer(t)
	require.False(t, p.Misbehave(BanScoreInvalidTx, "bad tx"))
	require.EqualValues(t, BanScoreInvalidTx, p.BanScore())
	require.True(t, p.Misbehave(BanScoreInvalidBlock, "bad block"))
}

func TestPeerTokenBucketLimitsRequests(t *testing.T) {
	p, _, _ := newPipePeer(t)
	for i := 0; i < requestsPerMinute; i++ {
		require.True(t, p.allowRequest())
	}
	require.False(t, p.allowRequest())
}

func TestPeerSendDropsOldestINVWhenFull(t *testing.T) {
	p, _, _ := newPipePeer(t)
	for i := 0; i < outboundQueueSize; i++ {
		p.Send(&wire.MsgInv{Items: []wire.InvVect{{Type: wire.InvTypeBlock, Hash: [32]byte{byte(i)}}}})
	}
	// Queue is full; sending one more INV must drop the oldest instead of blocking.
	done := make(chan struct{})
	go func() {
		p.Send(&wire.MsgInv{Items: []wire.InvVect{{Type: wire.InvTypeBlock, Hash: [32]byte{0xff}}}})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a full INV queue instead of dropping the oldest entry")
	}
}

func TestPeerStateTransitionsOnHandshake(t *testing.T) {
	p, server, events := newPipePeer(t)
	require.Equal(t, StateConnecting, p.State())
	p.setState(StateHandshaking)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.NoError(t, wire.WriteMessage(server, &wire.MsgVersion{ProtocolVersion: 1, StartHeight: 0}))
	// net.Pipe writes block until read, so drain what the peer sends back.
	go io.Copy(io.Discard, server)
	require.NoError(t, wire.WriteMessage(server, &wire.MsgVerAck{}))

	p.Send(&wire.MsgVersion{ProtocolVersion: 1})
	p.Send(&wire.MsgVerAck{})

	require.Eventually(t, func() bool { return p.State() == StateReady }, 2*time.Second, 10*time.Millisecond)
	_ = events
}
