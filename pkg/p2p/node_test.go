package p2p

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gochain/gochain/pkg/chain"
	"github.com/gochain/gochain/pkg/mempool"
	"github.com/gochain/gochain/pkg/storage"
	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	cfg := chain.DefaultConfig()
	c, err := chain.New(cfg, storage.NewMemory())
	require.NoError(t, err)
	mp := mempool.New(mempool.TestConfig(), c.UTXOSet(), cfg.ChainID)
	return New(DefaultConfig(), c, mp, nil)
}

func TestBlockLocatorStartsAtTipAndEndsAtGenesis(t *testing.T) {
	n := newTestNode(t)
	locator := n.blockLocator()
	require.NotEmpty(t, locator)
	tip := n.chain.Tip()
	require.Equal(t, tip.Hash(), locator[0])
	require.Equal(t, uint64(0), n.chain.Height())
	genesis, ok := n.chain.GetBlockByHeight(0)
	require.True(t, ok)
	require.Equal(t, genesis.Hash(), locator[len(locator)-1])
}

func TestFindLocatorStartDefaultsToOneWhenNoneMatch(t *testing.T) {
	n := newTestNode(t)
	unknown := [32]byte{0xaa, 0xbb}
	require.EqualValues(t, 1, n.findLocatorStart([][32]byte{unknown}))
}

func TestFindLocatorStartMatchesKnownAncestor(t *testing.T) {
	n := newTestNode(t)
	genesis, ok := n.chain.GetBlockByHeight(0)
	require.True(t, ok)
	require.EqualValues(t, 1, n.findLocatorStart([][32]byte{genesis.Hash()}))
}

func TestConnectEnforcesMaxPeers(t *testing.T) {
	n := newTestNode(t)
	n.config.MaxPeers = 1
	n.Start(context.Background())
	defer n.Stop()

	c1, s1 := net.Pipe()
	defer s1.Close()
	_, err := n.Connect(c1, "peer-a:1", "peer-a", false)
	require.NoError(t, err)

	c2, s2 := net.Pipe()
	defer s2.Close()
	_, err = n.Connect(c2, "peer-b:1", "peer-b", false)
	require.Error(t, err)
}

func TestConnectEnforcesMaxInboundPerIP(t *testing.T) {
	n := newTestNode(t)
	n.config.MaxInboundPerIP = 1
	n.Start(context.Background())
	defer n.Stop()

	c1, s1 := net.Pipe()
	defer s1.Close()
	_, err := n.Connect(c1, "1.2.3.4:4001", "1.2.3.4", true)
	require.NoError(t, err)

	c2, s2 := net.Pipe()
	defer s2.Close()
	_, err = n.Connect(c2, "1.2.3.4:4002", "1.2.3.4", true)
	require.Error(t, err)
}

func TestConnectRejectsBannedIP(t *testing.T) {
	n := newTestNode(t)
	n.ban("9.9.9.9")
	c, s := net.Pipe()
	defer c.Close()
	defer s.Close()
	_, err := n.Connect(c, "9.9.9.9:1", "9.9.9.9", true)
	require.Error(t, err)
}

// TestHandshakeReachesReadyState wires two independent nodes together over
// an in-memory net.Pipe and drives both event loops until each side's peer
// reaches StateReady (§4.8: full VERSION/VERACK exchange both ways).
func TestHandshakeReachesReadyState(t *testing.T) {
	nodeA := newTestNode(t)
	nodeB := newTestNode(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	nodeA.Start(ctx)
	nodeB.Start(ctx)
	defer nodeA.Stop()
	defer nodeB.Stop()

	connA, connB := net.Pipe()
	peerA, err := nodeA.Connect(connA, "b:1", "b", false)
	require.NoError(t, err)
	peerB, err := nodeB.Connect(connB, "a:1", "a", true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return peerA.State() == StateReady && peerB.State() == StateReady
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIPOfStripsPort(t *testing.T) {
	require.Equal(t, "1.2.3.4", ipOf("1.2.3.4:4001"))
	require.Equal(t, "noport", ipOf("noport"))
}
