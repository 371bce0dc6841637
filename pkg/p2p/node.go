package p2p

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/chain"
	"github.com/gochain/gochain/pkg/logger"
	"github.com/gochain/gochain/pkg/mempool"
	"github.com/gochain/gochain/pkg/p2p/wire"
)

// maxKnownAddrReply bounds how many addresses a single ADDR reply carries.
const maxKnownAddrReply = 1000

// Config holds node-wide P2P tuning (§6, §4.8 constants).
type Config struct {
	ProtocolVersion    uint32
	Nonce              uint64
	UserAgent          string
	MaxPeers           int
	MaxInboundPerIP    int
	BanDuration        time.Duration
	RequestTimeout     time.Duration
	MaintenanceTick    time.Duration
	MaxInvBatch        int // an IBD reply shorter than this ends the sync
}

// DefaultConfig returns production P2P tuning.
func DefaultConfig() *Config {
	return &Config{
		ProtocolVersion: 1,
		UserAgent:       "/gochain:0.1.0/",
		MaxPeers:        125,
		MaxInboundPerIP: 3,
		BanDuration:     24 * time.Hour,
		RequestTimeout:  60 * time.Second,
		MaintenanceTick: 30 * time.Second,
		MaxInvBatch:     500,
	}
}

type inventoryRequest struct {
	peerID    uint64
	requested time.Time
}

// Node owns the peer table and drives the gossip/IBD protocol. All peer
// state lives behind mu; inventory tracking lives behind invMu, a
// separate short-critical-section lock per §5's "Shared resources" list.
type Node struct {
	mu         sync.RWMutex
	peers      map[uint64]*Peer
	nextPeerID uint64
	inboundIP  map[string]int
	bannedIP   map[string]time.Time
	syncPeer   uint64
	knownAddrs map[string]wire.NetAddr

	invMu           sync.Mutex
	requestedBlocks map[[32]byte]inventoryRequest
	requestedTxs    map[[32]byte]inventoryRequest

	chain  *chain.Chain
	pool   *mempool.Mempool
	config *Config
	log    *logger.Logger

	events chan Event
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a node bound to chain c and mempool pool.
func New(config *Config, c *chain.Chain, pool *mempool.Mempool, log *logger.Logger) *Node {
	if config.Nonce == 0 {
		config.Nonce = uint64(time.Now().UnixNano())
	}
	return &Node{
		peers:           make(map[uint64]*Peer),
		inboundIP:       make(map[string]int),
		bannedIP:        make(map[string]time.Time),
		knownAddrs:      make(map[string]wire.NetAddr),
		requestedBlocks: make(map[[32]byte]inventoryRequest),
		requestedTxs:    make(map[[32]byte]inventoryRequest),
		chain:           c,
		pool:            pool,
		config:          config,
		log:             log,
		events:          make(chan Event, 256),
	}
}

// Start launches the central event dispatch loop and the maintenance
// task (§5).
func (n *Node) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		n.dispatchLoop(ctx)
	}()
	go func() {
		defer n.wg.Done()
		n.maintenanceLoop(ctx)
	}()
}

// Stop signals every peer and background task to exit and waits up to 5
// seconds in total for all of them; any still running after that are
// abandoned.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.mu.Lock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.Unlock()
	for _, p := range peers {
		p.Close()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}

// PeerCount reports the number of tracked peers.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// isBanned reports whether ip is currently blacklisted.
func (n *Node) isBanned(ip string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	until, ok := n.bannedIP[ip]
	return ok && time.Now().Before(until)
}

func (n *Node) ban(ip string) {
	n.mu.Lock()
	n.bannedIP[ip] = time.Now().Add(n.config.BanDuration)
	n.mu.Unlock()
}

// Connect wraps rawConn into a tracked Peer, enforcing connection caps
// and bans, and begins its handshake (§4.8: CONNECTING -> HANDSHAKING).
func (n *Node) Connect(rawConn io.ReadWriteCloser, addr, ip string, inbound bool) (*Peer, error) {
	if n.isBanned(ip) {
		return nil, fmt.Errorf("p2p: %s is banned", ip)
	}

	n.mu.Lock()
	if len(n.peers) >= n.config.MaxPeers {
		n.mu.Unlock()
		return nil, fmt.Errorf("p2p: peer table full")
	}
	if inbound && n.inboundIP[ip] >= n.config.MaxInboundPerIP {
		n.mu.Unlock()
		return nil, fmt.Errorf("p2p: too many inbound connections from %s", ip)
	}
	n.nextPeerID++
	id := n.nextPeerID
	peer := NewPeer(id, rawConn, addr, inbound, n.events, n.log)
	n.peers[id] = peer
	if inbound {
		n.inboundIP[ip]++
	}
	n.mu.Unlock()

	ctx := context.Background()
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		peer.Run(ctx)
	}()

	peer.setState(StateHandshaking)
	peer.Send(&wire.MsgVersion{
		ProtocolVersion: n.config.ProtocolVersion,
		Services:        1,
		Timestamp:       uint64(time.Now().Unix()),
		StartHeight:     n.chain.Height(),
		Nonce:           n.config.Nonce,
		UserAgent:       n.config.UserAgent,
	})
	return peer, nil
}

func (n *Node) removePeer(id uint64) {
	n.mu.Lock()
	p, ok := n.peers[id]
	if ok {
		delete(n.peers, id)
		if p.Inbound {
			n.inboundIP[ipOf(p.Addr)]--
		}
		if n.syncPeer == id {
			n.syncPeer = 0
		}
	}
	n.mu.Unlock()
}

func ipOf(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}

func (n *Node) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.events:
			n.handleEvent(ev)
		}
	}
}

func (n *Node) handleEvent(ev Event) {
	n.mu.RLock()
	peer := n.peers[ev.PeerID]
	n.mu.RUnlock()
	if peer == nil {
		return
	}

	if ev.Kind == EventDisconnected {
		n.removePeer(ev.PeerID)
		return
	}

	if ev.Err != nil {
		n.handleProtocolError(peer, ev.Err)
		return
	}

	n.handleMessage(peer, ev.Message)
}

func (n *Node) handleProtocolError(peer *Peer, err error) {
	switch err {
	case wire.ErrBadMagic, wire.ErrChecksumMismatch:
		peer.Misbehave(BanScoreOversizedMessage, "protocol violation")
		peer.Close()
	case wire.ErrOversizedMessage:
		if peer.Misbehave(BanScoreOversizedMessage, "oversized message") {
			n.ban(ipOf(peer.Addr))
		}
		peer.Close()
	default:
		// Ordinary socket/EOF errors: the peer already tore itself down.
	}
}

func (n *Node) handleMessage(peer *Peer, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.MsgVersion:
		n.handleVersion(peer, m)
	case *wire.MsgVerAck:
		n.handleVerAck(peer)
	case *wire.MsgPing:
		peer.Send(&wire.MsgPong{Nonce: m.Nonce})
	case *wire.MsgPong:
		// Liveness only; touch() in the reader loop already recorded it.
	case *wire.MsgGetAddr:
		n.handleGetAddr(peer)
	case *wire.MsgAddr:
		n.handleAddr(m)
	case *wire.MsgInv:
		n.handleInv(peer, m)
	case *wire.MsgGetData:
		n.handleGetData(peer, m)
	case *wire.MsgBlock:
		n.handleBlock(peer, m)
	case *wire.MsgTx:
		n.handleTx(peer, m)
	case *wire.MsgGetBlocks:
		n.handleGetBlocks(peer, m)
	}
}

func (n *Node) handleVersion(peer *Peer, m *wire.MsgVersion) {
	if !peer.versionSentBefore() {
		peer.Send(&wire.MsgVersion{
			ProtocolVersion: n.config.ProtocolVersion,
			Services:        1,
			Timestamp:       uint64(time.Now().Unix()),
			StartHeight:     n.chain.Height(),
			Nonce:           n.config.Nonce,
			UserAgent:       n.config.UserAgent,
		})
	}
	peer.Send(&wire.MsgVerAck{})

	if m.StartHeight > n.chain.Height() {
		n.maybeStartIBD(peer)
	}
}

func (n *Node) handleVerAck(peer *Peer) {
	if peer.State() == StateReady {
		peer.Send(&wire.MsgGetAddr{})
	}
}

func (n *Node) handleGetAddr(peer *Peer) {
	n.mu.RLock()
	addrs := make([]wire.NetAddr, 0, len(n.knownAddrs))
	for _, a := range n.knownAddrs {
		addrs = append(addrs, a)
		if len(addrs) >= maxKnownAddrReply {
			break
		}
	}
	n.mu.RUnlock()
	peer.Send(&wire.MsgAddr{Addrs: addrs})
}

func (n *Node) handleAddr(m *wire.MsgAddr) {
	n.mu.Lock()
	for _, a := range m.Addrs {
		n.knownAddrs[fmt.Sprintf("%s:%d", a.IP, a.Port)] = a
	}
	n.mu.Unlock()
}

// handleInv filters inventory the node does not yet have and requests it
// via GETDATA, recording when each item was requested. expireRequests
// forgets requests older than RequestTimeout, so a later INV for the same
// item requests it again; nothing is re-requested on expiry and the
// original peer's ban score is not changed.
func (n *Node) handleInv(peer *Peer, m *wire.MsgInv) {
	var want []wire.InvVect
	n.invMu.Lock()
	for _, item := range m.Items {
		switch item.Type {
		case wire.InvTypeBlock:
			if _, have := n.chain.GetBlockByHash(item.Hash); have {
				continue
			}
			if _, pending := n.requestedBlocks[item.Hash]; pending {
				continue
			}
			n.requestedBlocks[item.Hash] = inventoryRequest{peerID: peer.ID, requested: time.Now()}
			want = append(want, item)
		case wire.InvTypeTx:
			if _, have := n.pool.Get(item.Hash); have {
				continue
			}
			if _, pending := n.requestedTxs[item.Hash]; pending {
				continue
			}
			n.requestedTxs[item.Hash] = inventoryRequest{peerID: peer.ID, requested: time.Now()}
			want = append(want, item)
		}
	}
	n.invMu.Unlock()

	if len(want) > 0 {
		peer.Send(&wire.MsgGetData{Items: want})
	}

	if len(m.Items) < n.config.MaxInvBatch {
		n.mu.Lock()
		if n.syncPeer == peer.ID {
			n.syncPeer = 0
		}
		n.mu.Unlock()
	}
}

func (n *Node) handleGetData(peer *Peer, m *wire.MsgGetData) {
	for _, item := range m.Items {
		switch item.Type {
		case wire.InvTypeBlock:
			if b, ok := n.chain.GetBlockByHash(item.Hash); ok {
				peer.Send(&wire.MsgBlock{Block: *b})
			}
		case wire.InvTypeTx:
			if tx, ok := n.pool.Get(item.Hash); ok {
				peer.Send(&wire.MsgTx{Tx: *tx})
			}
		}
	}
}

func (n *Node) handleBlock(peer *Peer, m *wire.MsgBlock) {
	hash := m.Block.Hash()
	n.invMu.Lock()
	delete(n.requestedBlocks, hash)
	n.invMu.Unlock()

	if err := n.chain.AcceptBlock(&m.Block); err != nil {
		if peer.Misbehave(BanScoreInvalidBlock, "invalid block") {
			n.ban(ipOf(peer.Addr))
			peer.Close()
		}
		return
	}

	for _, tx := range m.Block.Transactions[1:] {
		n.pool.Remove(tx.TxID())
	}
	n.relay(peer.ID, &wire.MsgInv{Items: []wire.InvVect{{Type: wire.InvTypeBlock, Hash: hash}}})

	if peer.ID == n.syncPeerID() {
		n.continueIBD(peer)
	}
}

func (n *Node) handleTx(peer *Peer, m *wire.MsgTx) {
	txid := m.Tx.TxID()
	n.invMu.Lock()
	delete(n.requestedTxs, txid)
	n.invMu.Unlock()

	if err := n.pool.Admit(&m.Tx, n.chain.Height()); err != nil {
		if peer.Misbehave(BanScoreInvalidTx, "invalid transaction") {
			n.ban(ipOf(peer.Addr))
			peer.Close()
		}
		return
	}
	n.relay(peer.ID, &wire.MsgInv{Items: []wire.InvVect{{Type: wire.InvTypeTx, Hash: txid}}})
}

// handleGetBlocks replies with an INV stream of block hashes the peer
// doesn't already have, derived from its locator (§4.8 IBD).
func (n *Node) handleGetBlocks(peer *Peer, m *wire.MsgGetBlocks) {
	start := n.findLocatorStart(m.Locator)
	var items []wire.InvVect
	for h := start; h <= n.chain.Height() && len(items) < n.config.MaxInvBatch; h++ {
		b, ok := n.chain.GetBlockByHeight(h)
		if !ok {
			break
		}
		hash := b.Hash()
		if hash == m.HashStop {
			items = append(items, wire.InvVect{Type: wire.InvTypeBlock, Hash: hash})
			break
		}
		items = append(items, wire.InvVect{Type: wire.InvTypeBlock, Hash: hash})
	}
	peer.Send(&wire.MsgInv{Items: items})
}

// findLocatorStart returns the height immediately after the first
// locator hash the node recognizes, or 1 if none match (full resync from
// genesis's child).
func (n *Node) findLocatorStart(locator [][32]byte) uint64 {
	for _, hash := range locator {
		if b, ok := n.chain.GetBlockByHash(hash); ok {
			return b.Height + 1
		}
	}
	return 1
}

// maybeStartIBD selects peer as the sync peer if no IBD is already in
// progress and its advertised height exceeds ours (§4.8).
func (n *Node) maybeStartIBD(peer *Peer) {
	n.mu.Lock()
	if n.syncPeer != 0 {
		n.mu.Unlock()
		return
	}
	n.syncPeer = peer.ID
	n.mu.Unlock()
	n.continueIBD(peer)
}

func (n *Node) continueIBD(peer *Peer) {
	peer.Send(&wire.MsgGetBlocks{Locator: n.blockLocator()})
}

func (n *Node) syncPeerID() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.syncPeer
}

// blockLocator builds an exponentially-spaced set of ancestor hashes from
// the tip back to genesis (§4.8, §9: the standard locator approach).
func (n *Node) blockLocator() [][32]byte {
	var locator [][32]byte
	height := n.chain.Height()
	step := uint64(1)
	for {
		b, ok := n.chain.GetBlockByHeight(height)
		if !ok {
			break
		}
		locator = append(locator, b.Hash())
		if height == 0 {
			break
		}
		if len(locator) >= 10 {
			step *= 2
		}
		if height < step {
			height = 0
		} else {
			height -= step
		}
	}
	return locator
}

// relay forwards msg to every READY peer other than excludeID (§4.3/§4.8:
// successfully validated blocks/txs are relayed onward).
func (n *Node) relay(excludeID uint64, msg wire.Message) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for id, p := range n.peers {
		if id == excludeID || p.State() != StateReady {
			continue
		}
		p.Send(msg)
	}
}

// BroadcastBlock relays a locally mined or accepted block to every peer.
func (n *Node) BroadcastBlock(b *block.Block) {
	n.relay(0, &wire.MsgInv{Items: []wire.InvVect{{Type: wire.InvTypeBlock, Hash: b.Hash()}}})
}

// BroadcastTransaction relays a locally admitted transaction to every peer.
func (n *Node) BroadcastTransaction(tx *block.Transaction) {
	n.relay(0, &wire.MsgInv{Items: []wire.InvVect{{Type: wire.InvTypeTx, Hash: tx.TxID()}}})
}

// maintenanceLoop pings peers, expires stale inventory requests, and
// disconnects idle peers every MaintenanceTick (§5: Maintenance task).
func (n *Node) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(n.config.MaintenanceTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.pingPeers()
			n.expireRequests()
		}
	}
}

func (n *Node) pingPeers() {
	n.mu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.RUnlock()

	for _, p := range peers {
		if p.idleFor() > PingInterval+PingTimeout {
			p.Close()
			continue
		}
		p.Send(&wire.MsgPing{Nonce: n.config.Nonce})
	}
}

func (n *Node) expireRequests() {
	cutoff := time.Now().Add(-n.config.RequestTimeout)
	n.invMu.Lock()
	var staleBlocks, staleTxs [][32]byte
	for h, req := range n.requestedBlocks {
		if req.requested.Before(cutoff) {
			staleBlocks = append(staleBlocks, h)
		}
	}
	for h, req := range n.requestedTxs {
		if req.requested.Before(cutoff) {
			staleTxs = append(staleTxs, h)
		}
	}
	for _, h := range staleBlocks {
		delete(n.requestedBlocks, h)
	}
	for _, h := range staleTxs {
		delete(n.requestedTxs, h)
	}
	n.invMu.Unlock()
}
