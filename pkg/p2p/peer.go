// Package p2p drives peer connections and the gossip/IBD protocol over
// pkg/p2p/wire's framed messages (§4.8). A Node owns a peer table under a
// lock; each Peer runs one reader and one writer goroutine, pushing
// decoded events into the Node's central event queue rather than calling
// back into the Node directly — modeled after pkg/net/network.go's
// Network{mu, peers map[...]*PeerInfo} shape, generalized from libp2p's
// peer bookkeeping to this protocol's own hand-rolled framing.
package p2p

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gochain/gochain/pkg/logger"
	"github.com/gochain/gochain/pkg/p2p/wire"
)

// State is a peer connection's position in the handshake state machine
// (§4.8).
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StateReady
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateReady:
		return "READY"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Ban score increments per misbehavior kind (§4.8).
const (
	BanScoreInvalidBlock     = 100
	BanScoreInvalidTx        = 10
	BanScoreOversizedMessage = 50
	BanScoreTooManyMessages  = 20
	BanScoreThreshold        = 100
)

// PingInterval/PingTimeout bound how long a peer may go without sending a
// message before it is considered idle and disconnected (§4.8).
const (
	PingInterval = 30 * time.Second
	PingTimeout  = 30 * time.Second
)

// outboundQueueSize bounds each peer's outbound message backlog; the
// writer applies backpressure once full (§5: drop oldest INV, never drop
// BLOCK/TX in flight).
const outboundQueueSize = 256

// requestsPerMinute is the token-bucket rate limit applied to inbound
// messages from a single peer (§4.8).
const requestsPerMinute = 60

// EventKind distinguishes what arrived on a peer so the Node's central
// dispatch loop (Design Note §9: invert peer→node callbacks into
// message-passing) can switch on it without a peer holding a callback
// into the Node.
type EventKind int

const (
	EventMessage EventKind = iota
	EventDisconnected
)

// Event is pushed by a peer's reader goroutine onto the Node's event
// queue; the Node is the only consumer.
type Event struct {
	Kind    EventKind
	PeerID  uint64
	Message wire.Message
	Err     error
}

// Peer wraps one connection: its framing stream, handshake state, ban
// score, rate limiter, and bounded outbound queue.
type Peer struct {
	ID        uint64
	Conn      io.ReadWriteCloser
	Addr      string
	Inbound   bool
	startTime time.Time

	mu          sync.Mutex
	state       State
	banScore    int
	lastMessage time.Time
	startHeight uint64
	versionSent bool
	verAckSent  bool
	versionRecv bool
	verAckRecv  bool

	tokens     int
	lastRefill time.Time

	outbound chan wire.Message
	events   chan<- Event
	log      *logger.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewPeer wraps conn into a Peer that will push events onto events.
func NewPeer(id uint64, conn io.ReadWriteCloser, addr string, inbound bool, events chan<- Event, log *logger.Logger) *Peer {
	now := time.Now()
	return &Peer{
		ID:          id,
		Conn:        conn,
		Addr:        addr,
		Inbound:     inbound,
		startTime:   now,
		state:       StateConnecting,
		lastMessage: now,
		tokens:      requestsPerMinute,
		lastRefill:  now,
		outbound:    make(chan wire.Message, outboundQueueSize),
		events:      events,
		log:         log,
		done:        make(chan struct{}),
	}
}

func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// BanScore returns the peer's current accumulated misbehavior score.
func (p *Peer) BanScore() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.banScore
}

// Misbehave adds delta to the peer's ban score and reports whether it has
// crossed BanScoreThreshold.
func (p *Peer) Misbehave(delta int, reason string) bool {
	p.mu.Lock()
	p.banScore += delta
	banned := p.banScore >= BanScoreThreshold
	p.mu.Unlock()
	if p.log != nil {
		p.log.WithPeer(p.ID).Warn("misbehavior (+%d, %s): score=%d", delta, reason, p.banScore)
	}
	return banned
}

// StartHeight returns the height the peer advertised in its VERSION
// message.
func (p *Peer) StartHeight() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startHeight
}

// versionSentBefore reports whether this peer's writer has already sent
// the local VERSION. Node.Connect queues a VERSION for every new peer,
// inbound or outbound, so this is false only while that VERSION has not
// yet been written.
func (p *Peer) versionSentBefore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.versionSent
}

// allowRequest applies the per-peer token bucket (§4.8: 60 requests per
// minute), refilling lazily on each call rather than running a ticker
// per peer.
func (p *Peer) allowRequest() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(p.lastRefill)
	if elapsed >= time.Minute {
		p.tokens = requestsPerMinute
		p.lastRefill = now
	}
	if p.tokens <= 0 {
		return false
	}
	p.tokens--
	return true
}

func (p *Peer) touch() {
	p.mu.Lock()
	p.lastMessage = time.Now()
	p.mu.Unlock()
}

func (p *Peer) idleFor() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.lastMessage)
}

// Send enqueues msg for the writer goroutine. If the queue is full and
// msg is an INV, the oldest queued INV is dropped to make room (§5); any
// other message type blocks the caller instead of being dropped.
func (p *Peer) Send(msg wire.Message) {
	select {
	case p.outbound <- msg:
		return
	default:
	}
	if _, ok := msg.(*wire.MsgInv); ok {
		select {
		case <-p.outbound:
		default:
		}
		select {
		case p.outbound <- msg:
		default:
		}
		return
	}
	select {
	case p.outbound <- msg:
	case <-p.done:
	}
}

// Run launches the peer's reader and writer goroutines and blocks until
// both exit (socket error, protocol violation, or ctx cancellation).
func (p *Peer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.readLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		p.writeLoop(ctx)
	}()
	wg.Wait()
	p.events <- Event{Kind: EventDisconnected, PeerID: p.ID}
}

func (p *Peer) readLoop(ctx context.Context) {
	defer p.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		default:
		}
		msg, err := wire.ReadMessage(p.Conn)
		if err != nil {
			p.events <- Event{Kind: EventMessage, PeerID: p.ID, Err: err}
			return
		}
		p.touch()
		if !p.allowRequest() {
			if p.Misbehave(BanScoreTooManyMessages, "rate limit exceeded") {
				return
			}
			continue
		}
		p.recordHandshakeProgress(msg)
		p.events <- Event{Kind: EventMessage, PeerID: p.ID, Message: msg}
	}
}

func (p *Peer) recordHandshakeProgress(msg wire.Message) {
	switch m := msg.(type) {
	case *wire.MsgVersion:
		p.mu.Lock()
		p.versionRecv = true
		p.startHeight = m.StartHeight
		p.mu.Unlock()
	case *wire.MsgVerAck:
		p.mu.Lock()
		p.verAckRecv = true
		p.mu.Unlock()
	}
	p.mu.Lock()
	if p.versionRecv && p.verAckRecv && p.versionSent && p.verAckSent {
		p.state = StateReady
	}
	p.mu.Unlock()
}

func (p *Peer) writeLoop(ctx context.Context) {
	defer p.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case msg, ok := <-p.outbound:
			if !ok {
				return
			}
			if err := wire.WriteMessage(p.Conn, msg); err != nil {
				if p.log != nil {
					p.log.WithPeer(p.ID).Debug("write error: %v", err)
				}
				return
			}
			switch msg.(type) {
			case *wire.MsgVersion:
				p.mu.Lock()
				p.versionSent = true
				p.mu.Unlock()
			case *wire.MsgVerAck:
				p.mu.Lock()
				p.verAckSent = true
				p.mu.Unlock()
			}
			p.mu.Lock()
			if p.versionRecv && p.verAckRecv && p.versionSent && p.verAckSent {
				p.state = StateReady
			}
			p.mu.Unlock()
		}
	}
}

// Close idempotently tears down the peer's connection.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		p.setState(StateDisconnected)
		close(p.done)
		_ = p.Conn.Close()
	})
}

func (p *Peer) String() string {
	return fmt.Sprintf("p2p.Peer{id=%d, addr=%s, state=%s, banScore=%d}", p.ID, p.Addr, p.State(), p.BanScore())
}
