// Package miner assembles block candidates from the mempool and searches
// for a proof-of-work nonce satisfying the chain's current target (§4.7).
package miner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/chain"
	"github.com/gochain/gochain/pkg/mempool"
)

// cancelCheckInterval is how many nonces the search tries between checks
// of the cancellation signal, balancing responsiveness against the cost
// of the check itself (§4.7).
const cancelCheckInterval = 1 << 16

// Config holds miner tuning parameters.
type Config struct {
	CoinbaseAddress string
	MaxBlockSize    uint64
}

// DefaultConfig returns production miner tuning; CoinbaseAddress must
// still be set by the caller before mining starts.
func DefaultConfig() *Config {
	return &Config{MaxBlockSize: 1_000_000}
}

// Miner drives the candidate-assembly and nonce-search loop against a
// chain and mempool.
type Miner struct {
	mu      sync.Mutex
	chain   *chain.Chain
	pool    *mempool.Mempool
	config  *Config
	mining bool
	cancel context.CancelFunc
}

// New creates a miner bound to chain and pool.
func New(c *chain.Chain, pool *mempool.Mempool, config *Config) *Miner {
	return &Miner{chain: c, pool: pool, config: config}
}

// IsMining reports whether a mining loop is currently running.
func (m *Miner) IsMining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mining
}

// Start launches the mining loop in a background goroutine. found is
// called with every block the loop successfully mines and submits.
// Calling Start while already mining returns an error.
func (m *Miner) Start(found func(*block.Block)) error {
	m.mu.Lock()
	if m.mining {
		m.mu.Unlock()
		return fmt.Errorf("miner: already mining")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mining = true
	m.mu.Unlock()

	go m.loop(ctx, found)
	return nil
}

// Stop cancels the mining loop and returns without waiting; the current
// nonce search notices the cancellation at its next check and exits.
func (m *Miner) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mining = false
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Miner) loop(ctx context.Context, found func(*block.Block)) {
	defer func() {
		m.mu.Lock()
		m.mining = false
		m.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b, err := m.mineOne(ctx)
		if err != nil {
			if err == context.Canceled {
				return
			}
			continue
		}
		if b == nil {
			// Tip changed mid-search; recompute the candidate immediately.
			continue
		}
		if err := m.chain.AcceptBlock(b); err != nil {
			continue
		}
		for _, tx := range b.Transactions[1:] {
			m.pool.Remove(tx.TxID())
		}
		if found != nil {
			found(b)
		}
	}
}

// mineOne assembles one candidate block and searches for a satisfying
// nonce, returning nil (no error) if the chain's tip changes underneath
// the search before one is found.
func (m *Miner) mineOne(ctx context.Context) (*block.Block, error) {
	tip := m.chain.Tip()
	candidate := m.assemble(tip)

	nonce, ok, err := m.search(ctx, &candidate, tip.Hash())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	candidate.Header.Nonce = nonce
	return &candidate, nil
}

// assemble builds a block candidate extending tip: a coinbase transaction
// (with an extranonce commitment to keep coinbase txids unique across
// otherwise-identical candidates) plus mempool-selected transactions.
func (m *Miner) assemble(tip *block.Block) block.Block {
	height := tip.Height + 1
	subsidy := m.chain.NextSubsidy()

	entries := m.pool.SelectEntriesForBlock(m.config.MaxBlockSize)
	var fees uint64
	for _, e := range entries {
		fees += e.Fee
	}

	coinbase := block.Transaction{
		Version: 1,
		ChainID: m.chain.ChainID(),
		Outputs: []block.TxOutput{{Amount: subsidy + fees, ScriptPubKey: m.config.CoinbaseAddress}},
		// LockTime doubles as the extranonce field: each assembled
		// candidate stamps it from the clock so two otherwise-identical
		// coinbases do not collide.
		LockTime: uint32(time.Now().UnixNano()),
	}

	all := make([]block.Transaction, 0, len(entries)+1)
	all = append(all, coinbase)
	for _, e := range entries {
		all = append(all, *e.Tx)
	}

	return block.Block{
		Header: block.BlockHeader{
			Version:    1,
			PrevHash:   tip.Hash(),
			MerkleRoot: block.MerkleRoot(all),
			Timestamp:  uint64(time.Now().Unix()),
			Bits:       m.chain.NextBits(),
		},
		Height:       height,
		Transactions: all,
	}
}

// search tries nonces starting from 0, checking for cancellation and for
// a tip change every cancelCheckInterval attempts (§4.7). It returns
// ok=false if the context is cancelled or the chain's tip moved on from
// expectedTip before a solution was found.
func (m *Miner) search(ctx context.Context, candidate *block.Block, expectedTip [32]byte) (uint64, bool, error) {
	for nonce := uint64(0); ; nonce++ {
		if nonce%cancelCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return 0, false, context.Canceled
			default:
			}
			if m.chain.Tip().Hash() != expectedTip {
				return 0, false, nil
			}
		}
		candidate.Header.Nonce = nonce
		if meetsCandidateTarget(candidate) {
			return nonce, true, nil
		}
	}
}

func meetsCandidateTarget(b *block.Block) bool {
	return chain.MeetsTarget(b.Header.Hash(), b.Header.Bits)
}
