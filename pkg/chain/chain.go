// Package chain maintains the accepted blockchain: the header/transaction
// pipeline that admits new blocks, the UTXO set they mutate, and the tip
// bookkeeping needed for difficulty retargeting and mining (§4.6).
package chain

import (
	"fmt"
	"sync"

	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/storage"
	"github.com/gochain/gochain/pkg/utxo"
)

// Config holds chain-wide parameters not already fixed by the genesis
// block (§6).
type Config struct {
	ChainID      uint32
	MaxBlockSize uint64
}

// DefaultConfig returns production chain parameters.
func DefaultConfig() *Config {
	return &Config{ChainID: 1, MaxBlockSize: 1_000_000}
}

// Chain is the node's view of the accepted blockchain: an in-memory index
// of blocks by hash and height, the UTXO set they imply, and enough undo
// history to roll back the most recent blocks on a reorg (§4.6, §5).
type Chain struct {
	mu sync.RWMutex

	config  *Config
	storage storage.Interface
	utxo    *utxo.Set

	blocksByHash   map[[32]byte]*block.Block
	blocksByHeight map[uint64]*block.Block
	undoByHash     map[[32]byte]*utxo.Undo

	tip *block.Block
}

// New opens the chain from storage, or initializes a fresh chain rooted at
// the genesis block if storage is empty.
func New(config *Config, s storage.Interface) (*Chain, error) {
	c := &Chain{
		config:         config,
		storage:        s,
		utxo:           utxo.New(),
		blocksByHash:   make(map[[32]byte]*block.Block),
		blocksByHeight: make(map[uint64]*block.Block),
		undoByHash:     make(map[[32]byte]*utxo.Undo),
	}

	state, err := s.GetChainState()
	if err != nil {
		if initErr := c.initGenesis(); initErr != nil {
			return nil, initErr
		}
		return c, nil
	}

	if loadErr := c.loadFromStorage(state); loadErr != nil {
		return nil, loadErr
	}
	return c, nil
}

func (c *Chain) initGenesis() error {
	genesis := block.Genesis()
	undo, err := c.utxo.ApplyBlock(&genesis)
	if err != nil {
		return fmt.Errorf("chain: apply genesis: %w", err)
	}
	hash := genesis.Hash()
	c.blocksByHash[hash] = &genesis
	c.blocksByHeight[0] = &genesis
	c.undoByHash[hash] = undo
	c.tip = &genesis

	if err := c.storage.StoreBlock(&genesis); err != nil {
		return fmt.Errorf("chain: persist genesis: %w", err)
	}
	return c.storage.StoreChainState(&storage.ChainState{TipHash: hash, Height: 0})
}

// loadFromStorage replays every persisted block from genesis up to the
// stored tip, rebuilding the in-memory indices and the UTXO set. A
// minimal, single-branch chain keeps no alternate-branch blocks, so replay
// is a straight walk rather than a fork search.
func (c *Chain) loadFromStorage(state *storage.ChainState) error {
	for height := uint64(0); height <= state.Height; height++ {
		b, err := c.storage.GetBlockByHeight(height)
		if err != nil {
			return fmt.Errorf("chain: load block at height %d: %w", height, err)
		}
		undo, err := c.utxo.ApplyBlock(b)
		if err != nil {
			return fmt.Errorf("chain: replay block at height %d: %w", height, err)
		}
		hash := b.Hash()
		c.blocksByHash[hash] = b
		c.blocksByHeight[height] = b
		c.undoByHash[hash] = undo
		c.tip = b
	}
	return nil
}

// Tip returns the chain's current best block.
func (c *Chain) Tip() *block.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip
}

// Height returns the chain's current tip height.
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip.Height
}

// UTXOSet returns the chain's live UTXO set. Callers must treat it as
// read-mostly; only AcceptBlock and its rollback path mutate it.
func (c *Chain) UTXOSet() *utxo.Set {
	return c.utxo
}

// ChainID returns the chain's configured replay-protection id, the value
// every transaction (including a mined block's coinbase) must carry in
// its ChainID field to validate against this chain (§4.3, §8).
func (c *Chain) ChainID() uint32 {
	return c.config.ChainID
}

// GetBlockByHash returns a previously accepted block.
func (c *Chain) GetBlockByHash(hash [32]byte) (*block.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.blocksByHash[hash]
	return b, ok
}

// GetBlockByHeight returns the accepted block at height, if any.
func (c *Chain) GetBlockByHeight(height uint64) (*block.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.blocksByHeight[height]
	return b, ok
}

// NextBits computes the proof-of-work target the next block must satisfy:
// unchanged except every RetargetInterval blocks, when it is recomputed
// from the actual time the preceding window took (§4.6).
func (c *Chain) NextBits() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nextBitsLocked()
}

func (c *Chain) nextBitsLocked() uint32 {
	height := c.tip.Height + 1
	if height%RetargetInterval != 0 {
		return c.tip.Header.Bits
	}
	windowStart, ok := c.blocksByHeight[height-RetargetInterval]
	if !ok {
		return c.tip.Header.Bits
	}
	return nextBits(c.tip.Header.Bits, windowStart.Header.Timestamp, c.tip.Header.Timestamp)
}

// NextSubsidy returns the coinbase subsidy due to whoever mines the next
// block.
func (c *Chain) NextSubsidy() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return subsidyAt(c.tip.Height + 1)
}
