// Package storage persists blocks and chain tip state across restarts
// (§1 ambient stack). Builds with the 'db' tag use BadgerDB; the default
// build (no tag) uses a no-op stub that satisfies the same interface,
// matching the teacher's build-tag-gated storage split.
package storage

import "github.com/gochain/gochain/pkg/block"

// ChainState is the chain tip bookkeeping persisted alongside blocks, so a
// restarted node knows which tip to resume from. The chain rebuilds its
// UTXO set on restart by replaying every stored block up to that tip.
type ChainState struct {
	TipHash [32]byte
	Height  uint64
}

// Interface is the storage backend the chain depends on. Implementations
// never interpret block contents beyond what's needed to index them.
type Interface interface {
	StoreBlock(b *block.Block) error
	GetBlock(hash [32]byte) (*block.Block, error)
	GetBlockByHeight(height uint64) (*block.Block, error)

	StoreChainState(state *ChainState) error
	GetChainState() (*ChainState, error)

	Write(key, value []byte) error
	Read(key []byte) ([]byte, error)
	Delete(key []byte) error
	Has(key []byte) (bool, error)

	Close() error
}
