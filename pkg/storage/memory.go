package storage

import (
	"fmt"
	"sync"

	"github.com/gochain/gochain/pkg/block"
)

// Memory is an in-process Interface implementation with no persistence,
// used by tests that want real storage semantics without a database
// dependency or build tag.
type Memory struct {
	mu          sync.RWMutex
	blocks      map[[32]byte]block.Block
	byHeight    map[uint64][32]byte
	chainState  *ChainState
	kv          map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		blocks:   make(map[[32]byte]block.Block),
		byHeight: make(map[uint64][32]byte),
		kv:       make(map[string][]byte),
	}
}

func (m *Memory) StoreBlock(b *block.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash := b.Hash()
	m.blocks[hash] = *b
	m.byHeight[b.Height] = hash
	return nil
}

func (m *Memory) GetBlock(hash [32]byte) (*block.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blocks[hash]
	if !ok {
		return nil, fmt.Errorf("storage: block %x not found", hash)
	}
	return &b, nil
}

func (m *Memory) GetBlockByHeight(height uint64) (*block.Block, error) {
	m.mu.RLock()
	hash, ok := m.byHeight[height]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: no block at height %d", height)
	}
	return m.GetBlock(hash)
}

func (m *Memory) StoreChainState(state *ChainState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.chainState = &cp
	return nil
}

func (m *Memory) GetChainState() (*ChainState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.chainState == nil {
		return nil, fmt.Errorf("storage: no chain state stored")
	}
	cp := *m.chainState
	return &cp, nil
}

func (m *Memory) Write(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Read(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[string(key)]
	if !ok {
		return nil, fmt.Errorf("storage: key %q not found", key)
	}
	return v, nil
}

func (m *Memory) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, string(key))
	return nil
}

func (m *Memory) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.kv[string(key)]
	return ok, nil
}

func (m *Memory) Close() error { return nil }
