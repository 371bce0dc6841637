//go:build db
// +build db

package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/gochain/gochain/pkg/block"
)

// Config holds badger-backed storage configuration.
type Config struct {
	DataDir string
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig() *Config {
	return &Config{DataDir: "./data"}
}

// Storage is the BadgerDB-backed Interface implementation.
type Storage struct {
	mu sync.RWMutex
	db *badger.DB
}

// New opens (or creates) a BadgerDB database under config.DataDir.
func New(config *Config) (*Storage, error) {
	opts := badger.DefaultOptions(config.DataDir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	return &Storage{db: db}, nil
}

func blockKey(hash [32]byte) []byte {
	return append([]byte("block:"), hash[:]...)
}

func heightKey(height uint64) []byte {
	buf := make([]byte, 8+len("height:"))
	n := copy(buf, "height:")
	binary.BigEndian.PutUint64(buf[n:], height)
	return buf
}

const chainStateKey = "chainstate"

// StoreBlock persists b, indexed by both hash and height.
func (s *Storage) StoreBlock(b *block.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded := block.EncodeBlockBytes(b)
	hash := b.Hash()
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(blockKey(hash), encoded); err != nil {
			return err
		}
		return txn.Set(heightKey(b.Height), hash[:])
	})
}

// GetBlock retrieves a block by its hash.
func (s *Storage) GetBlock(hash [32]byte) (*block.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(hash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("storage: get block %x: %w", hash, err)
	}
	b, err := block.DecodeBlockBytes(raw)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBlockByHeight retrieves a block by its height, via the height index.
func (s *Storage) GetBlockByHeight(height uint64) (*block.Block, error) {
	s.mu.RLock()
	var hash [32]byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(heightKey(height))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			copy(hash[:], val)
			return nil
		})
	})
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("storage: get block at height %d: %w", height, err)
	}
	return s.GetBlock(hash)
}

// StoreChainState persists the chain tip bookkeeping.
func (s *Storage) StoreChainState(state *ChainState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("storage: marshal chain state: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(chainStateKey), encoded)
	})
}

// GetChainState loads the persisted chain tip bookkeeping.
func (s *Storage) GetChainState() (*ChainState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(chainStateKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("storage: get chain state: %w", err)
	}
	var state ChainState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("storage: unmarshal chain state: %w", err)
	}
	return &state, nil
}

// Write, Read, Delete, and Has expose badger as a generic key-value store.
func (s *Storage) Write(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *Storage) Read(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append([]byte(nil), val...)
			return nil
		})
	})
	return raw, err
}

func (s *Storage) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (s *Storage) Has(key []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// Close releases the underlying database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}
