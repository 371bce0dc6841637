//go:build !db
// +build !db

package storage

import (
	"errors"

	"github.com/gochain/gochain/pkg/block"
)

// errNoDB is returned by every Storage method in the default (no 'db' tag)
// build, which carries no persistence backend.
var errNoDB = errors.New("storage: built without the 'db' tag; persistence is unavailable")

// Config mirrors the db-tagged build's configuration shape so callers can
// build one without conditional compilation of their own.
type Config struct {
	DataDir string
}

// DefaultConfig returns a stub configuration; DataDir is unused.
func DefaultConfig() *Config {
	return &Config{DataDir: "./data"}
}

// Storage is a no-op stand-in used when the node is built without the 'db'
// tag (e.g. for fast unit tests that never touch disk).
type Storage struct{}

// New returns a Storage stub; config is ignored.
func New(config *Config) (*Storage, error) {
	return &Storage{}, nil
}

func (s *Storage) StoreBlock(b *block.Block) error                     { return nil }
func (s *Storage) GetBlock(hash [32]byte) (*block.Block, error)        { return nil, errNoDB }
func (s *Storage) GetBlockByHeight(height uint64) (*block.Block, error) { return nil, errNoDB }
func (s *Storage) StoreChainState(state *ChainState) error             { return nil }
func (s *Storage) GetChainState() (*ChainState, error)                 { return nil, errNoDB }
func (s *Storage) Write(key, value []byte) error                       { return nil }
func (s *Storage) Read(key []byte) ([]byte, error)                     { return nil, errNoDB }
func (s *Storage) Delete(key []byte) error                             { return nil }
func (s *Storage) Has(key []byte) (bool, error)                        { return false, nil }
func (s *Storage) Close() error                                        { return nil }
