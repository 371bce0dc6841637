// Package utxo maintains the node's canonical set of unspent transaction
// outputs: the sole authority on which outputs may still be spent (§4.4).
package utxo

import (
	"fmt"
	"sync"

	"github.com/gochain/gochain/pkg/block"
)

// Entry is a single unspent output together with the provenance needed to
// enforce coinbase maturity and to report balances.
type Entry struct {
	Output     block.TxOutput
	Height     uint64
	IsCoinbase bool
}

// Set is the authoritative UTXO set: a mutex-guarded map from OutPoint to
// Entry, plus a derived per-address balance cache kept in lockstep.
type Set struct {
	mu       sync.RWMutex
	entries  map[block.OutPoint]Entry
	balances map[string]uint64
}

// New creates an empty UTXO set.
func New() *Set {
	return &Set{
		entries:  make(map[block.OutPoint]Entry),
		balances: make(map[string]uint64),
	}
}

// Get returns the entry for outpoint and whether it exists.
func (s *Set) Get(outpoint block.OutPoint) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[outpoint]
	return e, ok
}

// Has reports whether outpoint is currently unspent.
func (s *Set) Has(outpoint block.OutPoint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[outpoint]
	return ok
}

// Balance returns the sum of all unspent outputs paying address.
func (s *Set) Balance(address string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[address]
}

// Len reports the number of unspent outputs tracked.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// SpendableEntry pairs an outpoint with its entry, returned by
// OutputsForAddress for coin selection.
type SpendableEntry struct {
	OutPoint block.OutPoint
	Entry    Entry
}

// OutputsForAddress returns every unspent output paying address, used by
// wallet coin selection (§1 Out of scope: the node itself never builds
// transactions, but a KeyStore-backed client needs to enumerate spendable
// outputs somewhere).
func (s *Set) OutputsForAddress(address string) []SpendableEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SpendableEntry
	for op, e := range s.entries {
		if e.Output.ScriptPubKey == address {
			out = append(out, SpendableEntry{OutPoint: op, Entry: e})
		}
	}
	return out
}

// add inserts an entry and updates the balance cache. Caller must hold mu.
func (s *Set) add(outpoint block.OutPoint, e Entry) {
	s.entries[outpoint] = e
	s.balances[e.Output.ScriptPubKey] += e.Output.Amount
}

// remove deletes an entry and updates the balance cache, returning the
// removed entry so callers can build an undo record. Caller must hold mu.
func (s *Set) remove(outpoint block.OutPoint) (Entry, bool) {
	e, ok := s.entries[outpoint]
	if !ok {
		return Entry{}, false
	}
	delete(s.entries, outpoint)
	s.balances[e.Output.ScriptPubKey] -= e.Output.Amount
	if s.balances[e.Output.ScriptPubKey] == 0 {
		delete(s.balances, e.Output.ScriptPubKey)
	}
	return e, true
}

// Undo records everything ApplyBlock changed about a Set so the block can
// be rolled back atomically (§4.4, §8 round-trip property): the outputs it
// created (to be removed) and the outputs it consumed (to be restored).
type Undo struct {
	Created []block.OutPoint
	Spent   []spentEntry
}

type spentEntry struct {
	OutPoint block.OutPoint
	Entry    Entry
}

// ApplyBlock applies every transaction in b to the set: removes every
// input's referenced output and adds every output at its new outpoint. The
// block is assumed already validated (pkg/validator) — ApplyBlock does not
// re-check signatures, conservation, or coinbase rules, only that every
// referenced input actually exists, so the update can construct an undo
// record from it.
func (s *Set) ApplyBlock(b *block.Block) (*Undo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	undo := &Undo{}
	for txIndex := range b.Transactions {
		tx := &b.Transactions[txIndex]
		txid := tx.TxID()

		for _, in := range tx.Inputs {
			e, ok := s.remove(in.Prev)
			if !ok {
				s.rollbackLocked(undo)
				return nil, fmt.Errorf("utxo: apply block: input %x:%d not found", in.Prev.TxID, in.Prev.Vout)
			}
			undo.Spent = append(undo.Spent, spentEntry{OutPoint: in.Prev, Entry: e})
		}

		for vout := range tx.Outputs {
			outpoint := block.OutPoint{TxID: txid, Vout: uint32(vout)}
			s.add(outpoint, Entry{
				Output:     tx.Outputs[vout],
				Height:     b.Height,
				IsCoinbase: tx.IsCoinbase(),
			})
			undo.Created = append(undo.Created, outpoint)
		}
	}
	return undo, nil
}

// Rollback reverses an ApplyBlock call: removes every output that block
// created and restores every output it spent, byte-for-byte (§8).
func (s *Set) Rollback(undo *Undo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollbackLocked(undo)
}

func (s *Set) rollbackLocked(undo *Undo) {
	for _, outpoint := range undo.Created {
		s.remove(outpoint)
	}
	for _, spent := range undo.Spent {
		s.add(spent.OutPoint, spent.Entry)
	}
}

// Snapshot returns a read-only Overlay view of the set, used by the
// validator and mempool to check transactions against a consistent view
// without mutating the underlying set (§4.3, §4.5).
func (s *Set) Snapshot() *Overlay {
	return NewOverlay(s)
}

func (s *Set) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("utxo.Set{entries=%d, addresses=%d}", len(s.entries), len(s.balances))
}
