// Package mempool holds unconfirmed, validated transactions awaiting
// inclusion in a block, prioritized by fee rate and evicted under size
// pressure or age (§4.5).
package mempool

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/utxo"
	"github.com/gochain/gochain/pkg/validator"
)

// Config holds mempool tuning parameters.
type Config struct {
	MaxSize    uint64        // maximum total size of held transactions, in bytes
	MinFeeRate uint64        // minimum fee per byte required for admission
	MaxTxSize  uint64        // largest single transaction accepted
	Expiry     time.Duration // age at which an unconfirmed transaction is dropped
}

// DefaultConfig returns production mempool tuning.
func DefaultConfig() *Config {
	return &Config{
		MaxSize:    300_000_000, // 300 MB
		MinFeeRate: 1,
		MaxTxSize:  validator.MaxTxSize,
		Expiry:     14 * 24 * time.Hour,
	}
}

// TestConfig returns tuning suitable for unit tests: small limits, a
// short expiry, and the same minimum fee rate as production.
func TestConfig() *Config {
	return &Config{
		MaxSize:    100_000,
		MinFeeRate: 1,
		MaxTxSize:  100_000,
		Expiry:     time.Hour,
	}
}

// Entry wraps an admitted transaction with the bookkeeping needed for
// eviction, selection, and dependency tracking.
type Entry struct {
	Tx      *block.Transaction
	TxID    [32]byte
	Fee     uint64
	Size    uint64
	FeeRate uint64 // fee per byte, truncated
	Added   time.Time

	index int // heap.Interface bookkeeping
}

// Mempool is the node's pool of unconfirmed transactions.
type Mempool struct {
	mu sync.RWMutex

	entries map[[32]byte]*Entry
	byFee   *feeHeap // min-heap over FeeRate, kept in step with entries; eviction scans entries instead

	// spentBy maps an outpoint already claimed by a pooled transaction to
	// that transaction's id, rejecting conflicting double-spends (§4.5).
	spentBy map[block.OutPoint][32]byte
	// children maps a pooled transaction's id to the ids of pooled
	// transactions that spend one of its outputs, so SelectForBlock can
	// respect parent-before-child ordering (§4.5).
	children map[[32]byte]map[[32]byte]struct{}

	config  *Config
	view    *utxo.Set
	chainID uint32
	size    uint64
}

// New creates an empty mempool backed by view for admission checks.
func New(config *Config, view *utxo.Set, chainID uint32) *Mempool {
	mp := &Mempool{
		entries:  make(map[[32]byte]*Entry),
		byFee:    &feeHeap{},
		spentBy:  make(map[block.OutPoint][32]byte),
		children: make(map[[32]byte]map[[32]byte]struct{}),
		config:   config,
		view:     view,
		chainID:  chainID,
	}
	heap.Init(mp.byFee)
	return mp
}

// Admit validates tx against the mempool's layered view (the committed
// UTXO set overlaid with every transaction currently pooled) and, if
// acceptable, adds it to the pool. height is the chain's current tip
// height, used for coinbase maturity checks.
func (mp *Mempool) Admit(tx *block.Transaction, height uint64) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	txid := tx.TxID()
	if _, exists := mp.entries[txid]; exists {
		return fmt.Errorf("mempool: transaction %x already pooled", txid)
	}

	full := block.EncodeTxBytes(tx, block.FormFull)
	size := uint64(len(full))
	if size > mp.config.MaxTxSize {
		return fmt.Errorf("mempool: transaction %x exceeds max size %d", txid, mp.config.MaxTxSize)
	}

	for _, in := range tx.Inputs {
		if spender, conflict := mp.spentBy[in.Prev]; conflict {
			return fmt.Errorf("mempool: input %x:%d already spent by pooled transaction %x", in.Prev.TxID, in.Prev.Vout, spender)
		}
	}

	overlay := mp.overlayLocked()
	fee, err := validator.ValidateTransaction(tx, overlay, mp.chainID, height)
	if err != nil {
		return fmt.Errorf("mempool: %w", err)
	}

	feeRate := uint64(0)
	if size > 0 {
		feeRate = fee / size
	}
	if feeRate < mp.config.MinFeeRate {
		return fmt.Errorf("mempool: fee rate %d below minimum %d", feeRate, mp.config.MinFeeRate)
	}

	// Insert first so the candidate competes for its own slot on equal
	// footing: it is now just another entry eviction can pick, not a
	// protected one (§4.5 step 4 — a flood of minimum-fee-rate
	// transactions must be able to reject themselves, not evict whatever
	// higher fee-rate transactions happen to already be pooled).
	entry := &Entry{Tx: tx, TxID: txid, Fee: fee, Size: size, FeeRate: feeRate, Added: nowFunc()}
	mp.insertLocked(entry)

	for mp.size > mp.config.MaxSize {
		if !mp.evictLowestLocked() {
			break
		}
	}

	if _, stillPooled := mp.entries[txid]; !stillPooled {
		return fmt.Errorf("mempool: transaction %x has the lowest fee rate under size pressure and was evicted", txid)
	}
	return nil
}

// overlayLocked builds a UTXO view layering every currently-pooled
// transaction over the committed set, so a chain of dependent unconfirmed
// transactions validates consistently. Caller must hold mu.
func (mp *Mempool) overlayLocked() *utxo.Overlay {
	overlay := mp.view.Snapshot()
	for _, e := range mp.entries {
		overlay.Apply(e.Tx, 0)
	}
	return overlay
}

func (mp *Mempool) insertLocked(e *Entry) {
	mp.entries[e.TxID] = e
	heap.Push(mp.byFee, e)
	mp.size += e.Size
	for _, in := range e.Tx.Inputs {
		mp.spentBy[in.Prev] = e.TxID
		if _, isPooled := mp.entries[in.Prev.TxID]; isPooled {
			if mp.children[in.Prev.TxID] == nil {
				mp.children[in.Prev.TxID] = make(map[[32]byte]struct{})
			}
			mp.children[in.Prev.TxID][e.TxID] = struct{}{}
		}
	}
}

// evictLowestLocked removes the pool's lowest fee-rate transaction,
// refusing to evict any transaction that still has pooled children
// depending on it (evicting a parent out from under a still-pooled child
// would leave the child's input dangling). Every pooled transaction,
// including one admitted moments ago, is eligible. Returns false if no
// transaction was eligible for eviction.
func (mp *Mempool) evictLowestLocked() bool {
	var victim *Entry
	for _, e := range mp.entries {
		if len(mp.children[e.TxID]) > 0 {
			continue
		}
		if victim == nil || e.FeeRate < victim.FeeRate {
			victim = e
		}
	}
	if victim == nil {
		return false
	}
	mp.removeLocked(victim.TxID)
	return true
}

func (mp *Mempool) removeLocked(txid [32]byte) {
	e, ok := mp.entries[txid]
	if !ok {
		return
	}
	delete(mp.entries, txid)
	mp.size -= e.Size
	for _, in := range e.Tx.Inputs {
		delete(mp.spentBy, in.Prev)
		if siblings := mp.children[in.Prev.TxID]; siblings != nil {
			delete(siblings, txid)
			if len(siblings) == 0 {
				delete(mp.children, in.Prev.TxID)
			}
		}
	}
	delete(mp.children, txid)
	mp.byFee.remove(e)
}

// Remove drops a transaction from the pool, e.g. because it was confirmed
// in an accepted block.
func (mp *Mempool) Remove(txid [32]byte) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.removeLocked(txid)
}

// Get returns the pooled transaction with the given id, if present.
func (mp *Mempool) Get(txid [32]byte) (*block.Transaction, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	e, ok := mp.entries[txid]
	if !ok {
		return nil, false
	}
	return e.Tx, true
}

// Len reports the number of pooled transactions.
func (mp *Mempool) Len() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return len(mp.entries)
}

// Size reports the total encoded size of pooled transactions, in bytes.
func (mp *Mempool) Size() uint64 {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.size
}

// SelectForBlock greedily selects pooled transactions by descending fee
// rate, skipping any transaction whose parent (an input spending another
// pooled transaction's output) has not already been selected, until
// maxSize would be exceeded (§4.5, §4.7).
func (mp *Mempool) SelectForBlock(maxSize uint64) []*block.Transaction {
	entries := mp.SelectEntriesForBlock(maxSize)
	selected := make([]*block.Transaction, len(entries))
	for i, e := range entries {
		selected[i] = e.Tx
	}
	return selected
}

// SelectEntriesForBlock is SelectForBlock but returns the full Entry
// (including each transaction's already-validated Fee), so a caller
// assembling a coinbase doesn't need to recompute fees itself.
func (mp *Mempool) SelectEntriesForBlock(maxSize uint64) []*Entry {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	ordered := make([]*Entry, 0, len(mp.entries))
	for _, e := range mp.entries {
		ordered = append(ordered, e)
	}
	sortByFeeRateDesc(ordered)

	selected := make([]*Entry, 0, len(ordered))
	chosen := make(map[[32]byte]struct{}, len(ordered))
	var used uint64

	for _, e := range ordered {
		if used+e.Size > maxSize {
			continue
		}
		if !parentsSelected(e, mp.entries, chosen) {
			continue
		}
		selected = append(selected, e)
		chosen[e.TxID] = struct{}{}
		used += e.Size
	}
	return selected
}

// parentsSelected reports whether every pooled parent of e (a transaction
// e spends an output of) has already been chosen for the block.
func parentsSelected(e *Entry, entries map[[32]byte]*Entry, chosen map[[32]byte]struct{}) bool {
	for _, in := range e.Tx.Inputs {
		if _, isPooled := entries[in.Prev.TxID]; isPooled {
			if _, ok := chosen[in.Prev.TxID]; !ok {
				return false
			}
		}
	}
	return true
}

// Expire drops every pooled transaction older than the configured expiry,
// returning the number removed.
func (mp *Mempool) Expire() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	cutoff := nowFunc().Add(-mp.config.Expiry)
	var stale [][32]byte
	for txid, e := range mp.entries {
		if e.Added.Before(cutoff) {
			stale = append(stale, txid)
		}
	}
	for _, txid := range stale {
		mp.removeLocked(txid)
	}
	return len(stale)
}

func (mp *Mempool) String() string {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return fmt.Sprintf("mempool.Mempool{count=%d, size=%d}", len(mp.entries), mp.size)
}

// nowFunc is overridden in tests to control expiry without sleeping.
var nowFunc = time.Now
