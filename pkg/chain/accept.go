package chain

import (
	"fmt"
	"sort"
	"time"

	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/storage"
	"github.com/gochain/gochain/pkg/utxo"
	"github.com/gochain/gochain/pkg/validator"
)

// MaxFutureDrift bounds how far into the future a block's timestamp may
// claim to be, relative to the node's own clock, before it is rejected.
const MaxFutureDrift = 2 * time.Hour

// MedianTimeSpan is the number of most-recent blocks a candidate's
// timestamp is checked against: it must exceed their median, not merely
// the immediately preceding block, so a single miner with a skewed clock
// can't manipulate difficulty retargeting or coinbase maturity (§4.6).
const MedianTimeSpan = 11

// nowFunc is overridden in tests so timestamp checks don't depend on
// wall-clock timing.
var nowFunc = time.Now

// AcceptBlock runs the full validation and apply pipeline for a candidate
// block: it must extend the current tip, pass every header and structural
// check, have every transaction validate against the chain's UTXO set, and
// pay its coinbase no more than the subsidy plus collected fees. On
// success the block is applied to the UTXO set and persisted atomically;
// on any failure nothing about the chain's state changes (§4.6).
func (c *Chain) AcceptBlock(b *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkExtendsTipLocked(b); err != nil {
		return err
	}
	if err := c.checkHeaderLocked(b); err != nil {
		return err
	}
	if err := b.CheckStructure(); err != nil {
		return &validator.BlockError{Kind: validator.ErrBlockStructure, Detail: err.Error()}
	}

	coinbase := &b.Transactions[0]
	if err := validator.ValidateCoinbase(coinbase, c.config.ChainID); err != nil {
		return &validator.BlockError{Kind: validator.ErrTransaction, Detail: "coinbase", Cause: err}
	}

	overlay := c.utxo.Snapshot()
	var totalFees uint64
	for i := 1; i < len(b.Transactions); i++ {
		tx := &b.Transactions[i]
		fee, err := validator.ValidateTransaction(tx, overlay, c.config.ChainID, b.Height)
		if err != nil {
			return &validator.BlockError{Kind: validator.ErrTransaction, Detail: fmt.Sprintf("transaction %d", i), Cause: err}
		}
		totalFees += fee
		overlay.Apply(tx, b.Height)
	}

	var coinbaseValue uint64
	for _, out := range coinbase.Outputs {
		coinbaseValue += out.Amount
	}
	maxAllowed := subsidyAt(b.Height) + totalFees
	if coinbaseValue > maxAllowed {
		return &validator.BlockError{
			Kind:   validator.ErrBadCoinbaseValue,
			Detail: fmt.Sprintf("coinbase pays %d, max allowed is %d (subsidy %d + fees %d)", coinbaseValue, maxAllowed, subsidyAt(b.Height), totalFees),
		}
	}

	undo, err := c.utxo.ApplyBlock(b)
	if err != nil {
		return fmt.Errorf("chain: apply block: %w", err)
	}

	hash := b.Hash()
	if err := c.storage.StoreBlock(b); err != nil {
		c.utxo.Rollback(undo)
		return fmt.Errorf("chain: persist block: %w", err)
	}
	if err := c.storage.StoreChainState(&storage.ChainState{TipHash: hash, Height: b.Height}); err != nil {
		c.utxo.Rollback(undo)
		return fmt.Errorf("chain: persist chain state: %w", err)
	}

	c.blocksByHash[hash] = b
	c.blocksByHeight[b.Height] = b
	c.undoByHash[hash] = undo
	c.tip = b
	return nil
}

// checkExtendsTipLocked enforces the minimum fork-choice rule this chain
// implements: a candidate block must extend the current tip directly.
// Multi-branch reorganization is an optional extension this node does not
// perform (§9 Design Notes); a competing block at the same height is
// simply rejected rather than triggering a reorg.
func (c *Chain) checkExtendsTipLocked(b *block.Block) error {
	if b.Header.PrevHash != c.tip.Hash() {
		return &validator.BlockError{Kind: validator.ErrBadPrevHash, Detail: "block does not extend the current tip"}
	}
	if b.Height != c.tip.Height+1 {
		return &validator.BlockError{Kind: validator.ErrBlockStructure, Detail: fmt.Sprintf("height %d does not follow tip height %d", b.Height, c.tip.Height)}
	}
	return nil
}

func (c *Chain) checkHeaderLocked(b *block.Block) error {
	expectedBits := c.nextBitsLocked()
	if b.Header.Bits != expectedBits {
		return &validator.BlockError{Kind: validator.ErrBadDifficulty, Detail: fmt.Sprintf("bits %x, expected %x", b.Header.Bits, expectedBits)}
	}
	if !meetsTarget(b.Header.Hash(), b.Header.Bits) {
		return &validator.BlockError{Kind: validator.ErrBadProofOfWork, Detail: "hash does not meet target"}
	}
	if mtp := c.medianTimePastLocked(); b.Header.Timestamp <= mtp {
		return &validator.BlockError{Kind: validator.ErrBadTimestamp, Detail: fmt.Sprintf("timestamp %d does not exceed median time past %d", b.Header.Timestamp, mtp)}
	}
	if b.Header.Timestamp > uint64(nowFunc().Add(MaxFutureDrift).Unix()) {
		return &validator.BlockError{Kind: validator.ErrBadTimestamp, Detail: "timestamp too far in the future"}
	}
	return nil
}

// medianTimePastLocked returns the median timestamp of the chain's tip and
// up to MedianTimeSpan-1 of its most recent ancestors. With fewer than
// MedianTimeSpan blocks available (near genesis) it medians over however
// many exist. Caller must hold mu.
func (c *Chain) medianTimePastLocked() uint64 {
	timestamps := make([]uint64, 0, MedianTimeSpan)
	b := c.tip
	for {
		timestamps = append(timestamps, b.Header.Timestamp)
		if len(timestamps) == MedianTimeSpan || b.Height == 0 {
			break
		}
		prev, ok := c.blocksByHeight[b.Height-1]
		if !ok {
			break
		}
		b = prev
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	return timestamps[len(timestamps)/2]
}

// ensure utxo.View is satisfied by *utxo.Overlay for callers outside this
// package that construct their own layered views the same way.
var _ utxo.View = (*utxo.Overlay)(nil)
