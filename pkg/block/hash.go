package block

import (
	"errors"

	"github.com/gochain/gochain/pkg/crypto"
)

// MaxMoney bounds the total amount that can ever exist: 21 million coins
// at 8 decimal places, the same supply cap GenesisReward's halving
// schedule asymptotically approaches. Every output's Amount, and every
// transaction's total output, must fall within [0, MaxMoney] (§4.3, §6).
const MaxMoney = 21_000_000 * 100_000_000

// Structural validation errors: invariants a transaction or block must
// satisfy on its own, independent of any UTXO view. Semantic validation
// (signatures, conservation, double-spends) lives in pkg/validator.
var (
	ErrNoOutputs          = errors.New("block: transaction has no outputs")
	ErrDuplicateInput     = errors.New("block: transaction spends the same output twice")
	ErrAmountOutOfRange   = errors.New("block: output amount exceeds MaxMoney")
	ErrTotalOutOfRange    = errors.New("block: total output amount exceeds MaxMoney")
	ErrNoTransactions     = errors.New("block: block has no transactions")
	ErrMissingCoinbase    = errors.New("block: first transaction is not a coinbase")
	ErrExtraCoinbase      = errors.New("block: coinbase transaction found outside position zero")
	ErrMerkleRootMismatch = errors.New("block: merkle root does not match transaction set")
)

// TxID is the transaction's identity: the hash256 of its sighash-form
// encoding, which excludes every input's Signature and PubKey so that
// signature malleability can never change a transaction's id (§4.2).
func (tx *Transaction) TxID() [32]byte {
	return crypto.Hash256(EncodeTxBytes(tx, FormSighash))
}

// SigHash is the digest every input's signature commits to. This model has
// no per-input script-clearing step (§3: BIP-143-style segregated sighash
// simplified to a single tx-wide commitment), so SigHash and TxID coincide.
func (tx *Transaction) SigHash() [32]byte {
	return tx.TxID()
}

// Hash is the block header's identity and the value proof-of-work is mined
// against.
func (h *BlockHeader) Hash() [32]byte {
	return crypto.Hash256(EncodeBlockHeaderBytes(h))
}

// CheckStructure validates invariants a transaction must satisfy by
// itself: at least one output, every output amount and the total output
// amount within [0, MaxMoney], and no output spent twice within the same
// transaction. Everything requiring chain context (input existence,
// signatures, conservation) is the validator's job.
func (tx *Transaction) CheckStructure() error {
	if len(tx.Outputs) == 0 {
		return ErrNoOutputs
	}
	var total uint64
	for _, out := range tx.Outputs {
		if out.Amount > MaxMoney {
			return ErrAmountOutOfRange
		}
		total += out.Amount
		if total > MaxMoney {
			return ErrTotalOutOfRange
		}
	}
	if tx.IsCoinbase() {
		return nil
	}
	seen := make(map[OutPoint]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if _, dup := seen[in.Prev]; dup {
			return ErrDuplicateInput
		}
		seen[in.Prev] = struct{}{}
	}
	return nil
}

// CheckStructure validates the block-level structural invariants: at least
// one transaction, the first (and only the first) transaction is a
// coinbase, every transaction is individually well-formed, and the header's
// MerkleRoot commits to the actual transaction set.
func (b *Block) CheckStructure() error {
	if len(b.Transactions) == 0 {
		return ErrNoTransactions
	}
	if !b.Transactions[0].IsCoinbase() {
		return ErrMissingCoinbase
	}
	for i := range b.Transactions {
		tx := &b.Transactions[i]
		if i > 0 && tx.IsCoinbase() {
			return ErrExtraCoinbase
		}
		if err := tx.CheckStructure(); err != nil {
			return err
		}
	}
	if MerkleRoot(b.Transactions) != b.Header.MerkleRoot {
		return ErrMerkleRootMismatch
	}
	return nil
}

// Hash is the block's identity, equal to its header's hash.
func (b *Block) Hash() [32]byte {
	return b.Header.Hash()
}
