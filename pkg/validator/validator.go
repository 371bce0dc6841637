// Package validator enforces the consensus rules a transaction or block
// must satisfy to be accepted: structural well-formedness, signature
// verification against a layered UTXO view, coinbase maturity, and value
// conservation (§4.3).
package validator

import (
	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/crypto"
	"github.com/gochain/gochain/pkg/utxo"
)

// MaxTxSize bounds a transaction's full-form encoded size (§6).
const MaxTxSize = 100_000

// CoinbaseMaturity is the number of confirmations a coinbase output must
// accumulate before it may be spent (§4.3).
const CoinbaseMaturity = 100

// ValidateTransaction checks tx against view: every input must reference
// an existing, mature, unspent output; every input's signature must verify
// against its claimed public key and the output's address; and inputs must
// conserve or exceed outputs. It returns the transaction's fee (the input
// surplus) on success. tx must not be a coinbase transaction — those are
// validated by ValidateCoinbase in the context of their enclosing block.
func ValidateTransaction(tx *block.Transaction, view utxo.View, chainID uint32, height uint64) (uint64, error) {
	if tx.IsCoinbase() {
		return 0, txErr(ErrCoinbasePlacement, "coinbase transaction outside block context")
	}
	if err := tx.CheckStructure(); err != nil {
		return 0, txErr(ErrStructure, "%v", err)
	}
	if len(block.EncodeTxBytes(tx, block.FormFull)) > MaxTxSize {
		return 0, txErr(ErrOversized, "encoded size exceeds %d bytes", MaxTxSize)
	}
	if tx.ChainID != chainID {
		return 0, txErr(ErrChainIDMismatch, "tx chain_id %d, want %d", tx.ChainID, chainID)
	}

	sighash := tx.SigHash()
	var totalIn uint64
	for i := range tx.Inputs {
		in := &tx.Inputs[i]

		entry, ok := view.Get(in.Prev)
		if !ok {
			if sc, isSpentChecker := view.(utxo.SpentChecker); isSpentChecker && sc.WasSpent(in.Prev) {
				return 0, txErr(ErrDoubleSpend, "input %d double-spends %x:%d", i, in.Prev.TxID, in.Prev.Vout)
			}
			return 0, txErr(ErrInputMissing, "input %d references %x:%d", i, in.Prev.TxID, in.Prev.Vout)
		}
		if entry.IsCoinbase && height-entry.Height < CoinbaseMaturity {
			return 0, txErr(ErrCoinbaseImmature, "input %d spends coinbase at height %d before maturity (current %d)", i, entry.Height, height)
		}

		pub, err := crypto.ParsePublicKey(in.PubKey)
		if err != nil {
			return 0, txErr(ErrBadSignature, "input %d: %v", i, err)
		}
		if crypto.AddressFromPubKey(pub) != entry.Output.ScriptPubKey {
			return 0, txErr(ErrBadSignature, "input %d: public key does not match output address", i)
		}
		if !crypto.Verify(pub, sighash, in.Signature) {
			return 0, txErr(ErrBadSignature, "input %d: signature verification failed", i)
		}

		totalIn += entry.Output.Amount
	}

	var totalOut uint64
	for _, out := range tx.Outputs {
		totalOut += out.Amount
	}
	if totalOut > totalIn {
		return 0, txErr(ErrNegativeFee, "outputs %d exceed inputs %d", totalOut, totalIn)
	}
	return totalIn - totalOut, nil
}

// ValidateCoinbase checks the structural and chain-id rules that apply to
// a block's coinbase transaction. Its reward amount is checked separately
// by the caller (pkg/chain), which alone knows the block's height and the
// fees collected from the rest of the block.
func ValidateCoinbase(tx *block.Transaction, chainID uint32) error {
	if !tx.IsCoinbase() {
		return txErr(ErrCoinbasePlacement, "expected zero inputs")
	}
	if err := tx.CheckStructure(); err != nil {
		return txErr(ErrStructure, "%v", err)
	}
	if tx.ChainID != chainID {
		return txErr(ErrChainIDMismatch, "tx chain_id %d, want %d", tx.ChainID, chainID)
	}
	return nil
}
