package validator

import (
	"testing"

	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/crypto"
	"github.com/gochain/gochain/pkg/utxo"
	"github.com/stretchr/testify/require"
)

const testChainID = 1

// fundedView creates a UTXO set holding one output of amount at height,
// spendable by the returned priv/pub, and returns its outpoint. The funding
// transaction has no inputs, so the set always records the output as a
// coinbase entry; isCoinbase is not used.
func fundedView(t *testing.T, amount uint64, height uint64, isCoinbase bool) (*utxo.Set, *crypto.PrivateKey, *crypto.PublicKey, block.OutPoint) {
	t.Helper()
	priv, pub, addr, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	fundingTx := block.Transaction{
		Version: 1, ChainID: testChainID,
		Outputs: []block.TxOutput{{Amount: amount, ScriptPubKey: addr}},
	}
	b := block.Block{
		Header:       block.BlockHeader{MerkleRoot: block.MerkleRoot([]block.Transaction{fundingTx})},
		Height:       height,
		Transactions: []block.Transaction{fundingTx},
	}
	set := utxo.New()
	_, err = set.ApplyBlock(&b)
	require.NoError(t, err)
	_ = isCoinbase

	return set, priv, pub, block.OutPoint{TxID: fundingTx.TxID(), Vout: 0}
}

func signedSpend(t *testing.T, priv *crypto.PrivateKey, pub *crypto.PublicKey, prev block.OutPoint, outAmount uint64, destAddr string) block.Transaction {
	t.Helper()
	tx := block.Transaction{
		Version: 1, ChainID: testChainID,
		Inputs:  []block.TxInput{{Prev: prev, PubKey: pub.SerializeUncompressed(), Sequence: 0xffffffff}},
		Outputs: []block.TxOutput{{Amount: outAmount, ScriptPubKey: destAddr}},
	}
	sig, err := crypto.Sign(priv, tx.SigHash())
	require.NoError(t, err)
	tx.Inputs[0].Signature = sig
	return tx
}

func TestValidateTransactionAccepted(t *testing.T) {
	set, priv, pub, prev := fundedView(t, 1000, 1, false)
	tx := signedSpend(t, priv, pub, prev, 900, "addrB")

	fee, err := ValidateTransaction(&tx, set.Snapshot(), testChainID, 200)
	require.NoError(t, err)
	require.EqualValues(t, 100, fee)
}

func TestValidateTransactionMissingInput(t *testing.T) {
	set, priv, pub, _ := fundedView(t, 1000, 1, false)
	bogus := block.OutPoint{TxID: [32]byte{0xaa}, Vout: 0}
	tx := signedSpend(t, priv, pub, bogus, 900, "addrB")

	_, err := ValidateTransaction(&tx, set.Snapshot(), testChainID, 200)
	require.Error(t, err)
	require.Equal(t, ErrInputMissing, err.(*TxError).Kind)
}

func TestValidateTransactionBadSignature(t *testing.T) {
	set, priv, pub, prev := fundedView(t, 1000, 1, false)
	tx := signedSpend(t, priv, pub, prev, 900, "addrB")
	tx.Inputs[0].Signature[len(tx.Inputs[0].Signature)-1] ^= 0xff

	_, err := ValidateTransaction(&tx, set.Snapshot(), testChainID, 200)
	require.Error(t, err)
	require.Equal(t, ErrBadSignature, err.(*TxError).Kind)
}

func TestValidateTransactionWrongKey(t *testing.T) {
	set, _, _, prev := fundedView(t, 1000, 1, false)
	_, otherPub, _, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	otherPriv, _, _, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	tx := signedSpend(t, otherPriv, otherPub, prev, 900, "addrB")
	_, err = ValidateTransaction(&tx, set.Snapshot(), testChainID, 200)
	require.Error(t, err)
	require.Equal(t, ErrBadSignature, err.(*TxError).Kind)
}

func TestValidateTransactionNegativeFee(t *testing.T) {
	set, priv, pub, prev := fundedView(t, 1000, 1, false)
	tx := signedSpend(t, priv, pub, prev, 2000, "addrB")

	_, err := ValidateTransaction(&tx, set.Snapshot(), testChainID, 200)
	require.Error(t, err)
	require.Equal(t, ErrNegativeFee, err.(*TxError).Kind)
}

func TestValidateTransactionImmatureCoinbase(t *testing.T) {
	// fundedView's funding transaction has no inputs, so ApplyBlock marks
	// its output as a coinbase entry at the funding height.
	set, priv, pub, prev := fundedView(t, 1000, 100, true)
	tx := signedSpend(t, priv, pub, prev, 900, "addrB")

	_, err := ValidateTransaction(&tx, set.Snapshot(), testChainID, 100+CoinbaseMaturity-1)
	require.Error(t, err)
	require.Equal(t, ErrCoinbaseImmature, err.(*TxError).Kind)

	_, err = ValidateTransaction(&tx, set.Snapshot(), testChainID, 100+CoinbaseMaturity)
	require.NoError(t, err)
}

func TestValidateTransactionDoubleSpendWithinOverlay(t *testing.T) {
	set, priv, pub, prev := fundedView(t, 1000, 1, false)
	overlay := set.Snapshot()

	first := signedSpend(t, priv, pub, prev, 900, "addrB")
	_, err := ValidateTransaction(&first, overlay, testChainID, 200)
	require.NoError(t, err)
	overlay.Apply(&first, 200)

	second := signedSpend(t, priv, pub, prev, 500, "addrC")
	_, err = ValidateTransaction(&second, overlay, testChainID, 200)
	require.Error(t, err)
	require.Equal(t, ErrDoubleSpend, err.(*TxError).Kind)
}

func TestValidateTransactionMissingInputStillMissingAfterOtherSpends(t *testing.T) {
	set, priv, pub, prev := fundedView(t, 1000, 1, false)
	overlay := set.Snapshot()

	spend := signedSpend(t, priv, pub, prev, 900, "addrB")
	_, err := ValidateTransaction(&spend, overlay, testChainID, 200)
	require.NoError(t, err)
	overlay.Apply(&spend, 200)

	bogus := block.OutPoint{TxID: [32]byte{0xbb}, Vout: 0}
	unrelated := signedSpend(t, priv, pub, bogus, 1, "addrD")
	_, err = ValidateTransaction(&unrelated, overlay, testChainID, 200)
	require.Error(t, err)
	require.Equal(t, ErrInputMissing, err.(*TxError).Kind)
}

func TestValidateTransactionRejectsAmountAboveMaxMoney(t *testing.T) {
	set, priv, pub, prev := fundedView(t, 1000, 1, false)
	tx := signedSpend(t, priv, pub, prev, 900, "addrB")
	tx.Outputs[0].Amount = block.MaxMoney + 1

	_, err := ValidateTransaction(&tx, set.Snapshot(), testChainID, 200)
	require.Error(t, err)
	require.Equal(t, ErrStructure, err.(*TxError).Kind)
}

func TestValidateTransactionRejectsChainIDMismatch(t *testing.T) {
	set, priv, pub, prev := fundedView(t, 1000, 1, false)
	tx := signedSpend(t, priv, pub, prev, 900, "addrB")
	tx.ChainID = testChainID + 1

	_, err := ValidateTransaction(&tx, set.Snapshot(), testChainID, 200)
	require.Error(t, err)
	require.Equal(t, ErrChainIDMismatch, err.(*TxError).Kind)
}

func TestValidateTransactionRejectsCoinbase(t *testing.T) {
	tx := block.Transaction{Version: 1, ChainID: testChainID, Outputs: []block.TxOutput{{Amount: 1, ScriptPubKey: "x"}}}
	set := utxo.New()
	_, err := ValidateTransaction(&tx, set.Snapshot(), testChainID, 1)
	require.Error(t, err)
	require.Equal(t, ErrCoinbasePlacement, err.(*TxError).Kind)
}

func TestValidateCoinbaseAccepted(t *testing.T) {
	tx := block.Transaction{Version: 1, ChainID: testChainID, Outputs: []block.TxOutput{{Amount: 5_000_000_000, ScriptPubKey: "miner"}}}
	require.NoError(t, ValidateCoinbase(&tx, testChainID))
}

func TestValidateCoinbaseRejectsInputs(t *testing.T) {
	tx := block.Transaction{
		Version: 1, ChainID: testChainID,
		Inputs:  []block.TxInput{{Prev: block.OutPoint{}}},
		Outputs: []block.TxOutput{{Amount: 1, ScriptPubKey: "x"}},
	}
	err := ValidateCoinbase(&tx, testChainID)
	require.Error(t, err)
	require.Equal(t, ErrCoinbasePlacement, err.(*TxError).Kind)
}
