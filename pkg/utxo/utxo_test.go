package utxo

import (
	"testing"

	"github.com/gochain/gochain/pkg/block"
	"github.com/stretchr/testify/require"
)

func coinbaseBlock(height uint64, amount uint64, addr string) block.Block {
	tx := block.Transaction{
		Version: 1,
		ChainID: 1,
		Outputs: []block.TxOutput{{Amount: amount, ScriptPubKey: addr}},
	}
	return block.Block{
		Header:       block.BlockHeader{MerkleRoot: block.MerkleRoot([]block.Transaction{tx})},
		Height:       height,
		Transactions: []block.Transaction{tx},
	}
}

func TestApplyBlockCreatesOutputs(t *testing.T) {
	set := New()
	b := coinbaseBlock(1, 5000, "addrA")
	_, err := set.ApplyBlock(&b)
	require.NoError(t, err)
	require.EqualValues(t, 5000, set.Balance("addrA"))
	require.Equal(t, 1, set.Len())
}

func TestApplyBlockSpendsInputs(t *testing.T) {
	set := New()
	cb := coinbaseBlock(1, 5000, "addrA")
	_, err := set.ApplyBlock(&cb)
	require.NoError(t, err)

	txid := cb.Transactions[0].TxID()
	spend := block.Transaction{
		Version: 1,
		ChainID: 1,
		Inputs:  []block.TxInput{{Prev: block.OutPoint{TxID: txid, Vout: 0}}},
		Outputs: []block.TxOutput{{Amount: 4000, ScriptPubKey: "addrB"}, {Amount: 900, ScriptPubKey: "addrA"}},
	}
	b2 := block.Block{
		Header:       block.BlockHeader{MerkleRoot: block.MerkleRoot([]block.Transaction{spend})},
		Height:       2,
		Transactions: []block.Transaction{spend},
	}
	_, err = set.ApplyBlock(&b2)
	require.NoError(t, err)

	require.False(t, set.Has(block.OutPoint{TxID: txid, Vout: 0}))
	require.EqualValues(t, 900, set.Balance("addrA"))
	require.EqualValues(t, 4000, set.Balance("addrB"))
}

func TestApplyBlockRejectsMissingInput(t *testing.T) {
	set := New()
	spend := block.Transaction{
		Version: 1,
		Inputs:  []block.TxInput{{Prev: block.OutPoint{TxID: [32]byte{1}, Vout: 0}}},
		Outputs: []block.TxOutput{{Amount: 1, ScriptPubKey: "x"}},
	}
	b := block.Block{
		Header:       block.BlockHeader{MerkleRoot: block.MerkleRoot([]block.Transaction{spend})},
		Transactions: []block.Transaction{spend},
	}
	_, err := set.ApplyBlock(&b)
	require.Error(t, err)
	require.Equal(t, 0, set.Len())
}

func TestRollbackRestoresExactPriorState(t *testing.T) {
	set := New()
	cb := coinbaseBlock(1, 5000, "addrA")
	_, err := set.ApplyBlock(&cb)
	require.NoError(t, err)

	before := set.String()

	txid := cb.Transactions[0].TxID()
	spend := block.Transaction{
		Inputs:  []block.TxInput{{Prev: block.OutPoint{TxID: txid, Vout: 0}}},
		Outputs: []block.TxOutput{{Amount: 5000, ScriptPubKey: "addrB"}},
	}
	b2 := block.Block{
		Header:       block.BlockHeader{MerkleRoot: block.MerkleRoot([]block.Transaction{spend})},
		Height:       2,
		Transactions: []block.Transaction{spend},
	}
	undo, err := set.ApplyBlock(&b2)
	require.NoError(t, err)
	require.NotEqual(t, before, set.String())

	set.Rollback(undo)
	require.Equal(t, before, set.String())
	require.True(t, set.Has(block.OutPoint{TxID: txid, Vout: 0}))
	require.EqualValues(t, 5000, set.Balance("addrA"))
	require.EqualValues(t, 0, set.Balance("addrB"))
}

func TestOverlayLayersWithoutMutatingBase(t *testing.T) {
	set := New()
	cb := coinbaseBlock(1, 5000, "addrA")
	_, err := set.ApplyBlock(&cb)
	require.NoError(t, err)

	txid := cb.Transactions[0].TxID()
	overlay := set.Snapshot()
	spend := block.Transaction{
		Inputs:  []block.TxInput{{Prev: block.OutPoint{TxID: txid, Vout: 0}}},
		Outputs: []block.TxOutput{{Amount: 5000, ScriptPubKey: "addrB"}},
	}
	overlay.Apply(&spend, 2)

	_, stillInBase := set.Get(block.OutPoint{TxID: txid, Vout: 0})
	require.True(t, stillInBase, "base set must be untouched")

	_, visibleInOverlay := overlay.Get(block.OutPoint{TxID: txid, Vout: 0})
	require.False(t, visibleInOverlay, "overlay must hide the spent output")

	spendTxID := spend.TxID()
	entry, ok := overlay.Get(block.OutPoint{TxID: spendTxID, Vout: 0})
	require.True(t, ok)
	require.EqualValues(t, 5000, entry.Output.Amount)
}

func TestOverlayChildChaining(t *testing.T) {
	set := New()
	cb := coinbaseBlock(1, 1000, "addrA")
	_, err := set.ApplyBlock(&cb)
	require.NoError(t, err)
	txid := cb.Transactions[0].TxID()

	parent := set.Snapshot()
	tx1 := block.Transaction{
		Inputs:  []block.TxInput{{Prev: block.OutPoint{TxID: txid, Vout: 0}}},
		Outputs: []block.TxOutput{{Amount: 1000, ScriptPubKey: "addrB"}},
	}
	parent.Apply(&tx1, 2)

	child := parent.Child()
	tx1ID := tx1.TxID()
	_, ok := child.Get(block.OutPoint{TxID: tx1ID, Vout: 0})
	require.True(t, ok, "child overlay must see parent's pending output")
}
