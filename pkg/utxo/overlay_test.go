package utxo

import (
	"testing"

	"github.com/gochain/gochain/pkg/block"
	"github.com/stretchr/testify/require"
)

func fundedOutpoint(t *testing.T, set *Set, amount uint64, addr string) block.OutPoint {
	t.Helper()
	tx := block.Transaction{Version: 1, ChainID: 1, Outputs: []block.TxOutput{{Amount: amount, ScriptPubKey: addr}}}
	b := block.Block{
		Header:       block.BlockHeader{MerkleRoot: block.MerkleRoot([]block.Transaction{tx})},
		Height:       1,
		Transactions: []block.Transaction{tx},
	}
	_, err := set.ApplyBlock(&b)
	require.NoError(t, err)
	return block.OutPoint{TxID: tx.TxID(), Vout: 0}
}

func spendTx(prev block.OutPoint, addr string) block.Transaction {
	return block.Transaction{
		Version: 1, ChainID: 1,
		Inputs:  []block.TxInput{{Prev: prev}},
		Outputs: []block.TxOutput{{Amount: 1, ScriptPubKey: addr}},
	}
}

func TestOverlayGetFallsThroughToBase(t *testing.T) {
	set := New()
	op := fundedOutpoint(t, set, 1000, "addrA")

	overlay := set.Snapshot()
	entry, ok := overlay.Get(op)
	require.True(t, ok)
	require.EqualValues(t, 1000, entry.Output.Amount)
}

func TestOverlayGetHidesSpentOutput(t *testing.T) {
	set := New()
	op := fundedOutpoint(t, set, 1000, "addrA")

	overlay := set.Snapshot()
	tx := spendTx(op, "addrB")
	overlay.Apply(&tx, 1)

	_, ok := overlay.Get(op)
	require.False(t, ok)
}

func TestOverlayWasSpentDistinguishesFromNeverExisted(t *testing.T) {
	set := New()
	op := fundedOutpoint(t, set, 1000, "addrA")
	neverExisted := block.OutPoint{TxID: [32]byte{0xaa}, Vout: 0}

	overlay := set.Snapshot()
	require.False(t, overlay.WasSpent(op))
	require.False(t, overlay.WasSpent(neverExisted))

	tx := spendTx(op, "addrB")
	overlay.Apply(&tx, 1)

	require.True(t, overlay.WasSpent(op))
	require.False(t, overlay.WasSpent(neverExisted))
}

func TestOverlayWasSpentPropagatesThroughChild(t *testing.T) {
	set := New()
	op := fundedOutpoint(t, set, 1000, "addrA")

	parent := set.Snapshot()
	tx := spendTx(op, "addrB")
	parent.Apply(&tx, 1)

	child := parent.Child()
	require.True(t, child.WasSpent(op), "a child overlay must see spends recorded in its parent")

	_, ok := child.Get(op)
	require.False(t, ok)
}

func TestOverlayWasSpentTrueForOutputAddedThenSpentInSameOverlay(t *testing.T) {
	set := New()
	overlay := set.Snapshot()

	funding := block.Transaction{Version: 1, ChainID: 1, Outputs: []block.TxOutput{{Amount: 500, ScriptPubKey: "addrA"}}}
	overlay.Apply(&funding, 1)
	newOp := block.OutPoint{TxID: funding.TxID(), Vout: 0}

	spend := spendTx(newOp, "addrB")
	overlay.Apply(&spend, 1)

	require.True(t, overlay.WasSpent(newOp))
}
