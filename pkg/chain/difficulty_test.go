package chain

import (
	"math/big"
	"testing"

	"github.com/gochain/gochain/pkg/block"
	"github.com/stretchr/testify/require"
)

func TestBitsTargetRoundTrip(t *testing.T) {
	for _, bits := range []uint32{0x1d00ffff, 0x1c7fffff, 0x1b0404cb} {
		target := bitsToTarget(bits)
		require.Equal(t, bits, targetToBits(target))
	}
}

func TestNextBitsUnchangedBetweenRetargets(t *testing.T) {
	// Height 1 is not a retarget boundary, so the next block keeps the
	// tip's bits.
	c := newTestChain(t)
	require.Equal(t, block.GenesisBits, c.NextBits())
}

func TestNextBitsClampedToMaxAdjustment(t *testing.T) {
	// An implausibly fast window (1 second for 2016 blocks) should clamp
	// to a 4x difficulty increase (smaller target), not an unbounded one.
	tighter := nextBits(0x1b0404cb, 0, 1)
	baseline := bitsToTarget(0x1b0404cb)
	got := bitsToTarget(tighter)
	quartered := new(big.Int).Div(baseline, big.NewInt(4))
	require.True(t, got.Cmp(quartered) <= 0)
}

func TestNextBitsClampedToMinAdjustment(t *testing.T) {
	// An implausibly slow window should clamp to a 4x difficulty decrease
	// (larger target), not an unbounded one.
	looser := nextBits(0x1c0404cb, 0, RetargetInterval*TargetBlockTimeSeconds*100)
	baseline := bitsToTarget(0x1c0404cb)
	got := bitsToTarget(looser)
	quadrupled := new(big.Int).Mul(baseline, big.NewInt(4))
	require.True(t, got.Cmp(quadrupled) <= 0)
}
