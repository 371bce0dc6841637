package chain

import (
	"math/big"

	"github.com/gochain/gochain/pkg/block"
)

// RetargetInterval is the number of blocks between difficulty adjustments
// (§4.6), matching the teacher's DifficultyAdjustmentInterval.
const RetargetInterval = 2016

// TargetBlockTimeSeconds is the desired average spacing between blocks.
const TargetBlockTimeSeconds = 600

// minAdjustment and maxAdjustment clamp a single retarget to a 4x swing in
// either direction (§4.6), the same clamp as the teacher's
// DifficultyAdjustmentFactor of 4.0.
const (
	minAdjustment = 0.25
	maxAdjustment = 4.0
)

// bitsToTarget expands a compact "nBits" encoding into the full 256-bit
// target a block hash must be numerically below. The encoding's top byte
// is an exponent and the remaining three bytes are the mantissa, the same
// compact representation used throughout the pack's PoW-based chains.
func bitsToTarget(bits uint32) *big.Int {
	exponent := bits >> 24
	mantissa := big.NewInt(int64(bits & 0x007fffff))
	if exponent <= 3 {
		return mantissa.Rsh(mantissa, uint(8*(3-exponent)))
	}
	return mantissa.Lsh(mantissa, uint(8*(exponent-3)))
}

// targetToBits compresses a full target back into its compact form.
func targetToBits(target *big.Int) uint32 {
	if target.Sign() <= 0 {
		return 0
	}
	raw := target.Bytes()
	exponent := len(raw)
	var mantissa uint32
	switch {
	case exponent <= 3:
		shifted := make([]byte, 3)
		copy(shifted[3-exponent:], raw)
		mantissa = uint32(shifted[0])<<16 | uint32(shifted[1])<<8 | uint32(shifted[2])
	default:
		mantissa = uint32(raw[0])<<16 | uint32(raw[1])<<8 | uint32(raw[2])
	}
	// The mantissa's top bit doubles as a sign bit in this encoding; if
	// set, shift the whole value down by one byte and bump the exponent.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}
	return uint32(exponent)<<24 | mantissa
}

// meetsTarget reports whether hash, interpreted as a big-endian unsigned
// integer, is numerically at or below the target implied by bits.
func meetsTarget(hash [32]byte, bits uint32) bool {
	return MeetsTarget(hash, bits)
}

// MeetsTarget reports whether hash, interpreted as a big-endian unsigned
// integer, is numerically at or below the target implied by bits. Exported
// for the miner's nonce search, which checks candidates against the same
// target this package's block-acceptance path enforces.
func MeetsTarget(hash [32]byte, bits uint32) bool {
	target := bitsToTarget(bits)
	h := new(big.Int).SetBytes(hash[:])
	return h.Cmp(target) <= 0
}

// nextBits computes the retargeted difficulty for the block following a
// RetargetInterval-sized window, given the actual wall-clock time the
// window took (firstTimestamp..lastTimestamp) and the window's starting
// bits. The adjustment ratio is clamped to [0.25x, 4x] so difficulty can
// never swing further in a single retarget (§4.6).
func nextBits(currentBits uint32, firstTimestamp, lastTimestamp uint64) uint32 {
	actualTimespan := float64(lastTimestamp - firstTimestamp)
	expectedTimespan := float64(RetargetInterval * TargetBlockTimeSeconds)
	if actualTimespan <= 0 {
		actualTimespan = expectedTimespan * minAdjustment
	}

	ratio := actualTimespan / expectedTimespan
	if ratio < minAdjustment {
		ratio = minAdjustment
	}
	if ratio > maxAdjustment {
		ratio = maxAdjustment
	}

	target := bitsToTarget(currentBits)
	// target * ratio, computed in fixed point to avoid float imprecision
	// on the target's magnitude: scale by 1e6 then divide back down.
	const scale = 1_000_000
	scaledRatio := big.NewInt(int64(ratio * scale))
	target.Mul(target, scaledRatio)
	target.Div(target, big.NewInt(scale))

	maxTarget := bitsToTarget(block.GenesisBits)
	if target.Cmp(maxTarget) > 0 {
		target = maxTarget
	}
	return targetToBits(target)
}
