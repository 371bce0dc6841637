package chain

import "github.com/gochain/gochain/pkg/block"

// HalvingInterval is the number of blocks between coinbase subsidy halvings.
const HalvingInterval = 210_000

// subsidyAt returns the block subsidy for height: GenesisReward halved
// every HalvingInterval blocks, floor-divided, until it reaches zero.
func subsidyAt(height uint64) uint64 {
	halvings := height / HalvingInterval
	if halvings >= 64 {
		return 0
	}
	return block.GenesisReward >> halvings
}
