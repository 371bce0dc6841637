package block

// Genesis parameters (§6): the network's fixed starting point. Every node
// must derive the identical genesis block from these constants alone.
const (
	GenesisTimestamp = 1_000_000_000
	GenesisBits      = 0x1d00ffff
	GenesisReward    = 50 * 100_000_000 // 50 coins at 8 decimal places
	// GenesisAddress is the well-known, unspendable-by-anyone-in-practice
	// address the genesis coinbase pays to: the base58check encoding of the
	// all-zero 20-byte hash with AddressVersion.
	GenesisAddress = "1111111111111111111114oLvT2"
)

// NewGenesisBlock constructs the network's genesis block: height zero,
// all-zero previous hash, a single coinbase transaction paying
// GenesisReward to GenesisAddress, and Bits/Timestamp fixed at the
// network's inception (§6).
func NewGenesisBlock() Block {
	coinbase := Transaction{
		Version: 1,
		ChainID: 1,
		Inputs:  nil,
		Outputs: []TxOutput{
			{Amount: GenesisReward, ScriptPubKey: GenesisAddress},
		},
		LockTime: 0,
	}
	txs := []Transaction{coinbase}
	header := BlockHeader{
		Version:    1,
		PrevHash:   [32]byte{},
		MerkleRoot: MerkleRoot(txs),
		Timestamp:  GenesisTimestamp,
		Bits:       GenesisBits,
		Nonce:      0,
	}
	return Block{Header: header, Height: 0, Transactions: txs}
}

// genesis caches the single genesis instance; every caller must see the
// same block and the same hash.
var genesis = NewGenesisBlock()

// Genesis returns the network's genesis block.
func Genesis() Block {
	return genesis
}

// GenesisHash returns the genesis block's hash, the PrevHash every height-1
// block must reference.
func GenesisHash() [32]byte {
	return genesis.Hash()
}
