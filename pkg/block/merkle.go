package block

import "github.com/gochain/gochain/pkg/crypto"

// MerkleRoot computes the root of the binary hash tree over txids, pairing
// adjacent leaves with Hash256 and duplicating the last leaf when a level
// has an odd count. An empty transaction list roots to the zero hash.
func MerkleRoot(txs []Transaction) [32]byte {
	if len(txs) == 0 {
		return [32]byte{}
	}
	level := make([][32]byte, len(txs))
	for i := range txs {
		level[i] = txs[i].TxID()
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][32]byte, len(level)/2)
		for i := range next {
			next[i] = hashPair(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0]
}

func hashPair(a, b [32]byte) [32]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return crypto.Hash256(buf)
}
