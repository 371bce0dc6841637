// Package crypto provides the signing, hashing, and address primitives the
// rest of the node relies on: secp256k1 keys, DER signatures with enforced
// low-S canonicalization, double-SHA256/RIPEMD160 hashing, and base58check
// addresses.
package crypto

import (
	"crypto/sha256"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160"
)

// AddressVersion is the base58check version byte for pay-to-address scripts.
const AddressVersion = 0x00

// PrivateKey and PublicKey alias the secp256k1 types so callers never need
// to import btcec directly.
type (
	PrivateKey = btcec.PrivateKey
	PublicKey  = btcec.PublicKey
)

var (
	// ErrHighS is returned by Verify when a signature's S value is not
	// canonical (S > N/2). High-S signatures are malleable and rejected
	// outright rather than normalized on the verify path.
	ErrHighS = errors.New("crypto: signature has non-canonical (high) S value")

	// ErrBadAddress is returned when a base58check address fails to
	// decode or its checksum does not match.
	ErrBadAddress = errors.New("crypto: invalid address")
)

// GenerateKeypair creates a new secp256k1 keypair and derives its address.
func GenerateKeypair() (*PrivateKey, *PublicKey, string, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, "", fmt.Errorf("crypto: generate key: %w", err)
	}
	pub := priv.PubKey()
	return priv, pub, AddressFromPubKey(pub), nil
}

// Hash256 computes the double SHA-256 digest used for txids, block hashes,
// and sighashes.
func Hash256(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

// Hash160 computes RIPEMD160(SHA256(b)), the digest bound into addresses.
func Hash160(b []byte) [20]byte {
	sh := sha256.Sum256(b)
	h := ripemd160.New()
	h.Write(sh[:])
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// EncodeAddress base58check-encodes a 20-byte hash with AddressVersion.
func EncodeAddress(hash160 [20]byte) string {
	payload := make([]byte, 0, 25)
	payload = append(payload, AddressVersion)
	payload = append(payload, hash160[:]...)
	checksum := Hash256(payload)
	payload = append(payload, checksum[:4]...)
	return base58.Encode(payload)
}

// DecodeAddress reverses EncodeAddress, verifying the checksum and version.
func DecodeAddress(address string) ([20]byte, error) {
	var out [20]byte
	raw, err := base58.Decode(address)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	if len(raw) != 25 {
		return out, fmt.Errorf("%w: length %d", ErrBadAddress, len(raw))
	}
	if raw[0] != AddressVersion {
		return out, fmt.Errorf("%w: version %d", ErrBadAddress, raw[0])
	}
	payload, checksum := raw[:21], raw[21:]
	want := Hash256(payload)
	for i := range checksum {
		if checksum[i] != want[i] {
			return out, fmt.Errorf("%w: checksum mismatch", ErrBadAddress)
		}
	}
	copy(out[:], raw[1:21])
	return out, nil
}

// AddressFromPubKey derives the base58check address bound to a public key.
func AddressFromPubKey(pub *PublicKey) string {
	return EncodeAddress(Hash160(pub.SerializeUncompressed()))
}

// ParsePublicKey decodes an uncompressed or compressed secp256k1 public key
// as carried in a transaction input's PubKey field.
func ParsePublicKey(raw []byte) (*PublicKey, error) {
	pub, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse public key: %w", err)
	}
	return pub, nil
}

// Sign produces a DER-encoded ECDSA signature over hash. btcec's signer
// always picks the low-S root, so the result is canonical by construction.
func Sign(priv *PrivateKey, hash [32]byte) ([]byte, error) {
	sig := btcecdsa.Sign(priv, hash[:])
	return sig.Serialize(), nil
}

// Verify reports whether sig is a valid, canonical (low-S) DER signature by
// pub over hash. High-S signatures are rejected rather than normalized,
// closing the malleability hole described in §4.1.
func Verify(pub *PublicKey, hash [32]byte, sig []byte) bool {
	parsed, err := btcecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	if !isLowS(parsed) {
		return false
	}
	return parsed.Verify(hash[:], pub)
}

// isLowS reports whether sig's S component is at most half the curve order,
// the canonical form this node enforces on every signature it accepts.
func isLowS(sig *btcecdsa.Signature) bool {
	raw := sig.Serialize()
	r, s, err := splitDER(raw)
	if err != nil {
		return false
	}
	if r.Sign() <= 0 || s.Sign() <= 0 {
		return false
	}
	n := btcec.S256().N
	halfN := new(big.Int).Rsh(n, 1)
	return s.Cmp(halfN) <= 0
}

// splitDER extracts r and s from a DER-encoded ECDSA signature without
// pulling in encoding/asn1's general unmarshaler twice; btcec's own
// Signature type keeps r/s private, so we decode the wire form directly.
func splitDER(der []byte) (*big.Int, *big.Int, error) {
	// 0x30 len 0x02 rlen r 0x02 slen s
	if len(der) < 8 || der[0] != 0x30 {
		return nil, nil, fmt.Errorf("crypto: malformed DER signature")
	}
	i := 2
	if der[i] != 0x02 {
		return nil, nil, fmt.Errorf("crypto: malformed DER signature")
	}
	i++
	rlen := int(der[i])
	i++
	r := new(big.Int).SetBytes(der[i : i+rlen])
	i += rlen
	if i >= len(der) || der[i] != 0x02 {
		return nil, nil, fmt.Errorf("crypto: malformed DER signature")
	}
	i++
	slen := int(der[i])
	i++
	if i+slen > len(der) {
		return nil, nil, fmt.Errorf("crypto: malformed DER signature")
	}
	s := new(big.Int).SetBytes(der[i : i+slen])
	return r, s, nil
}

// encodeDER re-encodes an (r, s) pair as a DER signature. Used by tests
// that need to construct a deliberately non-canonical (high-S) signature.
func encodeDER(r, s *big.Int) ([]byte, error) {
	return asn1.Marshal(struct{ R, S *big.Int }{r, s})
}

// KeyStore is the opaque signing collaborator the node depends on instead
// of touching private key material directly (§1 Out of scope). Concrete
// implementations (pkg/wallet.FileKeyStore) own key storage and, if any,
// at-rest encryption.
type KeyStore interface {
	// Sign returns a canonical (low-S) DER signature over hash using the
	// key bound to address.
	Sign(address string, hash [32]byte) ([]byte, error)
	// PublicKey returns the public key bound to address.
	PublicKey(address string) (*PublicKey, error)
}
