// Package wallet provides a file-backed key store and transaction builder
// for the node's clients (§1 Out of scope: the node itself never touches
// private key material). Keys are held at rest as a PBKDF2-derived
// AES-GCM-sealed blob; FileKeyStore implements pkg/crypto.KeyStore so any
// caller that only needs to sign never has to unwrap the encryption itself.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/crypto"
	"github.com/gochain/gochain/pkg/utxo"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100_000
	saltSize         = 32
	keySize          = 32
)

// FileKeyStore persists secp256k1 private keys to a single encrypted file.
// It implements pkg/crypto.KeyStore, so validators and the mempool never
// need to know keys exist on disk at all.
type FileKeyStore struct {
	mu         sync.RWMutex
	path       string
	passphrase string
	keys       map[string]*crypto.PrivateKey // address -> key
}

// NewFileKeyStore creates a key store backed by path, encrypted with
// passphrase. The file is not read until Load is called.
func NewFileKeyStore(path, passphrase string) *FileKeyStore {
	return &FileKeyStore{
		path:       path,
		passphrase: passphrase,
		keys:       make(map[string]*crypto.PrivateKey),
	}
}

// GenerateKey creates a new secp256k1 key, adds it to the store under its
// derived address, and returns the address.
func (ks *FileKeyStore) GenerateKey() (string, error) {
	priv, _, address, err := crypto.GenerateKeypair()
	if err != nil {
		return "", err
	}
	ks.mu.Lock()
	ks.keys[address] = priv
	ks.mu.Unlock()
	return address, nil
}

// ImportPrivateKey adds a hex-encoded secp256k1 scalar to the store,
// returning its derived address. Importing the same key twice is a no-op.
func (ks *FileKeyStore) ImportPrivateKey(privHex string) (string, error) {
	raw, err := hex.DecodeString(privHex)
	if err != nil {
		return "", fmt.Errorf("wallet: invalid private key hex: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("wallet: private key must be 32 bytes, got %d", len(raw))
	}
	priv := btcec.PrivKeyFromBytes(raw)
	address := crypto.AddressFromPubKey(priv.PubKey())

	ks.mu.Lock()
	ks.keys[address] = priv
	ks.mu.Unlock()
	return address, nil
}

// ExportPrivateKey returns the hex-encoded scalar for address.
func (ks *FileKeyStore) ExportPrivateKey(address string) (string, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	priv, ok := ks.keys[address]
	if !ok {
		return "", fmt.Errorf("wallet: unknown address %s", address)
	}
	return hex.EncodeToString(priv.Serialize()), nil
}

// Addresses returns every address the store currently holds a key for, in
// sorted order for stable listing output.
func (ks *FileKeyStore) Addresses() []string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	out := make([]string, 0, len(ks.keys))
	for addr := range ks.keys {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Sign implements pkg/crypto.KeyStore.
func (ks *FileKeyStore) Sign(address string, hash [32]byte) ([]byte, error) {
	ks.mu.RLock()
	priv, ok := ks.keys[address]
	ks.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("wallet: unknown address %s", address)
	}
	return crypto.Sign(priv, hash)
}

// PublicKey implements pkg/crypto.KeyStore.
func (ks *FileKeyStore) PublicKey(address string) (*crypto.PublicKey, error) {
	ks.mu.RLock()
	priv, ok := ks.keys[address]
	ks.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("wallet: unknown address %s", address)
	}
	return priv.PubKey(), nil
}

// persistedKeys is the plaintext JSON shape sealed inside the encrypted
// file: address to hex-encoded private key scalar.
type persistedKeys map[string]string

// Save encrypts and writes the store to its file with permissions 0600,
// since the plaintext is key material.
func (ks *FileKeyStore) Save() error {
	ks.mu.RLock()
	plain := make(persistedKeys, len(ks.keys))
	for addr, priv := range ks.keys {
		plain[addr] = hex.EncodeToString(priv.Serialize())
	}
	ks.mu.RUnlock()

	data, err := json.Marshal(plain)
	if err != nil {
		return fmt.Errorf("wallet: marshal keys: %w", err)
	}
	sealed, err := encrypt(data, ks.passphrase)
	if err != nil {
		return fmt.Errorf("wallet: encrypt keys: %w", err)
	}
	return os.WriteFile(ks.path, sealed, 0o600)
}

// Load reads and decrypts the store's file, replacing any in-memory keys.
func (ks *FileKeyStore) Load() error {
	sealed, err := os.ReadFile(ks.path)
	if err != nil {
		return err
	}
	data, err := decrypt(sealed, ks.passphrase)
	if err != nil {
		return fmt.Errorf("wallet: decrypt keys: %w", err)
	}
	var plain persistedKeys
	if err := json.Unmarshal(data, &plain); err != nil {
		return fmt.Errorf("wallet: unmarshal keys: %w", err)
	}

	keys := make(map[string]*crypto.PrivateKey, len(plain))
	for addr, privHex := range plain {
		raw, err := hex.DecodeString(privHex)
		if err != nil {
			return fmt.Errorf("wallet: corrupt key for %s: %w", addr, err)
		}
		keys[addr] = btcec.PrivKeyFromBytes(raw)
	}

	ks.mu.Lock()
	ks.keys = keys
	ks.mu.Unlock()
	return nil
}

// encrypt seals data under a PBKDF2-derived AES-256-GCM key, returning
// salt(32) || nonce(12) || ciphertext.
func encrypt(data []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, nonce, data, nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// decrypt reverses encrypt.
func decrypt(sealed []byte, passphrase string) ([]byte, error) {
	if len(sealed) < saltSize+12 {
		return nil, fmt.Errorf("wallet: sealed data too short")
	}
	salt := sealed[:saltSize]
	nonce := sealed[saltSize : saltSize+12]
	ciphertext := sealed[saltSize+12:]

	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// Wallet composes a FileKeyStore with a UTXO view to build and sign spend
// transactions (§1: the node validates transactions, it never builds them).
type Wallet struct {
	Keys    *FileKeyStore
	UTXOSet *utxo.Set
	ChainID uint32
}

// New wraps keys and a UTXO view into a transaction-building Wallet.
func New(keys *FileKeyStore, utxoSet *utxo.Set, chainID uint32) *Wallet {
	return &Wallet{Keys: keys, UTXOSet: utxoSet, ChainID: chainID}
}

// Balance sums every unspent output paying address.
func (w *Wallet) Balance(address string) uint64 {
	return w.UTXOSet.Balance(address)
}

// CreateTransaction builds, signs, and returns a transaction paying amount
// to toAddress from fromAddress's spendable outputs, with fee taken from
// the sender and any leftover returned as a change output. Coin selection
// is a simple greedy walk over OutputsForAddress, sufficient for a single
// client wallet (no UTXO-set-wide optimization).
func (w *Wallet) CreateTransaction(fromAddress, toAddress string, amount, fee uint64) (*block.Transaction, error) {
	need := amount + fee
	spendable := w.UTXOSet.OutputsForAddress(fromAddress)

	var selected []utxo.SpendableEntry
	var total uint64
	for _, e := range spendable {
		if total >= need {
			break
		}
		selected = append(selected, e)
		total += e.Entry.Output.Amount
	}
	if total < need {
		return nil, fmt.Errorf("wallet: insufficient funds: need %d, have %d", need, total)
	}

	tx := &block.Transaction{
		Version: 1,
		ChainID: w.ChainID,
		Inputs:  make([]block.TxInput, len(selected)),
		Outputs: []block.TxOutput{{Amount: amount, ScriptPubKey: toAddress}},
	}
	for i, e := range selected {
		tx.Inputs[i] = block.TxInput{Prev: e.OutPoint}
	}
	if change := total - need; change > 0 {
		tx.Outputs = append(tx.Outputs, block.TxOutput{Amount: change, ScriptPubKey: fromAddress})
	}

	if err := w.sign(tx, fromAddress); err != nil {
		return nil, err
	}
	return tx, nil
}

// sign fills in every input's Signature and PubKey by signing tx's single
// whole-transaction sighash (§4.2: SigHash and TxID coincide in this
// model), then re-deriving PubKey so a single-sighash attaches to every
// input identically.
func (w *Wallet) sign(tx *block.Transaction, address string) error {
	sighash := tx.SigHash()
	sig, err := w.Keys.Sign(address, sighash)
	if err != nil {
		return fmt.Errorf("wallet: sign transaction: %w", err)
	}
	pub, err := w.Keys.PublicKey(address)
	if err != nil {
		return fmt.Errorf("wallet: sign transaction: %w", err)
	}
	pubBytes := pub.SerializeUncompressed()
	for i := range tx.Inputs {
		tx.Inputs[i].Signature = sig
		tx.Inputs[i].PubKey = pubBytes
	}
	return nil
}
