package block

import (
	"bytes"
	"io"

	"github.com/gochain/gochain/pkg/codec"
)

// Form selects which serialization of a transaction to produce: the full
// wire/storage form (with signatures) or the sighash form used for txid
// and signing (§4.2), which strips each input's Signature and PubKey.
type Form int

const (
	FormFull Form = iota
	FormSighash
)

// Size limits enforced while decoding (§6 constants); oversized fields
// fail fast instead of allocating unbounded memory.
const (
	maxScriptLen  = 100_000
	maxInputCount = 1 << 20
	maxTxCount    = 1 << 20
)

// EncodeTx serializes tx in the requested form: field order matches the
// data model declaration order, integers are little-endian, and every
// variable-length field carries a varint length prefix (§4.2).
func EncodeTx(w io.Writer, tx *Transaction, form Form) error {
	if err := codec.WriteUint32(w, tx.Version); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, tx.ChainID); err != nil {
		return err
	}
	if err := codec.WriteVarInt(w, uint64(len(tx.Inputs))); err != nil {
		return err
	}
	for i := range tx.Inputs {
		if err := encodeInput(w, &tx.Inputs[i], form); err != nil {
			return err
		}
	}
	if err := codec.WriteVarInt(w, uint64(len(tx.Outputs))); err != nil {
		return err
	}
	for i := range tx.Outputs {
		if err := encodeOutput(w, &tx.Outputs[i]); err != nil {
			return err
		}
	}
	return codec.WriteUint32(w, tx.LockTime)
}

func encodeInput(w io.Writer, in *TxInput, form Form) error {
	if err := codec.WriteFixed32(w, in.Prev.TxID); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, in.Prev.Vout); err != nil {
		return err
	}
	if form == FormFull {
		if err := codec.WriteBytes(w, in.Signature); err != nil {
			return err
		}
		if err := codec.WriteBytes(w, in.PubKey); err != nil {
			return err
		}
	}
	return codec.WriteUint32(w, in.Sequence)
}

func encodeOutput(w io.Writer, out *TxOutput) error {
	if err := codec.WriteUint64(w, out.Amount); err != nil {
		return err
	}
	return codec.WriteBytes(w, []byte(out.ScriptPubKey))
}

// DecodeTx reverses EncodeTx. Decoding a sighash-form blob never restores
// Signature/PubKey; callers that need the full transaction must decode
// FormFull.
func DecodeTx(r io.Reader, form Form) (Transaction, error) {
	var tx Transaction
	var err error
	if tx.Version, err = codec.ReadUint32(r, "tx.version"); err != nil {
		return tx, err
	}
	if tx.ChainID, err = codec.ReadUint32(r, "tx.chain_id"); err != nil {
		return tx, err
	}
	nIn, err := codec.ReadVarInt(r)
	if err != nil {
		return tx, err
	}
	if nIn > maxInputCount {
		return tx, &codec.Error{Field: "tx.inputs", Reason: "too many inputs"}
	}
	if nIn > 0 {
		tx.Inputs = make([]TxInput, nIn)
	}
	for i := range tx.Inputs {
		if tx.Inputs[i], err = decodeInput(r, form); err != nil {
			return tx, err
		}
	}
	nOut, err := codec.ReadVarInt(r)
	if err != nil {
		return tx, err
	}
	if nOut > maxInputCount {
		return tx, &codec.Error{Field: "tx.outputs", Reason: "too many outputs"}
	}
	tx.Outputs = make([]TxOutput, nOut)
	for i := range tx.Outputs {
		if tx.Outputs[i], err = decodeOutput(r); err != nil {
			return tx, err
		}
	}
	if tx.LockTime, err = codec.ReadUint32(r, "tx.locktime"); err != nil {
		return tx, err
	}
	return tx, nil
}

func decodeInput(r io.Reader, form Form) (TxInput, error) {
	var in TxInput
	var err error
	if in.Prev.TxID, err = codec.ReadFixed32(r, "input.prev.txid"); err != nil {
		return in, err
	}
	if in.Prev.Vout, err = codec.ReadUint32(r, "input.prev.vout"); err != nil {
		return in, err
	}
	if form == FormFull {
		if in.Signature, err = codec.ReadBytes(r, "input.signature", maxScriptLen); err != nil {
			return in, err
		}
		if in.PubKey, err = codec.ReadBytes(r, "input.pubkey", maxScriptLen); err != nil {
			return in, err
		}
	}
	if in.Sequence, err = codec.ReadUint32(r, "input.sequence"); err != nil {
		return in, err
	}
	return in, nil
}

func decodeOutput(r io.Reader) (TxOutput, error) {
	var out TxOutput
	amount, err := codec.ReadUint64(r, "output.amount")
	if err != nil {
		return out, err
	}
	script, err := codec.ReadBytes(r, "output.script_pubkey", maxScriptLen)
	if err != nil {
		return out, err
	}
	out.Amount = amount
	out.ScriptPubKey = string(script)
	return out, nil
}

// EncodeTxBytes/DecodeTxBytes are convenience wrappers over byte slices,
// used by hashing and tests.
func EncodeTxBytes(tx *Transaction, form Form) []byte {
	var buf bytes.Buffer
	// Encoding into an in-memory buffer never fails.
	_ = EncodeTx(&buf, tx, form)
	return buf.Bytes()
}

func DecodeTxBytes(b []byte, form Form) (Transaction, error) {
	return DecodeTx(bytes.NewReader(b), form)
}

// EncodeBlockHeader serializes a header in the fixed-width canonical form
// hashed to produce the block hash (§3).
func EncodeBlockHeader(w io.Writer, h *BlockHeader) error {
	if err := codec.WriteUint32(w, h.Version); err != nil {
		return err
	}
	if err := codec.WriteFixed32(w, h.PrevHash); err != nil {
		return err
	}
	if err := codec.WriteFixed32(w, h.MerkleRoot); err != nil {
		return err
	}
	if err := codec.WriteUint64(w, h.Timestamp); err != nil {
		return err
	}
	if err := codec.WriteUint32(w, h.Bits); err != nil {
		return err
	}
	return codec.WriteUint64(w, h.Nonce)
}

func DecodeBlockHeader(r io.Reader) (BlockHeader, error) {
	var h BlockHeader
	var err error
	if h.Version, err = codec.ReadUint32(r, "header.version"); err != nil {
		return h, err
	}
	if h.PrevHash, err = codec.ReadFixed32(r, "header.prev_hash"); err != nil {
		return h, err
	}
	if h.MerkleRoot, err = codec.ReadFixed32(r, "header.merkle_root"); err != nil {
		return h, err
	}
	if h.Timestamp, err = codec.ReadUint64(r, "header.timestamp"); err != nil {
		return h, err
	}
	if h.Bits, err = codec.ReadUint32(r, "header.bits"); err != nil {
		return h, err
	}
	if h.Nonce, err = codec.ReadUint64(r, "header.nonce"); err != nil {
		return h, err
	}
	return h, nil
}

func EncodeBlockHeaderBytes(h *BlockHeader) []byte {
	var buf bytes.Buffer
	_ = EncodeBlockHeader(&buf, h)
	return buf.Bytes()
}

// EncodeBlock serializes the header followed by the varint-prefixed
// transaction list, each transaction in full form.
func EncodeBlock(w io.Writer, b *Block) error {
	if err := EncodeBlockHeader(w, &b.Header); err != nil {
		return err
	}
	if err := codec.WriteUint64(w, b.Height); err != nil {
		return err
	}
	if err := codec.WriteVarInt(w, uint64(len(b.Transactions))); err != nil {
		return err
	}
	for i := range b.Transactions {
		if err := EncodeTx(w, &b.Transactions[i], FormFull); err != nil {
			return err
		}
	}
	return nil
}

func DecodeBlock(r io.Reader) (Block, error) {
	var b Block
	var err error
	if b.Header, err = DecodeBlockHeader(r); err != nil {
		return b, err
	}
	if b.Height, err = codec.ReadUint64(r, "block.height"); err != nil {
		return b, err
	}
	nTx, err := codec.ReadVarInt(r)
	if err != nil {
		return b, err
	}
	if nTx > maxTxCount {
		return b, &codec.Error{Field: "block.transactions", Reason: "too many transactions"}
	}
	b.Transactions = make([]Transaction, nTx)
	for i := range b.Transactions {
		if b.Transactions[i], err = DecodeTx(r, FormFull); err != nil {
			return b, err
		}
	}
	return b, nil
}

func EncodeBlockBytes(b *Block) []byte {
	var buf bytes.Buffer
	_ = EncodeBlock(&buf, b)
	return buf.Bytes()
}

func DecodeBlockBytes(raw []byte) (Block, error) {
	return DecodeBlock(bytes.NewReader(raw))
}
