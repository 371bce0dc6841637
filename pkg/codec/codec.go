// Package codec implements the canonical, deterministic byte encoding used
// for hashing, signing, and wire transfer (§4.2). All multi-byte integers
// are little-endian; variable-length fields are prefixed with a compact
// "varint" whose minimal-encoding rule is enforced on decode.
package codec

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Error reports a malformed, truncated, or oversized encoding. It is the
// CodecError of §7: wraps the offending field name and the reason.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("codec: field %q: %s", e.Field, e.Reason)
}

func errf(field, format string, args ...interface{}) error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// MaxVarIntPayload is an overall ceiling for varint-declared lengths.
// ReadVarInt and ReadBytes do not apply it; ReadBytes checks the
// per-field maxLen its caller passes instead.
const MaxVarIntPayload = 1 << 28 // 256 MiB, well above MAX_MESSAGE_SIZE

// WriteVarInt writes n using the shortest of four encodings, mirroring
// Bitcoin's compact-size integer: a single byte for n<0xfd, a 0xfd prefix
// plus 2 bytes, a 0xfe prefix plus 4 bytes, or a 0xff prefix plus 8 bytes.
func WriteVarInt(w io.Writer, n uint64) error {
	switch {
	case n < 0xfd:
		_, err := w.Write([]byte{byte(n)})
		return err
	case n <= 0xffff:
		buf := make([]byte, 3)
		buf[0] = 0xfd
		binary.LittleEndian.PutUint16(buf[1:], uint16(n))
		_, err := w.Write(buf)
		return err
	case n <= 0xffffffff:
		buf := make([]byte, 5)
		buf[0] = 0xfe
		binary.LittleEndian.PutUint32(buf[1:], uint32(n))
		_, err := w.Write(buf)
		return err
	default:
		buf := make([]byte, 9)
		buf[0] = 0xff
		binary.LittleEndian.PutUint64(buf[1:], n)
		_, err := w.Write(buf)
		return err
	}
}

// ReadVarInt reads a compact-size integer, rejecting any encoding longer
// than necessary to represent the value (non-minimal varints, §4.2).
func ReadVarInt(r io.Reader) (uint64, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, errf("varint", "truncated: %v", err)
	}
	switch prefix[0] {
	case 0xfd:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, errf("varint", "truncated 0xfd body: %v", err)
		}
		v := uint64(binary.LittleEndian.Uint16(buf[:]))
		if v < 0xfd {
			return 0, errf("varint", "non-minimal encoding of %d", v)
		}
		return v, nil
	case 0xfe:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, errf("varint", "truncated 0xfe body: %v", err)
		}
		v := uint64(binary.LittleEndian.Uint32(buf[:]))
		if v <= 0xffff {
			return 0, errf("varint", "non-minimal encoding of %d", v)
		}
		return v, nil
	case 0xff:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, errf("varint", "truncated 0xff body: %v", err)
		}
		v := binary.LittleEndian.Uint64(buf[:])
		if v <= 0xffffffff {
			return 0, errf("varint", "non-minimal encoding of %d", v)
		}
		return v, nil
	default:
		return uint64(prefix[0]), nil
	}
}

// WriteUint32/WriteUint64 write fixed-width little-endian integers.
func WriteUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func WriteUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func ReadUint32(r io.Reader, field string) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errf(field, "truncated: %v", err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func ReadUint64(r io.Reader, field string) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errf(field, "truncated: %v", err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteBytes writes a varint length prefix followed by b.
func WriteBytes(w io.Writer, b []byte) error {
	if err := WriteVarInt(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadBytes reads a varint-prefixed byte slice, rejecting lengths beyond
// maxLen (the field's own oversized-field limit, §4.2).
func ReadBytes(r io.Reader, field string, maxLen uint64) ([]byte, error) {
	n, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if n > maxLen {
		return nil, errf(field, "length %d exceeds limit %d", n, maxLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errf(field, "truncated: %v", err)
	}
	return buf, nil
}

// WriteFixed32/ReadFixed32 handle the 32-byte hash fields (txid, prev
// hash, merkle root) that never carry a length prefix.
func WriteFixed32(w io.Writer, h [32]byte) error {
	_, err := w.Write(h[:])
	return err
}

func ReadFixed32(r io.Reader, field string) ([32]byte, error) {
	var out [32]byte
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, errf(field, "truncated: %v", err)
	}
	return out, nil
}
