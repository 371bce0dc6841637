package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gochain/gochain/pkg/crypto"
)

// Magic identifies frames belonging to this network, rejecting traffic
// from an unrelated protocol outright (§4.8: invalid magic is a protocol
// violation).
const Magic uint32 = 0xd9b4fe0d

// frame layout (§6): magic(4) || command(12, ASCII null-padded) ||
// payload_len(4 LE) || checksum(4, first 4 bytes of hash256(payload)) || payload
const headerSize = 4 + CommandSize + 4 + 4

// ErrBadMagic is returned when a frame's magic does not match Magic.
var ErrBadMagic = fmt.Errorf("wire: bad magic")

// ErrOversizedMessage is returned when a frame declares a payload longer
// than MaxMessageSize.
var ErrOversizedMessage = fmt.Errorf("wire: oversized message")

// ErrChecksumMismatch is returned when a frame's checksum does not match
// its payload.
var ErrChecksumMismatch = fmt.Errorf("wire: checksum mismatch")

func encodeCommand(cmd Command) [CommandSize]byte {
	var out [CommandSize]byte
	copy(out[:], cmd)
	return out
}

func decodeCommand(raw [CommandSize]byte) Command {
	n := bytes.IndexByte(raw[:], 0)
	if n < 0 {
		n = CommandSize
	}
	return Command(raw[:n])
}

// WriteMessage encodes msg's payload via encodePayload, frames it, and
// writes it to w.
func WriteMessage(w io.Writer, msg Message) error {
	payload, err := encodePayload(msg)
	if err != nil {
		return err
	}
	if len(payload) > MaxMessageSize {
		return ErrOversizedMessage
	}

	cmd := encodeCommand(msg.Command())
	checksum := crypto.Hash256(payload)

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], Magic)
	copy(header[4:4+CommandSize], cmd[:])
	binary.LittleEndian.PutUint32(header[4+CommandSize:8+CommandSize], uint32(len(payload)))
	copy(header[8+CommandSize:12+CommandSize], checksum[:4])

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadMessage reads one framed message from r, validating magic, size,
// and checksum before decoding the payload (§4.8: oversized or malformed
// frames are protocol violations, not silently dropped).
func ReadMessage(r io.Reader) (Message, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	magic := binary.LittleEndian.Uint32(header[0:4])
	if magic != Magic {
		return nil, ErrBadMagic
	}

	var rawCmd [CommandSize]byte
	copy(rawCmd[:], header[4:4+CommandSize])
	cmd := decodeCommand(rawCmd)

	payloadLen := binary.LittleEndian.Uint32(header[4+CommandSize : 8+CommandSize])
	if payloadLen > MaxMessageSize {
		return nil, ErrOversizedMessage
	}

	var wantChecksum [4]byte
	copy(wantChecksum[:], header[8+CommandSize:12+CommandSize])

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	got := crypto.Hash256(payload)
	if !bytes.Equal(got[:4], wantChecksum[:]) {
		return nil, ErrChecksumMismatch
	}

	return decodePayload(cmd, payload)
}
