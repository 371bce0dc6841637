package wire

import (
	"bytes"
	"io"

	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/codec"
)

// maxAddrCount bounds how many entries a single ADDR payload or GETBLOCKS
// locator may declare, and maxInvCount how many an INV/GETDATA payload
// may declare, guarding against a tiny
// frame claiming an enormous body (§4.2 oversized-field discipline
// applied to the wire layer).
const (
	maxAddrCount = 1000
	maxInvCount  = 50_000
)

// MsgVersion is the handshake's local-advertisement payload: protocol
// version, services, the peer's view of its own best height, and a
// nonce used to detect self-connections.
type MsgVersion struct {
	ProtocolVersion uint32
	Services        uint64
	Timestamp       uint64
	StartHeight     uint64
	Nonce           uint64
	UserAgent       string
}

func (*MsgVersion) Command() Command { return CmdVersion }

// MsgVerAck acknowledges a received MsgVersion. The handshake completes
// once both directions have exchanged VERSION and VERACK (§4.8).
type MsgVerAck struct{}

func (*MsgVerAck) Command() Command { return CmdVerAck }

// MsgPing/MsgPong carry a nonce so a pong can be matched to its ping.
type MsgPing struct{ Nonce uint64 }

func (*MsgPing) Command() Command { return CmdPing }

type MsgPong struct{ Nonce uint64 }

func (*MsgPong) Command() Command { return CmdPong }

// MsgGetAddr requests the peer's known-address table.
type MsgGetAddr struct{}

func (*MsgGetAddr) Command() Command { return CmdGetAddr }

// NetAddr is one entry of an ADDR payload: a dialable peer address.
type NetAddr struct {
	Timestamp uint64
	IP        string
	Port      uint16
}

// MsgAddr carries a batch of known peer addresses.
type MsgAddr struct {
	Addrs []NetAddr
}

func (*MsgAddr) Command() Command { return CmdAddr }

// InvType distinguishes a block inventory item from a transaction one.
type InvType uint32

const (
	InvTypeBlock InvType = 1
	InvTypeTx    InvType = 2
)

// InvVect identifies one block or transaction by type and hash.
type InvVect struct {
	Type InvType
	Hash [32]byte
}

// MsgInv announces inventory the sender has (and the receiver may
// request via GETDATA if it doesn't already have it, §4.8).
type MsgInv struct {
	Items []InvVect
}

func (*MsgInv) Command() Command { return CmdInv }

// MsgGetData requests the full BLOCK/TX bodies for the listed inventory.
type MsgGetData struct {
	Items []InvVect
}

func (*MsgGetData) Command() Command { return CmdGetData }

// MsgBlock carries one full block.
type MsgBlock struct {
	Block block.Block
}

func (*MsgBlock) Command() Command { return CmdBlock }

// MsgTx carries one full transaction.
type MsgTx struct {
	Tx block.Transaction
}

func (*MsgTx) Command() Command { return CmdTx }

// MsgGetBlocks requests an INV stream of block hashes the peer has that
// the locator doesn't already imply are known, used to drive initial
// block download (§4.8). Locator is ordered most-recent-first and
// exponentially spaced back to genesis; HashStop, if non-zero, bounds
// the reply.
type MsgGetBlocks struct {
	Locator  [][32]byte
	HashStop [32]byte
}

func (*MsgGetBlocks) Command() Command { return CmdGetBlocks }

func encodePayload(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch m := msg.(type) {
	case *MsgVersion:
		err = encodeVersion(&buf, m)
	case *MsgVerAck:
	case *MsgPing:
		err = codec.WriteUint64(&buf, m.Nonce)
	case *MsgPong:
		err = codec.WriteUint64(&buf, m.Nonce)
	case *MsgGetAddr:
	case *MsgAddr:
		err = encodeAddr(&buf, m)
	case *MsgInv:
		err = encodeInv(&buf, m.Items)
	case *MsgGetData:
		err = encodeInv(&buf, m.Items)
	case *MsgBlock:
		err = block.EncodeBlock(&buf, &m.Block)
	case *MsgTx:
		err = block.EncodeTx(&buf, &m.Tx, block.FormFull)
	case *MsgGetBlocks:
		err = encodeGetBlocks(&buf, m)
	default:
		return nil, unknownCommandError(msg.Command())
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodePayload(cmd Command, payload []byte) (Message, error) {
	r := bytes.NewReader(payload)
	switch cmd {
	case CmdVersion:
		return decodeVersion(r)
	case CmdVerAck:
		return &MsgVerAck{}, nil
	case CmdPing:
		n, err := codec.ReadUint64(r, "ping.nonce")
		return &MsgPing{Nonce: n}, err
	case CmdPong:
		n, err := codec.ReadUint64(r, "pong.nonce")
		return &MsgPong{Nonce: n}, err
	case CmdGetAddr:
		return &MsgGetAddr{}, nil
	case CmdAddr:
		return decodeAddr(r)
	case CmdInv:
		items, err := decodeInv(r)
		return &MsgInv{Items: items}, err
	case CmdGetData:
		items, err := decodeInv(r)
		return &MsgGetData{Items: items}, err
	case CmdBlock:
		b, err := block.DecodeBlock(r)
		return &MsgBlock{Block: b}, err
	case CmdTx:
		tx, err := block.DecodeTx(r, block.FormFull)
		return &MsgTx{Tx: tx}, err
	case CmdGetBlocks:
		return decodeGetBlocks(r)
	default:
		return nil, unknownCommandError(cmd)
	}
}

func encodeVersion(w *bytes.Buffer, m *MsgVersion) error {
	if err := codec.WriteUint32(w, m.ProtocolVersion); err != nil {
		return err
	}
	if err := codec.WriteUint64(w, m.Services); err != nil {
		return err
	}
	if err := codec.WriteUint64(w, m.Timestamp); err != nil {
		return err
	}
	if err := codec.WriteUint64(w, m.StartHeight); err != nil {
		return err
	}
	if err := codec.WriteUint64(w, m.Nonce); err != nil {
		return err
	}
	return codec.WriteBytes(w, []byte(m.UserAgent))
}

func decodeVersion(r *bytes.Reader) (*MsgVersion, error) {
	var m MsgVersion
	var err error
	if m.ProtocolVersion, err = codec.ReadUint32(r, "version.protocol_version"); err != nil {
		return nil, err
	}
	if m.Services, err = codec.ReadUint64(r, "version.services"); err != nil {
		return nil, err
	}
	if m.Timestamp, err = codec.ReadUint64(r, "version.timestamp"); err != nil {
		return nil, err
	}
	if m.StartHeight, err = codec.ReadUint64(r, "version.start_height"); err != nil {
		return nil, err
	}
	if m.Nonce, err = codec.ReadUint64(r, "version.nonce"); err != nil {
		return nil, err
	}
	userAgent, err := codec.ReadBytes(r, "version.user_agent", 256)
	if err != nil {
		return nil, err
	}
	m.UserAgent = string(userAgent)
	return &m, nil
}

func encodeAddr(w *bytes.Buffer, m *MsgAddr) error {
	if err := codec.WriteVarInt(w, uint64(len(m.Addrs))); err != nil {
		return err
	}
	for _, a := range m.Addrs {
		if err := codec.WriteUint64(w, a.Timestamp); err != nil {
			return err
		}
		if err := codec.WriteBytes(w, []byte(a.IP)); err != nil {
			return err
		}
		var portBuf [2]byte
		portBuf[0] = byte(a.Port >> 8)
		portBuf[1] = byte(a.Port)
		if _, err := w.Write(portBuf[:]); err != nil {
			return err
		}
	}
	return nil
}

func decodeAddr(r *bytes.Reader) (*MsgAddr, error) {
	n, err := codec.ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if n > maxAddrCount {
		return nil, &codec.Error{Field: "addr.addrs", Reason: "too many addresses"}
	}
	addrs := make([]NetAddr, n)
	for i := range addrs {
		if addrs[i].Timestamp, err = codec.ReadUint64(r, "addr.timestamp"); err != nil {
			return nil, err
		}
		ip, err := codec.ReadBytes(r, "addr.ip", 64)
		if err != nil {
			return nil, err
		}
		addrs[i].IP = string(ip)
		var portBuf [2]byte
		if _, err := io.ReadFull(r, portBuf[:]); err != nil {
			return nil, &codec.Error{Field: "addr.port", Reason: "truncated"}
		}
		addrs[i].Port = uint16(portBuf[0])<<8 | uint16(portBuf[1])
	}
	return &MsgAddr{Addrs: addrs}, nil
}

func encodeInv(w *bytes.Buffer, items []InvVect) error {
	if err := codec.WriteVarInt(w, uint64(len(items))); err != nil {
		return err
	}
	for _, it := range items {
		if err := codec.WriteUint32(w, uint32(it.Type)); err != nil {
			return err
		}
		if err := codec.WriteFixed32(w, it.Hash); err != nil {
			return err
		}
	}
	return nil
}

func decodeInv(r *bytes.Reader) ([]InvVect, error) {
	n, err := codec.ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if n > maxInvCount {
		return nil, &codec.Error{Field: "inv.items", Reason: "too many items"}
	}
	items := make([]InvVect, n)
	for i := range items {
		t, err := codec.ReadUint32(r, "inv.type")
		if err != nil {
			return nil, err
		}
		items[i].Type = InvType(t)
		if items[i].Hash, err = codec.ReadFixed32(r, "inv.hash"); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func encodeGetBlocks(w *bytes.Buffer, m *MsgGetBlocks) error {
	if err := codec.WriteVarInt(w, uint64(len(m.Locator))); err != nil {
		return err
	}
	for _, h := range m.Locator {
		if err := codec.WriteFixed32(w, h); err != nil {
			return err
		}
	}
	return codec.WriteFixed32(w, m.HashStop)
}

func decodeGetBlocks(r *bytes.Reader) (*MsgGetBlocks, error) {
	n, err := codec.ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if n > maxAddrCount {
		return nil, &codec.Error{Field: "getblocks.locator", Reason: "too many hashes"}
	}
	locator := make([][32]byte, n)
	for i := range locator {
		if locator[i], err = codec.ReadFixed32(r, "getblocks.locator"); err != nil {
			return nil, err
		}
	}
	stop, err := codec.ReadFixed32(r, "getblocks.hash_stop")
	if err != nil {
		return nil, err
	}
	return &MsgGetBlocks{Locator: locator, HashStop: stop}, nil
}
