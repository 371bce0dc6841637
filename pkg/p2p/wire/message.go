// Package wire implements the node's framed wire protocol: a fixed
// magic/type/length/checksum header followed by a message-specific
// payload (§6). Framing and the type-switch codec style are grounded on
// daglabs-btcd/wire (message.go, common.go), adapted to this protocol's
// own frame layout and message catalogue (§4.8).
package wire

import "fmt"

// MaxMessageSize bounds a frame's payload length (§6).
const MaxMessageSize = 32 * 1024 * 1024

// CommandSize is the fixed width of a frame's ASCII, null-padded type field.
const CommandSize = 12

// Command identifies a message's payload type (§4.8).
type Command string

const (
	CmdVersion    Command = "version"
	CmdVerAck     Command = "verack"
	CmdPing       Command = "ping"
	CmdPong       Command = "pong"
	CmdGetAddr    Command = "getaddr"
	CmdAddr       Command = "addr"
	CmdInv        Command = "inv"
	CmdGetData    Command = "getdata"
	CmdBlock      Command = "block"
	CmdTx         Command = "tx"
	CmdGetBlocks  Command = "getblocks"
)

// Message is implemented by every payload type; Command identifies which
// frame type to write and how to decode the payload back.
type Message interface {
	Command() Command
}

func unknownCommandError(cmd Command) error {
	return fmt.Errorf("wire: unknown command %q", cmd)
}
