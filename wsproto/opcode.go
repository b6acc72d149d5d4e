// The package defines the RFC6455 wire vocabulary shared by the frame codec and the dispatcher:
// opcodes, close codes, close reasons, the handshake accept key derivation and protocol errors.
package wsproto

/*************************************************************************************************/
/* OPCODES                                                                                       */
/*************************************************************************************************/

// Frame operation codes defined by RFC6455.
//
// RFC: https://datatracker.ietf.org/doc/html/rfc6455#section-11.8
type Opcode byte

const (
	// Denotes a continuation frame of a fragmented message
	OpContinuation Opcode = 0x0
	// Denotes a text data frame
	OpText Opcode = 0x1
	// Denotes a binary data frame
	OpBinary Opcode = 0x2
	// Denotes a close control frame
	OpClose Opcode = 0x8
	// Denotes a ping control frame
	OpPing Opcode = 0x9
	// Denotes a pong control frame
	OpPong Opcode = 0xA
	// Sentinel used when an unknown opcode is decoded. It is not a wire value and must never
	// be encoded.
	OpInvalid Opcode = 0xFF
)

// # Description
//
// Map the low 4 bits of the provided byte to an Opcode. Values which are not defined by RFC6455
// (reserved 0x3-0x7 and 0xB-0xF) are mapped to OpInvalid.
func OpcodeFromByte(b byte) Opcode {
	switch Opcode(b & 0x0F) {
	case OpContinuation:
		return OpContinuation
	case OpText:
		return OpText
	case OpBinary:
		return OpBinary
	case OpClose:
		return OpClose
	case OpPing:
		return OpPing
	case OpPong:
		return OpPong
	default:
		return OpInvalid
	}
}

// Returns true if the opcode is one of the wire values defined by RFC6455.
func (op Opcode) IsValid() bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	default:
		return false
	}
}

// Returns true for close, ping and pong opcodes.
func (op Opcode) IsControl() bool {
	switch op {
	case OpClose, OpPing, OpPong:
		return true
	default:
		return false
	}
}

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "CONTINUE"
	case OpText:
		return "TEXT"
	case OpBinary:
		return "BINARY"
	case OpClose:
		return "CLOSE"
	case OpPing:
		return "PING"
	case OpPong:
		return "PONG"
	default:
		return "BAD"
	}
}
