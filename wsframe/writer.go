package wsframe

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/gbdevw/gowsengine/wsproto"
)

// # Description
//
// Serialize one frame into dst.
//
// The first byte holds the opcode and the FIN bit. The second byte holds the payload length
// (literal up to 125, 126 followed by a 16 bits length, 127 followed by a 64 bits length) and the
// MASK bit. When masking is requested, a fresh random mask key follows the length and the
// payload is written masked.
//
// # Inputs
//
//   - dst: Destination buffer.
//   - payload: Frame payload. It is not modified.
//   - op: Frame opcode. OpInvalid and other non wire values are rejected.
//   - fin: FIN bit.
//   - mask: Whether the payload must be masked (frames sent by a client).
//
// # Return
//
// A ProtocolError wrapping ErrBadOpcode if op has no wire value or an error if no mask key
// could be generated. Nothing is written to dst in these cases.
func WriteMessage(dst *bytes.Buffer, payload []byte, op wsproto.Opcode, fin bool, mask bool) error {
	if !op.IsValid() {
		return wsproto.NewProtocolError(wsproto.ErrBadOpcode, "opcode %d", byte(op))
	}
	var key [4]byte
	if mask {
		if _, err := rand.Read(key[:]); err != nil {
			return fmt.Errorf("failed to generate mask key: %w", err)
		}
	}
	one := byte(op)
	if fin {
		one |= 0x80
	}
	var two byte
	if mask {
		two = 0x80
	}
	length := len(payload)
	dst.Grow(MaxHeaderLength + length)
	var ext [8]byte
	switch {
	case length < 126:
		dst.Write([]byte{one, two | byte(length)})
	case length <= 0xFFFF:
		dst.Write([]byte{one, two | 126})
		binary.BigEndian.PutUint16(ext[:2], uint16(length))
		dst.Write(ext[:2])
	default:
		dst.Write([]byte{one, two | 127})
		binary.BigEndian.PutUint64(ext[:], uint64(length))
		dst.Write(ext[:])
	}
	if !mask {
		dst.Write(payload)
		return nil
	}
	dst.Write(key[:])
	pos := dst.Len()
	dst.Write(payload)
	ApplyMask(dst.Bytes()[pos:], key)
	return nil
}

// # Description
//
// Serialize a close frame into dst. A close reason is written as a big endian close code
// followed by the UTF-8 description. Without reason, the close frame has no payload.
func WriteClose(dst *bytes.Buffer, reason *wsproto.CloseReason, mask bool) error {
	var payload []byte
	if reason != nil {
		payload = make([]byte, 2, 2+len(reason.Description))
		binary.BigEndian.PutUint16(payload, reason.Code.Uint16())
		payload = append(payload, reason.Description...)
	}
	return WriteMessage(dst, payload, wsproto.OpClose, true, mask)
}
