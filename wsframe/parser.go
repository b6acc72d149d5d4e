// The package implements the stateless RFC6455 frame parser and writer. Routines operate on a
// growable in-memory buffer: the parser consumes exactly one frame when it is complete and
// reports that more data is needed otherwise, the writer serializes one frame per call.
package wsframe

import (
	"bytes"
	"encoding/binary"

	"github.com/gbdevw/gowsengine/wsproto"
)

const (
	// Maximum payload length of a control frame
	MaxControlPayloadLength = 125
	// Maximum frame header length: 2 base bytes, 8 bytes extended length and 4 bytes mask key
	MaxHeaderLength = 14
)

// A single decoded frame. Payload is owned by the frame and does not alias the decode buffer.
type Frame struct {
	// FIN bit
	Final bool
	// RSV1, RSV2 and RSV3 bits (RSV1 is the most significant of the three low bits)
	Rsv byte
	// Frame opcode
	Opcode wsproto.Opcode
	// Unmasked payload, nil when the frame has no payload
	Payload []byte
}

// Frame metadata read by ParseHeader.
type Header struct {
	// FIN bit
	Final bool
	// RSV bits
	Rsv byte
	// Frame opcode
	Opcode wsproto.Opcode
	// MASK bit
	Masked bool
	// Mask key, only meaningful when Masked is true
	Mask [4]byte
	// Declared payload length
	PayloadLength uint64
	// Number of bytes used by the header itself
	Length int
}

// # Description
//
// Peek the header of the frame which starts at src[0]. src is never modified.
//
// Masking is checked against the role first: frames received by a server must be masked and
// frames received by a client must not. Then the opcode is checked and the length tiers
// (7 bits, 16 bits or 64 bits) and the mask key are read.
//
// # Return
//
//   - nil, nil when src does not contain the whole header yet.
//   - A ProtocolError wrapping ErrUnmaskedFrame, ErrMaskedFrame or ErrInvalidOpcode.
//   - The header otherwise.
func ParseHeader(src []byte, server bool) (*Header, error) {
	if len(src) < 2 {
		return nil, nil
	}
	first, second := src[0], src[1]
	// Check masking
	masked := second&0x80 != 0
	if !masked && server {
		return nil, wsproto.ProtocolError{Err: wsproto.ErrUnmaskedFrame}
	} else if masked && !server {
		return nil, wsproto.ProtocolError{Err: wsproto.ErrMaskedFrame}
	}
	// Check opcode
	opcode := wsproto.OpcodeFromByte(first)
	if opcode == wsproto.OpInvalid {
		return nil, wsproto.NewProtocolError(wsproto.ErrInvalidOpcode, "opcode %d", first&0x0F)
	}
	hdr := &Header{
		Final:  first&0x80 != 0,
		Rsv:    (first & 0x70) >> 4,
		Opcode: opcode,
		Masked: masked,
		Length: 2,
	}
	// Payload length
	switch length := second & 0x7F; length {
	case 126:
		if len(src) < 4 {
			return nil, nil
		}
		hdr.PayloadLength = uint64(binary.BigEndian.Uint16(src[2:4]))
		hdr.Length = 4
	case 127:
		if len(src) < 10 {
			return nil, nil
		}
		hdr.PayloadLength = binary.BigEndian.Uint64(src[2:10])
		hdr.Length = 10
	default:
		hdr.PayloadLength = uint64(length)
	}
	// Mask key
	if masked {
		if len(src) < hdr.Length+4 {
			return nil, nil
		}
		copy(hdr.Mask[:], src[hdr.Length:hdr.Length+4])
		hdr.Length += 4
	}
	return hdr, nil
}

// # Description
//
// Parse one frame from buf.
//
// Nothing is consumed until the whole frame is available. While the header is incomplete, buf
// capacity is grown to hold the longest header. While the payload is incomplete, buf capacity is
// grown once to hold the header and the payload (bounded by maxSize) so repeated partial reads do
// not reallocate.
//
// When the declared payload length exceeds maxSize, the whole frame is consumed and a
// ProtocolError wrapping ErrOverflow is returned: buf stays aligned on the next frame and the
// caller can keep parsing.
//
// Ping and pong frames with more than 125 bytes of payload are rejected. Close frames with more
// than 125 bytes of payload are turned into a final close frame without payload.
//
// # Inputs
//
//   - buf: Buffer holding received bytes. Consumed bytes are removed from it.
//   - server: True when frames are received by a server (frames must be masked).
//   - maxSize: Maximum allowed payload length.
//
// # Return
//
//   - nil, nil when more data is needed.
//   - A ProtocolError in case of framing violation.
//   - The decoded frame otherwise.
func Parse(buf *bytes.Buffer, server bool, maxSize int) (*Frame, error) {
	hdr, err := ParseHeader(buf.Bytes(), server)
	if err != nil {
		return nil, err
	}
	// Header incomplete: reserve room for the longest header
	if hdr == nil {
		if buf.Cap() < MaxHeaderLength {
			buf.Grow(MaxHeaderLength - buf.Len())
		}
		return nil, nil
	}
	// Not enough data: reserve room for the anticipated frame
	if uint64(buf.Len()-hdr.Length) < hdr.PayloadLength {
		reserve := hdr.PayloadLength
		if reserve > uint64(maxSize) {
			reserve = uint64(maxSize)
		}
		if need := hdr.Length + int(reserve); buf.Cap() < need {
			buf.Grow(need - buf.Len())
		}
		return nil, nil
	}
	// Remove header
	buf.Next(hdr.Length)
	// Drop the payload if it exceeds the limit
	if hdr.PayloadLength > uint64(maxSize) {
		buf.Next(int(hdr.PayloadLength))
		return nil, wsproto.NewProtocolError(wsproto.ErrOverflow, "payload length %d exceeds limit %d", hdr.PayloadLength, maxSize)
	}
	frame := &Frame{
		Final:  hdr.Final,
		Rsv:    hdr.Rsv,
		Opcode: hdr.Opcode,
	}
	if hdr.PayloadLength == 0 {
		return frame, nil
	}
	length := int(hdr.PayloadLength)
	data := make([]byte, length)
	copy(data, buf.Next(length))
	// Control frames must have length <= 125
	if length > MaxControlPayloadLength {
		switch hdr.Opcode {
		case wsproto.OpPing, wsproto.OpPong:
			return nil, wsproto.NewProtocolError(wsproto.ErrInvalidLength, "length %d", length)
		case wsproto.OpClose:
			return &Frame{Final: true, Rsv: hdr.Rsv, Opcode: wsproto.OpClose}, nil
		}
	}
	if hdr.Masked {
		ApplyMask(data, hdr.Mask)
	}
	frame.Payload = data
	return frame, nil
}

// # Description
//
// Parse the payload of a close frame. The first 2 bytes are the big endian close code and the
// remaining bytes, if any, are decoded as UTF-8 (invalid sequences are replaced) to form the
// description.
//
// # Return
//
// The close reason or nil when the payload is shorter than 2 bytes (no close code).
func ParseClosePayload(payload []byte) *wsproto.CloseReason {
	if len(payload) < 2 {
		return nil
	}
	reason := &wsproto.CloseReason{
		Code: wsproto.CloseCodeFromUint16(binary.BigEndian.Uint16(payload[:2])),
	}
	if len(payload) > 2 {
		reason.Description = string(bytes.ToValidUTF8(payload[2:], []byte("�")))
	}
	return reason
}
