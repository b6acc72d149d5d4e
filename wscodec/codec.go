// Package wscodec turns the RFC6455 frames parsed by wsframe into logical frames and serializes
// logical messages. Unlike wsframe, the codec keeps state across calls: it reassembles
// fragmented messages and discards the remainder of oversized frames.
package wscodec

import (
	"bytes"

	"github.com/gbdevw/gowsengine/wsframe"
	"github.com/gbdevw/gowsengine/wsproto"
)

// Default maximum frame size: 64 KiB
const DefaultMaxSize = 65536

// Websocket frames codec. A Codec is not safe for concurrent use.
type Codec struct {
	// Maximum payload size of a frame or of a reassembled message
	maxSize int
	// True when frames are received by a server
	server bool
	// Opcode of the fragmented message being reassembled (OpInvalid if none)
	contOpcode wsproto.Opcode
	// Fragments received so far
	contBuf bytes.Buffer
	// True while fragments of an oversized fragmented message are dropped
	contSkip bool
	// Number of bytes left to drop from an oversized frame
	discard uint64
}

// Create a new codec working in server mode with a 64 KiB max frame size.
func NewCodec() *Codec {
	return &Codec{
		maxSize:    DefaultMaxSize,
		server:     true,
		contOpcode: wsproto.OpInvalid,
	}
}

// Set max frame size.
func (c *Codec) WithMaxSize(size int) *Codec {
	c.maxSize = size
	return c
}

// Set codec to client mode: received frames must not be masked and sent frames are masked.
func (c *Codec) WithClientMode() *Codec {
	c.server = false
	return c
}

// Get the max frame size.
func (c *Codec) MaxSize() int {
	return c.maxSize
}

// Check whether the codec works in server mode.
func (c *Codec) IsServer() bool {
	return c.server
}

// # Description
//
// Decode the next logical frame from buf.
//
// Frames with RSV bits set are rejected as no extension is ever negotiated. A non-final text or
// binary frame starts a fragmented message and continuation frames append to it: a Continue
// frame is returned for each absorbed fragment and the complete text or binary frame is
// returned once the final fragment is received. Control frames may be interleaved.
//
// When a frame declares a payload above the max size, the bytes of the frame already in buf are
// consumed and ErrOverflow is returned right away. The rest of the frame is dropped on later
// calls. When a fragmented message grows above the max size, ErrOverflow is returned and its
// remaining fragments are absorbed without being stored.
//
// # Return
//
//   - nil, nil when more data is needed.
//   - A wsproto.ProtocolError in case of protocol violation.
//   - The decoded frame otherwise.
func (c *Codec) Decode(buf *bytes.Buffer) (*Frame, error) {
	// Drop the remainder of an oversized frame
	if c.discard > 0 {
		n := c.discard
		if avail := uint64(buf.Len()); avail < n {
			n = avail
		}
		buf.Next(int(n))
		c.discard -= n
		if c.discard > 0 {
			return nil, nil
		}
	}
	// Peek header to detect oversized frames which are not fully buffered yet
	hdr, err := wsframe.ParseHeader(buf.Bytes(), c.server)
	if err != nil || hdr == nil {
		return nil, err
	}
	if hdr.PayloadLength > uint64(c.maxSize) {
		if avail := uint64(buf.Len() - hdr.Length); avail < hdr.PayloadLength {
			buf.Next(hdr.Length + int(avail))
			c.discard = hdr.PayloadLength - avail
			return nil, wsproto.NewProtocolError(wsproto.ErrOverflow, "payload length %d exceeds limit %d", hdr.PayloadLength, c.maxSize)
		}
	}
	raw, err := wsframe.Parse(buf, c.server, c.maxSize)
	if err != nil || raw == nil {
		return nil, err
	}
	if raw.Rsv != 0 {
		return nil, wsproto.NewProtocolError(wsproto.ErrReservedBitsSet, "rsv %03b", raw.Rsv)
	}
	opcode := raw.Opcode
	payload := raw.Payload
	dataFrame := opcode == wsproto.OpText || opcode == wsproto.OpBinary
	if !raw.Final {
		switch {
		case opcode.IsControl():
			return nil, wsproto.NewProtocolError(wsproto.ErrContinuationFragment, "fragmented %s frame", opcode)
		case dataFrame && c.contStarted():
			return nil, wsproto.ProtocolError{Err: wsproto.ErrContinuationStarted}
		case dataFrame:
			// Start a new continuation
			c.contOpcode = opcode
			return c.appendFragment(payload)
		case c.contStarted():
			// Continue a continuation
			return c.appendFragment(payload)
		default:
			return nil, wsproto.ProtocolError{Err: wsproto.ErrContinuationNotStarted}
		}
	}
	if opcode == wsproto.OpContinuation {
		// Finish a continuation
		if !c.contStarted() {
			return nil, wsproto.ProtocolError{Err: wsproto.ErrContinuationNotStarted}
		}
		if c.contSkip {
			c.resetContinuation()
			return &Frame{Kind: FrameContinue}, nil
		}
		if _, err := c.appendFragment(payload); err != nil {
			c.resetContinuation()
			return nil, err
		}
		opcode = c.contOpcode
		payload = nil
		if c.contBuf.Len() > 0 {
			payload = make([]byte, c.contBuf.Len())
			copy(payload, c.contBuf.Bytes())
		}
		c.resetContinuation()
	} else if dataFrame && c.contStarted() {
		// Finished frame which is not a continuation while one is started
		return nil, wsproto.ProtocolError{Err: wsproto.ErrContinuationStarted}
	}
	switch opcode {
	case wsproto.OpText:
		return &Frame{Kind: FrameText, Payload: payload}, nil
	case wsproto.OpBinary:
		return &Frame{Kind: FrameBinary, Payload: payload}, nil
	case wsproto.OpPing:
		return &Frame{Kind: FramePing, Payload: payload}, nil
	case wsproto.OpPong:
		return &Frame{Kind: FramePong, Payload: payload}, nil
	case wsproto.OpClose:
		return &Frame{Kind: FrameClose, CloseReason: wsframe.ParseClosePayload(payload)}, nil
	default:
		return nil, wsproto.NewProtocolError(wsproto.ErrBadOpcode, "opcode %s", opcode)
	}
}

// # Description
//
// Serialize msg into dst. Frames are masked in client mode. Nop and Stop messages write nothing.
//
// # Return
//
// A wsproto.ProtocolError wrapping ErrBadOpcode for an unknown message or fragment kind, or the
// error returned by wsframe.
func (c *Codec) Encode(msg Message, dst *bytes.Buffer) error {
	mask := !c.server
	switch msg.Kind {
	case MessageText:
		return wsframe.WriteMessage(dst, msg.Payload, wsproto.OpText, true, mask)
	case MessageBinary:
		return wsframe.WriteMessage(dst, msg.Payload, wsproto.OpBinary, true, mask)
	case MessagePing:
		return wsframe.WriteMessage(dst, msg.Payload, wsproto.OpPing, true, mask)
	case MessagePong:
		return wsframe.WriteMessage(dst, msg.Payload, wsproto.OpPong, true, mask)
	case MessageClose:
		return wsframe.WriteClose(dst, msg.CloseReason, mask)
	case MessageContinuation:
		switch msg.Item {
		case ItemFirstText:
			return wsframe.WriteMessage(dst, msg.Payload, wsproto.OpText, false, mask)
		case ItemFirstBinary:
			return wsframe.WriteMessage(dst, msg.Payload, wsproto.OpBinary, false, mask)
		case ItemContinue:
			return wsframe.WriteMessage(dst, msg.Payload, wsproto.OpContinuation, false, mask)
		case ItemLast:
			return wsframe.WriteMessage(dst, msg.Payload, wsproto.OpContinuation, true, mask)
		default:
			return wsproto.NewProtocolError(wsproto.ErrBadOpcode, "fragment kind %d", int(msg.Item))
		}
	case MessageNop, MessageStop:
		return nil
	default:
		return wsproto.NewProtocolError(wsproto.ErrBadOpcode, "message kind %s", msg.Kind)
	}
}

func (c *Codec) contStarted() bool {
	return c.contOpcode != wsproto.OpInvalid
}

// Store a fragment of the current continuation. Once the reassembled message exceeds the max
// size, fragments are dropped until the final one.
func (c *Codec) appendFragment(payload []byte) (*Frame, error) {
	if c.contSkip {
		return &Frame{Kind: FrameContinue}, nil
	}
	if c.contBuf.Len()+len(payload) > c.maxSize {
		size := c.contBuf.Len() + len(payload)
		c.contBuf.Reset()
		c.contSkip = true
		return nil, wsproto.NewProtocolError(wsproto.ErrOverflow, "fragmented message size %d exceeds limit %d", size, c.maxSize)
	}
	c.contBuf.Write(payload)
	return &Frame{Kind: FrameContinue}, nil
}

func (c *Codec) resetContinuation() {
	c.contOpcode = wsproto.OpInvalid
	c.contBuf.Reset()
	c.contSkip = false
}
