package wscodec

import (
	"fmt"

	"github.com/gbdevw/gowsengine/wsproto"
)

/*************************************************************************************************/
/* FRAME                                                                                         */
/*************************************************************************************************/

// Kind of a decoded logical frame.
type FrameKind int

const (
	// Text frame, the codec does not verify UTF-8 encoding
	FrameText FrameKind = iota
	// Binary frame
	FrameBinary
	// Ping frame
	FramePing
	// Pong frame
	FramePong
	// Close frame with optional reason
	FrameClose
	// A fragment has been absorbed by an active continuation
	FrameContinue
)

func (kind FrameKind) String() string {
	switch kind {
	case FrameText:
		return "Text"
	case FrameBinary:
		return "Binary"
	case FramePing:
		return "Ping"
	case FramePong:
		return "Pong"
	case FrameClose:
		return "Close"
	case FrameContinue:
		return "Continue"
	default:
		return fmt.Sprintf("FrameKind(%d)", int(kind))
	}
}

// Logical frame produced by Codec.Decode.
type Frame struct {
	// Frame kind
	Kind FrameKind
	// Frame payload (Text, Binary, Ping and Pong). Nil when empty.
	Payload []byte
	// Close reason (Close only). Nil when the close frame carried no code.
	CloseReason *wsproto.CloseReason
}

/*************************************************************************************************/
/* MESSAGE                                                                                       */
/*************************************************************************************************/

// Kind of an outgoing message.
type MessageKind int

const (
	// Text message
	MessageText MessageKind = iota
	// Binary message
	MessageBinary
	// Ping message
	MessagePing
	// Pong message
	MessagePong
	// Close message with optional reason
	MessageClose
	// One fragment of a fragmented message
	MessageContinuation
	// Nothing to write
	MessageNop
	// Ask the dispatcher to flush and terminate. Nothing is written.
	MessageStop
)

func (kind MessageKind) String() string {
	switch kind {
	case MessageText:
		return "Text"
	case MessageBinary:
		return "Binary"
	case MessagePing:
		return "Ping"
	case MessagePong:
		return "Pong"
	case MessageClose:
		return "Close"
	case MessageContinuation:
		return "Continuation"
	case MessageNop:
		return "Nop"
	case MessageStop:
		return "Stop"
	default:
		return fmt.Sprintf("MessageKind(%d)", int(kind))
	}
}

// Position of a fragment within a fragmented message.
type ItemKind int

const (
	// First fragment of a text message
	ItemFirstText ItemKind = iota
	// First fragment of a binary message
	ItemFirstBinary
	// Intermediate fragment
	ItemContinue
	// Last fragment
	ItemLast
)

// Outgoing message consumed by Codec.Encode.
type Message struct {
	// Message kind
	Kind MessageKind
	// Message payload (Text, Binary, Ping, Pong and Continuation)
	Payload []byte
	// Optional close reason (Close only)
	CloseReason *wsproto.CloseReason
	// Fragment position (Continuation only)
	Item ItemKind
}

// Build a text message.
func TextMessage(text string) Message {
	return Message{Kind: MessageText, Payload: []byte(text)}
}

// Build a binary message.
func BinaryMessage(data []byte) Message {
	return Message{Kind: MessageBinary, Payload: data}
}

// Build a ping message.
func PingMessage(data []byte) Message {
	return Message{Kind: MessagePing, Payload: data}
}

// Build a pong message.
func PongMessage(data []byte) Message {
	return Message{Kind: MessagePong, Payload: data}
}

// Build a close message. reason can be nil.
func CloseMessage(reason *wsproto.CloseReason) Message {
	return Message{Kind: MessageClose, CloseReason: reason}
}

// Build one fragment of a fragmented message.
func ContinuationMessage(item ItemKind, data []byte) Message {
	return Message{Kind: MessageContinuation, Item: item, Payload: data}
}

// Build a message which writes nothing.
func NopMessage() Message {
	return Message{Kind: MessageNop}
}

// Build the message which stops the dispatcher.
func StopMessage() Message {
	return Message{Kind: MessageStop}
}
