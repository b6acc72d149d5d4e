package wsproto

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by ProtocolError. Use errors.Is to test for them.
var (
	// Received an unmasked frame while acting as server.
	ErrUnmaskedFrame = errors.New("received an unmasked frame from client")
	// Received a masked frame while acting as client.
	ErrMaskedFrame = errors.New("received a masked frame from server")
	// Encountered an opcode which is not defined by RFC6455.
	ErrInvalidOpcode = errors.New("invalid opcode")
	// A control frame carries more than 125 bytes of payload.
	ErrInvalidLength = errors.New("invalid control frame length")
	// Tried to encode an opcode which has no wire value.
	ErrBadOpcode = errors.New("bad opcode")
	// A payload reached the configured size limit.
	ErrOverflow = errors.New("a payload reached size limit")
	// Received a continuation frame while no fragmented message was started.
	ErrContinuationNotStarted = errors.New("continuation is not started")
	// Received a new fragmented message while one is already started.
	ErrContinuationStarted = errors.New("received new continuation but it is already started")
	// Received a fragment which cannot be part of a fragmented message.
	ErrContinuationFragment = errors.New("unknown continuation fragment")
	// Reserved bits are set while no extension has been negotiated.
	ErrReservedBitsSet = errors.New("reserved bits are set")
)

/*************************************************************************************************/
/* PROTOCOL ERROR                                                                                */
/*************************************************************************************************/

// Error returned when the peer violates RFC6455 framing rules.
type ProtocolError struct {
	// One of the sentinel errors defined by this package
	Err error
	// Optional detail about the offending value (opcode, length, ...)
	Detail string
}

// Build a ProtocolError from a sentinel and a formatted detail.
func NewProtocolError(err error, format string, args ...any) ProtocolError {
	return ProtocolError{Err: err, Detail: fmt.Sprintf(format, args...)}
}

func (err ProtocolError) Error() string {
	if err.Detail == "" {
		return fmt.Sprintf("websocket protocol error: %v", err.Err)
	}
	return fmt.Sprintf("websocket protocol error: %v: %s", err.Err, err.Detail)
}

func (err ProtocolError) Unwrap() error {
	return err.Err
}
