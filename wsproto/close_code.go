package wsproto

import "fmt"

/*************************************************************************************************/
/* CLOSE CODES                                                                                   */
/*************************************************************************************************/

// Status code carried by a close frame to indicate why an endpoint closes the connection.
//
// Any uint16 is a valid CloseCode: values which are not part of the named constants below are
// the "other" codes (application or library specific codes, reserved ranges, ...).
//
// RFC: https://www.rfc-editor.org/rfc/rfc6455.html#section-7.4.1
//
// Code names are inspired by: https://www.iana.org/assignments/websocket/websocket.xhtml
type CloseCode uint16

const (
	// 1000 indicates a normal closure, meaning that the purpose for
	// which the connection was established has been fulfilled.
	CloseNormal CloseCode = 1000
	// 1001 indicates that an endpoint is "going away", such as a server
	// going down or a browser having navigated away from a page.
	CloseGoingAway CloseCode = 1001
	// 1002 indicates that an endpoint is terminating the connection due
	// to a protocol error.
	CloseProtocolError CloseCode = 1002
	// 1003 indicates that an endpoint is terminating the connection
	// because it has received a type of data it cannot accept.
	CloseUnsupported CloseCode = 1003
	// 1006 indicates that the connection was closed abnormally, e.g., without sending or
	// receiving a Close control frame.
	CloseAbnormal CloseCode = 1006
	// 1007 indicates that an endpoint is terminating the connection
	// because it has received data within a message that was not
	// consistent with the type of the message (e.g., non-UTF-8 data within a text message).
	CloseInvalid CloseCode = 1007
	// 1008 indicates that an endpoint is terminating the connection
	// because it has received a message that violates its policy.
	ClosePolicyViolation CloseCode = 1008
	// 1009 indicates that an endpoint is terminating the connection
	// because it has received a message that is too big for it to process.
	CloseTooBig CloseCode = 1009
	// 1010 indicates that an endpoint (client) is terminating the
	// connection because it has expected the server to negotiate one or
	// more extension, but the server didn't return them.
	CloseExtensionRequired CloseCode = 1010
	// 1011 indicates that a server is terminating the connection because
	// it encountered an unexpected condition that prevented it from
	// fulfilling the request.
	CloseInternalError CloseCode = 1011
	// 1012 indicates that the server is restarting.
	CloseServiceRestart CloseCode = 1012
	// 1013 indicates that the server is overloaded and the client should try again later.
	CloseTryAgainLater CloseCode = 1013
	// 1015 indicates that the connection was closed due to a failure to perform a TLS handshake.
	CloseTLSHandshakeFailed CloseCode = 1015
)

// Convert a wire value to a CloseCode. The conversion is total.
func CloseCodeFromUint16(code uint16) CloseCode {
	return CloseCode(code)
}

// Convert a CloseCode to its wire value. The conversion is total.
func (code CloseCode) Uint16() uint16 {
	return uint16(code)
}

// Returns true if the code is one of the named close codes.
func (code CloseCode) IsDefined() bool {
	switch code {
	case CloseNormal,
		CloseGoingAway,
		CloseProtocolError,
		CloseUnsupported,
		CloseAbnormal,
		CloseInvalid,
		ClosePolicyViolation,
		CloseTooBig,
		CloseExtensionRequired,
		CloseInternalError,
		CloseServiceRestart,
		CloseTryAgainLater,
		CloseTLSHandshakeFailed:
		return true
	default:
		return false
	}
}

func (code CloseCode) String() string {
	switch code {
	case CloseNormal:
		return "Normal"
	case CloseGoingAway:
		return "GoingAway"
	case CloseProtocolError:
		return "ProtocolError"
	case CloseUnsupported:
		return "Unsupported"
	case CloseAbnormal:
		return "Abnormal"
	case CloseInvalid:
		return "Invalid"
	case ClosePolicyViolation:
		return "PolicyViolation"
	case CloseTooBig:
		return "TooBig"
	case CloseExtensionRequired:
		return "ExtensionRequired"
	case CloseInternalError:
		return "InternalError"
	case CloseServiceRestart:
		return "ServiceRestart"
	case CloseTryAgainLater:
		return "TryAgainLater"
	case CloseTLSHandshakeFailed:
		return "TlsHandshakeFailed"
	default:
		return fmt.Sprintf("Other(%d)", uint16(code))
	}
}

/*************************************************************************************************/
/* CLOSE REASON                                                                                  */
/*************************************************************************************************/

// Reason for closing the connection, carried by close frames.
type CloseReason struct {
	// Close code
	Code CloseCode
	// Optional description. An empty string means the close frame carries no description.
	Description string
}

// Build a close reason from a bare close code.
func NewCloseReason(code CloseCode) *CloseReason {
	return &CloseReason{Code: code}
}

// Build a close reason from a close code and a description.
func NewCloseReasonWithDescription(code CloseCode, description string) *CloseReason {
	return &CloseReason{Code: code, Description: description}
}
