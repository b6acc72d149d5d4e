package wsproto

import (
	"crypto/sha1"
	"encoding/base64"
)

// The WebSocket GUID concatenated to the client key when the accept key is derived.
//
// RFC: https://datatracker.ietf.org/doc/html/rfc6455#section-1.3
const WebsocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// # Description
//
// Derive the Sec-WebSocket-Accept value from the Sec-WebSocket-Key sent by a client: the key is
// concatenated with the WebSocket GUID, hashed with SHA-1 and the digest is base64 encoded.
//
// # Return
//
// The accept key. base64(sha1(...)) is always 28 characters long.
func DeriveAcceptKey(key []byte) string {
	h := sha1.New()
	h.Write(key)
	h.Write([]byte(WebsocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
