// Package wsupgrade performs the HTTP/1.1 websocket opening handshake on both sides and hands off
// the raw duplex byte stream the dispatcher runs on.
package wsupgrade

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gbdevw/gowsengine/wsproto"
)

// Errors returned when a handshake request is rejected.
var (
	// Only GET method is allowed.
	ErrGetMethodRequired = errors.New("method not allowed")
	// Upgrade header is not set to websocket.
	ErrNoWebsocketUpgrade = errors.New("websocket upgrade is expected")
	// Connection header is not set to upgrade.
	ErrNoConnectionUpgrade = errors.New("connection upgrade is expected")
	// Websocket version header is not set.
	ErrNoVersionHeader = errors.New("websocket version header is required")
	// Unsupported websocket version.
	ErrUnsupportedVersion = errors.New("unsupported websocket version")
	// Websocket key is not set.
	ErrBadWebsocketKey = errors.New("unknown websocket key")
)

// Websocket versions accepted by VerifyHandshake
var supportedVersions = []string{"13", "8", "7"}

// # Description
//
// Check the request is a valid websocket handshake. Checks happen in this order: GET method,
// Upgrade header contains websocket, Connection header contains the upgrade token,
// Sec-WebSocket-Version is set and is one of 13, 8 or 7, Sec-WebSocket-Key is set.
//
// # Return
//
// nil if the request is valid or the sentinel error which matches the first failed check.
func VerifyHandshake(r *http.Request) error {
	if r.Method != http.MethodGet {
		return ErrGetMethodRequired
	}
	if !strings.Contains(strings.ToLower(r.Header.Get("Upgrade")), "websocket") {
		return ErrNoWebsocketUpgrade
	}
	if !headerContainsToken(r.Header, "Connection", "upgrade") {
		return ErrNoConnectionUpgrade
	}
	version := r.Header.Get("Sec-WebSocket-Version")
	if version == "" {
		return ErrNoVersionHeader
	}
	supported := false
	for _, v := range supportedVersions {
		if version == v {
			supported = true
			break
		}
	}
	if !supported {
		return ErrUnsupportedVersion
	}
	if r.Header.Get("Sec-WebSocket-Key") == "" {
		return ErrBadWebsocketKey
	}
	return nil
}

// Map a handshake error to the HTTP status code of the rejection response: 405 for a bad method,
// 400 otherwise.
func StatusCode(err error) int {
	if errors.Is(err, ErrGetMethodRequired) {
		return http.StatusMethodNotAllowed
	}
	return http.StatusBadRequest
}

// # Description
//
// Build the headers of the 101 response for a request which passed VerifyHandshake. The accept
// key is derived from the request Sec-WebSocket-Key.
func ResponseHeader(r *http.Request) http.Header {
	hdr := http.Header{}
	hdr.Set("Upgrade", "websocket")
	hdr.Set("Connection", "Upgrade")
	hdr.Set("Sec-WebSocket-Accept", wsproto.DeriveAcceptKey([]byte(r.Header.Get("Sec-WebSocket-Key"))))
	return hdr
}

// Check whether one of the comma separated values of a header is token (case insensitive).
func headerContainsToken(h http.Header, name string, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
