package wsupgrade

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gbdevw/gowsengine/wsproto"
)

var (
	// Only the ws scheme is supported.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	// The server response is not a valid handshake response.
	ErrBadHandshake = errors.New("bad handshake")
)

// # Description
//
// Open a TCP connection to the server and perform the client side of the websocket handshake.
//
// A random key is sent in Sec-WebSocket-Key. The server response must have a 101 status, an
// Upgrade header which contains websocket, a Connection header which contains upgrade and the
// accept key derived from the sent key.
//
// # Inputs
//
//   - ctx: Context used to cancel the dial and the handshake. Cancelling ctx once Dial has
//     returned has no effect on the connection.
//   - target: Server URL. Scheme must be ws.
//   - header: Additional request headers. Can be nil.
//
// # Return
//
// The raw connection, which the caller must close, and the server response or an error. The
// response is also returned with ErrBadHandshake when it could be read.
func Dial(ctx context.Context, target *url.URL, header http.Header) (*Conn, *http.Response, error) {
	if target == nil || target.Scheme != "ws" {
		return nil, nil, ErrUnsupportedScheme
	}
	// Generate key
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return nil, nil, fmt.Errorf("failed to generate websocket key: %w", err)
	}
	key := base64.StdEncoding.EncodeToString(raw)
	// Connect
	host := target.Host
	if target.Port() == "" {
		host = net.JoinHostPort(target.Hostname(), "80")
	}
	dialer := net.Dialer{}
	netConn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, nil, err
	}
	// Interrupt handshake I/O when ctx is done
	stop := context.AfterFunc(ctx, func() {
		netConn.SetDeadline(time.Now())
	})
	resp, br, err := handshake(netConn, target, header, key)
	if !stop() || err != nil {
		netConn.Close()
		if err == nil {
			err = ctx.Err()
		}
		return nil, resp, err
	}
	return newConn(netConn, br), resp, nil
}

// Write the handshake request and check the response.
func handshake(netConn net.Conn, target *url.URL, header http.Header, key string) (*http.Response, *bufio.Reader, error) {
	req := &http.Request{
		Method:     http.MethodGet,
		URL:        &url.URL{Path: target.Path, RawPath: target.RawPath, RawQuery: target.RawQuery},
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{},
		Host:       target.Host,
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Key", key)
	req.Header.Set("Sec-WebSocket-Version", "13")
	if err := req.Write(netConn); err != nil {
		return nil, nil, fmt.Errorf("failed to write handshake request: %w", err)
	}
	br := bufio.NewReader(netConn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read handshake response: %w", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return resp, nil, fmt.Errorf("%w: unexpected status %d", ErrBadHandshake, resp.StatusCode)
	}
	if !headerContainsToken(resp.Header, "Upgrade", "websocket") ||
		!headerContainsToken(resp.Header, "Connection", "upgrade") {
		return resp, nil, fmt.Errorf("%w: missing upgrade headers", ErrBadHandshake)
	}
	if resp.Header.Get("Sec-WebSocket-Accept") != wsproto.DeriveAcceptKey([]byte(key)) {
		return resp, nil, fmt.Errorf("%w: bad accept key", ErrBadHandshake)
	}
	return resp, br, nil
}
