package wsupgrade

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error returned when the response writer does not support hijacking.
var ErrHijackUnsupported = errors.New("response writer does not support hijacking")

// # Description
//
// Upgrade the HTTP connection to the websocket protocol.
//
// The request is checked with VerifyHandshake. When it is rejected, a 405 (with an Allow header)
// or 400 response is written and the handshake error is returned. Otherwise the connection is
// hijacked and the 101 response is written with the headers built by ResponseHeader and the
// provided extra headers.
//
// # Inputs
//
//   - w: Response writer. Must implement http.Hijacker.
//   - r: Handshake request.
//   - extra: Additional response headers (negotiated subprotocol, cookies, ...). Can be nil.
//
// # Return
//
// The raw connection, which the caller must close, or an error.
func Upgrade(w http.ResponseWriter, r *http.Request, extra http.Header) (*Conn, error) {
	if err := VerifyHandshake(r); err != nil {
		if errors.Is(err, ErrGetMethodRequired) {
			w.Header().Set("Allow", http.MethodGet)
		}
		http.Error(w, err.Error(), StatusCode(err))
		return nil, err
	}
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, ErrHijackUnsupported
	}
	netConn, brw, err := hj.Hijack()
	if err != nil {
		return nil, fmt.Errorf("failed to hijack connection: %w", err)
	}
	// Clear deadlines set by the HTTP server
	if err := netConn.SetDeadline(time.Time{}); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("failed to clear connection deadlines: %w", err)
	}
	hdr := ResponseHeader(r)
	for k, vs := range extra {
		hdr[k] = vs
	}
	resp := new(bytes.Buffer)
	resp.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	if err := hdr.Write(resp); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("failed to write handshake response: %w", err)
	}
	resp.WriteString("\r\n")
	if _, err := netConn.Write(resp.Bytes()); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("failed to write handshake response: %w", err)
	}
	return newConn(netConn, brw.Reader), nil
}
