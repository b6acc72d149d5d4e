package wsupgrade

import (
	"bufio"
	"io"
	"net"
)

// Raw duplex byte stream obtained after a successful handshake.
type Conn struct {
	// Underlying network connection
	conn net.Conn
	// Reader used for reads: the connection itself or the buffered reader used during the
	// handshake when it still holds bytes
	rd io.Reader
}

// Build a Conn which first drains br if it holds bytes read past the handshake.
func newConn(conn net.Conn, br *bufio.Reader) *Conn {
	var rd io.Reader = conn
	if br != nil && br.Buffered() > 0 {
		rd = br
	}
	return &Conn{conn: conn, rd: rd}
}

func (c *Conn) Read(p []byte) (int, error) {
	return c.rd.Read(p)
}

func (c *Conn) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

// Close the underlying network connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Get the underlying network connection.
func (c *Conn) NetConn() net.Conn {
	return c.conn
}
