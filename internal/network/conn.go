package network

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// ErrOversizedDatagram reports a datagram larger than the configured maximum packet size. Such a
// datagram was cut short by the socket and must never be relayed.
var ErrOversizedDatagram = errors.New("datagram exceeds max packet size")

// UDPConn is an abstraction over a shared UDP net.PacketConn to give a single datagram transaction
// net.Conn-like semantics. The datagram has already been dequeued by the server; Read yields it
// exactly once, and Write sends a datagram back to the remote from which it was received.
type UDPConn struct {
	conn         net.PacketConn
	writeTimeout time.Duration
	remote       net.Addr
	payload      []byte
	consumed     bool
	oversized    bool
}

// NewUDPConn creates a UDPConn for a datagram read from the backing net.PacketConn.
func NewUDPConn(conn net.PacketConn, remote net.Addr, payload []byte, writeTimeout time.Duration) *UDPConn {
	return &UDPConn{
		conn:         conn,
		writeTimeout: writeTimeout,
		remote:       remote,
		payload:      payload,
	}
}

// Read copies the transaction's datagram into buf. It is an error to read more than once, or into
// a buffer too small to hold the datagram. A datagram that overflowed the server's receive buffer
// is never yielded; Read reports ErrOversizedDatagram instead.
func (c *UDPConn) Read(buf []byte) (int, error) {
	if c.consumed {
		return 0, fmt.Errorf("conn: datagram already consumed: remote=%v", c.remote)
	}

	if c.oversized {
		c.consumed = true
		return 0, errors.Wrapf(ErrOversizedDatagram, "conn: dropping oversized datagram: remote=%v", c.remote)
	}

	if len(buf) < len(c.payload) {
		return 0, io.ErrShortBuffer
	}

	c.consumed = true

	return copy(buf, c.payload), nil
}

// Write writes a single datagram to the client from which the transaction's datagram was read.
func (c *UDPConn) Write(buf []byte) (int, error) {
	if c.remote == nil {
		return 0, fmt.Errorf("conn: no remote associated with this connection")
	}

	if c.writeTimeout > 0 {
		if err := c.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}

	return c.conn.WriteTo(buf, c.remote)
}

// Close ends the transaction. The listening socket is shared with other transactions and owned by
// the server, so it is left open.
func (c *UDPConn) Close() error {
	c.consumed = true
	return nil
}

// LocalAddr obtains the listening socket's local address.
func (c *UDPConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr obtains the address of the client that sent the datagram.
func (c *UDPConn) RemoteAddr() net.Addr {
	return c.remote
}

// SetDeadline sets the write deadline; reads never block.
func (c *UDPConn) SetDeadline(t time.Time) error {
	return c.SetWriteDeadline(t)
}

// SetReadDeadline noops, since the datagram is already buffered.
func (c *UDPConn) SetReadDeadline(t time.Time) error {
	return nil
}

// SetWriteDeadline sets the write deadline on the listening socket.
func (c *UDPConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// String implements the Stringer interface for human-consumable representation.
func (c *UDPConn) String() string {
	return fmt.Sprintf("UDPConn{%s<-%s, %d bytes}", c.LocalAddr(), c.remote, len(c.payload))
}
