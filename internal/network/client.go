package network

import (
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	"lib.kevinlin.info/aperture/lib"

	"dnsforwarder/internal/metrics"
)

// Client defines the interface for relaying a single query to an upstream server.
type Client interface {
	// Forward sends the query to the upstream and waits for its reply.
	Forward(query []byte) (*RelayResult, error)
}

// RelayResult describes a reply received from the upstream.
type RelayResult struct {
	// Reply holds the reply datagram exactly as the upstream sent it.
	Reply []byte
	// Latency is the time between sending the query and receiving the reply.
	Latency time.Duration
	// Upstream is the address the reply was received from.
	Upstream net.Addr
}

// UDPClient relays queries to a fixed upstream address over UDP, opening a fresh socket for every
// query so that no state is shared between concurrent relays.
type UDPClient struct {
	addr   string
	cxHook metrics.ConnectionLifecycleHook
	ioHook metrics.ConnectionIOHook
	opts   UDPClientOpts
}

// UDPClientOpts formalizes UDP client configuration options.
type UDPClientOpts struct {
	// Timeout bounds the entire relay transaction, from sending the query until the reply is
	// received.
	Timeout time.Duration
	// MaxPacketSize is the largest reply the client accepts. A larger reply fails the relay
	// with ErrOversizedDatagram rather than being cut short.
	MaxPacketSize int
}

// NewUDPClient creates a UDPClient relaying to the specified upstream address.
func NewUDPClient(addr string, cxHook metrics.ConnectionLifecycleHook, ioHook metrics.ConnectionIOHook, opts UDPClientOpts) *UDPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}

	if opts.MaxPacketSize <= 0 {
		opts.MaxPacketSize = 512
	}

	return &UDPClient{
		addr:   addr,
		cxHook: cxHook,
		ioHook: ioHook,
		opts:   opts,
	}
}

// Forward opens a socket to the upstream, writes the query unmodified, and waits for a single reply
// datagram until the configured timeout elapses. The socket is closed before returning. An expired
// wait produces an error for which IsTimeout reports true.
func (c *UDPClient) Forward(query []byte) (*RelayResult, error) {
	dialTimer := lib.NewStopwatch()

	conn, err := net.Dial("udp", c.addr)
	if err != nil {
		c.cxHook.EmitConnectionError()
		return nil, errors.Wrapf(err, "client: error opening upstream socket: addr=%s", c.addr)
	}

	c.cxHook.EmitConnectionOpen(dialTimer.Elapsed(), conn.RemoteAddr())

	defer func() {
		c.cxHook.EmitConnectionClose(conn.RemoteAddr())
		conn.Close()
	}()

	if err := conn.SetDeadline(time.Now().Add(c.opts.Timeout)); err != nil {
		return nil, errors.Wrap(err, "client: error setting upstream deadline")
	}

	txTimer := lib.NewStopwatch()

	written, err := conn.Write(query)
	if err != nil || written != len(query) {
		c.ioHook.EmitWriteError(conn.RemoteAddr())

		if err == nil {
			err = fmt.Errorf("short write: expected=%d actual=%d", len(query), written)
		}

		return nil, errors.Wrapf(err, "client: error writing query to upstream: addr=%s", c.addr)
	}

	// One spare byte detects replies the socket would otherwise cut off silently.
	reply := make([]byte, c.opts.MaxPacketSize+1)

	read, err := conn.Read(reply)
	if err != nil {
		if IsTimeout(err) {
			return nil, errors.Wrapf(
				err,
				"client: timed out awaiting upstream reply: addr=%s timeout=%v",
				c.addr,
				c.opts.Timeout,
			)
		}

		c.ioHook.EmitReadError(conn.RemoteAddr())

		return nil, errors.Wrapf(err, "client: error reading reply from upstream: addr=%s", c.addr)
	}

	if read > c.opts.MaxPacketSize {
		c.ioHook.EmitReadError(conn.RemoteAddr())

		return nil, errors.Wrapf(
			ErrOversizedDatagram,
			"client: dropping oversized upstream reply: addr=%s max_packet_size=%d",
			c.addr,
			c.opts.MaxPacketSize,
		)
	}

	return &RelayResult{
		Reply:    reply[:read],
		Latency:  txTimer.Elapsed(),
		Upstream: conn.RemoteAddr(),
	}, nil
}

// String returns a string representation of the client.
func (c *UDPClient) String() string {
	return fmt.Sprintf("UDPClient{addr: %s, timeout: %v}", c.addr, c.opts.Timeout)
}

// IsTimeout reports whether an error returned by a Client was caused by the upstream failing to
// reply in time.
func IsTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
