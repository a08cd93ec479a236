package network

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// contextKey is a type alias for context keys passed to server handlers.
type contextKey int

// ServerHandler is a common interface that wraps logic for handling datagrams received by the
// server.
type ServerHandler interface {
	// Handle describes the routine to run for a single datagram received from a client. The
	// passed conn is a UDPConn scoped to that datagram.
	Handle(ctx context.Context, conn net.Conn) error

	// ConsumeError is a callback invoked when the server fails to receive a datagram, or when
	// the handler returns an error.
	ConsumeError(ctx context.Context, err error)
}

// Arrival describes when a datagram was dequeued from the listening socket, relative to all other
// datagrams received by the same server.
type Arrival struct {
	// Seq is the zero-based position of the datagram in the server's arrival order. It
	// increases by exactly one for every datagram dispatched to the handler.
	Seq uint64
	// Time is the wall clock time at which the datagram was dequeued.
	Time time.Time
}

// UDPServer describes a server that listens on a UDP address.
type UDPServer struct {
	addr string
	opts UDPServerOpts

	mutex sync.Mutex
	conn  net.PacketConn
}

// UDPServerOpts formalizes UDP server configuration options.
type UDPServerOpts struct {
	// MaxConcurrentConnections configures the maximum number of datagrams that the server
	// handles concurrently. Datagrams received while all workers are busy wait in the dispatch
	// queue, and then in the socket's receive buffer.
	MaxConcurrentConnections int
	// ReadTimeout bounds how long a single read from the listening socket may block. It only
	// affects how promptly the read loop notices shutdown; an expired read is simply retried.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum amount of time the server is allowed to take to write a
	// reply back to a client, after which the server will consider the write to have failed.
	WriteTimeout time.Duration
	// MaxPacketSize is the largest inbound datagram the server accepts. Larger datagrams are
	// still dispatched, so that they are accounted for, but their payload is withheld.
	MaxPacketSize int
}

const (
	// ArrivalContextKey is the name of the context key under which the Arrival of the datagram
	// being handled is passed to the handler.
	ArrivalContextKey contextKey = iota
)

// NewUDPServer creates a UDP server listening on the specified address.
func NewUDPServer(addr string, opts UDPServerOpts) *UDPServer {
	// Sane option defaults
	if opts.MaxConcurrentConnections <= 0 {
		opts.MaxConcurrentConnections = 16
	}

	if opts.MaxPacketSize <= 0 {
		opts.MaxPacketSize = 512
	}

	return &UDPServer{addr: addr, opts: opts}
}

// ArrivalFromContext extracts the Arrival attached to a handler context by the server.
func ArrivalFromContext(ctx context.Context) (Arrival, bool) {
	arrival, ok := ctx.Value(ArrivalContextKey).(Arrival)
	return arrival, ok
}

// Listen binds the listening socket. It is separated from Serve so that bind failures, like
// insufficient privilege for a low port, surface before serving begins.
func (s *UDPServer) Listen() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.conn != nil {
		return errors.Errorf("server: already listening: addr=%s", s.conn.LocalAddr())
	}

	conn, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "server: failed to listen on UDP socket: addr=%s", s.addr)
	}

	s.conn = conn

	return nil
}

// Addr reports the bound address of the listening socket, or nil if the server is not listening.
func (s *UDPServer) Addr() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.conn == nil {
		return nil
	}

	return s.conn.LocalAddr()
}

// ListenAndServe binds the listening socket and serves datagrams until the context is done.
func (s *UDPServer) ListenAndServe(ctx context.Context, handler ServerHandler) error {
	if err := s.Listen(); err != nil {
		return err
	}

	return s.Serve(ctx, handler)
}

// Serve reads datagrams from the listening socket one at a time and dispatches each to a bounded
// pool of workers invoking the handler. It returns once the context is done and every dispatched
// datagram has been handled, after which the listening socket is closed.
func (s *UDPServer) Serve(ctx context.Context, handler ServerHandler) error {
	s.mutex.Lock()
	conn := s.conn
	s.mutex.Unlock()

	if conn == nil {
		return errors.Errorf("server: not listening: addr=%s", s.addr)
	}

	defer func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()

		conn.Close()
		s.conn = nil
	}()

	type transaction struct {
		ctx  context.Context
		conn *UDPConn
	}

	transactions := make(chan transaction, s.opts.MaxConcurrentConnections)

	var workers sync.WaitGroup
	for i := 0; i < s.opts.MaxConcurrentConnections; i++ {
		workers.Add(1)

		go func() {
			defer workers.Done()

			for tx := range transactions {
				if err := handler.Handle(tx.ctx, tx.conn); err != nil {
					handler.ConsumeError(tx.ctx, err)
				}
			}
		}()
	}

	defer func() {
		close(transactions)
		workers.Wait()
	}()

	// Unblock a pending read as soon as the context is done, without closing the socket that
	// in-flight transactions still reply on.
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Unix(1, 0))
		case <-stop:
		}
	}()

	var seq uint64

	for {
		if ctx.Err() != nil {
			return nil
		}

		if s.opts.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout)); err != nil {
				return errors.Wrap(err, "server: failed to set read deadline")
			}
		}

		// One spare byte detects datagrams the socket would otherwise cut off silently.
		buf := make([]byte, s.opts.MaxPacketSize+1)

		n, remote, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			if errors.Is(err, net.ErrClosed) {
				return errors.Wrap(err, "server: listening socket closed unexpectedly")
			}

			handler.ConsumeError(ctx, errors.Wrap(err, "server: error reading from UDP socket"))
			continue
		}

		arrival := Arrival{Seq: seq, Time: time.Now()}
		seq++

		udpConn := NewUDPConn(conn, remote, buf[:n], s.opts.WriteTimeout)
		if n > s.opts.MaxPacketSize {
			udpConn.payload = nil
			udpConn.oversized = true
		}

		tx := transaction{
			ctx:  context.WithValue(ctx, ArrivalContextKey, arrival),
			conn: udpConn,
		}

		// Dispatch must not be abandoned once a sequence number is assigned, so this send is
		// unconditional; it only blocks while every worker is busy.
		transactions <- tx
	}
}
