package protocol

import (
	"context"
	"fmt"
	"net"

	"github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	"lib.kevinlin.info/aperture/lib"

	"dnsforwarder/internal/log"
	"dnsforwarder/internal/metrics"
	"dnsforwarder/internal/network"
	"dnsforwarder/internal/querylog"
)

// DNSForwardHandler is a minimally DNS-protocol-aware server handler that forwards each query
// datagram unmodified to a fixed upstream and relays the upstream's reply back to the client. It
// decodes only the question name, for the query log.
type DNSForwardHandler struct {
	Upstream       network.Client
	QueryLog       querylog.Appender
	ClientCxIOHook metrics.ConnectionIOHook
	ProxyHook      metrics.ProxyHook
	Logger         log.Logger
	Opts           DNSForwardOpts
}

// DNSForwardOpts formalizes configuration options for the forwarding handler.
type DNSForwardOpts struct {
	// MaxPacketSize is the size of the buffer into which the client's datagram is read.
	MaxPacketSize int
	// ServFailOnFailure enables replying to the client with a synthesized SERVFAIL when the
	// upstream times out or cannot be reached. By default such queries go unanswered and the
	// client retries on its own schedule.
	ServFailOnFailure bool
}

// ConsumeError logs the error and reports it.
func (h *DNSForwardHandler) ConsumeError(ctx context.Context, err error) {
	h.Logger.Error("%v", err)
	h.ProxyHook.EmitError()

	tags := map[string]string{"transport": "udp"}
	if arrival, ok := network.ArrivalFromContext(ctx); ok {
		tags["seq"] = fmt.Sprintf("%d", arrival.Seq)
	}

	raven.CaptureError(err, tags)
}

// Handle reads a query from the client connection, decodes its question name, relays the query to
// the upstream, and writes the upstream's reply back to the client. Exactly one query log event is
// appended per datagram, before any reply is written. Malformed queries and upstream timeouts are
// expected conditions and are not returned as errors.
func (h *DNSForwardHandler) Handle(ctx context.Context, clientConn net.Conn) error {
	rttTxTimer := lib.NewStopwatch()

	arrival, ok := network.ArrivalFromContext(ctx)
	if !ok {
		return errors.Errorf("dns_forward: no arrival attached to handler context: client=%v", clientConn.RemoteAddr())
	}

	event := querylog.QueryEvent{
		Seq:       arrival.Seq,
		Timestamp: arrival.Time,
		Client:    clientConn.RemoteAddr().String(),
	}

	/* Read and decode the query from the client */

	clientReq, err := h.clientRead(clientConn)
	if err != nil {
		event.Outcome = querylog.ParseError
		event.Reason = err.Error()
		h.QueryLog.Append(event)

		if errors.Is(err, network.ErrOversizedDatagram) {
			h.ProxyHook.EmitParseError(clientConn.RemoteAddr())
			h.Logger.Debug("dns_forward: dropping oversized query: client=%v", clientConn.RemoteAddr())

			return nil
		}

		return err
	}

	domain, err := ExtractQuestionName(clientReq)
	if err != nil {
		event.Outcome = querylog.ParseError
		event.Reason = err.Error()
		h.QueryLog.Append(event)

		h.ProxyHook.EmitParseError(clientConn.RemoteAddr())
		h.Logger.Debug(
			"dns_forward: dropping undecodable query: client=%v request_bytes=%d err=%v",
			clientConn.RemoteAddr(),
			len(clientReq),
			err,
		)

		return nil
	}

	event.Domain = domain

	h.Logger.Debug(
		"dns_forward: read query from client: client=%v domain=%s request_bytes=%d",
		clientConn.RemoteAddr(),
		domain,
		len(clientReq),
	)

	/* Relay the query to the upstream */

	result, err := h.Upstream.Forward(clientReq)
	if err != nil {
		event.Reason = err.Error()

		if network.IsTimeout(err) {
			event.Outcome = querylog.Timeout
			h.QueryLog.Append(event)

			h.ProxyHook.EmitTimeout(clientConn.RemoteAddr())
			h.Logger.Debug("dns_forward: upstream timed out; dropping query: domain=%s", domain)
			h.maybeServFail(clientConn, clientReq)

			return nil
		}

		event.Outcome = querylog.RelayError
		h.QueryLog.Append(event)

		h.maybeServFail(clientConn, clientReq)

		return errors.Wrapf(err, "dns_forward: error relaying query: domain=%s", domain)
	}

	event.Outcome = querylog.Forwarded
	event.Latency = result.Latency
	h.QueryLog.Append(event)

	h.ProxyHook.EmitUpstreamLatency(result.Latency, clientConn.RemoteAddr(), result.Upstream)

	/* Write the upstream reply back to the client */

	if err := h.clientWrite(clientConn, result.Reply); err != nil {
		return err
	}

	h.Logger.Debug(
		"dns_forward: completed write back to client: domain=%s rtt=%v upstream_latency=%v",
		domain,
		rttTxTimer.Elapsed(),
		result.Latency,
	)

	/* Report end-to-end metrics */

	h.ProxyHook.EmitRequestSize(int64(len(clientReq)), clientConn.RemoteAddr())
	h.ProxyHook.EmitResponseSize(int64(len(result.Reply)), result.Upstream)
	h.ProxyHook.EmitRTT(rttTxTimer.Elapsed(), clientConn.RemoteAddr(), result.Upstream)

	return nil
}

// clientRead reads the query datagram from the client.
func (h *DNSForwardHandler) clientRead(conn net.Conn) ([]byte, error) {
	size := h.Opts.MaxPacketSize
	if size <= 0 {
		size = 512
	}

	clientReq := make([]byte, size)

	clientReadBytes, err := conn.Read(clientReq)
	if err != nil {
		h.ClientCxIOHook.EmitReadError(conn.RemoteAddr())
		return nil, errors.Wrap(err, "dns_forward: error reading query from client")
	}

	// Trim the request buffer to only what the server was able to read
	return clientReq[:clientReadBytes], nil
}

// clientWrite writes a reply datagram back to the client.
func (h *DNSForwardHandler) clientWrite(conn net.Conn, reply []byte) error {
	clientWriteBytes, err := conn.Write(reply)
	if err != nil {
		h.ClientCxIOHook.EmitWriteError(conn.RemoteAddr())
		return errors.Wrapf(err, "dns_forward: error writing reply to client: client=%v", conn.RemoteAddr())
	}

	if clientWriteBytes != len(reply) {
		h.ClientCxIOHook.EmitWriteError(conn.RemoteAddr())
		return errors.Errorf(
			"dns_forward: failed writing reply bytes to client: expected=%d actual=%d",
			len(reply),
			clientWriteBytes,
		)
	}

	return nil
}

// maybeServFail answers a failed query with SERVFAIL, if enabled.
func (h *DNSForwardHandler) maybeServFail(conn net.Conn, clientReq []byte) {
	if !h.Opts.ServFailOnFailure {
		return
	}

	reply, err := ServFail(clientReq)
	if err != nil {
		h.Logger.Warn("dns_forward: unable to synthesize SERVFAIL: client=%v err=%v", conn.RemoteAddr(), err)
		return
	}

	if err := h.clientWrite(conn, reply); err != nil {
		h.Logger.Warn("%v", err)
	}
}
