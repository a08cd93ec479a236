package metrics

import (
	"fmt"
	"net"
	"os"
	"time"
)

// ConnectionLifecycleHook is a metrics hook interface for reporting the lifecycle of the short-lived
// UDP sockets opened towards the upstream, one per relayed query.
type ConnectionLifecycleHook interface {
	// EmitConnectionOpen reports the event that a socket was successfully opened.
	EmitConnectionOpen(latency time.Duration, addr net.Addr)

	// EmitConnectionClose reports the event that a socket was closed.
	EmitConnectionClose(addr net.Addr)

	// EmitConnectionError reports occurrence of an error opening a socket.
	EmitConnectionError()
}

// ConnectionIOHook is a metrics hook interface for reporting I/O failures on a client or upstream
// socket.
type ConnectionIOHook interface {
	// EmitReadError reports the event that a socket read failed.
	EmitReadError(addr net.Addr)

	// EmitWriteError reports the event that a socket write failed.
	EmitWriteError(addr net.Addr)
}

// ProxyHook is a metrics hook interface for reporting events and latencies related to end-to-end
// forwarding of a client query to the upstream.
type ProxyHook interface {
	// EmitRequestSize reports the size of the forwarded query on the wire.
	EmitRequestSize(bytes int64, client net.Addr)

	// EmitResponseSize reports the size of the forwarded reply on the wire.
	EmitResponseSize(bytes int64, upstream net.Addr)

	// EmitRTT reports the total, end-to-end latency associated with serving a single query,
	// from its arrival on the listening socket until the reply is written back to the client.
	EmitRTT(latency time.Duration, client net.Addr, upstream net.Addr)

	// EmitUpstreamLatency reports the round trip latency of the upstream transaction alone.
	EmitUpstreamLatency(latency time.Duration, client net.Addr, upstream net.Addr)

	// EmitParseError reports a datagram that was dropped because its question could not be
	// decoded.
	EmitParseError(client net.Addr)

	// EmitTimeout reports a query that was dropped because the upstream did not reply in time.
	EmitTimeout(client net.Addr)

	// EmitError reports the occurrence of a critical error in the forwarding lifecycle that
	// causes the query to not be correctly served.
	EmitError()
}

// AsyncStatsdConnectionLifecycleHook is an implementation of ConnectionLifecycleHook that outputs
// metrics asynchronously to statsd.
type AsyncStatsdConnectionLifecycleHook struct {
	client *StatsdClient
	source string
}

// AsyncStatsdConnectionIOHook is an implementation of ConnectionIOHook that outputs metrics
// asynchronously to statsd.
type AsyncStatsdConnectionIOHook struct {
	client *StatsdClient
	source string
}

// AsyncStatsdProxyHook is an implementation of ProxyHook that outputs metrics asynchronously to
// statsd.
type AsyncStatsdProxyHook struct {
	client *StatsdClient
}

// NoopConnectionLifecycleHook implements the ConnectionLifecycleHook interface but noops on all
// emissions.
type NoopConnectionLifecycleHook struct{}

// NoopConnectionIOHook implements the ConnectionIOHook interface but noops on all emissions.
type NoopConnectionIOHook struct{}

// NoopProxyHook implements the ProxyHook interface but noops on all emissions.
type NoopProxyHook struct{}

// NewAsyncStatsdConnectionLifecycleHook creates a new hook with the specified source, statsd
// address, statsd sample rate, and version tag. The source denotes the entity towards which the
// sockets are opened.
func NewAsyncStatsdConnectionLifecycleHook(source string, addr string, sampleRate float32, version string) (ConnectionLifecycleHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdConnectionLifecycleHook{
		client: client,
		source: source,
	}, nil
}

// EmitConnectionOpen statsd implementation
func (h *AsyncStatsdConnectionLifecycleHook) EmitConnectionOpen(latency time.Duration, addr net.Addr) {
	go func() {
		tags := map[string]string{
			"addr":      ipFromAddr(addr),
			"transport": transportFromAddr(addr),
		}

		h.client.Count(fmt.Sprintf("event.%s.socket_open", h.source), 1, tags)

		if latency > 0 {
			h.client.Timing(fmt.Sprintf("latency.%s.socket_open", h.source), latency, tags)
		}
	}()
}

// EmitConnectionClose statsd implementation
func (h *AsyncStatsdConnectionLifecycleHook) EmitConnectionClose(addr net.Addr) {
	go h.client.Count(fmt.Sprintf("event.%s.socket_close", h.source), 1, map[string]string{
		"addr":      ipFromAddr(addr),
		"transport": transportFromAddr(addr),
	})
}

// EmitConnectionError statsd implementation
func (h *AsyncStatsdConnectionLifecycleHook) EmitConnectionError() {
	go h.client.Count(fmt.Sprintf("event.%s.socket_error", h.source), 1, nil)
}

// NewNoopConnectionLifecycleHook creates a noop implementation of ConnectionLifecycleHook.
func NewNoopConnectionLifecycleHook() ConnectionLifecycleHook {
	return &NoopConnectionLifecycleHook{}
}

// EmitConnectionOpen noops.
func (h *NoopConnectionLifecycleHook) EmitConnectionOpen(latency time.Duration, addr net.Addr) {}

// EmitConnectionClose noops.
func (h *NoopConnectionLifecycleHook) EmitConnectionClose(addr net.Addr) {}

// EmitConnectionError noops.
func (h *NoopConnectionLifecycleHook) EmitConnectionError() {}

// NewAsyncStatsdConnectionIOHook creates a new hook with the specified source, statsd address,
// statsd sample rate, and version tag. The source denotes the entity with whom the server is
// performing I/O.
func NewAsyncStatsdConnectionIOHook(source string, addr string, sampleRate float32, version string) (ConnectionIOHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdConnectionIOHook{
		client: client,
		source: source,
	}, nil
}

// EmitReadError statsd implementation.
func (h *AsyncStatsdConnectionIOHook) EmitReadError(addr net.Addr) {
	go h.client.Count(fmt.Sprintf("event.%s.read_error", h.source), 1, map[string]string{
		"addr":      ipFromAddr(addr),
		"transport": transportFromAddr(addr),
	})
}

// EmitWriteError statsd implementation.
func (h *AsyncStatsdConnectionIOHook) EmitWriteError(addr net.Addr) {
	go h.client.Count(fmt.Sprintf("event.%s.write_error", h.source), 1, map[string]string{
		"addr":      ipFromAddr(addr),
		"transport": transportFromAddr(addr),
	})
}

// NewNoopConnectionIOHook creates a noop implementation of ConnectionIOHook.
func NewNoopConnectionIOHook() ConnectionIOHook {
	return &NoopConnectionIOHook{}
}

// EmitReadError noops.
func (h *NoopConnectionIOHook) EmitReadError(addr net.Addr) {}

// EmitWriteError noops.
func (h *NoopConnectionIOHook) EmitWriteError(addr net.Addr) {}

// NewAsyncStatsdProxyHook creates a new hook with the specified statsd address, sample rate, and
// version tag.
func NewAsyncStatsdProxyHook(addr string, sampleRate float32, version string) (ProxyHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdProxyHook{client}, nil
}

// EmitRequestSize statsd implementation
func (h *AsyncStatsdProxyHook) EmitRequestSize(bytes int64, client net.Addr) {
	go h.client.Size("size.forward.query", bytes, map[string]string{
		"addr": ipFromAddr(client),
	})
}

// EmitResponseSize statsd implementation
func (h *AsyncStatsdProxyHook) EmitResponseSize(bytes int64, upstream net.Addr) {
	go h.client.Size("size.forward.reply", bytes, map[string]string{
		"addr": ipFromAddr(upstream),
	})
}

// EmitRTT statsd implementation
func (h *AsyncStatsdProxyHook) EmitRTT(latency time.Duration, client net.Addr, upstream net.Addr) {
	go h.client.Timing("latency.forward.rtt", latency, map[string]string{
		"client":   ipFromAddr(client),
		"upstream": ipFromAddr(upstream),
	})
}

// EmitUpstreamLatency statsd implementation
func (h *AsyncStatsdProxyHook) EmitUpstreamLatency(latency time.Duration, client net.Addr, upstream net.Addr) {
	go h.client.Timing("latency.forward.upstream", latency, map[string]string{
		"client":   ipFromAddr(client),
		"upstream": ipFromAddr(upstream),
	})
}

// EmitParseError statsd implementation
func (h *AsyncStatsdProxyHook) EmitParseError(client net.Addr) {
	go h.client.Count("event.forward.parse_error", 1, map[string]string{
		"client": ipFromAddr(client),
	})
}

// EmitTimeout statsd implementation
func (h *AsyncStatsdProxyHook) EmitTimeout(client net.Addr) {
	go h.client.Count("event.forward.timeout", 1, map[string]string{
		"client": ipFromAddr(client),
	})
}

// EmitError statsd implementation
func (h *AsyncStatsdProxyHook) EmitError() {
	go h.client.Count("event.forward.error", 1, nil)
}

// NewNoopProxyHook creates a noop implementation of ProxyHook.
func NewNoopProxyHook() ProxyHook {
	return &NoopProxyHook{}
}

// EmitRequestSize noops.
func (h *NoopProxyHook) EmitRequestSize(bytes int64, client net.Addr) {}

// EmitResponseSize noops.
func (h *NoopProxyHook) EmitResponseSize(bytes int64, upstream net.Addr) {}

// EmitRTT noops.
func (h *NoopProxyHook) EmitRTT(latency time.Duration, client net.Addr, upstream net.Addr) {}

// EmitUpstreamLatency noops.
func (h *NoopProxyHook) EmitUpstreamLatency(latency time.Duration, client net.Addr, upstream net.Addr) {
}

// EmitParseError noops.
func (h *NoopProxyHook) EmitParseError(client net.Addr) {}

// EmitTimeout noops.
func (h *NoopProxyHook) EmitTimeout(client net.Addr) {}

// EmitError noops.
func (h *NoopProxyHook) EmitError() {}

// statsdClientFactory creates a configured StatsdClient with reasonable defaults for the given
// statsd server address, sample rate, and build version.
func statsdClientFactory(addr string, sampleRate float32, version string) (*StatsdClient, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, err
	}

	defaultTags := map[string]string{
		"host": hostname,
	}

	if version != "" {
		defaultTags["version"] = version
	}

	return NewStatsdClient(addr, "dnsforwarder", defaultTags, sampleRate)
}

// ipFromAddr returns the IP address from a full net.Addr, or null if unavailable.
func ipFromAddr(addr net.Addr) string {
	switch networkAddr := addr.(type) {
	case *net.UDPAddr:
		return networkAddr.IP.String()
	case *net.TCPAddr:
		return networkAddr.IP.String()
	default:
		return "null"
	}
}

// transportFromAddr returns the transport protocol (as a string) behind a net.Addr, or null if
// unavailable.
func transportFromAddr(addr net.Addr) string {
	switch addr.(type) {
	case *net.UDPAddr:
		return "udp"
	case *net.TCPAddr:
		return "tcp"
	default:
		return "null"
	}
}
