// Package metrics contains abstractions for emission of metrics generated throughout the lifetime
// of the forwarder. Currently, the only supported metrics output engine is statsd.
//
// Metrics are generated at several points while a single datagram is forwarded: when the query is
// decoded, when the relay socket to the upstream is opened and closed, and when the reply is
// written back to the client. The emissions in this package are therefore structured around hooks:
// a hook interface defines methods that are invoked by the forwarding logic, and implementations of
// those interfaces ship the metric to a backend engine. A noop implementation of each hook is used
// when no backend is configured.
package metrics
