package querylog

import (
	"strings"
	"time"
)

// Outcome describes how the handling of a single datagram terminated.
type Outcome int

const (
	// Forwarded indicates the upstream replied and the reply was relayed to the client.
	Forwarded Outcome = iota
	// Timeout indicates the upstream did not reply within the relay timeout.
	Timeout
	// ParseError indicates the datagram's question name could not be decoded.
	ParseError
	// RelayError indicates a socket-level failure while relaying to the upstream.
	RelayError
)

// QueryEvent is the immutable record of a single datagram handled by the forwarder.
type QueryEvent struct {
	// Seq is the datagram's position in arrival order.
	Seq uint64
	// Timestamp is the time at which the datagram arrived.
	Timestamp time.Time
	// Client is the address of the requester.
	Client string
	// Domain is the decoded question name. It is meaningful only when HasDomain reports true.
	Domain string
	// Outcome is the terminal state of the datagram's handling.
	Outcome Outcome
	// Latency is the upstream round trip time. It is meaningful only when HasLatency reports
	// true.
	Latency time.Duration
	// Reason describes the failure for any outcome other than Forwarded.
	Reason string
}

// String returns the lower-case, hyphenated name of the outcome.
func (o Outcome) String() string {
	switch o {
	case Forwarded:
		return "forwarded"
	case Timeout:
		return "timeout"
	case ParseError:
		return "parse-error"
	case RelayError:
		return "relay-error"
	default:
		return "unknown"
	}
}

// ParseOutcome looks up an Outcome by its stringified (case-insensitive) representation.
func ParseOutcome(outcome string) (Outcome, bool) {
	for _, known := range []Outcome{Forwarded, Timeout, ParseError, RelayError} {
		if strings.EqualFold(outcome, known.String()) {
			return known, true
		}
	}

	return RelayError, false
}

// HasDomain reports whether the question name was decoded, which is the case for every outcome
// except ParseError.
func (e QueryEvent) HasDomain() bool {
	return e.Outcome != ParseError
}

// HasLatency reports whether an upstream reply was received.
func (e QueryEvent) HasLatency() bool {
	return e.Outcome == Forwarded
}

// DisplayDomain renders the domain for human consumption: "-" when absent and "." for the root.
func (e QueryEvent) DisplayDomain() string {
	if !e.HasDomain() {
		return "-"
	}

	if e.Domain == "" {
		return "."
	}

	return e.Domain
}
