package protocol

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const (
	// HeaderSize is the size of the fixed DNS message header, after which the question section
	// begins.
	HeaderSize = 12
	// MaxLabelLength is the largest permitted length of a single label.
	MaxLabelLength = 63
	// MaxNameLength is the largest permitted length of an encoded name, including length bytes
	// and the terminating zero.
	MaxNameLength = 255

	// pointerMask marks a length byte as the first byte of a compression pointer.
	pointerMask = 0xC0
)

// ParseErrorKind classifies a failure to decode a question name.
type ParseErrorKind int

const (
	// Truncated indicates the packet is too short to contain a header.
	Truncated ParseErrorKind = iota
	// Malformed indicates the question section is internally inconsistent.
	Malformed
)

// ParseError describes why a question name could not be decoded from a packet.
type ParseError struct {
	Kind   ParseErrorKind
	Offset int
	Reason string
}

// String returns the lower-case name of the kind.
func (k ParseErrorKind) String() string {
	switch k {
	case Truncated:
		return "truncated"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("codec: %s packet: %s: offset=%d", e.Kind, e.Reason, e.Offset)
}

// ExtractQuestionName decodes the name in the question section of a DNS message. The rest of the
// message, including the header, counts, query type, and class, is not interpreted.
//
// Compression pointers are followed, although clients rarely compress the question name. A
// pointer that targets the header, lies outside the packet, or revisits an earlier target is
// malformed.
func ExtractQuestionName(packet []byte) (string, error) {
	if len(packet) < HeaderSize {
		return "", &ParseError{
			Kind:   Truncated,
			Offset: len(packet),
			Reason: fmt.Sprintf("packet shorter than header: size=%d", len(packet)),
		}
	}

	var labels []string
	var visited map[int]bool

	pos := HeaderSize

	for {
		if pos >= len(packet) {
			return "", malformed(pos, "name runs past end of packet")
		}

		length := int(packet[pos])

		if length == 0 {
			break
		}

		if length&pointerMask == pointerMask {
			if pos+1 >= len(packet) {
				return "", malformed(pos, "compression pointer runs past end of packet")
			}

			target := (length&^pointerMask)<<8 | int(packet[pos+1])

			if target < HeaderSize || target >= len(packet) {
				return "", malformed(pos, fmt.Sprintf("compression pointer out of range: target=%d", target))
			}

			if visited == nil {
				visited = make(map[int]bool)
			}

			if visited[target] {
				return "", malformed(pos, fmt.Sprintf("compression pointer loop: target=%d", target))
			}

			visited[target] = true
			pos = target

			continue
		}

		if length > MaxLabelLength {
			return "", malformed(pos, fmt.Sprintf("label too long: length=%d", length))
		}

		pos++

		if pos+length > len(packet) {
			return "", malformed(pos, fmt.Sprintf("label runs past end of packet: length=%d", length))
		}

		label := packet[pos : pos+length]
		if !utf8.Valid(label) {
			return "", malformed(pos, "label is not valid text")
		}

		labels = append(labels, string(label))
		pos += length
	}

	return strings.Join(labels, "."), nil
}

// EncodeName encodes a dot-separated name as length-prefixed labels terminated by a zero-length
// label. A single trailing dot is accepted; the empty name and "." both encode the root.
func EncodeName(name string) ([]byte, error) {
	name = strings.TrimSuffix(name, ".")

	if name == "" {
		return []byte{0}, nil
	}

	labels := strings.Split(name, ".")
	encoded := make([]byte, 0, len(name)+2)

	for _, label := range labels {
		if label == "" {
			return nil, errors.Errorf("codec: empty label in name: name=%q", name)
		}

		if len(label) > MaxLabelLength {
			return nil, errors.Errorf("codec: label too long: name=%q length=%d", name, len(label))
		}

		encoded = append(encoded, byte(len(label)))
		encoded = append(encoded, label...)
	}

	encoded = append(encoded, 0)

	if len(encoded) > MaxNameLength {
		return nil, errors.Errorf("codec: name too long: name=%q length=%d", name, len(encoded))
	}

	return encoded, nil
}

func malformed(offset int, reason string) *ParseError {
	return &ParseError{Kind: Malformed, Offset: offset, Reason: reason}
}
