package protocol

import (
	"bytes"
	"strings"
	"testing"

	"github.com/miekg/dns"
)

// header is a 12-byte query header with ID 0x1234, RD set, and QDCOUNT 1.
var header = []byte{
	0x12, 0x34,
	0x01, 0x00,
	0x00, 0x01, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
}

func packet(parts ...[]byte) []byte {
	return bytes.Join(append([][]byte{header}, parts...), nil)
}

func TestExtractQuestionName(t *testing.T) {
	tests := []struct {
		name     string
		packet   []byte
		wantName string
		wantKind ParseErrorKind
		wantErr  bool
	}{
		{
			name: "A query for example.com",
			packet: packet(
				[]byte{0x07, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 0x03, 'c', 'o', 'm', 0x00},
				[]byte{0x00, 0x01, 0x00, 0x01},
			),
			wantName: "example.com",
		},
		{
			name: "AAAA query for test.local",
			packet: packet(
				[]byte{0x04, 't', 'e', 's', 't', 0x05, 'l', 'o', 'c', 'a', 'l', 0x00},
				[]byte{0x00, 0x1c, 0x00, 0x01},
			),
			wantName: "test.local",
		},
		{
			name:     "root name",
			packet:   packet([]byte{0x00, 0x00, 0x02, 0x00, 0x01}),
			wantName: "",
		},
		{
			name:     "question without type and class",
			packet:   packet([]byte{0x03, 'w', 'w', 'w', 0x00}),
			wantName: "www",
		},
		{
			name:     "empty packet",
			packet:   []byte{},
			wantErr:  true,
			wantKind: Truncated,
		},
		{
			name:     "five byte datagram",
			packet:   []byte{0x12, 0x34, 0x01, 0x00, 0x00},
			wantErr:  true,
			wantKind: Truncated,
		},
		{
			name:     "header only",
			packet:   packet(),
			wantErr:  true,
			wantKind: Malformed,
		},
		{
			name:     "label length past end of packet",
			packet:   packet([]byte{0x07, 'e', 'x', 'a'}),
			wantErr:  true,
			wantKind: Malformed,
		},
		{
			name:     "unterminated name",
			packet:   packet([]byte{0x07, 'e', 'x', 'a', 'm', 'p', 'l', 'e'}),
			wantErr:  true,
			wantKind: Malformed,
		},
		{
			name:     "label length above 63",
			packet:   packet([]byte{0x40}, bytes.Repeat([]byte{'a'}, 64), []byte{0x00}),
			wantErr:  true,
			wantKind: Malformed,
		},
		{
			name:     "label is not valid text",
			packet:   packet([]byte{0x02, 0xff, 0xfe, 0x00}),
			wantErr:  true,
			wantKind: Malformed,
		},
		{
			name: "compression pointer to an earlier name",
			// The question begins with "www" followed by a pointer to "example.com" at offset 18.
			packet: packet(
				[]byte{0x03, 'w', 'w', 'w', 0xc0, 18},
				[]byte{0x07, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 0x03, 'c', 'o', 'm', 0x00},
			),
			wantName: "www.example.com",
		},
		{
			name:     "compression pointer loop",
			packet:   packet([]byte{0x01, 'a', 0xc0, 12}),
			wantErr:  true,
			wantKind: Malformed,
		},
		{
			name:     "compression pointer into header",
			packet:   packet([]byte{0xc0, 0x02}),
			wantErr:  true,
			wantKind: Malformed,
		},
		{
			name:     "compression pointer past end of packet",
			packet:   packet([]byte{0xc0, 0x40}),
			wantErr:  true,
			wantKind: Malformed,
		},
		{
			name:     "truncated compression pointer",
			packet:   packet([]byte{0xc0}),
			wantErr:  true,
			wantKind: Malformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractQuestionName(tt.packet)

			if tt.wantErr {
				parseErr, ok := err.(*ParseError)
				if !ok {
					t.Fatalf("expected *ParseError, got %T (%v)", err, err)
				}
				if parseErr.Kind != tt.wantKind {
					t.Errorf("kind = %v, want %v", parseErr.Kind, tt.wantKind)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.wantName {
				t.Errorf("name = %q, want %q", got, tt.wantName)
			}
		})
	}
}

func TestExtractQuestionNameFromPackedQueries(t *testing.T) {
	names := []string{"example.com", "a.b.c.d.example.org", "xn--bcher-kva.example", "localhost"}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			msg := new(dns.Msg)
			msg.SetQuestion(dns.Fqdn(name), dns.TypeMX)

			wire, err := msg.Pack()
			if err != nil {
				t.Fatalf("failed to pack: %v", err)
			}

			got, err := ExtractQuestionName(wire)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != name {
				t.Errorf("name = %q, want %q", got, name)
			}
		})
	}
}

func TestEncodeNameRoundTrip(t *testing.T) {
	names := []string{
		"example.com",
		"www.example.com.",
		"a",
		strings.Repeat("x", MaxLabelLength) + ".example",
		"",
	}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			encoded, err := EncodeName(name)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			got, err := ExtractQuestionName(packet(encoded, []byte{0x00, 0x01, 0x00, 0x01}))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if want := strings.TrimSuffix(name, "."); got != want {
				t.Errorf("round trip = %q, want %q", got, want)
			}
		})
	}
}

func TestEncodeNameMatchesWireFormat(t *testing.T) {
	encoded, err := EncodeName("example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []byte{0x07, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 0x03, 'c', 'o', 'm', 0x00}
	if !bytes.Equal(encoded, want) {
		t.Errorf("EncodeName() = %x, want %x", encoded, want)
	}
}

func TestEncodeNameRejectsInvalidNames(t *testing.T) {
	names := []string{
		"example..com",
		".example.com",
		strings.Repeat("x", MaxLabelLength+1) + ".example",
		strings.Repeat(strings.Repeat("x", 60)+".", 5) + "com",
	}

	for _, name := range names {
		if _, err := EncodeName(name); err == nil {
			t.Errorf("EncodeName(%q) succeeded, want error", name)
		}
	}
}

func TestParseErrorMessage(t *testing.T) {
	_, err := ExtractQuestionName([]byte{0x01})
	if err == nil {
		t.Fatal("expected an error")
	}

	if got := err.Error(); !strings.Contains(got, "truncated") || !strings.Contains(got, "size=1") {
		t.Errorf("unexpected error message: %s", got)
	}
}
