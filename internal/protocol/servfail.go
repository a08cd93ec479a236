package protocol

import (
	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// ServFail synthesizes a SERVFAIL reply to a query. The reply carries the query's transaction ID,
// opcode, recursion desired flag, and question, so that the client correlates it with the query.
func ServFail(query []byte) ([]byte, error) {
	req := new(dns.Msg)
	if err := req.Unpack(query); err != nil {
		return nil, errors.Wrap(err, "servfail: error unpacking query")
	}

	resp := new(dns.Msg)
	resp.SetRcode(req, dns.RcodeServerFailure)
	resp.RecursionAvailable = true

	packed, err := resp.Pack()
	if err != nil {
		return nil, errors.Wrap(err, "servfail: error packing reply")
	}

	return packed, nil
}
