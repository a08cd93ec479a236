package bench

import (
	"context"
	"net"
	"sort"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"lib.kevinlin.info/aperture/lib"

	"dnsforwarder/internal/log"
)

// Result describes the outcome of a single lookup.
type Result struct {
	// Timestamp is the wall clock time at which the lookup was dispatched.
	Timestamp time.Time
	Domain    string
	// Success is true iff the resolver answered NOERROR with at least one address.
	Success bool
	// RTT is the elapsed time of the lookup, recorded for failures too.
	RTT time.Duration
	// IPs holds the answer addresses, sorted and de-duplicated.
	IPs []string
	// Err is the reason for a failed lookup.
	Err error
}

// RunnerOpts formalizes lookup runner configuration options.
type RunnerOpts struct {
	// Resolver is the host:port address queries are sent to.
	Resolver string
	// Timeout bounds each lookup.
	Timeout time.Duration
	// Concurrency is the maximum number of lookups in flight.
	Concurrency int
	// Pause is the delay between dispatching consecutive lookups.
	Pause time.Duration
	// QType is the query type, A by default.
	QType uint16
}

// Runner performs lookups against a single resolver.
type Runner struct {
	client *dns.Client
	logger log.Logger
	opts   RunnerOpts
}

// NewRunner creates a runner with the specified options.
func NewRunner(logger log.Logger, opts RunnerOpts) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	if opts.QType == 0 {
		opts.QType = dns.TypeA
	}

	return &Runner{
		client: &dns.Client{
			Net:     "udp",
			Timeout: opts.Timeout,
		},
		logger: logger,
		opts:   opts,
	}
}

// Lookup resolves a single domain.
func (r *Runner) Lookup(ctx context.Context, domain string) Result {
	result := Result{Timestamp: time.Now(), Domain: domain}

	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(domain), r.opts.QType)

	timer := lib.NewStopwatch()
	resp, _, err := r.client.ExchangeContext(ctx, req, r.opts.Resolver)
	result.RTT = timer.Elapsed()

	if err != nil {
		result.Err = errors.Wrapf(err, "bench: lookup failed: domain=%s", domain)
		return result
	}

	if resp.Rcode != dns.RcodeSuccess {
		result.Err = errors.Errorf("bench: resolver returned %s: domain=%s", dns.RcodeToString[resp.Rcode], domain)
		return result
	}

	result.IPs = answerAddresses(resp)
	if len(result.IPs) == 0 {
		result.Err = errors.Errorf("bench: no addresses in answer: domain=%s", domain)
		return result
	}

	result.Success = true

	return result
}

// Run resolves every domain and returns the results in input order. Lookups are dispatched in order
// with the configured pause in between and run with bounded concurrency. If the context is done,
// dispatching stops and an error is returned; results never dispatched are left zero.
func (r *Runner) Run(ctx context.Context, domains []string) ([]Result, Summary, error) {
	results := make([]Result, len(domains))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	timer := lib.NewStopwatch()

dispatch:
	for idx, domain := range domains {
		if idx > 0 && r.opts.Pause > 0 {
			select {
			case <-time.After(r.opts.Pause):
			case <-gctx.Done():
				break dispatch
			}
		}

		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			results[idx] = r.Lookup(gctx, domain)

			if results[idx].Success {
				r.logger.Debug(
					"bench: resolved: domain=%s rtt=%v ips=%v",
					domain,
					results[idx].RTT,
					results[idx].IPs,
				)
			} else {
				r.logger.Debug("bench: %v", results[idx].Err)
			}

			return nil
		})
	}

	g.Wait()

	summary := Summarize(results, timer.Elapsed())

	if err := ctx.Err(); err != nil {
		return results, summary, errors.Wrap(err, "bench: run interrupted")
	}

	return results, summary, nil
}

// answerAddresses collects the A and AAAA addresses in a reply.
func answerAddresses(msg *dns.Msg) []string {
	seen := make(map[string]bool)

	var ips []string
	for _, rr := range msg.Answer {
		var ip net.IP

		switch record := rr.(type) {
		case *dns.A:
			ip = record.A
		case *dns.AAAA:
			ip = record.AAAA
		default:
			continue
		}

		if addr := ip.String(); !seen[addr] {
			seen[addr] = true
			ips = append(ips, addr)
		}
	}

	sort.Strings(ips)

	return ips
}
