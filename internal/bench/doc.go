// Package bench resolves a list of domains against a resolver and reports per-lookup results and
// aggregate latency and throughput.
package bench
