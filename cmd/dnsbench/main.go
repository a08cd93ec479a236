package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"

	"dnsforwarder/internal/bench"
	"dnsforwarder/internal/log"
	"dnsforwarder/internal/meta"
)

func main() {
	domainsPath := flag.String("domains", "", "path to a file listing one domain per line")
	outPath := flag.String("out", "dnsbench.csv", "path of the CSV results file; - writes to standard output")
	resolver := flag.String("resolver", "127.0.0.1:53", "address of the resolver to query")
	timeout := flag.Duration("timeout", 2*time.Second, "timeout for each lookup")
	concurrency := flag.Int("concurrency", 1, "maximum number of lookups in flight")
	pause := flag.Duration("pause", 0, "delay between dispatching consecutive lookups")
	qtype := flag.String("qtype", "A", "query type for every lookup")
	version := flag.Bool("version", false, "print the compiled dnsbench version SHA")
	verbosity := flag.String("verbosity", "info", "desired logging verbosity: one of error, warn, info, debug")
	flag.Parse()

	if *version {
		fmt.Printf("dnsbench/%s\n", meta.VersionSHA)
		return
	}

	level, ok := log.ParseLevel(*verbosity)
	if !ok {
		level = log.Info
	}

	logger := log.NewConsoleLogger(level)
	defer logger.Sync()

	if *domainsPath == "" {
		fatal(logger, errors.New("main: missing required -domains flag"))
	}

	queryType, ok := dns.StringToType[strings.ToUpper(*qtype)]
	if !ok {
		fatal(logger, errors.Errorf("main: unknown query type: qtype=%s", *qtype))
	}

	domains, err := readDomains(*domainsPath)
	if err != nil {
		fatal(logger, err)
	}

	if len(domains) == 0 {
		logger.Warn("main: no domains to resolve: path=%s", *domainsPath)
		return
	}

	logger.Info(
		"main: starting lookups: domains=%d resolver=%s concurrency=%d qtype=%s",
		len(domains),
		*resolver,
		*concurrency,
		dns.TypeToString[queryType],
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := bench.NewRunner(logger, bench.RunnerOpts{
		Resolver:    *resolver,
		Timeout:     *timeout,
		Concurrency: *concurrency,
		Pause:       *pause,
		QType:       queryType,
	})

	results, summary, runErr := runner.Run(ctx, domains)
	if runErr != nil {
		logger.Warn("main: %v; writing partial results", runErr)
	}

	if err := writeResults(*outPath, results); err != nil {
		fatal(logger, err)
	}

	logger.Info(
		"main: summary: total=%d successes=%d failures=%d duration=%.2fs avg_latency=%.2fms throughput=%.2fqps",
		summary.Total,
		summary.Successes,
		summary.Failures,
		summary.Duration.Seconds(),
		float64(summary.AverageLatency)/float64(time.Millisecond),
		summary.Throughput,
	)
}

func readDomains(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "main: error opening domain list: path=%s", path)
	}
	defer file.Close()

	return bench.ReadDomains(file)
}

func writeResults(path string, results []bench.Result) error {
	var out io.Writer = os.Stdout

	if path != "-" {
		file, err := os.Create(path)
		if err != nil {
			return errors.Wrapf(err, "main: error creating results file: path=%s", path)
		}
		defer file.Close()

		out = file
	}

	return bench.WriteCSV(out, results)
}

// fatal reports an unrecoverable error and exits.
func fatal(logger *log.ZapLogger, err error) {
	logger.Error("%v", err)
	logger.Sync()

	os.Exit(1)
}
