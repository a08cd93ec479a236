package bench

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// TimestampLayout is the format of the timestamp column.
const TimestampLayout = "2006-01-02T15:04:05"

var csvHeader = []string{"timestamp", "domain", "success", "rtt_ms", "ips"}

// Summary aggregates the results of a run.
type Summary struct {
	Total     int
	Successes int
	Failures  int
	// Duration is the wall clock time of the whole run.
	Duration time.Duration
	// AverageLatency is the mean RTT over successful lookups only.
	AverageLatency time.Duration
	// Throughput is successful lookups per second of Duration.
	Throughput float64
}

// Summarize aggregates results over a run that took the specified duration. Zero results (from an
// interrupted run) are not counted.
func Summarize(results []Result, duration time.Duration) Summary {
	summary := Summary{Duration: duration}

	var totalLatency time.Duration

	for _, result := range results {
		if result.Domain == "" {
			continue
		}

		summary.Total++

		if result.Success {
			summary.Successes++
			totalLatency += result.RTT
		}
	}

	summary.Failures = summary.Total - summary.Successes

	if summary.Successes > 0 {
		summary.AverageLatency = totalLatency / time.Duration(summary.Successes)
	}

	if duration > 0 {
		summary.Throughput = float64(summary.Successes) / duration.Seconds()
	}

	return summary
}

// WriteCSV writes a header row followed by one row per result, in order.
func WriteCSV(w io.Writer, results []Result) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return errors.Wrap(err, "bench: error writing csv header")
	}

	for _, result := range results {
		if result.Domain == "" {
			continue
		}

		success := "0"
		if result.Success {
			success = "1"
		}

		row := []string{
			result.Timestamp.Format(TimestampLayout),
			result.Domain,
			success,
			fmt.Sprintf("%.3f", float64(result.RTT)/float64(time.Millisecond)),
			strings.Join(result.IPs, ";"),
		}

		if err := writer.Write(row); err != nil {
			return errors.Wrapf(err, "bench: error writing csv row: domain=%s", result.Domain)
		}
	}

	writer.Flush()

	return errors.Wrap(writer.Error(), "bench: error flushing csv")
}
