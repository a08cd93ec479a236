package bench

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// ReadDomains reads one domain per line, trimming surrounding whitespace and skipping blank lines.
func ReadDomains(r io.Reader) ([]string, error) {
	var domains []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if domain := strings.TrimSpace(scanner.Text()); domain != "" {
			domains = append(domains, domain)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "bench: error reading domain list")
	}

	return domains, nil
}
