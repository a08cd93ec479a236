package meta

import (
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultListenAddress is the address the UDP listener binds when none is configured.
	DefaultListenAddress = "0.0.0.0:53"
	// DefaultUpstreamAddress is the resolver queries are forwarded to when none is configured.
	DefaultUpstreamAddress = "8.8.8.8:53"
	// DefaultUpstreamTimeout bounds each relay when no timeout is configured.
	DefaultUpstreamTimeout = 2 * time.Second
	// DefaultMaxPacketSize is the receive buffer size for a single datagram.
	DefaultMaxPacketSize = 512
)

// ApplicationConfig is a top-level block for application-level meta configuration.
type ApplicationConfig struct {
	SentryDSN string `yaml:"sentry_dsn"`
}

// LogConfig is a top-level block for log output configuration. Console output is always enabled;
// the file is written in addition to it.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig is a top-level block for metrics configuration.
type MetricsConfig struct {
	Statsd *struct {
		Address    string  `yaml:"addr"`
		SampleRate float32 `yaml:"sample_rate"`
	} `yaml:"statsd"`
}

// UDPListenerConfig describes the UDP listening socket and its worker pool.
type UDPListenerConfig struct {
	Address                  string        `yaml:"addr"`
	MaxConcurrentConnections int           `yaml:"max_concurrent_connections"`
	ReadTimeout              time.Duration `yaml:"read_timeout"`
	WriteTimeout             time.Duration `yaml:"write_timeout"`
	MaxPacketSize            int           `yaml:"max_packet_size"`
}

// ListenerConfig is a top-level block for server listener configuration.
type ListenerConfig struct {
	UDP *UDPListenerConfig `yaml:"udp"`
}

// UpstreamConfig is a top-level block for upstream configuration.
type UpstreamConfig struct {
	Address           string        `yaml:"addr"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxPacketSize     int           `yaml:"max_packet_size"`
	ServFailOnFailure bool          `yaml:"servfail_on_failure"`
}

// QueryLogConfig is a top-level block for query log configuration.
type QueryLogConfig struct {
	SQLitePath    string `yaml:"sqlite_path"`
	ReorderWindow int    `yaml:"reorder_window"`
}

// Config describes all application configuration options.
type Config struct {
	Application *ApplicationConfig `yaml:"application"`
	Log         *LogConfig         `yaml:"log"`
	Metrics     *MetricsConfig     `yaml:"metrics"`
	Listener    *ListenerConfig    `yaml:"listener"`
	Upstream    *UpstreamConfig    `yaml:"upstream"`
	QueryLog    *QueryLogConfig    `yaml:"query_log"`
}

// DefaultConfig returns the configuration used when no config file is supplied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()

	return cfg
}

// ParseConfig parses a Config struct instance from a file specified as a path on disk. An empty path
// yields the default configuration.
func ParseConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: error reading config: path=%s", path)
	}

	return parseConfigData(data)
}

func parseConfigData(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "config: error parsing config")
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills every omitted block and value that has a default.
func (c *Config) applyDefaults() {
	if c.Application == nil {
		c.Application = &ApplicationConfig{}
	}

	if c.Log == nil {
		c.Log = &LogConfig{}
	}

	if c.Listener == nil {
		c.Listener = &ListenerConfig{}
	}

	if c.Listener.UDP == nil {
		c.Listener.UDP = &UDPListenerConfig{}
	}

	if c.Listener.UDP.Address == "" {
		c.Listener.UDP.Address = DefaultListenAddress
	}

	if c.Listener.UDP.MaxPacketSize == 0 {
		c.Listener.UDP.MaxPacketSize = DefaultMaxPacketSize
	}

	if c.Upstream == nil {
		c.Upstream = &UpstreamConfig{}
	}

	if c.Upstream.Address == "" {
		c.Upstream.Address = DefaultUpstreamAddress
	}

	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = DefaultUpstreamTimeout
	}

	if c.Upstream.MaxPacketSize == 0 {
		c.Upstream.MaxPacketSize = DefaultMaxPacketSize
	}

	if c.QueryLog == nil {
		c.QueryLog = &QueryLogConfig{}
	}
}

// validate the contents of the configuration. Returns an error if validation failed; nil otherwise.
func (c *Config) validate() error {
	/* Metrics */

	// Users can omit the metrics block entirely to disable metrics reporting.
	if c.Metrics != nil && c.Metrics.Statsd != nil {
		if c.Metrics.Statsd.Address == "" {
			return errors.New("config: missing metrics statsd address")
		}

		if c.Metrics.Statsd.SampleRate < 0 || c.Metrics.Statsd.SampleRate > 1 {
			return errors.Errorf(
				"config: statsd sample rate must be in range [0.0, 1.0]: sample_rate=%f",
				c.Metrics.Statsd.SampleRate,
			)
		}
	}

	/* Log */

	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return errors.New("config: log rotation limits must not be negative")
	}

	/* Listener */

	udp := c.Listener.UDP

	if err := validateAddress("listener", udp.Address); err != nil {
		return err
	}

	if udp.MaxConcurrentConnections < 0 {
		return errors.Errorf(
			"config: negative listener concurrency: max_concurrent_connections=%d",
			udp.MaxConcurrentConnections,
		)
	}

	if udp.ReadTimeout < 0 || udp.WriteTimeout < 0 {
		return errors.Errorf(
			"config: negative listener timeout: read_timeout=%v write_timeout=%v",
			udp.ReadTimeout,
			udp.WriteTimeout,
		)
	}

	if udp.MaxPacketSize < 0 {
		return errors.Errorf("config: negative listener packet size: max_packet_size=%d", udp.MaxPacketSize)
	}

	/* Upstream */

	if err := validateAddress("upstream", c.Upstream.Address); err != nil {
		return err
	}

	if c.Upstream.Timeout < 0 {
		return errors.Errorf("config: negative upstream timeout: timeout=%v", c.Upstream.Timeout)
	}

	if c.Upstream.MaxPacketSize < 0 {
		return errors.Errorf("config: negative upstream packet size: max_packet_size=%d", c.Upstream.MaxPacketSize)
	}

	/* Query log */

	if c.QueryLog.ReorderWindow < 0 {
		return errors.Errorf("config: negative query log reorder window: reorder_window=%d", c.QueryLog.ReorderWindow)
	}

	return nil
}

// validateAddress requires a host:port address with a port.
func validateAddress(block string, addr string) error {
	if _, port, err := net.SplitHostPort(addr); err != nil || port == "" {
		return errors.Errorf("config: invalid %s address: addr=%s", block, addr)
	}

	return nil
}
