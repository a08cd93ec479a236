package meta

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseConfigEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := ParseConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Listener.UDP.Address != DefaultListenAddress {
		t.Errorf("listen addr = %s, want %s", cfg.Listener.UDP.Address, DefaultListenAddress)
	}
	if cfg.Upstream.Address != DefaultUpstreamAddress {
		t.Errorf("upstream addr = %s, want %s", cfg.Upstream.Address, DefaultUpstreamAddress)
	}
	if cfg.Upstream.Timeout != DefaultUpstreamTimeout {
		t.Errorf("upstream timeout = %v, want %v", cfg.Upstream.Timeout, DefaultUpstreamTimeout)
	}
	if cfg.Upstream.ServFailOnFailure {
		t.Error("expected SERVFAIL synthesis to be off by default")
	}
	if cfg.Metrics != nil {
		t.Error("expected metrics to be disabled by default")
	}
}

func TestParseConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
application:
  sentry_dsn: https://key@sentry.example.com/1
log:
  file: /var/log/dnsforwarder.log
  max_size_mb: 50
  compress: true
metrics:
  statsd:
    addr: localhost:8125
    sample_rate: 0.5
listener:
  udp:
    addr: 127.0.0.1:5353
    max_concurrent_connections: 64
    read_timeout: 250ms
upstream:
  addr: 1.1.1.1:53
  timeout: 1500ms
  servfail_on_failure: true
query_log:
  sqlite_path: /var/lib/dnsforwarder/queries.db
  reorder_window: 128
`

	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := ParseConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Application.SentryDSN != "https://key@sentry.example.com/1" {
		t.Errorf("unexpected sentry dsn: %s", cfg.Application.SentryDSN)
	}
	if cfg.Log.File != "/var/log/dnsforwarder.log" || cfg.Log.MaxSizeMB != 50 || !cfg.Log.Compress {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
	if cfg.Metrics.Statsd.Address != "localhost:8125" || cfg.Metrics.Statsd.SampleRate != 0.5 {
		t.Errorf("unexpected statsd config: %+v", cfg.Metrics.Statsd)
	}
	if cfg.Listener.UDP.Address != "127.0.0.1:5353" || cfg.Listener.UDP.MaxConcurrentConnections != 64 {
		t.Errorf("unexpected listener config: %+v", cfg.Listener.UDP)
	}
	if cfg.Listener.UDP.ReadTimeout != 250*time.Millisecond {
		t.Errorf("read timeout = %v, want 250ms", cfg.Listener.UDP.ReadTimeout)
	}
	if cfg.Listener.UDP.MaxPacketSize != DefaultMaxPacketSize {
		t.Errorf("listener packet size = %d, want default", cfg.Listener.UDP.MaxPacketSize)
	}
	if cfg.Upstream.Address != "1.1.1.1:53" || cfg.Upstream.Timeout != 1500*time.Millisecond {
		t.Errorf("unexpected upstream config: %+v", cfg.Upstream)
	}
	if !cfg.Upstream.ServFailOnFailure {
		t.Error("expected SERVFAIL synthesis to be enabled")
	}
	if cfg.QueryLog.SQLitePath != "/var/lib/dnsforwarder/queries.db" || cfg.QueryLog.ReorderWindow != 128 {
		t.Errorf("unexpected query log config: %+v", cfg.QueryLog)
	}
}

func TestParseConfigMissingFile(t *testing.T) {
	if _, err := ParseConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestParseConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name:    "not yaml",
			data:    "listener: [",
			wantErr: "error parsing config",
		},
		{
			name:    "statsd without address",
			data:    "metrics:\n  statsd:\n    sample_rate: 1\n",
			wantErr: "missing metrics statsd address",
		},
		{
			name:    "sample rate out of range",
			data:    "metrics:\n  statsd:\n    addr: localhost:8125\n    sample_rate: 1.5\n",
			wantErr: "sample rate",
		},
		{
			name:    "listener address without port",
			data:    "listener:\n  udp:\n    addr: 127.0.0.1\n",
			wantErr: "invalid listener address",
		},
		{
			name:    "upstream address without port",
			data:    "upstream:\n  addr: 8.8.8.8\n",
			wantErr: "invalid upstream address",
		},
		{
			name:    "negative upstream timeout",
			data:    "upstream:\n  timeout: -1s\n",
			wantErr: "negative upstream timeout",
		},
		{
			name:    "negative listener timeout",
			data:    "listener:\n  udp:\n    write_timeout: -5ms\n",
			wantErr: "negative listener timeout",
		},
		{
			name:    "negative concurrency",
			data:    "listener:\n  udp:\n    max_concurrent_connections: -1\n",
			wantErr: "negative listener concurrency",
		},
		{
			name:    "negative reorder window",
			data:    "query_log:\n  reorder_window: -2\n",
			wantErr: "negative query log reorder window",
		},
		{
			name:    "negative log rotation",
			data:    "log:\n  max_backups: -1\n",
			wantErr: "log rotation limits",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfigData([]byte(tt.data))
			if err == nil {
				t.Fatal("expected an error")
			}

			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.wantErr)
			}
		})
	}
}
