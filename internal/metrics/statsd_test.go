package metrics

import (
	"net"
	"testing"
)

func TestFormatMetric(t *testing.T) {
	tests := []struct {
		name        string
		defaultTags map[string]string
		metric      string
		tags        map[string]string
		want        string
	}{
		{
			name:   "no tags",
			metric: "event.proxy.error",
			want:   "event.proxy.error",
		},
		{
			name:        "default tags only",
			defaultTags: map[string]string{"host": "ns1"},
			metric:      "event.proxy.timeout",
			want:        "event.proxy.timeout,host=ns1",
		},
		{
			name:        "merged tags are sorted and override defaults",
			defaultTags: map[string]string{"host": "ns1", "addr": "default"},
			metric:      "latency.proxy.tx_rtt",
			tags:        map[string]string{"addr": "10.0.0.5", "client": "10.0.0.1"},
			want:        "latency.proxy.tx_rtt,addr=10.0.0.5,client=10.0.0.1,host=ns1",
		},
		{
			name:   "incompatible characters are escaped",
			metric: "event:odd name",
			tags:   map[string]string{"addr": "::1"},
			want:   "event%3Aodd+name,addr=%3A%3A1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &StatsdClient{defaultTags: tt.defaultTags}
			if got := c.formatMetric(tt.metric, tt.tags); got != tt.want {
				t.Errorf("formatMetric() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAddrHelpers(t *testing.T) {
	udp := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 53}
	tcp := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 6), Port: 853}

	if got := ipFromAddr(udp); got != "10.0.0.5" {
		t.Errorf("ipFromAddr(udp) = %s", got)
	}
	if got := transportFromAddr(udp); got != "udp" {
		t.Errorf("transportFromAddr(udp) = %s", got)
	}
	if got := transportFromAddr(tcp); got != "tcp" {
		t.Errorf("transportFromAddr(tcp) = %s", got)
	}
	if got := ipFromAddr(nil); got != "null" {
		t.Errorf("ipFromAddr(nil) = %s", got)
	}
}
