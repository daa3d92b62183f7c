package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/grandcat/zeroconf"
)

func TestScanner_parseServiceEntry(t *testing.T) {
	scanner := NewScanner()

	tests := []struct {
		name       string
		entry      *zeroconf.ServiceEntry
		wantNil    bool
		wantSerial uint32
		wantIP     string
		wantPort   int
	}{
		{
			name: "valid probe with IPv4",
			entry: &zeroconf.ServiceEntry{
				HostName: "JLink-683999999.local.",
				Port:     19020,
				AddrIPv4: []net.IP{net.ParseIP("192.168.4.16")},
				Text:     []string{"product=J-Link PRO V4", "fw=Jan 13 2025 12:00:00"},
			},
			wantNil:    false,
			wantSerial: 683999999,
			wantIP:     "192.168.4.16",
			wantPort:   19020,
		},
		{
			name: "valid probe without trailing dot",
			entry: &zeroconf.ServiceEntry{
				HostName: "JLink-123456789.local",
				Port:     19020,
				AddrIPv4: []net.IP{net.ParseIP("10.0.0.5")},
				Text:     []string{},
			},
			wantNil:    false,
			wantSerial: 123456789,
			wantIP:     "10.0.0.5",
			wantPort:   19020,
		},
		{
			name: "valid probe with vendor hostname prefix",
			entry: &zeroconf.ServiceEntry{
				HostName: "SEGGER-JLink-960012345.local",
				Port:     19020,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.100")},
			},
			wantNil:    false,
			wantSerial: 960012345,
			wantIP:     "192.168.1.100",
			wantPort:   19020,
		},
		{
			name: "valid probe with custom port",
			entry: &zeroconf.ServiceEntry{
				HostName: "JLink-4000123.local",
				Port:     19030,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.101")},
			},
			wantNil:    false,
			wantSerial: 4000123,
			wantIP:     "192.168.1.101",
			wantPort:   19030,
		},
		{
			name: "probe with no port specified (should default to 19020)",
			entry: &zeroconf.ServiceEntry{
				HostName: "JLink-111111111.local",
				Port:     0,
				AddrIPv4: []net.IP{net.ParseIP("172.16.0.1")},
			},
			wantNil:    false,
			wantSerial: 111111111,
			wantIP:     "172.16.0.1",
			wantPort:   19020,
		},
		{
			name: "renamed hostname with serial in TXT record",
			entry: &zeroconf.ServiceEntry{
				HostName: "bench-rack-3.local",
				Port:     19020,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.102")},
				Text:     []string{"sn=683111222", "product=J-Link PRO"},
			},
			wantNil:    false,
			wantSerial: 683111222,
			wantIP:     "192.168.1.102",
			wantPort:   19020,
		},
		{
			name: "non-probe host (wrong hostname pattern, no serial record)",
			entry: &zeroconf.ServiceEntry{
				HostName: "someotherdevice.local",
				Port:     80,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.1")},
			},
			wantNil: true,
		},
		{
			name: "empty hostname",
			entry: &zeroconf.ServiceEntry{
				HostName: "",
				Port:     19020,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.1")},
			},
			wantNil: true,
		},
		{
			name: "serial too large for a probe serial number",
			entry: &zeroconf.ServiceEntry{
				HostName: "JLink-99999999999.local",
				Port:     19020,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.1")},
			},
			wantNil: true,
		},
		{
			name: "no IP address",
			entry: &zeroconf.ServiceEntry{
				HostName: "JLink-683999999.local",
				Port:     19020,
				AddrIPv4: []net.IP{},
				AddrIPv6: []net.IP{},
			},
			wantNil: true,
		},
		{
			name: "IPv6 only probe",
			entry: &zeroconf.ServiceEntry{
				HostName: "JLink-222222222.local",
				Port:     19020,
				AddrIPv6: []net.IP{net.ParseIP("fe80::1")},
			},
			wantNil:    false,
			wantSerial: 222222222,
			wantIP:     "fe80::1",
			wantPort:   19020,
		},
		{
			name: "probe with both IPv4 and IPv6 (should prefer IPv4)",
			entry: &zeroconf.ServiceEntry{
				HostName: "JLink-333333333.local",
				Port:     19020,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.50")},
				AddrIPv6: []net.IP{net.ParseIP("fe80::2")},
			},
			wantNil:    false,
			wantSerial: 333333333,
			wantIP:     "192.168.1.50",
			wantPort:   19020,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := scanner.parseServiceEntry(tt.entry)

			if tt.wantNil {
				if probe != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", probe)
				}
				return
			}

			if probe == nil {
				t.Fatal("parseServiceEntry() = nil, want non-nil probe")
			}

			if probe.Serial != tt.wantSerial {
				t.Errorf("probe.Serial = %v, want %v", probe.Serial, tt.wantSerial)
			}

			if probe.IP != tt.wantIP {
				t.Errorf("probe.IP = %v, want %v", probe.IP, tt.wantIP)
			}

			if probe.Port != tt.wantPort {
				t.Errorf("probe.Port = %v, want %v", probe.Port, tt.wantPort)
			}

			if probe.Hostname != tt.entry.HostName {
				t.Errorf("probe.Hostname = %v, want %v", probe.Hostname, tt.entry.HostName)
			}

			// Check that DiscoveredAt is recent (within last second)
			if time.Since(probe.DiscoveredAt) > time.Second {
				t.Errorf("probe.DiscoveredAt is not recent: %v", probe.DiscoveredAt)
			}
		})
	}
}

func TestScanner_parseServiceEntry_Metadata(t *testing.T) {
	scanner := NewScanner()

	entry := &zeroconf.ServiceEntry{
		HostName: "JLink-683999999.local",
		Port:     19020,
		AddrIPv4: []net.IP{net.ParseIP("192.168.4.16")},
		Text: []string{
			"product=J-Link PRO V4",
			"fw=J-Link PRO V4 compiled Jan 13 2025",
			"nick=bench DK",
			"mac=00:22:C7:01:02:03",
			"flag",
		},
	}

	probe := scanner.parseServiceEntry(entry)
	if probe == nil {
		t.Fatal("parseServiceEntry() = nil, want probe")
	}

	// Named fields are lifted out of the TXT records
	if probe.Product != "J-Link PRO V4" {
		t.Errorf("probe.Product = %q, want 'J-Link PRO V4'", probe.Product)
	}
	if probe.Firmware != "J-Link PRO V4 compiled Jan 13 2025" {
		t.Errorf("probe.Firmware = %q", probe.Firmware)
	}
	if probe.Nickname != "bench DK" {
		t.Errorf("probe.Nickname = %q, want 'bench DK'", probe.Nickname)
	}
	if probe.MAC != "00:22:C7:01:02:03" {
		t.Errorf("probe.MAC = %q, want '00:22:C7:01:02:03'", probe.MAC)
	}

	// Check metadata parsing
	expectedMetadata := map[string]string{
		"product": "J-Link PRO V4",
		"fw":      "J-Link PRO V4 compiled Jan 13 2025",
		"nick":    "bench DK",
		"mac":     "00:22:C7:01:02:03",
		"flag":    "", // Key without value
	}

	if diff := cmp.Diff(expectedMetadata, probe.Metadata); diff != "" {
		t.Errorf("probe.Metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestNewScanner(t *testing.T) {
	scanner := NewScanner()

	if scanner == nil {
		t.Fatal("NewScanner() = nil, want scanner")
	}

	if scanner.Timeout != DefaultScanTimeout {
		t.Errorf("scanner.Timeout = %v, want %v", scanner.Timeout, DefaultScanTimeout)
	}
}

func TestSerialPattern(t *testing.T) {
	tests := []struct {
		hostname    string
		shouldMatch bool
		serial      string
	}{
		{"JLink-683999999.local", true, "683999999"},
		{"JLink-683999999.local.", true, "683999999"},
		{"SEGGER-JLink-683999999.local", true, "683999999"},
		{"JLink-1.local", true, "1"},
		{"jlink-683999999.local", false, ""}, // lowercase
		{"JLink-.local", false, ""},          // no serial
		{"JLink-ABC.local", false, ""},       // non-numeric serial
		{"somedevice.local", false, ""},      // wrong prefix
		{"JLink-683999999", false, ""},       // missing .local
		{"", false, ""},                      // empty
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			matches := serialPattern.FindStringSubmatch(tt.hostname)

			if tt.shouldMatch {
				if matches == nil || len(matches) < 2 {
					t.Errorf("serialPattern did not match %q", tt.hostname)
				} else if matches[1] != tt.serial {
					t.Errorf("serialPattern matched %q with serial %q, want %q", tt.hostname, matches[1], tt.serial)
				}
			} else {
				if matches != nil {
					t.Errorf("serialPattern matched %q, want no match", tt.hostname)
				}
			}
		})
	}
}

// Note: Integration tests with live mDNS discovery require network access
// and should be run manually with:
// go test -tags=integration ./internal/discovery/
