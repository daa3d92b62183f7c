package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Probe represents a discovered network-attached debug probe
type Probe struct {
	// Serial is the probe serial number (e.g., 683999999)
	Serial uint32

	// Hostname is the mDNS hostname (e.g., "JLink-683999999.local")
	Hostname string

	// IP is the IPv4 address (e.g., "192.168.4.16")
	IP string

	// Port is the remote server TCP port (typically 19020)
	Port int

	// MAC is the probe MAC address from the TXT record, if advertised
	MAC string

	// Nickname is the user-assigned name configured on the probe itself
	Nickname string

	// Product is the probe product string (e.g., "J-Link PRO V4")
	Product string

	// Firmware is the probe firmware identification string
	Firmware string

	// Metadata contains additional mDNS TXT record data
	Metadata map[string]string

	// DiscoveredAt is when the probe was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the probe
func (p *Probe) String() string {
	return fmt.Sprintf("Probe %d (%s) at %s:%d", p.Serial, p.Hostname, p.IP, p.Port)
}

// Addr returns the dialable address of the probe's remote server.
// IPv6 addresses are bracketed.
func (p *Probe) Addr() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (p *Probe) GetMetadata(key string) string {
	if p.Metadata == nil {
		return ""
	}
	return p.Metadata[key]
}
