package discovery

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type for network debug probes.
	// Ethernet and WiFi probes advertise their remote server as "_jlink._tcp"
	ServiceType = "_jlink._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for probe discovery
	DefaultScanTimeout = 10 * time.Second

	// DefaultPort is the default remote server port for network probes
	DefaultPort = 19020
)

// serialPattern matches network probe hostnames (e.g., "JLink-683999999.local")
var serialPattern = regexp.MustCompile(`^(?:SEGGER-)?JLink-(\d+)\.local\.?$`)

// Scanner handles mDNS probe discovery
type Scanner struct {
	// Timeout is the maximum time to wait for probe discovery
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// ScanForProbes discovers all network-attached probes on the local network
// Returns a list of discovered probes or an error
func (s *Scanner) ScanForProbes() ([]*Probe, error) {
	return s.ScanForProbesWithContext(context.Background())
}

// ScanForProbesWithContext discovers probes with a custom context
func (s *Scanner) ScanForProbesWithContext(ctx context.Context) ([]*Probe, error) {
	// Create a context with timeout
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	// Channel to receive service entries
	entries := make(chan *zeroconf.ServiceEntry)
	probes := make([]*Probe, 0)
	collected := make(chan struct{})

	// Start the resolver
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	// Collect service entries until the resolver closes the channel
	go func() {
		defer close(collected)
		for entry := range entries {
			probe := s.parseServiceEntry(entry)
			if probe != nil {
				probes = append(probes, probe)
			}
		}
	}()

	// Start browsing for probe services
	err = resolver.Browse(ctx, ServiceType, ServiceDomain, entries)
	if err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	// Wait for the scan window to close and the collector to drain
	<-ctx.Done()
	<-collected

	return probes, nil
}

// WaitForProbe waits for a specific probe by serial number
// Returns the probe or an error if not found within timeout
func (s *Scanner) WaitForProbe(serial uint32) (*Probe, error) {
	return s.WaitForProbeWithContext(context.Background(), serial)
}

// WaitForProbeWithContext waits for a specific probe with a custom context
func (s *Scanner) WaitForProbeWithContext(ctx context.Context, serial uint32) (*Probe, error) {
	// Create a context with timeout
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	// Channel to receive service entries
	entries := make(chan *zeroconf.ServiceEntry)
	probeChan := make(chan *Probe, 1)

	// Start the resolver
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	// Browse for services in a goroutine
	go func() {
		for entry := range entries {
			probe := s.parseServiceEntry(entry)
			if probe != nil && probe.Serial == serial {
				probeChan <- probe
				cancel() // Found the probe, cancel context
				return
			}
		}
	}()

	// Start browsing for probe services
	err = resolver.Browse(ctx, ServiceType, ServiceDomain, entries)
	if err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	// Wait for probe or timeout
	select {
	case probe := <-probeChan:
		return probe, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("probe with serial %d not found within timeout", serial)
	}
}

// parseServiceEntry converts a zeroconf service entry to a Probe
// Returns nil if the entry is not a debug probe
func (s *Scanner) parseServiceEntry(entry *zeroconf.ServiceEntry) *Probe {
	// Parse TXT records into metadata
	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		// TXT records are in "key=value" format
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			// Key without value
			metadata[parts[0]] = ""
		}
	}

	// Serial comes from the hostname (JLink-{serial}.local), with the
	// "sn" TXT record as a fallback for probes with renamed hostnames
	hostname := entry.HostName
	serialText := ""
	if matches := serialPattern.FindStringSubmatch(hostname); len(matches) >= 2 {
		serialText = matches[1]
	} else if sn := metadata["sn"]; sn != "" {
		serialText = sn
	}
	if serialText == "" {
		return nil
	}

	serial, err := strconv.ParseUint(serialText, 10, 32)
	if err != nil {
		return nil
	}

	// Get IP address (prefer IPv4)
	var ip string
	for _, addr := range entry.AddrIPv4 {
		ip = addr.String()
		break
	}

	// Fallback to IPv6 if no IPv4
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}

	if ip == "" {
		return nil
	}

	// Get port (default to the remote server port if not specified)
	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	return &Probe{
		Serial:       uint32(serial),
		Hostname:     hostname,
		IP:           ip,
		Port:         port,
		MAC:          metadata["mac"],
		Nickname:     metadata["nick"],
		Product:      metadata["product"],
		Firmware:     metadata["fw"],
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// ScanForProbes is a convenience function to scan for probes with a custom timeout
func ScanForProbes(timeout time.Duration) ([]*Probe, error) {
	scanner := NewScanner()
	scanner.Timeout = timeout
	return scanner.ScanForProbes()
}

// QuickScan performs a fast scan with a 3-second timeout
func QuickScan() ([]*Probe, error) {
	scanner := NewScanner()
	scanner.Timeout = 3 * time.Second
	return scanner.ScanForProbes()
}

// FindProbe searches for a specific probe by serial number with default timeout
func FindProbe(serial uint32) (*Probe, error) {
	scanner := NewScanner()
	return scanner.WaitForProbe(serial)
}
