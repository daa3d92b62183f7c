// Package discovery provides mDNS-based discovery of network-attached debug probes.
//
// This package implements multicast DNS (mDNS) service discovery to automatically
// locate Ethernet and WiFi debug probes on the local network. Network probes
// advertise their remote server using the "_jlink._tcp" service type.
//
// # Discovery Process
//
// The discovery process works as follows:
//  1. Broadcasts mDNS queries on the local network
//  2. Listens for service advertisements from network probes
//  3. Filters responses to identify probe-specific services
//  4. Collects probe information (hostname, IP, serial number, firmware string)
//  5. Returns a list of discovered probes after the timeout period
//
// # Usage Example
//
//	// Discover probes with 10-second timeout
//	probes, err := discovery.ScanForProbes(10 * time.Second)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Print discovered probes
//	for _, probe := range probes {
//	    fmt.Printf("Found: %s at %s (Serial: %d)\n",
//	        probe.Hostname, probe.IP, probe.Serial)
//	}
//
// # Probe Information
//
// Each discovered probe includes:
//   - Hostname: Probe's network hostname (e.g., "JLink-683999999.local")
//   - IP: IPv4 address
//   - Port: Remote server TCP port (typically 19020)
//   - Serial: Probe serial number
//   - Firmware: Probe firmware identification string
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Probes must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
//
// # Thread Safety
//
// This package is safe for concurrent use. Multiple discovery sessions can run
// simultaneously without interference.
package discovery
