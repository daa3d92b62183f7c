package probe

import (
	"context"
	"sort"
	"time"

	"github.com/nrfprobe/nrfprobe/internal/discovery"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
)

// NetProbeInfo describes a probe reachable over IP rather than USB.
type NetProbeInfo struct {
	// SerialNumber is the probe serial number.
	SerialNumber uint32
	// IP is the probe's address, IPv4 preferred.
	IP string
	// Port is the probe's remote server TCP port.
	Port int
	// MAC is the probe's hardware address, when advertised.
	MAC string
	// Nickname is the name configured on the probe itself.
	Nickname string
	// Product identifies the probe model.
	Product string
	// Firmware is the probe firmware identification string.
	Firmware string
}

// scanNetwork is swapped out in tests.
var scanNetwork = func(ctx context.Context, timeout time.Duration) ([]*discovery.Probe, error) {
	scanner := discovery.NewScanner()
	if timeout > 0 {
		scanner.Timeout = timeout
	}
	return scanner.ScanForProbesWithContext(ctx)
}

// DiscoverNetwork scans the local network for IP-attached probes and
// returns them ordered by serial number. A zero timeout uses the
// scanner default.
func DiscoverNetwork(ctx context.Context, timeout time.Duration) ([]NetProbeInfo, error) {
	found, err := scanNetwork(ctx, timeout)
	if err != nil {
		return nil, nrf.OpWrapf(nrf.CodeProbeLibFailed, "discover_network", err,
			"network probe discovery failed")
	}

	seen := make(map[uint32]bool, len(found))
	infos := make([]NetProbeInfo, 0, len(found))
	for _, p := range found {
		// mDNS answers repeat across interfaces; keep the first
		if seen[p.Serial] {
			continue
		}
		seen[p.Serial] = true
		infos = append(infos, NetProbeInfo{
			SerialNumber: p.Serial,
			IP:           p.IP,
			Port:         p.Port,
			MAC:          p.MAC,
			Nickname:     p.Nickname,
			Product:      p.Product,
			Firmware:     p.Firmware,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].SerialNumber < infos[j].SerialNumber })
	return infos, nil
}
