package probe

import (
	"sort"
	"strconv"
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/nrfprobe/nrfprobe/internal/nrf"
)

// MaxCOMPorts bounds how many virtual COM ports one probe reports.
const MaxCOMPorts = 10

// seggerVID is the USB vendor ID SEGGER probes enumerate with.
const seggerVID = "1366"

// COMPortInfo describes one virtual COM port belonging to a probe.
type COMPortInfo struct {
	// Path is the host device path, e.g. /dev/ttyACM0 or COM7.
	Path string
	// VCOMNumber is the zero-based index of the port on its probe.
	VCOMNumber int
	// SerialNumber is the owning probe's serial number.
	SerialNumber uint32
}

// listPorts is swapped out in tests.
var listPorts = enumerator.GetDetailedPortsList

// EnumCOMPorts finds the virtual COM ports exposed by the probe with the
// given serial number. Probes without CDC interfaces yield an empty list.
func EnumCOMPorts(serial uint32) ([]COMPortInfo, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, nrf.OpWrapf(nrf.CodeSerialPortResourceError, "enum_com_ports", err,
			"host serial port enumeration failed")
	}

	var names []string
	for _, p := range ports {
		if sn, ok := probeSerialOf(p); ok && sn == serial {
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)

	if len(names) > MaxCOMPorts {
		names = names[:MaxCOMPorts]
	}
	infos := make([]COMPortInfo, 0, len(names))
	for i, name := range names {
		infos = append(infos, COMPortInfo{Path: name, VCOMNumber: i, SerialNumber: serial})
	}
	return infos, nil
}

// EnumerateWithCOMPorts returns the serial numbers of attached probes
// that expose at least one virtual COM port, in ascending order. A probe
// enumerated over SWD only does not appear here.
func EnumerateWithCOMPorts() ([]uint32, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, nrf.OpWrapf(nrf.CodeSerialPortResourceError, "enum_com_ports", err,
			"host serial port enumeration failed")
	}

	seen := make(map[uint32]bool)
	var serials []uint32
	for _, p := range ports {
		sn, ok := probeSerialOf(p)
		if !ok || seen[sn] {
			continue
		}
		seen[sn] = true
		serials = append(serials, sn)
	}
	sort.Slice(serials, func(i, j int) bool { return serials[i] < serials[j] })
	return serials, nil
}

// probeSerialOf extracts the probe serial from a host port entry, or
// reports false for ports that do not belong to a debug probe.
func probeSerialOf(p *enumerator.PortDetails) (uint32, bool) {
	if !p.IsUSB || !strings.EqualFold(p.VID, seggerVID) {
		return 0, false
	}
	// SEGGER zero-pads the USB serial string, e.g. "000683551234".
	sn, err := strconv.ParseUint(strings.TrimLeft(p.SerialNumber, "0"), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(sn), true
}
