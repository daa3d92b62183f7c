package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nrfprobe/nrfprobe/internal/nrf"
)

// Version identifies the probe interface library underneath a Driver.
type Version struct {
	Major    int
	Minor    int
	Revision byte
}

func (v Version) String() string {
	if v.Revision == 0 {
		return fmt.Sprintf("%d.%02d", v.Major, v.Minor)
	}
	return fmt.Sprintf("%d.%02d%c", v.Major, v.Minor, v.Revision)
}

// AtLeast compares major.minor, ignoring the revision letter.
func (v Version) AtLeast(min Version) bool {
	if v.Major != min.Major {
		return v.Major > min.Major
	}
	return v.Minor >= min.Minor
}

// MinSupported is the oldest probe library the session layer accepts.
// Anything older fails fast before device interaction starts.
var MinSupported = Version{Major: 7, Minor: 58}

// Enumeration and open failures the engine distinguishes by identity.
var (
	ErrProbeNotFound = errors.New("probe not found")
	ErrProbeInUse    = errors.New("probe is in use by another session")
)

// Target fault sentinels. Conn implementations surface these so the
// engine can map wire-level failures onto result codes with errors.Is.
var (
	// ErrAPProtected reports a transaction refused by the target's debug
	// access-port protection.
	ErrAPProtected = errors.New("access port protected")

	// ErrCoreHeldInReset reports a transaction against a coprocessor core
	// that its sibling holds in reset.
	ErrCoreHeldInReset = errors.New("core is held in reset")

	// ErrBusFault reports an access outside mapped memory or a misaligned
	// peripheral access.
	ErrBusFault = errors.New("target bus fault")

	// ErrNotPowered reports a transaction before the debug power-up
	// handshake completed.
	ErrNotPowered = errors.New("debug domain not powered")
)

// Driver enumerates probes and opens links to them.
type Driver interface {
	// Version reports the backing library version for the compatibility
	// gate.
	Version() (Version, error)

	// Enumerate lists serial numbers of attached USB probes.
	Enumerate() ([]uint32, error)

	// Open claims a probe by serial number. The clock is a request in kHz;
	// the link may run slower if the probe cannot do better. A probe
	// already claimed by another session reports ErrProbeInUse.
	Open(ctx context.Context, serial uint32, clockKHz uint32) (Conn, error)

	// OpenNetwork claims an IP-attached probe by host.
	OpenNetwork(ctx context.Context, host string, clockKHz uint32) (Conn, error)
}

// Conn is one claimed probe. DP/AP and memory primitives address the target;
// ResetProbe and ReplaceFirmware address the probe itself.
type Conn interface {
	Serial() uint32
	FirmwareString() (string, error)
	ClockKHz() uint32

	// SetClockKHz requests a new link speed and returns the speed actually
	// in effect, which is capped at the probe's maximum.
	SetClockKHz(khz uint32) (uint32, error)

	TargetVoltageMV() (uint32, error)

	ReadDP(reg uint8) (uint32, error)
	WriteDP(reg uint8, value uint32) error
	ReadAP(ap, reg uint8) (uint32, error)
	WriteAP(ap, reg uint8, value uint32) error

	// Block memory access through a memory access port.
	ReadMemory(ap uint8, addr uint32, buf []byte) error
	WriteMemory(ap uint8, addr uint32, data []byte) error

	// Core run control through a memory access port.
	Halt(ap uint8) error
	IsHalted(ap uint8) (bool, error)
	Run(ap uint8) error
	Step(ap uint8) error
	ReadRegister(ap uint8, reg nrf.CPURegister) (uint32, error)
	WriteRegister(ap uint8, reg nrf.CPURegister, value uint32) error

	// PinReset pulses the physical reset line for the given hold time.
	PinReset(hold time.Duration) error

	// ResetProbe restarts the probe firmware; ReplaceFirmware forces a
	// probe firmware update. Neither touches the target.
	ResetProbe() error
	ReplaceFirmware() error

	Close() error
}
