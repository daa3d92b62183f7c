package probe

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/nrfprobe/nrfprobe/internal/logging"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/transport"
)

// SWD clock limits in kHz. Requests outside the range clamp instead of
// failing, matching how the programmer tools treat out-of-range speeds.
const (
	MinClockKHz     uint32 = 125
	MaxClockKHz     uint32 = 50000
	DefaultClockKHz uint32 = 2000
)

// ClampClockKHz maps a requested SWD clock to the speed the engine will
// ask the probe for. Zero selects the default.
func ClampClockKHz(khz uint32) uint32 {
	switch {
	case khz == 0:
		return DefaultClockKHz
	case khz < MinClockKHz:
		return MinClockKHz
	case khz > MaxClockKHz:
		return MaxClockKHz
	}
	return khz
}

// Options adjust how a probe is claimed.
type Options struct {
	// ClockKHz is the requested SWD clock, clamped per ClampClockKHz.
	ClockKHz uint32
	// Logger receives probe lifecycle events. Nil means the package logger.
	Logger *zap.Logger
}

// Connection is one claimed probe. All methods are safe for concurrent
// use; Close is idempotent.
type Connection struct {
	mu     sync.Mutex
	conn   transport.Conn
	log    *zap.Logger
	serial uint32
	closed bool
}

// Enumerate lists the serial numbers of all attached probes, after
// checking the probe library version. An empty result is not an error.
func Enumerate(drv transport.Driver) ([]uint32, error) {
	if err := CheckVersion(drv); err != nil {
		return nil, err
	}
	serials, err := drv.Enumerate()
	if err != nil {
		return nil, nrf.OpWrapf(nrf.CodeProbeLibFailed, "enumerate", err, "probe enumeration failed")
	}
	return serials, nil
}

// Open claims the probe with the given serial number.
func Open(ctx context.Context, drv transport.Driver, serial uint32, opts Options) (*Connection, error) {
	if err := CheckVersion(drv); err != nil {
		return nil, err
	}
	clock := ClampClockKHz(opts.ClockKHz)
	conn, err := drv.Open(ctx, serial, clock)
	if err != nil {
		return nil, openError("open", err)
	}
	return newConnection(conn, opts), nil
}

// OpenNetwork claims a probe reachable over IP.
func OpenNetwork(ctx context.Context, drv transport.Driver, host string, opts Options) (*Connection, error) {
	if err := CheckVersion(drv); err != nil {
		return nil, err
	}
	clock := ClampClockKHz(opts.ClockKHz)
	conn, err := drv.OpenNetwork(ctx, host, clock)
	if err != nil {
		return nil, openError("open_network", err)
	}
	return newConnection(conn, opts), nil
}

func newConnection(conn transport.Conn, opts Options) *Connection {
	log := opts.Logger
	if log == nil {
		log = logging.GetLogger()
	}
	c := &Connection{conn: conn, log: log, serial: conn.Serial()}
	c.log.Info("Probe claimed",
		zap.Uint32("serial", c.serial),
		zap.Uint32("clock_khz", conn.ClockKHz()),
	)
	return c
}

func openError(op string, err error) error {
	switch {
	case errors.Is(err, transport.ErrProbeNotFound):
		return nrf.OpWrapf(nrf.CodeEmulatorNotConnected, op, err, "probe not attached")
	case errors.Is(err, transport.ErrProbeInUse):
		return nrf.OpWrapf(nrf.CodeCannotConnect, op, err, "probe claimed by another session")
	}
	return nrf.OpWrapf(nrf.CodeProbeLibFailed, op, err, "probe open failed")
}

// CheckVersion verifies the probe library meets the minimum supported
// interface version. Every entry point runs it before touching hardware.
func CheckVersion(drv transport.Driver) error {
	v, err := drv.Version()
	if err != nil {
		return nrf.OpWrapf(nrf.CodeProbeLibNotFound, "version", err, "probe library unavailable")
	}
	if !v.AtLeast(transport.MinSupported) {
		return nrf.OpErrorf(nrf.CodeProbeLibTooOld, "version",
			"probe library %s older than required %s", v, transport.MinSupported)
	}
	return nil
}

// Serial returns the claimed probe's serial number.
func (c *Connection) Serial() uint32 { return c.serial }

// Transport exposes the underlying wire connection for the target layers.
func (c *Connection) Transport() transport.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// FirmwareString returns the probe's firmware identification string.
func (c *Connection) FirmwareString() (string, error) {
	conn, err := c.live()
	if err != nil {
		return "", err
	}
	s, err := conn.FirmwareString()
	if err != nil {
		return "", nrf.OpWrapf(nrf.CodeProbeLibFailed, "firmware_string", err, "firmware string read failed")
	}
	return s, nil
}

// ClockKHz returns the SWD clock currently in effect.
func (c *Connection) ClockKHz() (uint32, error) {
	conn, err := c.live()
	if err != nil {
		return 0, err
	}
	return conn.ClockKHz(), nil
}

// SetClockKHz changes the SWD clock and returns the speed the probe
// actually selected.
func (c *Connection) SetClockKHz(khz uint32) (uint32, error) {
	conn, err := c.live()
	if err != nil {
		return 0, err
	}
	actual, err := conn.SetClockKHz(ClampClockKHz(khz))
	if err != nil {
		return 0, nrf.OpWrapf(nrf.CodeProbeLibFailed, "set_clock", err, "clock change failed")
	}
	return actual, nil
}

// TargetVoltageMV reads the supply voltage the probe measures on the
// target side.
func (c *Connection) TargetVoltageMV() (uint32, error) {
	conn, err := c.live()
	if err != nil {
		return 0, err
	}
	mv, err := conn.TargetVoltageMV()
	if err != nil {
		return 0, nrf.OpWrapf(nrf.CodeProbeReadError, "target_voltage", err, "voltage read failed")
	}
	return mv, nil
}

// Reset restarts the probe hardware itself, not the target.
func (c *Connection) Reset() error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	if err := conn.ResetProbe(); err != nil {
		return nrf.OpWrapf(nrf.CodeProbeLibFailed, "reset_probe", err, "probe reset failed")
	}
	logging.LogProbe(c.serial, "reset")
	return nil
}

// ReplaceFirmware reflashes the probe with the firmware bundled in the
// probe library.
func (c *Connection) ReplaceFirmware() error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	if err := conn.ReplaceFirmware(); err != nil {
		return nrf.OpWrapf(nrf.CodeProbeLibFailed, "replace_firmware", err, "firmware replacement failed")
	}
	logging.LogProbe(c.serial, "firmware_replaced")
	return nil
}

// Close releases the probe. Closing an already-closed connection is a
// no-op so teardown paths can call it unconditionally.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.conn.Close()
	c.log.Info("Probe released", zap.Uint32("serial", c.serial))
	if err != nil {
		return nrf.OpWrapf(nrf.CodeProbeLibFailed, "close", err, "probe release failed")
	}
	return nil
}

func (c *Connection) live() (transport.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nrf.OpError(nrf.CodeInvalidOperation, "probe", "connection is closed")
	}
	return c.conn, nil
}
