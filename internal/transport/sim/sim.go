package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/transport"
)

// Driver is an in-memory transport.Driver. Probes are registered up
// front with AddProbe and AddNetworkProbe.
type Driver struct {
	mu      sync.Mutex
	version transport.Version
	probes  map[uint32]*Probe
	hosts   map[string]*Probe
}

// DriverOption adjusts a simulated driver.
type DriverOption func(*Driver)

// WithLibraryVersion overrides the version the driver reports. Used to
// exercise the minimum-version gate.
func WithLibraryVersion(v transport.Version) DriverOption {
	return func(d *Driver) { d.version = v }
}

// NewDriver returns a driver with no probes attached.
func NewDriver(opts ...DriverOption) *Driver {
	d := &Driver{
		version: transport.Version{Major: 7, Minor: 94, Revision: 'e'},
		probes:  make(map[uint32]*Probe),
		hosts:   make(map[string]*Probe),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddProbe registers a USB probe and returns it.
func (d *Driver) AddProbe(serial uint32, target *Target) *Probe {
	p := newProbe(serial, target)
	d.mu.Lock()
	d.probes[serial] = p
	d.mu.Unlock()
	return p
}

// AddNetworkProbe registers a probe reachable by hostname and returns it.
func (d *Driver) AddNetworkProbe(host string, serial uint32, target *Target) *Probe {
	p := newProbe(serial, target)
	d.mu.Lock()
	d.hosts[host] = p
	d.probes[serial] = p
	d.mu.Unlock()
	return p
}

// Version implements transport.Driver.
func (d *Driver) Version() (transport.Version, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version, nil
}

// Enumerate implements transport.Driver. Serial numbers come back in
// ascending order.
func (d *Driver) Enumerate() ([]uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	serials := make([]uint32, 0, len(d.probes))
	for s := range d.probes {
		serials = append(serials, s)
	}
	for i := 1; i < len(serials); i++ {
		for j := i; j > 0 && serials[j] < serials[j-1]; j-- {
			serials[j], serials[j-1] = serials[j-1], serials[j]
		}
	}
	return serials, nil
}

// Open implements transport.Driver.
func (d *Driver) Open(_ context.Context, serial uint32, clockKHz uint32) (transport.Conn, error) {
	d.mu.Lock()
	p, ok := d.probes[serial]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: serial %d", transport.ErrProbeNotFound, serial)
	}
	return p.claim(clockKHz)
}

// OpenNetwork implements transport.Driver.
func (d *Driver) OpenNetwork(_ context.Context, host string, clockKHz uint32) (transport.Conn, error) {
	d.mu.Lock()
	p, ok := d.hosts[host]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: host %s", transport.ErrProbeNotFound, host)
	}
	return p.claim(clockKHz)
}

// Probe is one simulated debug probe with an attached target.
type Probe struct {
	mu         sync.Mutex
	serial     uint32
	firmware   string
	maxClock   uint32
	voltageMV  uint32
	target     *Target
	open       bool
	resetCount int
	fwUpdates  int
}

func newProbe(serial uint32, target *Target) *Probe {
	return &Probe{
		serial:    serial,
		firmware:  "J-Link OB-SAM3U128 V3 compiled Apr 16 2025 14:02:41",
		maxClock:  12000,
		voltageMV: 3300,
		target:    target,
	}
}

// SetFirmware overrides the firmware identification string.
func (p *Probe) SetFirmware(s string) {
	p.mu.Lock()
	p.firmware = s
	p.mu.Unlock()
}

// SetMaxClockKHz overrides the fastest SWD clock the probe accepts.
func (p *Probe) SetMaxClockKHz(khz uint32) {
	p.mu.Lock()
	p.maxClock = khz
	p.mu.Unlock()
}

// SetVoltageMV overrides the target supply voltage the probe measures.
func (p *Probe) SetVoltageMV(mv uint32) {
	p.mu.Lock()
	p.voltageMV = mv
	p.mu.Unlock()
}

// Target returns the attached target.
func (p *Probe) Target() *Target { return p.target }

// ResetCount reports how many times the probe itself was reset.
func (p *Probe) ResetCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resetCount
}

// FirmwareUpdates reports how many firmware replacements ran.
func (p *Probe) FirmwareUpdates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fwUpdates
}

func (p *Probe) claim(clockKHz uint32) (*Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		return nil, fmt.Errorf("%w: serial %d", transport.ErrProbeInUse, p.serial)
	}
	if clockKHz == 0 || clockKHz > p.maxClock {
		clockKHz = p.maxClock
	}
	p.open = true
	return &Conn{probe: p, clockKHz: clockKHz}, nil
}

// Conn is a claimed connection to a simulated probe.
type Conn struct {
	mu       sync.Mutex
	probe    *Probe
	clockKHz uint32
	closed   bool
}

var _ transport.Conn = (*Conn)(nil)

// Serial implements transport.Conn.
func (c *Conn) Serial() uint32 { return c.probe.serial }

// FirmwareString implements transport.Conn.
func (c *Conn) FirmwareString() (string, error) {
	if err := c.live(); err != nil {
		return "", err
	}
	c.probe.mu.Lock()
	defer c.probe.mu.Unlock()
	return c.probe.firmware, nil
}

// ClockKHz implements transport.Conn.
func (c *Conn) ClockKHz() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clockKHz
}

// SetClockKHz implements transport.Conn.
func (c *Conn) SetClockKHz(khz uint32) (uint32, error) {
	if err := c.live(); err != nil {
		return 0, err
	}
	c.probe.mu.Lock()
	max := c.probe.maxClock
	c.probe.mu.Unlock()
	if khz == 0 || khz > max {
		khz = max
	}
	c.mu.Lock()
	c.clockKHz = khz
	c.mu.Unlock()
	return khz, nil
}

// TargetVoltageMV implements transport.Conn.
func (c *Conn) TargetVoltageMV() (uint32, error) {
	if err := c.live(); err != nil {
		return 0, err
	}
	c.probe.mu.Lock()
	defer c.probe.mu.Unlock()
	return c.probe.voltageMV, nil
}

// ReadDP implements transport.Conn.
func (c *Conn) ReadDP(reg uint8) (uint32, error) {
	if err := c.live(); err != nil {
		return 0, err
	}
	return c.probe.target.readDP(reg)
}

// WriteDP implements transport.Conn.
func (c *Conn) WriteDP(reg uint8, value uint32) error {
	if err := c.live(); err != nil {
		return err
	}
	return c.probe.target.writeDP(reg, value)
}

// ReadAP implements transport.Conn.
func (c *Conn) ReadAP(ap, reg uint8) (uint32, error) {
	if err := c.live(); err != nil {
		return 0, err
	}
	return c.probe.target.readAP(ap, reg)
}

// WriteAP implements transport.Conn.
func (c *Conn) WriteAP(ap, reg uint8, value uint32) error {
	if err := c.live(); err != nil {
		return err
	}
	return c.probe.target.writeAP(ap, reg, value)
}

// ReadMemory implements transport.Conn.
func (c *Conn) ReadMemory(ap uint8, addr uint32, buf []byte) error {
	if err := c.live(); err != nil {
		return err
	}
	return c.probe.target.readMemory(ap, addr, buf)
}

// WriteMemory implements transport.Conn.
func (c *Conn) WriteMemory(ap uint8, addr uint32, data []byte) error {
	if err := c.live(); err != nil {
		return err
	}
	return c.probe.target.writeMemory(ap, addr, data)
}

// Halt implements transport.Conn.
func (c *Conn) Halt(ap uint8) error {
	if err := c.live(); err != nil {
		return err
	}
	return c.probe.target.halt(ap)
}

// IsHalted implements transport.Conn.
func (c *Conn) IsHalted(ap uint8) (bool, error) {
	if err := c.live(); err != nil {
		return false, err
	}
	return c.probe.target.isHalted(ap)
}

// Run implements transport.Conn.
func (c *Conn) Run(ap uint8) error {
	if err := c.live(); err != nil {
		return err
	}
	return c.probe.target.run(ap)
}

// Step implements transport.Conn.
func (c *Conn) Step(ap uint8) error {
	if err := c.live(); err != nil {
		return err
	}
	return c.probe.target.step(ap)
}

// ReadRegister implements transport.Conn.
func (c *Conn) ReadRegister(ap uint8, reg nrf.CPURegister) (uint32, error) {
	if err := c.live(); err != nil {
		return 0, err
	}
	return c.probe.target.readRegister(ap, reg)
}

// WriteRegister implements transport.Conn.
func (c *Conn) WriteRegister(ap uint8, reg nrf.CPURegister, value uint32) error {
	if err := c.live(); err != nil {
		return err
	}
	return c.probe.target.writeRegister(ap, reg, value)
}

// PinReset implements transport.Conn.
func (c *Conn) PinReset(hold time.Duration) error {
	if err := c.live(); err != nil {
		return err
	}
	_ = hold
	return c.probe.target.pinReset()
}

// ResetProbe implements transport.Conn.
func (c *Conn) ResetProbe() error {
	if err := c.live(); err != nil {
		return err
	}
	c.probe.mu.Lock()
	c.probe.resetCount++
	c.probe.mu.Unlock()
	return nil
}

// ReplaceFirmware implements transport.Conn.
func (c *Conn) ReplaceFirmware() error {
	if err := c.live(); err != nil {
		return err
	}
	c.probe.mu.Lock()
	c.probe.fwUpdates++
	c.probe.mu.Unlock()
	return nil
}

// Close implements transport.Conn. Closing twice is harmless.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.probe.mu.Lock()
	c.probe.open = false
	c.probe.mu.Unlock()
	return nil
}

func (c *Conn) live() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("sim: connection closed")
	}
	return nil
}
