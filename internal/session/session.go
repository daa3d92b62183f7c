// Package session is the top level handle over one debug probe and the
// device behind it. A Session owns at most one probe connection and one
// device connection and enforces the ordering between them: probe first,
// then device, then the feature engines (flash, QSPI, RTT, RAM power,
// protection, coprocessor control). Calls made out of order fail with an
// invalid-operation code instead of reaching hardware.
//
// A Session is single threaded. Callers that want parallelism open one
// Session per probe; two Sessions must never address the same probe.
package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/nrfprobe/nrfprobe/internal/coproc"
	"github.com/nrfprobe/nrfprobe/internal/device"
	"github.com/nrfprobe/nrfprobe/internal/flash"
	"github.com/nrfprobe/nrfprobe/internal/logging"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/probe"
	"github.com/nrfprobe/nrfprobe/internal/protect"
	"github.com/nrfprobe/nrfprobe/internal/qspi"
	"github.com/nrfprobe/nrfprobe/internal/rampower"
	"github.com/nrfprobe/nrfprobe/internal/rtt"
	"github.com/nrfprobe/nrfprobe/internal/transport"
)

// ErrAmbiguousProbe reports that Connect was asked to pick "any" probe
// while more than one is attached. Callers resolve it by passing an
// explicit serial number.
var ErrAmbiguousProbe = errors.New("more than one probe attached")

// Option adjusts a Session at construction.
type Option func(*Session)

// WithLogger routes session logging to the given logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithProgress installs a callback receiving coarse phase strings during
// long operations. The callback must not call back into the Session.
func WithProgress(fn func(string)) Option {
	return func(s *Session) { s.progress = fn }
}

// WithClockKHz requests an SWD clock for the probe connection. Out of
// range values clamp, unsupported values degrade to the probe maximum.
func WithClockKHz(khz uint32) Option {
	return func(s *Session) { s.clockKHz = khz }
}

// WithFamily opens the session for one concrete device family. Connecting
// to a device of a different family fails instead of re-dispatching.
func WithFamily(f nrf.Family) Option {
	return func(s *Session) { s.family = f }
}

// WithCoprocessor selects the core to debug on multi-core parts. The
// selection is validated against the core's power state when the device
// connection is made.
func WithCoprocessor(cp nrf.CoProcessor) Option {
	return func(s *Session) { s.cp = cp }
}

// WithControlBlockHint pins the RTT control block search to one RAM
// address instead of scanning.
func WithControlBlockHint(addr uint32) Option {
	return func(s *Session) { s.rttHint = addr }
}

// Session is the root handle. The zero value is not usable; construct
// with New.
type Session struct {
	drv      transport.Driver
	log      *zap.Logger
	progress func(string)
	clockKHz uint32
	family   nrf.Family
	cp       nrf.CoProcessor
	rttHint  uint32
	closed   bool

	pc  *probe.Connection
	dev *device.Context

	prot   *protect.Controller
	ram    *rampower.Controller
	flash  *flash.Programmer
	qspi   *qspi.Controller
	rtt    *rtt.Controller
	coproc *coproc.Controller
}

// New builds a Session over a probe driver. The driver's interface
// version is checked here so an outdated probe library fails before any
// hardware is touched.
func New(drv transport.Driver, opts ...Option) (*Session, error) {
	if err := probe.CheckVersion(drv); err != nil {
		return nil, err
	}
	s := &Session{
		drv:     drv,
		log:     logging.GetLogger(),
		family:  nrf.FamilyAuto,
		cp:      nrf.CPApplication,
		rttHint: nrf.InvalidAddress,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Enumerate lists the serial numbers of all attached probes.
func (s *Session) Enumerate() ([]uint32, error) {
	if err := s.requireOpen("enumerate"); err != nil {
		return nil, err
	}
	return probe.Enumerate(s.drv)
}

// Connect claims a probe. Serial zero means "any": it resolves to the
// single attached probe, or fails when there are none or several.
func (s *Session) Connect(ctx context.Context, serial uint32) error {
	if err := s.requireOpen("connect"); err != nil {
		return err
	}
	if s.pc != nil {
		return nrf.OpError(nrf.CodeInvalidOperation, "connect", "already connected to a probe")
	}
	if serial == 0 {
		resolved, err := s.resolveAny()
		if err != nil {
			return err
		}
		serial = resolved
	}
	pc, err := probe.Open(ctx, s.drv, serial, probe.Options{ClockKHz: s.clockKHz, Logger: s.log})
	if err != nil {
		return err
	}
	s.pc = pc
	return nil
}

// ConnectNetwork claims a probe reachable over IP, as found by network
// discovery.
func (s *Session) ConnectNetwork(ctx context.Context, host string) error {
	if err := s.requireOpen("connect"); err != nil {
		return err
	}
	if s.pc != nil {
		return nrf.OpError(nrf.CodeInvalidOperation, "connect", "already connected to a probe")
	}
	pc, err := probe.OpenNetwork(ctx, s.drv, host, probe.Options{ClockKHz: s.clockKHz, Logger: s.log})
	if err != nil {
		return err
	}
	s.pc = pc
	return nil
}

func (s *Session) resolveAny() (uint32, error) {
	serials, err := probe.Enumerate(s.drv)
	if err != nil {
		return 0, err
	}
	switch len(serials) {
	case 0:
		return 0, nrf.OpError(nrf.CodeNoEmulatorConnected, "connect", "no probes attached")
	case 1:
		return serials[0], nil
	}
	return 0, nrf.OpWrapf(nrf.CodeNoEmulatorConnected, "connect", ErrAmbiguousProbe,
		"%d probes attached, pass a serial number", len(serials))
}

// SelectCoprocessor picks the core the device connection will attach to.
// It must run before ConnectToDevice. Selecting a peer core checks that
// core's power state through the application core; a readback protected
// application core defers that check to the connection itself.
func (s *Session) SelectCoprocessor(cp nrf.CoProcessor) error {
	if err := s.requireOpen("select_coprocessor"); err != nil {
		return err
	}
	if s.dev != nil {
		return nrf.OpError(nrf.CodeInvalidOperation, "select_coprocessor",
			"already connected to the device, disconnect first")
	}
	if s.pc == nil {
		return nrf.OpError(nrf.CodeInvalidOperation, "select_coprocessor", "not connected to a probe")
	}
	if err := s.preflightCoprocessor(cp, "select_coprocessor"); err != nil {
		return err
	}
	s.cp = cp
	return nil
}

// preflightCoprocessor verifies that a peer core is powered before a
// connection is attempted against it. The power registers live in the
// application core, so the check briefly connects there. Protection
// errors do not fail the check; the protected connect path reports them
// in its own terms later.
func (s *Session) preflightCoprocessor(cp nrf.CoProcessor, op string) error {
	switch cp {
	case nrf.CPApplication:
		return nil
	case nrf.CPModem:
		return nrf.OpError(nrf.CodeInvalidDeviceForOperation, op,
			"the modem core is programmed over DFU, not SWD")
	}
	app, err := device.Connect(s.pc, s.family, nrf.CPApplication)
	if err != nil {
		if nrf.IsProtectionError(err) {
			return nil
		}
		return err
	}
	defer app.Disconnect()
	on, err := coproc.New(app).IsEnabled(cp)
	if err != nil {
		if nrf.IsProtectionError(err) {
			return nil
		}
		return err
	}
	if !on {
		return nrf.OpErrorf(nrf.CodeNotAvailableBecauseCoprocessorDisabled, op,
			"the %s core is held in force-off, enable it first", cp)
	}
	return nil
}

// ConnectToDevice powers up the debug interface and identifies the
// target. On success the feature engines become available, and a session
// opened without a concrete family is pinned to the identified one.
func (s *Session) ConnectToDevice() error {
	if err := s.requireOpen("connect_to_device"); err != nil {
		return err
	}
	if s.pc == nil {
		return nrf.OpError(nrf.CodeInvalidOperation, "connect_to_device", "not connected to a probe")
	}
	if s.dev != nil {
		return nrf.OpError(nrf.CodeInvalidOperation, "connect_to_device", "already connected to the device")
	}
	// The selection may predate the probe connection or the core's power
	// state may have changed; re-verify rather than trust it.
	if err := s.preflightCoprocessor(s.cp, "connect_to_device"); err != nil {
		return err
	}

	s.phase("Connecting to device")
	dev, err := device.Connect(s.pc, s.family, s.cp)
	if err != nil {
		return err
	}
	s.dev = dev
	s.family = dev.Family()

	s.prot = protect.New(dev)
	s.ram = rampower.New(dev)
	s.qspi = qspi.New(dev)
	s.flash = flash.New(dev, s.prot, s.qspi)
	s.flash.SetProgress(s.progress)
	s.rtt = rtt.New(dev)
	s.coproc = coproc.New(dev)

	if s.rttHint != nrf.InvalidAddress {
		if err := s.rtt.SetControlBlockAddress(s.rttHint); err != nil {
			s.teardownDevice()
			return err
		}
	}
	return nil
}

// DisconnectFromDevice tears down the device connection and everything
// built on it. Calling it without a device connection is a no-op.
func (s *Session) DisconnectFromDevice() error {
	if err := s.requireOpen("disconnect_from_device"); err != nil {
		return err
	}
	return s.teardownDevice()
}

// teardownDevice unwinds in reverse build order: RTT, QSPI, then the
// debug interface. RTT and QSPI teardown is best effort; an unreachable
// target must not leave the session wedged.
func (s *Session) teardownDevice() error {
	if s.dev == nil {
		return nil
	}
	if s.rtt != nil {
		if err := s.rtt.Stop(); err != nil {
			s.log.Debug("RTT stop during teardown failed", zap.Error(err))
		}
	}
	if s.qspi != nil && s.qspi.Initialized() {
		if err := s.qspi.Uninit(); err != nil {
			s.log.Debug("QSPI uninit during teardown failed", zap.Error(err))
		}
	}
	err := s.dev.Disconnect()
	s.dev = nil
	s.prot = nil
	s.ram = nil
	s.flash = nil
	s.qspi = nil
	s.rtt = nil
	s.coproc = nil
	return err
}

// Disconnect releases the probe, tearing down any device connection
// first. Disconnecting an unconnected session is a no-op.
func (s *Session) Disconnect() error {
	if err := s.requireOpen("disconnect"); err != nil {
		return err
	}
	devErr := s.teardownDevice()
	if s.pc == nil {
		return devErr
	}
	err := s.pc.Close()
	s.pc = nil
	if devErr != nil {
		return devErr
	}
	return err
}

// Close disconnects and retires the Session. Every later call fails with
// an invalid-operation code. Close is idempotent.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	err := s.Disconnect()
	s.closed = true
	return err
}

// IsConnectedToEmulator reports whether a probe is claimed.
func (s *Session) IsConnectedToEmulator() bool { return s.pc != nil }

// IsConnectedToDevice reports whether the debug interface is up.
func (s *Session) IsConnectedToDevice() bool { return s.dev != nil }

// Family returns the session's device family: the one it was opened for,
// the one identified at connect, or the unknown family before either.
func (s *Session) Family() nrf.Family { return s.family }

// Coprocessor returns the selected core.
func (s *Session) Coprocessor() nrf.CoProcessor { return s.cp }

func (s *Session) phase(msg string) {
	s.log.Debug("Session phase", zap.String("phase", msg))
	if s.progress != nil {
		s.progress(msg)
	}
}

func (s *Session) requireOpen(op string) error {
	if s.closed {
		return nrf.OpError(nrf.CodeInvalidOperation, op, "the session is closed")
	}
	return nil
}

func (s *Session) requireProbe(op string) (*probe.Connection, error) {
	if err := s.requireOpen(op); err != nil {
		return nil, err
	}
	if s.pc == nil {
		return nil, nrf.OpError(nrf.CodeInvalidOperation, op, "not connected to a probe")
	}
	return s.pc, nil
}

func (s *Session) requireDevice(op string) error {
	if err := s.requireOpen(op); err != nil {
		return err
	}
	if s.dev == nil {
		return nrf.OpError(nrf.CodeInvalidOperation, op, "not connected to a device")
	}
	return nil
}
