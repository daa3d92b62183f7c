package device

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/nrfprobe/nrfprobe/internal/catalog"
	"github.com/nrfprobe/nrfprobe/internal/logging"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/probe"
	"github.com/nrfprobe/nrfprobe/internal/transport"
)

// MinTargetVoltageMV is the supply level below which connect refuses to
// drive the debug port at all.
const MinTargetVoltageMV uint32 = 1700

// dpAbortClearAll clears every sticky error flag before the power-up
// handshake so a previous session's faults cannot leak into this one.
const dpAbortClearAll uint32 = 0x0000001E

// powerUpPolls bounds the CTRL/STAT acknowledge wait.
const powerUpPolls = 100

// Context is the debug connection to one core of one device. It is
// created by Connect against an already-claimed probe and stays valid
// until Disconnect; the probe connection outlives it.
type Context struct {
	mu        sync.Mutex
	conn      transport.Conn
	log       *zap.Logger
	cat       *catalog.Catalog
	serial    uint32
	family    nrf.Family
	cp        nrf.CoProcessor
	regs      catalog.CoreRegs
	aps       catalog.APLayout
	connected bool

	// autoProbed records whether the family came from IDR probing rather
	// than the session opener; ReadDeviceFamily is only legal then.
	autoProbed bool

	info *Info
}

// Connect powers up the debug domain and identifies the attached device.
// The requested family may be a concrete family, which is verified
// against the silicon, or FamilyAuto/FamilyUnknown to identify and pin
// whatever answers. The coprocessor selects the core on multi-core parts
// and must name a core the family actually has.
func Connect(pc *probe.Connection, requested nrf.Family, cp nrf.CoProcessor) (*Context, error) {
	conn := pc.Transport()
	log := logging.GetLogger()

	mv, err := pc.TargetVoltageMV()
	if err != nil {
		return nil, err
	}
	if mv < MinTargetVoltageMV {
		return nil, nrf.OpErrorf(nrf.CodeLowVoltage, "connect",
			"target voltage %d mV is below the %d mV minimum", mv, MinTargetVoltageMV)
	}

	if err := powerUpDebug(conn); err != nil {
		return nil, err
	}

	family, err := identifyFamily(conn)
	if err != nil {
		return nil, err
	}
	if requested.Concrete() && requested != family {
		return nil, nrf.OpErrorf(nrf.CodeWrongFamilyForDevice, "connect",
			"device answered as %s, session was opened for %s", family, requested)
	}
	if err := checkCoprocessor(family, cp); err != nil {
		return nil, err
	}

	regs, ok := catalog.Regs(family, cp)
	if !ok {
		return nil, nrf.OpErrorf(nrf.CodeInternalError, "connect", "no register layout for %s", family)
	}
	aps, _ := catalog.APs(family, cp)

	cat, err := catalog.Load()
	if err != nil {
		return nil, nrf.OpWrapf(nrf.CodeInternalError, "connect", err, "device catalog unavailable")
	}

	c := &Context{
		conn:       conn,
		log:        log,
		cat:        cat,
		serial:     pc.Serial(),
		family:     family,
		cp:         cp,
		regs:       regs,
		aps:        aps,
		connected:  true,
		autoProbed: !requested.Concrete(),
	}
	logging.LogDeviceIdentified(c.serial, family.String(), "")
	log.Info("Debug interface up",
		zap.Uint32("serial", c.serial),
		zap.String("family", family.String()),
		zap.String("coprocessor", cp.String()),
	)
	return c, nil
}

// powerUpDebug runs the standard ADIv5 power-up: clear sticky faults,
// request debug and system power, wait for both acknowledge bits.
func powerUpDebug(conn transport.Conn) error {
	if err := conn.WriteDP(catalog.DPAbort, dpAbortClearAll); err != nil {
		return mapFault("connect", err)
	}
	req := catalog.CDbgPwrUpReq | catalog.CSysPwrUpReq
	if err := conn.WriteDP(catalog.DPCtrlStat, req); err != nil {
		return mapFault("connect", err)
	}
	ack := catalog.CDbgPwrUpAck | catalog.CSysPwrUpAck
	for i := 0; i < powerUpPolls; i++ {
		v, err := conn.ReadDP(catalog.DPCtrlStat)
		if err != nil {
			return mapFault("connect", err)
		}
		if v&ack == ack {
			return nil
		}
	}
	return nrf.OpError(nrf.CodeCannotConnect, "connect", "debug power-up acknowledge timed out")
}

// identifyFamily probes access-port IDR registers until a family answers.
// CTRL-AP IDR values are distinct per family and readable even on a
// protected device, so they go first; nRF51 has no CTRL-AP and is
// recognized by its AHB-AP IDR instead. Unimplemented ports read as zero,
// which rules a family out without faulting.
func identifyFamily(conn transport.Conn) (nrf.Family, error) {
	for _, f := range catalog.FamilyProbeOrder {
		aps, ok := catalog.APs(f, nrf.CPApplication)
		if !ok || !aps.HasCtrlAP {
			continue
		}
		want, ok := catalog.CtrlAPIdr(f)
		if !ok {
			continue
		}
		idr, err := conn.ReadAP(aps.CtrlAP, catalog.APIdr)
		if err != nil {
			return nrf.FamilyUnknown, mapFault("identify", err)
		}
		if idr == want {
			return f, nil
		}
	}
	idr, err := conn.ReadAP(0, catalog.APIdr)
	if err != nil {
		return nrf.FamilyUnknown, mapFault("identify", err)
	}
	if want, ok := catalog.AHBAPIdr(nrf.FamilyNRF51); ok && idr == want {
		return nrf.FamilyNRF51, nil
	}
	return nrf.FamilyUnknown, nrf.OpErrorf(nrf.CodeUnknownDevice, "identify",
		"no known access-port layout answered (AHB-AP IDR %#08x)", idr)
}

func checkCoprocessor(f nrf.Family, cp nrf.CoProcessor) error {
	switch cp {
	case nrf.CPApplication:
		return nil
	case nrf.CPNetwork:
		if f == nrf.FamilyNRF53 {
			return nil
		}
		return nrf.OpErrorf(nrf.CodeInvalidDeviceForOperation, "connect", "%s has no network core", f)
	case nrf.CPModem:
		return nrf.OpError(nrf.CodeInvalidDeviceForOperation, "connect",
			"the modem core is programmed over DFU, not SWD")
	}
	return nrf.OpErrorf(nrf.CodeInvalidParameter, "connect", "unknown coprocessor %d", cp)
}

// MapFault translates a transport-level target fault into its result
// code. Errors that are not target faults report as probe failures.
func MapFault(op string, err error) error {
	return mapFault(op, err)
}

func mapFault(op string, err error) error {
	switch {
	case errors.Is(err, transport.ErrAPProtected):
		return nrf.OpWrapf(nrf.CodeNotAvailableBecauseProtection, op, err,
			"access-port protection is enabled")
	case errors.Is(err, transport.ErrCoreHeldInReset):
		return nrf.OpWrapf(nrf.CodeNotAvailableBecauseCoprocessorDisabled, op, err,
			"the core is held in reset")
	case errors.Is(err, transport.ErrBusFault):
		return nrf.OpWrapf(nrf.CodeInvalidParameter, op, err,
			"address is not mapped on this device")
	case errors.Is(err, transport.ErrNotPowered):
		return nrf.OpWrapf(nrf.CodeInvalidOperation, op, err,
			"debug domain is not powered")
	}
	return nrf.OpWrapf(nrf.CodeProbeLibFailed, op, err, "probe transaction failed")
}

// Disconnect powers the debug domain back down. Calling it on an already
// disconnected context is a no-op so teardown can run unconditionally.
func (c *Context) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.connected = false
	if err := c.conn.WriteDP(catalog.DPCtrlStat, 0); err != nil {
		c.log.Debug("Debug power-down failed", zap.Error(err))
	}
	c.log.Info("Device disconnected", zap.Uint32("serial", c.serial))
	return nil
}

// Connected reports whether the debug connection is still up.
func (c *Context) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Family returns the identified device family.
func (c *Context) Family() nrf.Family { return c.family }

// Coprocessor returns the core this context addresses.
func (c *Context) Coprocessor() nrf.CoProcessor { return c.cp }

// Serial returns the probe serial the context runs through.
func (c *Context) Serial() uint32 { return c.serial }

// Layout returns the register address layout of the selected core.
func (c *Context) Layout() catalog.CoreRegs { return c.regs }

// AccessPorts returns the access-port arrangement of the selected core.
func (c *Context) AccessPorts() catalog.APLayout { return c.aps }

// Catalog returns the device knowledge base the context classifies with.
func (c *Context) Catalog() *catalog.Catalog { return c.cat }

// Transport exposes the wire connection for layers that need access ports
// of other cores, such as the coprocessor controller.
func (c *Context) Transport() transport.Conn { return c.conn }

// ReadDeviceFamily returns the probed family. It is only legal on a
// session opened without a concrete family; fixed-family sessions already
// know and must not ask.
func (c *Context) ReadDeviceFamily() (nrf.Family, error) {
	if _, err := c.live(); err != nil {
		return nrf.FamilyUnknown, err
	}
	if !c.autoProbed {
		return nrf.FamilyUnknown, nrf.OpError(nrf.CodeInvalidOperation, "read_device_family",
			"family was fixed when the session opened")
	}
	return c.family, nil
}

// ReadCtrlAP reads a CTRL-AP register of the selected core.
func (c *Context) ReadCtrlAP(reg uint8) (uint32, error) {
	conn, err := c.live()
	if err != nil {
		return 0, err
	}
	if !c.aps.HasCtrlAP {
		return 0, nrf.OpErrorf(nrf.CodeInvalidDeviceForOperation, "ctrl_ap", "%s has no CTRL-AP", c.family)
	}
	v, err := conn.ReadAP(c.aps.CtrlAP, reg)
	if err != nil {
		return 0, mapFault("ctrl_ap", err)
	}
	return v, nil
}

// WriteCtrlAP writes a CTRL-AP register of the selected core.
func (c *Context) WriteCtrlAP(reg uint8, value uint32) error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	if !c.aps.HasCtrlAP {
		return nrf.OpErrorf(nrf.CodeInvalidDeviceForOperation, "ctrl_ap", "%s has no CTRL-AP", c.family)
	}
	if err := conn.WriteAP(c.aps.CtrlAP, reg, value); err != nil {
		return mapFault("ctrl_ap", err)
	}
	return nil
}

func (c *Context) live() (transport.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, nrf.OpError(nrf.CodeInvalidOperation, "device", "not connected to the device")
	}
	return c.conn, nil
}

// readWord and writeWord are the ungated 32-bit primitives used for
// peripheral registers, where the RAM power pre-check does not apply.
func readWord(conn transport.Conn, ap uint8, addr uint32) (uint32, error) {
	var b [4]byte
	if err := conn.ReadMemory(ap, addr, b[:]); err != nil {
		return 0, mapFault("read_u32", err)
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func writeWord(conn transport.Conn, ap uint8, addr uint32, v uint32) error {
	b := [4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	if err := conn.WriteMemory(ap, addr, b[:]); err != nil {
		return mapFault("write_u32", err)
	}
	return nil
}
