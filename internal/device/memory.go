package device

import (
	"time"

	"go.uber.org/zap"

	"github.com/nrfprobe/nrfprobe/internal/catalog"
	"github.com/nrfprobe/nrfprobe/internal/logging"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/transport"
)

const pinResetHold = 20 * time.Millisecond

// ReadMemory reads len(buf) bytes starting at addr through the core's
// memory access port. Transfers that touch unpowered data RAM fail with
// RAM_IS_OFF_ERROR before any bytes move.
func (c *Context) ReadMemory(addr uint32, buf []byte) error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	if err := c.checkRAMPowered(conn, addr, uint32(len(buf))); err != nil {
		return err
	}
	if err := conn.ReadMemory(c.aps.MemAP, addr, buf); err != nil {
		return mapFault("read", err)
	}
	logging.LogMemoryAccess("read", addr, len(buf))
	return nil
}

// WriteMemory writes data starting at addr. This is the raw rail; NVMC
// sequencing for flash and UICR targets belongs to the flash layer.
func (c *Context) WriteMemory(addr uint32, data []byte) error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	if err := c.checkRAMPowered(conn, addr, uint32(len(data))); err != nil {
		return err
	}
	if err := conn.WriteMemory(c.aps.MemAP, addr, data); err != nil {
		return mapFault("write", err)
	}
	logging.LogMemoryAccess("write", addr, len(data))
	return nil
}

// ReadU32 reads one aligned 32-bit word.
func (c *Context) ReadU32(addr uint32) (uint32, error) {
	if addr%4 != 0 {
		return 0, nrf.OpErrorf(nrf.CodeInvalidParameter, "read_u32", "address %#08x is not word aligned", addr)
	}
	var b [4]byte
	if err := c.ReadMemory(addr, b[:]); err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// WriteU32 writes one aligned 32-bit word.
func (c *Context) WriteU32(addr uint32, value uint32) error {
	if addr%4 != 0 {
		return nrf.OpErrorf(nrf.CodeInvalidParameter, "write_u32", "address %#08x is not word aligned", addr)
	}
	b := [4]byte{byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24)}
	return c.WriteMemory(addr, b[:])
}

// checkRAMPowered fails a transfer that overlaps an unpowered RAM
// section. The power registers themselves live in the peripheral space,
// so the check never recurses. Register read failures are left for the
// transfer itself to report.
func (c *Context) checkRAMPowered(conn transport.Conn, addr, n uint32) error {
	if n == 0 {
		return nil
	}
	info, err := c.ensureInfo()
	if err != nil {
		return nil
	}
	sec := c.ramSectionSize(info)
	if sec == 0 || info.RAMSize == 0 {
		return nil
	}
	for _, base := range []uint32{info.RAMAddress, c.regs.CodeRAM} {
		if base == 0 {
			continue
		}
		lo, hi, ok := intersect(addr, n, base, info.RAMSize)
		if !ok {
			continue
		}
		first := (lo - base) / sec
		last := (hi - 1 - base) / sec
		for s := first; s <= last; s++ {
			on, err := c.ramSectionOn(conn, s)
			if err != nil {
				return nil
			}
			if !on {
				return nrf.OpErrorf(nrf.CodeRAMIsOff, "memory", "RAM section %d is powered off", s)
			}
		}
	}
	return nil
}

// intersect clips [addr, addr+n) against [base, base+size).
func intersect(addr, n, base, size uint32) (lo, hi uint32, ok bool) {
	end := uint64(addr) + uint64(n)
	bend := uint64(base) + uint64(size)
	lo64 := uint64(addr)
	if uint64(base) > lo64 {
		lo64 = uint64(base)
	}
	hi64 := end
	if bend < hi64 {
		hi64 = bend
	}
	if lo64 >= hi64 {
		return 0, 0, false
	}
	return uint32(lo64), uint32(hi64), true
}

// --- CPU run control ---

// Halt stops the core.
func (c *Context) Halt() error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	if err := conn.Halt(c.aps.MemAP); err != nil {
		return mapFault("halt", err)
	}
	return nil
}

// IsHalted reports whether the core is stopped.
func (c *Context) IsHalted() (bool, error) {
	conn, err := c.live()
	if err != nil {
		return false, err
	}
	halted, err := conn.IsHalted(c.aps.MemAP)
	if err != nil {
		return false, mapFault("is_halted", err)
	}
	return halted, nil
}

// Run resumes the core.
func (c *Context) Run() error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	if err := conn.Run(c.aps.MemAP); err != nil {
		return mapFault("run", err)
	}
	return nil
}

// Step executes one instruction. The core must already be halted.
func (c *Context) Step() error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	if err := c.requireHalted(conn, "step"); err != nil {
		return err
	}
	if err := conn.Step(c.aps.MemAP); err != nil {
		return mapFault("step", err)
	}
	return nil
}

// ReadCPURegister reads one core register. The core must be halted.
func (c *Context) ReadCPURegister(reg nrf.CPURegister) (uint32, error) {
	if reg > nrf.RegPSP {
		return 0, nrf.OpErrorf(nrf.CodeInvalidParameter, "read_cpu_register", "no CPU register %d", reg)
	}
	conn, err := c.live()
	if err != nil {
		return 0, err
	}
	if err := c.requireHalted(conn, "read_cpu_register"); err != nil {
		return 0, err
	}
	v, err := conn.ReadRegister(c.aps.MemAP, reg)
	if err != nil {
		return 0, mapFault("read_cpu_register", err)
	}
	return v, nil
}

// WriteCPURegister writes one core register. The core must be halted.
func (c *Context) WriteCPURegister(reg nrf.CPURegister, value uint32) error {
	if reg > nrf.RegPSP {
		return nrf.OpErrorf(nrf.CodeInvalidParameter, "write_cpu_register", "no CPU register %d", reg)
	}
	conn, err := c.live()
	if err != nil {
		return err
	}
	if err := c.requireHalted(conn, "write_cpu_register"); err != nil {
		return err
	}
	if err := conn.WriteRegister(c.aps.MemAP, reg, value); err != nil {
		return mapFault("write_cpu_register", err)
	}
	return nil
}

func (c *Context) requireHalted(conn transport.Conn, op string) error {
	halted, err := conn.IsHalted(c.aps.MemAP)
	if err != nil {
		return mapFault(op, err)
	}
	if !halted {
		return nrf.OpError(nrf.CodeInvalidOperation, op, "the core is running")
	}
	return nil
}

// --- resets ---

// Reset performs the given reset action. ResetNone is a no-op so
// programming option plumbing can pass it straight through.
func (c *Context) Reset(action nrf.ResetAction) error {
	switch action {
	case nrf.ResetNone:
		return nil
	case nrf.ResetSystem:
		return c.ResetSystem()
	case nrf.ResetDebug:
		return c.ResetDebug()
	case nrf.ResetPin, nrf.ResetHard:
		return c.ResetPin()
	}
	return nrf.OpErrorf(nrf.CodeInvalidParameter, "reset", "unknown reset action %d", action)
}

// ResetSystem requests a local core reset through AIRCR. It needs memory
// access, so it is unavailable on a protected device.
func (c *Context) ResetSystem() error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	if err := writeWord(conn, c.aps.MemAP, catalog.SCBAircr, catalog.AircrVectKey|catalog.AircrSysReset); err != nil {
		return err
	}
	c.log.Debug("System reset issued", zap.Uint32("serial", c.serial))
	return nil
}

// ResetDebug strobes the CTRL-AP reset line, which works regardless of
// access-port protection. nRF51 has no CTRL-AP; its debugger reset is the
// AIRCR request.
func (c *Context) ResetDebug() error {
	if !c.aps.HasCtrlAP {
		return c.ResetSystem()
	}
	if err := c.WriteCtrlAP(catalog.CtrlAPReset, 1); err != nil {
		return err
	}
	if err := c.WriteCtrlAP(catalog.CtrlAPReset, 0); err != nil {
		return err
	}
	c.log.Debug("Debug reset issued", zap.Uint32("serial", c.serial))
	return nil
}

// ResetPin pulses the physical reset line.
func (c *Context) ResetPin() error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	if err := conn.PinReset(pinResetHold); err != nil {
		return mapFault("pin_reset", err)
	}
	c.log.Debug("Pin reset issued", zap.Uint32("serial", c.serial))
	return nil
}
