// Package rampower controls the power gates of the device RAM sections.
//
// Section count and size are fixed per device; the power state is the
// mutable part. The gates only cut power, they do not touch retention
// configuration, so repowering a section brings it back zeroed but
// functional. Reads and writes into an unpowered section fail with
// RAM_IS_OFF_ERROR at the memory layer rather than returning garbage.
package rampower

import (
	"go.uber.org/zap"

	"github.com/nrfprobe/nrfprobe/internal/device"
	"github.com/nrfprobe/nrfprobe/internal/logging"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
)

// Controller reads and mutates the RAM section power gates of one core.
type Controller struct {
	ctx *device.Context
	log *zap.Logger
}

// New returns a RAM power controller for a connected device.
func New(ctx *device.Context) *Controller {
	return &Controller{ctx: ctx, log: logging.GetLogger()}
}

// Count returns the number of RAM sections.
func (r *Controller) Count() (uint32, error) {
	return r.ctx.RAMSectionCount()
}

// SectionSize returns the uniform size of one RAM section in bytes.
func (r *Controller) SectionSize() (uint32, error) {
	return r.ctx.RAMSectionSize()
}

// Status reads the power state of every section from the POWER registers.
func (r *Controller) Status() ([]nrf.RamPowerState, error) {
	count, err := r.ctx.RAMSectionCount()
	if err != nil {
		return nil, err
	}
	states := make([]nrf.RamPowerState, count)
	for i := uint32(0); i < count; i++ {
		states[i], err = r.ctx.RAMSectionPowered(i)
		if err != nil {
			return nil, err
		}
	}
	return states, nil
}

// IsRAMPowered returns the per-section power states together with the
// section count and section size, the three views in one read.
func (r *Controller) IsRAMPowered() ([]nrf.RamPowerState, uint32, uint32, error) {
	states, err := r.Status()
	if err != nil {
		return nil, 0, 0, err
	}
	size, err := r.ctx.RAMSectionSize()
	if err != nil {
		return nil, 0, 0, err
	}
	return states, uint32(len(states)), size, nil
}

// PowerAll turns every RAM section on.
func (r *Controller) PowerAll() error {
	count, err := r.ctx.RAMSectionCount()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		if err := r.setSection(i, true); err != nil {
			return err
		}
	}
	r.log.Debug("All RAM sections powered",
		zap.Uint32("serial", r.ctx.Serial()),
		zap.Uint32("sections", count),
	)
	return nil
}

// UnpowerSection turns one RAM section off. Its contents are lost.
func (r *Controller) UnpowerSection(section uint32) error {
	count, err := r.ctx.RAMSectionCount()
	if err != nil {
		return err
	}
	if section >= count {
		return nrf.OpErrorf(nrf.CodeInvalidParameter, "unpower_ram_section",
			"section %d out of range, device has %d", section, count)
	}
	if err := r.setSection(section, false); err != nil {
		return err
	}
	r.log.Debug("RAM section unpowered",
		zap.Uint32("serial", r.ctx.Serial()),
		zap.Uint32("section", section),
	)
	return nil
}

// setSection flips one power gate. nRF51 packs two sections per RAMON
// register bit field; later families have one register per section.
func (r *Controller) setSection(section uint32, on bool) error {
	regs := r.ctx.Layout()
	if r.ctx.Family() == nrf.FamilyNRF51 {
		addr, bit := regs.RAMOnAddr, section
		if section >= 2 {
			addr, bit = regs.RAMOnBAddr, section-2
		}
		v, err := r.ctx.ReadU32(addr)
		if err != nil {
			return err
		}
		if on {
			v |= 1 << bit
		} else {
			v &^= 1 << bit
		}
		return r.ctx.WriteU32(addr, v)
	}
	var v uint32
	if on {
		v = 1
	}
	return r.ctx.WriteU32(regs.RAMPowerBase+section*regs.RAMPowerStride, v)
}
