// Package coproc drives the power lines of the peer cores on multi-core
// devices: the nRF53 network core and the nRF91 modem.
//
// The FORCEOFF control registers live in the application core's POWER
// domain, so a controller always runs on an application-core context and
// becomes unavailable while that core is readback protected. Releasing a
// core boots it; holding it off stops it mid-flight and later memory
// operations against it fail with a coprocessor-disabled error.
package coproc

import (
	"go.uber.org/zap"

	"github.com/nrfprobe/nrfprobe/internal/device"
	"github.com/nrfprobe/nrfprobe/internal/logging"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
)

// Controller toggles coprocessor power domains through the application
// core.
type Controller struct {
	ctx *device.Context
	log *zap.Logger
}

// New returns a coprocessor controller for a connected application core.
func New(ctx *device.Context) *Controller {
	return &Controller{ctx: ctx, log: logging.GetLogger()}
}

// IsEnabled reads the FORCEOFF register of the named coprocessor. A zero
// register means the core is released and running.
func (c *Controller) IsEnabled(cp nrf.CoProcessor) (bool, error) {
	reg, err := c.forceOffReg(cp, "is_coprocessor_enabled")
	if err != nil {
		return false, err
	}
	v, err := c.ctx.ReadU32(reg)
	if err != nil {
		return false, err
	}
	return v == 0, nil
}

// Enable releases the coprocessor from its force-off state and lets it
// boot.
func (c *Controller) Enable(cp nrf.CoProcessor) error {
	reg, err := c.forceOffReg(cp, "enable_coprocessor")
	if err != nil {
		return err
	}
	if err := c.ctx.WriteU32(reg, 0); err != nil {
		return err
	}
	c.log.Info("Coprocessor enabled",
		zap.Uint32("serial", c.ctx.Serial()),
		zap.String("coprocessor", cp.String()),
	)
	return nil
}

// Disable forces the coprocessor off.
func (c *Controller) Disable(cp nrf.CoProcessor) error {
	reg, err := c.forceOffReg(cp, "disable_coprocessor")
	if err != nil {
		return err
	}
	if err := c.ctx.WriteU32(reg, 1); err != nil {
		return err
	}
	c.log.Info("Coprocessor disabled",
		zap.Uint32("serial", c.ctx.Serial()),
		zap.String("coprocessor", cp.String()),
	)
	return nil
}

// forceOffReg resolves the FORCEOFF register for a coprocessor, enforcing
// that the controller runs on the application core of a family that has
// the named peer.
func (c *Controller) forceOffReg(cp nrf.CoProcessor, op string) (uint32, error) {
	if c.ctx.Coprocessor() != nrf.CPApplication {
		return 0, nrf.OpError(nrf.CodeInvalidOperation, op,
			"coprocessor power control runs from the application core")
	}
	if cp == nrf.CPApplication {
		return 0, nrf.OpError(nrf.CodeInvalidParameter, op,
			"the application core has no force-off line")
	}
	regs := c.ctx.Layout()
	switch {
	case c.ctx.Family() == nrf.FamilyNRF53 && cp == nrf.CPNetwork:
		return regs.NetworkForceOff, nil
	case c.ctx.Family() == nrf.FamilyNRF91 && cp == nrf.CPModem:
		return regs.ModemForceOff, nil
	}
	return 0, nrf.OpErrorf(nrf.CodeInvalidDeviceForOperation, op,
		"%s has no %s coprocessor", c.ctx.Family(), cp)
}
