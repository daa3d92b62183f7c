// Package protect manages the readback and erase protection of a device:
// reading the latched protection level, raising it, and recovering a
// protected device back to factory state.
//
// Protection state is never cached. Firmware can write the UICR protection
// words and reset underneath a debug session, so every legality answer is
// re-read from hardware at the time of the question.
package protect

import (
	"time"

	"go.uber.org/zap"

	"github.com/nrfprobe/nrfprobe/internal/catalog"
	"github.com/nrfprobe/nrfprobe/internal/device"
	"github.com/nrfprobe/nrfprobe/internal/logging"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
)

const (
	// recoverTimeout bounds the CTRL-AP erase-all status poll. The data
	// sheet puts the worst case well under this.
	recoverTimeout = 30 * time.Second
	recoverPoll    = 100 * time.Millisecond
)

// Controller mutates and reports the protection state of one device core.
type Controller struct {
	ctx *device.Context
	log *zap.Logger
}

// New returns a protection controller for a connected device.
func New(ctx *device.Context) *Controller {
	return &Controller{ctx: ctx, log: logging.GetLogger()}
}

// ReadbackStatus reads the protection level currently enforced by the
// debug port. On nRF52 and later the CTRL-AP status register answers even
// when the memory access port is dead; on nRF51 the always-readable UICR
// RBPCONF word holds the same information.
func (p *Controller) ReadbackStatus() (nrf.ReadbackProtection, error) {
	if p.ctx.Family() == nrf.FamilyNRF51 {
		return p.statusNRF51()
	}
	v, err := p.ctx.ReadCtrlAP(catalog.CtrlAPApprotectStatus)
	if err != nil {
		return nrf.ProtectionNone, err
	}
	switch {
	case v&catalog.SecureApprotectEnabled != 0:
		return nrf.ProtectionSecure, nil
	case v&catalog.ApprotectEnabled != 0:
		return nrf.ProtectionAll, nil
	}
	return nrf.ProtectionNone, nil
}

func (p *Controller) statusNRF51() (nrf.ReadbackProtection, error) {
	conf, err := p.ctx.ReadU32(p.ctx.Layout().UICR + catalog.UICRRBPConf)
	if err != nil {
		return nrf.ProtectionNone, err
	}
	region0 := conf&catalog.RBPConfPR0Mask != catalog.RBPConfPR0Mask
	all := conf&catalog.RBPConfPAllMask != catalog.RBPConfPAllMask
	switch {
	case region0 && all:
		return nrf.ProtectionBoth, nil
	case all:
		return nrf.ProtectionAll, nil
	case region0:
		return nrf.ProtectionRegion0, nil
	}
	return nrf.ProtectionNone, nil
}

// allowedLevels returns the protection levels a family can latch.
func allowedLevels(f nrf.Family) []nrf.ReadbackProtection {
	switch f {
	case nrf.FamilyNRF51:
		return []nrf.ReadbackProtection{nrf.ProtectionRegion0, nrf.ProtectionAll, nrf.ProtectionBoth}
	case nrf.FamilyNRF52:
		return []nrf.ReadbackProtection{nrf.ProtectionAll}
	case nrf.FamilyNRF53, nrf.FamilyNRF91:
		return []nrf.ReadbackProtection{nrf.ProtectionAll, nrf.ProtectionSecure}
	}
	return nil
}

// Protect writes the protection words to the UICR and resets the core so
// the hardware latches them. A successful call kills the memory access
// port: every later memory operation fails with a protection error until
// Recover clears the device. Levels are family-specific; nRF51 accepts
// REGION_0, ALL and BOTH, nRF52 only ALL, nRF53 and nRF91 ALL and SECURE.
func (p *Controller) Protect(level nrf.ReadbackProtection) error {
	legal := false
	for _, l := range allowedLevels(p.ctx.Family()) {
		if l == level {
			legal = true
			break
		}
	}
	if !legal {
		return nrf.OpErrorf(nrf.CodeInvalidParameter, "readback_protect",
			"%s does not support protection level %s", p.ctx.Family(), level)
	}

	var err error
	if p.ctx.Family() == nrf.FamilyNRF51 {
		err = p.protectNRF51(level)
	} else {
		err = p.protectCtrlAP(level)
	}
	if err != nil {
		return err
	}

	// Protection samples out of reset.
	if err := p.ctx.ResetDebug(); err != nil {
		return err
	}
	p.log.Info("Readback protection set",
		zap.Uint32("serial", p.ctx.Serial()),
		zap.String("level", level.String()),
	)
	return nil
}

func (p *Controller) protectNRF51(level nrf.ReadbackProtection) error {
	conf := uint32(0xFFFFFFFF)
	switch level {
	case nrf.ProtectionRegion0:
		conf = 0xFFFFFF00
	case nrf.ProtectionAll:
		conf = 0xFFFF00FF
	case nrf.ProtectionBoth:
		conf = 0xFFFF0000
	}
	return p.writeUICRWord(p.ctx.Layout().UICR+catalog.UICRRBPConf, conf)
}

func (p *Controller) protectCtrlAP(level nrf.ReadbackProtection) error {
	regs := p.ctx.Layout()
	if err := p.writeUICRWord(regs.UICR+regs.UICRApprotect, 0); err != nil {
		return err
	}
	if level == nrf.ProtectionSecure {
		if err := p.writeUICRWord(regs.UICR+regs.UICRSecureApprotect, 0); err != nil {
			return err
		}
	}
	return nil
}

// Recover returns the device to factory state: all user flash and UICR
// erased, RAM cleared, protection unlatched, reset reason cleared. This is
// the designed way out of a fully protected device, so everything before
// the final reset runs over registers that stay reachable under
// protection. Secure access-port protection gates the erase itself; in
// that case Recover fails with RECOVER_FAILED and the device keeps its
// protection.
func (p *Controller) Recover() error {
	var err error
	if p.ctx.AccessPorts().HasCtrlAP {
		err = p.recoverCtrlAP()
	} else {
		err = p.recoverNRF51()
	}
	if err != nil {
		return err
	}

	status, err := p.ReadbackStatus()
	if err != nil {
		return err
	}
	if status != nrf.ProtectionNone {
		return nrf.OpErrorf(nrf.CodeRecoverFailed, "recover",
			"protection still reads %s after erase all", status)
	}

	// The recovery resets leave their marks in RESETREAS; a recovered
	// device reports a clean boot.
	if err := p.ctx.WriteU32(p.ctx.Layout().ResetReas, 0xFFFFFFFF); err != nil {
		return err
	}
	p.log.Info("Device recovered", zap.Uint32("serial", p.ctx.Serial()))
	return nil
}

func (p *Controller) recoverCtrlAP() error {
	// Erase protection gates ERASEALL but has its own disable strobe,
	// reachable unless secure protection is also latched.
	st, err := p.ctx.ReadCtrlAP(catalog.CtrlAPEraseProtectStatus)
	if err != nil {
		return err
	}
	if st != 0 {
		if err := p.ctx.WriteCtrlAP(catalog.CtrlAPEraseProtectReset, 1); err != nil {
			return err
		}
	}

	if err := p.ctx.WriteCtrlAP(catalog.CtrlAPEraseAll, 1); err != nil {
		return err
	}
	deadline := time.Now().Add(recoverTimeout)
	for {
		busy, err := p.ctx.ReadCtrlAP(catalog.CtrlAPEraseAllStatus)
		if err != nil {
			return err
		}
		if busy == 0 {
			break
		}
		if time.Now().After(deadline) {
			return nrf.OpError(nrf.CodeRecoverFailed, "recover", "erase all did not finish in time")
		}
		time.Sleep(recoverPoll)
	}

	// Reset relatches protection from the now-erased UICR.
	if err := p.ctx.WriteCtrlAP(catalog.CtrlAPReset, 1); err != nil {
		return err
	}
	return p.ctx.WriteCtrlAP(catalog.CtrlAPReset, 0)
}

// recoverNRF51 erases through the NVMC. nRF51 readback protection blocks
// the flash and RAM windows but leaves the UICR and peripherals open, so
// the erase and the latching reset both work on a fully protected part.
func (p *Controller) recoverNRF51() error {
	regs := p.ctx.Layout()
	if err := p.ctx.WriteU32(regs.NVMC+catalog.NVMCConfig, catalog.NVMCConfigEen); err != nil {
		return err
	}
	if err := p.ctx.WriteU32(regs.NVMC+catalog.NVMCEraseAll, 1); err != nil {
		return err
	}
	if err := p.waitNVMCReady(); err != nil {
		return err
	}
	if err := p.ctx.WriteU32(regs.NVMC+catalog.NVMCConfig, catalog.NVMCConfigRen); err != nil {
		return err
	}
	return p.ctx.ResetSystem()
}

// IsEraseProtectEnabled reads the CTRL-AP erase protection status. Only
// nRF53 and nRF91 have the mechanism.
func (p *Controller) IsEraseProtectEnabled() (bool, error) {
	if err := p.requireEraseProtect("is_eraseprotect_enabled"); err != nil {
		return false, err
	}
	v, err := p.ctx.ReadCtrlAP(catalog.CtrlAPEraseProtectStatus)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// EnableEraseProtect writes the UICR erase protection word and resets so
// it latches. The protection blocks every erase-all until Recover disables
// it again; there is no selective way back from the debugger.
func (p *Controller) EnableEraseProtect() error {
	if err := p.requireEraseProtect("enable_eraseprotect"); err != nil {
		return err
	}
	regs := p.ctx.Layout()
	if err := p.writeUICRWord(regs.UICR+regs.UICREraseProtect, 0); err != nil {
		return err
	}
	if err := p.ctx.ResetDebug(); err != nil {
		return err
	}
	p.log.Info("Erase protection enabled", zap.Uint32("serial", p.ctx.Serial()))
	return nil
}

func (p *Controller) requireEraseProtect(op string) error {
	if p.ctx.Layout().UICREraseProtect == 0 {
		return nrf.OpErrorf(nrf.CodeNotImplemented, op,
			"%s has no erase protection", p.ctx.Family())
	}
	return nil
}

// ReadRegion0SizeAndSource reports the nRF51 code region 0 length and who
// configured it. The UICR value wins over the factory preset; the factory
// preset only applies when FICR PPFC reports pre-programmed code.
func (p *Controller) ReadRegion0SizeAndSource() (uint32, nrf.Region0Source, error) {
	if p.ctx.Family() != nrf.FamilyNRF51 {
		return 0, nrf.NoRegion0, nrf.OpErrorf(nrf.CodeInvalidDeviceForOperation,
			"read_region_0", "code region 0 exists only on nRF51")
	}
	regs := p.ctx.Layout()
	clen, err := p.ctx.ReadU32(regs.UICR + catalog.UICRCLenR0)
	if err != nil {
		return 0, nrf.NoRegion0, err
	}
	if clen != 0xFFFFFFFF {
		return clen, nrf.Region0User, nil
	}
	ppfc, err := p.ctx.ReadU32(regs.FICR + catalog.FICRPPFC)
	if err != nil {
		return 0, nrf.NoRegion0, err
	}
	if ppfc&0xFF == 0x00 {
		clen, err = p.ctx.ReadU32(regs.FICR + catalog.FICRCLenR0)
		if err != nil {
			return 0, nrf.NoRegion0, err
		}
		if clen != 0xFFFFFFFF {
			return clen, nrf.Region0Factory, nil
		}
	}
	return 0, nrf.NoRegion0, nil
}

// writeUICRWord programs one UICR word through the NVMC write path.
func (p *Controller) writeUICRWord(addr, value uint32) error {
	regs := p.ctx.Layout()
	if err := p.ctx.WriteU32(regs.NVMC+catalog.NVMCConfig, catalog.NVMCConfigWen); err != nil {
		return err
	}
	if err := p.ctx.WriteU32(addr, value); err != nil {
		return err
	}
	if err := p.waitNVMCReady(); err != nil {
		return err
	}
	return p.ctx.WriteU32(regs.NVMC+catalog.NVMCConfig, catalog.NVMCConfigRen)
}

func (p *Controller) waitNVMCReady() error {
	regs := p.ctx.Layout()
	deadline := time.Now().Add(recoverTimeout)
	for {
		v, err := p.ctx.ReadU32(regs.NVMC + catalog.NVMCReady)
		if err != nil {
			return err
		}
		if v&1 != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return nrf.OpError(nrf.CodeTimeOut, "nvmc", "flash controller stayed busy")
		}
		time.Sleep(time.Millisecond)
	}
}
