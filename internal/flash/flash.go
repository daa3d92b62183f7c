// Package flash programs the non-volatile memories of a device: on-chip
// code flash and UICR through the NVMC, and external serial NOR through
// the QSPI controller when the address falls inside the XIP window.
//
// Flash obeys NOR physics. A program pulse only clears bits, so every
// write first confirms the target words are erased and fails with
// INVALID_OPERATION when they are not; the remedy is an erase, not a
// retry. Block protection (BPROT, ACL, SPU) silently swallows writes at
// the hardware level, so covered ranges are rejected up front with
// NOT_AVAILABLE_BECAUSE_BPROT.
package flash

import (
	"time"

	"go.uber.org/zap"

	"github.com/nrfprobe/nrfprobe/internal/catalog"
	"github.com/nrfprobe/nrfprobe/internal/device"
	"github.com/nrfprobe/nrfprobe/internal/logging"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/protect"
	"github.com/nrfprobe/nrfprobe/internal/qspi"
)

const (
	nvmcReadyTimeout = 30 * time.Second
	nvmcReadyPoll    = time.Millisecond
)

// Programmer sequences erase, write and verify against one connected core.
type Programmer struct {
	ctx  *device.Context
	prot *protect.Controller
	qspi *qspi.Controller
	log  *zap.Logger

	progress func(string)
}

// New returns a programmer for the given core. The QSPI controller is
// consulted only for addresses inside the XIP window.
func New(ctx *device.Context, prot *protect.Controller, q *qspi.Controller) *Programmer {
	return &Programmer{ctx: ctx, prot: prot, qspi: q, log: logging.GetLogger()}
}

// SetProgress installs a coarse phase callback for long operations. The
// callback must not call back into the session.
func (p *Programmer) SetProgress(fn func(string)) { p.progress = fn }

func (p *Programmer) phase(s string) {
	p.log.Debug("Flash phase", zap.String("phase", s))
	if p.progress != nil {
		p.progress(s)
	}
}

// region classifies an address for routing.
type region int

const (
	regionOther region = iota
	regionCode
	regionUICR
	regionXIP
)

func classify(info device.Info, addr uint32) region {
	switch {
	case within(addr, info.CodeAddress, info.CodeSize):
		return regionCode
	case within(addr, info.UICRAddress, info.UICRSize):
		return regionUICR
	case info.QSPIPresent && within(addr, info.XIPAddress, info.XIPSize):
		return regionXIP
	default:
		return regionOther
	}
}

func within(addr, base, size uint32) bool {
	return size != 0 && addr >= base && addr-base < size
}

// Read copies len(buf) bytes starting at addr, routing XIP window
// addresses through the QSPI controller.
func (p *Programmer) Read(addr uint32, buf []byte) error {
	info, err := p.ctx.ReadDeviceInfo()
	if err != nil {
		return err
	}
	if classify(info, addr) == regionXIP {
		if err := p.requireXIP("flash_read"); err != nil {
			return err
		}
		return p.qspi.Read(addr-info.XIPAddress, buf)
	}
	return p.ctx.ReadMemory(addr, buf)
}

// ReadU32 reads one aligned word with the same routing as Read.
func (p *Programmer) ReadU32(addr uint32) (uint32, error) {
	info, err := p.ctx.ReadDeviceInfo()
	if err != nil {
		return 0, err
	}
	if classify(info, addr) == regionXIP {
		if err := p.requireXIP("flash_read"); err != nil {
			return 0, err
		}
		var b [4]byte
		if err := p.qspi.Read(addr-info.XIPAddress, b[:]); err != nil {
			return 0, err
		}
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
	}
	return p.ctx.ReadU32(addr)
}

// Write stores len(data) bytes at addr. Code flash and UICR go through
// the NVMC write sequence, the XIP window goes through QSPI, everything
// else is a plain memory write.
func (p *Programmer) Write(addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	info, err := p.ctx.ReadDeviceInfo()
	if err != nil {
		return err
	}
	switch classify(info, addr) {
	case regionCode, regionUICR:
		return p.writeNVMC(addr, data)
	case regionXIP:
		if err := p.requireXIP("flash_write"); err != nil {
			return err
		}
		return p.qspi.Write(addr-info.XIPAddress, data)
	default:
		return p.ctx.WriteMemory(addr, data)
	}
}

// WriteU32 stores one aligned word with the same routing as Write.
func (p *Programmer) WriteU32(addr uint32, value uint32) error {
	info, err := p.ctx.ReadDeviceInfo()
	if err != nil {
		return err
	}
	switch classify(info, addr) {
	case regionCode, regionUICR:
		var b [4]byte
		b[0] = byte(value)
		b[1] = byte(value >> 8)
		b[2] = byte(value >> 16)
		b[3] = byte(value >> 24)
		return p.writeNVMC(addr, b[:])
	case regionXIP:
		if err := p.requireXIP("flash_write"); err != nil {
			return err
		}
		var b [4]byte
		b[0] = byte(value)
		b[1] = byte(value >> 8)
		b[2] = byte(value >> 16)
		b[3] = byte(value >> 24)
		return p.qspi.Write(addr-info.XIPAddress, b[:])
	default:
		return p.ctx.WriteU32(addr, value)
	}
}

// writeNVMC performs one erased-target, word-widened NVMC program pass.
func (p *Programmer) writeNVMC(addr uint32, data []byte) error {
	covered, err := p.prot.IsBprotEnabled(addr, uint32(len(data)))
	if err != nil {
		return err
	}
	if covered {
		return nrf.OpErrorf(nrf.CodeNotAvailableBecauseBPROT, "flash_write",
			"block protection covers the range at %#08x, disable it first", addr)
	}

	// Widen to whole words; 0xFF filler programs nothing.
	lo := addr &^ 3
	hi := (addr + uint32(len(data)) + 3) &^ 3
	buf := make([]byte, hi-lo)
	for i := range buf {
		buf[i] = 0xFF
	}
	copy(buf[addr-lo:], data)

	current := make([]byte, len(buf))
	if err := p.ctx.ReadMemory(lo, current); err != nil {
		return err
	}
	for i, b := range current {
		if b != 0xFF {
			return nrf.OpErrorf(nrf.CodeInvalidOperation, "flash_write",
				"target flash is not erased at %#08x", lo+uint32(i))
		}
	}

	if err := p.waitNVMCReady(); err != nil {
		return err
	}
	if err := p.setNVMC(catalog.NVMCConfigWen); err != nil {
		return err
	}
	writeErr := p.ctx.WriteMemory(lo, buf)
	if writeErr == nil {
		writeErr = p.waitNVMCReady()
	}
	if err := p.setNVMC(catalog.NVMCConfigRen); err != nil && writeErr == nil {
		writeErr = err
	}
	if writeErr != nil {
		return writeErr
	}
	logging.LogMemoryAccess("flash_write", addr, len(data))
	return nil
}

// ErasePage erases the page containing addr. UICR addresses use the
// family's UICR erase, XIP addresses erase one external 4 KiB sector.
func (p *Programmer) ErasePage(addr uint32) error {
	info, err := p.ctx.ReadDeviceInfo()
	if err != nil {
		return err
	}
	switch classify(info, addr) {
	case regionCode:
		page := addr - addr%info.CodePageSize
		covered, err := p.prot.IsBprotEnabled(page, info.CodePageSize)
		if err != nil {
			return err
		}
		if covered {
			return nrf.OpErrorf(nrf.CodeNotAvailableBecauseBPROT, "erase_page",
				"block protection covers the page at %#08x, disable it first", page)
		}
		if err := p.nvmcErasePage(page); err != nil {
			return err
		}
		logging.LogFlashOp("erase_page", page, int(info.CodePageSize))
		return nil
	case regionUICR:
		return p.EraseUICR()
	case regionXIP:
		if err := p.requireXIP("erase_page"); err != nil {
			return err
		}
		off := addr - info.XIPAddress
		return p.qspi.Erase(off-off%4096, nrf.QSPIErase4KB)
	default:
		return nrf.OpErrorf(nrf.CodeInvalidParameter, "erase_page",
			"address %#08x is not in an erasable region", addr)
	}
}

// EraseUICR erases the user information page. nRF51 parts erase it as an
// ordinary page; later families have a dedicated NVMC task.
func (p *Programmer) EraseUICR() error {
	info, err := p.ctx.ReadDeviceInfo()
	if err != nil {
		return err
	}
	if p.ctx.Family() == nrf.FamilyNRF51 {
		if err := p.nvmcErasePage(info.UICRAddress); err != nil {
			return err
		}
	} else {
		if err := p.nvmcTask(catalog.NVMCEraseUICR); err != nil {
			return err
		}
	}
	logging.LogFlashOp("erase_uicr", info.UICRAddress, int(info.UICRSize))
	return nil
}

// EraseAll erases all user flash plus the UICR through the NVMC. Erase
// protection blocks it; recover is the documented way out.
func (p *Programmer) EraseAll() error {
	enabled, err := p.prot.IsEraseProtectEnabled()
	if err != nil && nrf.CodeOf(err) != nrf.CodeNotImplemented {
		return err
	}
	if err == nil && enabled {
		return nrf.OpError(nrf.CodeNotAvailableBecauseProtection, "erase_all",
			"erase protection is enabled, recover the device instead")
	}
	if err := p.nvmcTask(catalog.NVMCEraseAll); err != nil {
		return err
	}
	logging.LogFlashOp("erase_all", 0, 0)
	return nil
}

// Erase dispatches one low-level erase action over [start, end).
// ERASE_ALL ignores the addresses. ERASE_PAGES refuses to touch the UICR;
// ERASE_PAGES_INCLUDING_UICR is only legal inside a programming pass.
func (p *Programmer) Erase(action nrf.EraseAction, start, end uint32) error {
	switch action {
	case nrf.EraseNone:
		return nil
	case nrf.EraseAll:
		return p.EraseAll()
	case nrf.EraseCtrlAP:
		if !p.ctx.AccessPorts().HasCtrlAP {
			return nrf.OpErrorf(nrf.CodeInvalidDeviceForOperation, "erase",
				"%s has no CTRL-AP mass erase", p.ctx.Family())
		}
		return p.prot.Recover()
	case nrf.ErasePagesIncludingUICR:
		return nrf.OpError(nrf.CodeInvalidParameter, "erase",
			"ERASE_PAGES_INCLUDING_UICR is only valid while programming, use EraseUICR")
	case nrf.ErasePages:
		return p.erasePages(start, end)
	default:
		return nrf.OpErrorf(nrf.CodeInvalidParameter, "erase", "unknown erase action %d", action)
	}
}

func (p *Programmer) erasePages(start, end uint32) error {
	if end <= start {
		return nrf.OpErrorf(nrf.CodeInvalidParameter, "erase",
			"empty erase range %#08x..%#08x", start, end)
	}
	info, err := p.ctx.ReadDeviceInfo()
	if err != nil {
		return err
	}
	switch classify(info, start) {
	case regionUICR:
		return nrf.OpError(nrf.CodeInvalidOperation, "erase",
			"ERASE_PAGES must not target the UICR, use EraseUICR")
	case regionXIP:
		if err := p.requireXIP("erase"); err != nil {
			return err
		}
		first := start - info.XIPAddress
		first -= first % 4096
		last := end - info.XIPAddress
		for off := first; off < last; off += 4096 {
			if err := p.qspi.Erase(off, nrf.QSPIErase4KB); err != nil {
				return err
			}
		}
		return nil
	case regionCode:
		if end > info.CodeAddress+info.CodeSize {
			return nrf.OpErrorf(nrf.CodeInvalidParameter, "erase",
				"erase range %#08x..%#08x runs past code flash", start, end)
		}
		first := start - start%info.CodePageSize
		for page := first; page < end; page += info.CodePageSize {
			if err := p.ErasePage(page); err != nil {
				return err
			}
		}
		return nil
	default:
		return nrf.OpErrorf(nrf.CodeInvalidParameter, "erase",
			"address %#08x is not in an erasable region", start)
	}
}

func (p *Programmer) nvmcErasePage(page uint32) error {
	if err := p.waitNVMCReady(); err != nil {
		return err
	}
	if err := p.setNVMC(catalog.NVMCConfigEen); err != nil {
		return err
	}
	eraseErr := p.ctx.WriteU32(p.ctx.Layout().NVMC+catalog.NVMCErasePage, page)
	if eraseErr == nil {
		eraseErr = p.waitNVMCReady()
	}
	if err := p.setNVMC(catalog.NVMCConfigRen); err != nil && eraseErr == nil {
		eraseErr = err
	}
	return eraseErr
}

// nvmcTask strobes one of the erase task registers under EEN.
func (p *Programmer) nvmcTask(reg uint32) error {
	if err := p.waitNVMCReady(); err != nil {
		return err
	}
	if err := p.setNVMC(catalog.NVMCConfigEen); err != nil {
		return err
	}
	taskErr := p.ctx.WriteU32(p.ctx.Layout().NVMC+reg, 1)
	if taskErr == nil {
		taskErr = p.waitNVMCReady()
	}
	if err := p.setNVMC(catalog.NVMCConfigRen); err != nil && taskErr == nil {
		taskErr = err
	}
	return taskErr
}

func (p *Programmer) setNVMC(mode uint32) error {
	return p.ctx.WriteU32(p.ctx.Layout().NVMC+catalog.NVMCConfig, mode)
}

func (p *Programmer) waitNVMCReady() error {
	base := p.ctx.Layout().NVMC
	deadline := time.Now().Add(nvmcReadyTimeout)
	for {
		v, err := p.ctx.ReadU32(base + catalog.NVMCReady)
		if err != nil {
			return err
		}
		if v&1 != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return nrf.OpError(nrf.CodeTimeOut, "nvmc", "flash controller stayed busy")
		}
		time.Sleep(nvmcReadyPoll)
	}
}

func (p *Programmer) requireXIP(op string) error {
	if p.qspi == nil || !p.qspi.Initialized() {
		return nrf.OpError(nrf.CodeInvalidOperation, op,
			"the address is in the XIP window and QSPI is not initialized")
	}
	return nil
}
