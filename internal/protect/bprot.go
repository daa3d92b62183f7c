package protect

import (
	"go.uber.org/zap"

	"github.com/nrfprobe/nrfprobe/internal/catalog"
)

// IsBprotEnabled reports whether any byte of [addr, addr+length) in code
// flash is covered by the family's block protection: BPROT bits and ACL
// entries on nRF52, SPU flash-region permissions on nRF53 and nRF91. Block
// protection only applies to code flash, so ranges elsewhere never count
// as protected.
func (p *Controller) IsBprotEnabled(addr, length uint32) (bool, error) {
	if length == 0 {
		return false, nil
	}
	info, err := p.ctx.ReadDeviceInfo()
	if err != nil {
		return false, err
	}
	lo, hi, ok := clampToCode(addr, length, info.CodeAddress, info.CodeSize)
	if !ok {
		return false, nil
	}

	regs := p.ctx.Layout()
	if regs.BPROTConfigBase != 0 {
		blocked, err := p.bprotCovers(lo, hi)
		if err != nil || blocked {
			return blocked, err
		}
	}
	if regs.ACLBase != 0 {
		blocked, err := p.aclCovers(lo, hi)
		if err != nil || blocked {
			return blocked, err
		}
	}
	if regs.SPUBase != 0 {
		return p.spuCovers(lo, hi, info.CodeSize)
	}
	return false, nil
}

// DisableBprot clears the block protection so flash writes and erases go
// through. BPROT and ACL bits are one-way latches that only a reset
// clears, so the sequence is halt, reset, halt again before any firmware
// can relatch them. SPU permissions are plain registers and are rewritten
// in place. The core is left halted.
func (p *Controller) DisableBprot() error {
	regs := p.ctx.Layout()
	if regs.BPROTConfigBase == 0 && regs.ACLBase == 0 && regs.SPUBase == 0 {
		return nil
	}
	info, err := p.ctx.ReadDeviceInfo()
	if err != nil {
		return err
	}
	if err := p.ctx.Halt(); err != nil {
		return err
	}

	if regs.SPUBase != 0 {
		regions := info.CodeSize / regs.SPURegionSize
		for i := uint32(0); i < regions; i++ {
			a := regs.SPUBase + catalog.SPUFlashRegion0 + 4*i
			if err := p.ctx.WriteU32(a, catalog.SPUPermDefault); err != nil {
				return err
			}
		}
		p.log.Debug("SPU flash permissions opened", zap.Uint32("serial", p.ctx.Serial()))
		return nil
	}

	latched, err := p.latchedBprot()
	if err != nil {
		return err
	}
	if !latched {
		return nil
	}
	if err := p.ctx.ResetDebug(); err != nil {
		return err
	}
	if err := p.ctx.Halt(); err != nil {
		return err
	}
	p.log.Debug("Block protection cleared by reset", zap.Uint32("serial", p.ctx.Serial()))
	return nil
}

// latchedBprot reports whether any BPROT bit or write-blocking ACL entry
// is currently latched.
func (p *Controller) latchedBprot() (bool, error) {
	regs := p.ctx.Layout()
	if regs.BPROTConfigBase != 0 {
		for i := uint32(0); i < catalog.BPROTConfigWords; i++ {
			v, err := p.ctx.ReadU32(regs.BPROTConfigBase + 4*i)
			if err != nil {
				return false, err
			}
			if v != 0 {
				return true, nil
			}
		}
	}
	if regs.ACLBase != 0 {
		for i := uint32(0); i < regs.ACLEntries; i++ {
			size, perm, _, err := p.readACL(i)
			if err != nil {
				return false, err
			}
			if size != 0 && perm != 0 {
				return true, nil
			}
		}
	}
	return false, nil
}

func (p *Controller) bprotCovers(lo, hi uint32) (bool, error) {
	regs := p.ctx.Layout()
	first := lo / regs.BPROTBlockSize
	last := (hi - 1) / regs.BPROTBlockSize
	for b := first; b <= last; b++ {
		word := b / 32
		if word >= catalog.BPROTConfigWords {
			break
		}
		v, err := p.ctx.ReadU32(regs.BPROTConfigBase + 4*word)
		if err != nil {
			return false, err
		}
		if v&(1<<(b%32)) != 0 {
			return true, nil
		}
	}
	return false, nil
}

func (p *Controller) aclCovers(lo, hi uint32) (bool, error) {
	regs := p.ctx.Layout()
	for i := uint32(0); i < regs.ACLEntries; i++ {
		size, perm, start, err := p.readACL(i)
		if err != nil {
			return false, err
		}
		if size == 0 || perm&catalog.ACLPermWriteBlock == 0 {
			continue
		}
		if lo < start+size && hi > start {
			return true, nil
		}
	}
	return false, nil
}

func (p *Controller) spuCovers(lo, hi, codeSize uint32) (bool, error) {
	regs := p.ctx.Layout()
	regions := codeSize / regs.SPURegionSize
	first := lo / regs.SPURegionSize
	last := (hi - 1) / regs.SPURegionSize
	for r := first; r <= last && r < regions; r++ {
		v, err := p.ctx.ReadU32(regs.SPUBase + catalog.SPUFlashRegion0 + 4*r)
		if err != nil {
			return false, err
		}
		if v&catalog.SPUPermWrite == 0 {
			return true, nil
		}
	}
	return false, nil
}

// readACL returns size, perm and start address of ACL entry i.
func (p *Controller) readACL(i uint32) (size, perm, start uint32, err error) {
	base := p.ctx.Layout().ACLBase + 16*i
	if start, err = p.ctx.ReadU32(base); err != nil {
		return
	}
	if size, err = p.ctx.ReadU32(base + 4); err != nil {
		return
	}
	perm, err = p.ctx.ReadU32(base + 8)
	return
}

// clampToCode intersects [addr, addr+length) with the code flash extent
// and returns it as offsets from the start of flash.
func clampToCode(addr, length, codeAddr, codeSize uint32) (lo, hi uint32, ok bool) {
	start := uint64(addr)
	end := start + uint64(length)
	cs := uint64(codeAddr)
	ce := cs + uint64(codeSize)
	if start < cs {
		start = cs
	}
	if end > ce {
		end = ce
	}
	if start >= end {
		return 0, 0, false
	}
	return uint32(start - cs), uint32(end - cs), true
}
