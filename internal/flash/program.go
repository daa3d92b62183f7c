package flash

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nrfprobe/nrfprobe/internal/device"
	"github.com/nrfprobe/nrfprobe/internal/firmware"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
)

const ficrPageSize uint32 = 0x1000

// piece is one image segment clipped to a single routing region.
type piece struct {
	region region
	addr   uint32
	data   []byte
}

// chop splits image segments at region boundaries so each piece has one
// routing. Order and content follow the image.
func chop(info device.Info, img *firmware.Image) []piece {
	var out []piece
	for _, seg := range img.Segments() {
		addr := seg.Address
		data := seg.Data
		for len(data) > 0 {
			r, end := regionSpan(info, addr)
			n := uint64(len(data))
			if room := end - uint64(addr); room < n {
				n = room
			}
			out = append(out, piece{region: r, addr: addr, data: data[:n]})
			addr += uint32(n)
			data = data[n:]
		}
	}
	return out
}

// regionSpan returns the routing region of addr and the exclusive end of
// the span it is valid for.
func regionSpan(info device.Info, addr uint32) (region, uint64) {
	switch r := classify(info, addr); r {
	case regionCode:
		return r, uint64(info.CodeAddress) + uint64(info.CodeSize)
	case regionUICR:
		return r, uint64(info.UICRAddress) + uint64(info.UICRSize)
	case regionXIP:
		return r, uint64(info.XIPAddress) + uint64(info.XIPSize)
	}
	// Plain memory until the next special region begins.
	end := uint64(1) << 32
	starts := []uint32{info.CodeAddress, info.UICRAddress}
	if info.QSPIPresent {
		starts = append(starts, info.XIPAddress)
	}
	for _, s := range starts {
		if s > addr && uint64(s) < end {
			end = uint64(s)
		}
	}
	return regionOther, end
}

// Program erases, writes, verifies and resets in one pass, following the
// options. The core is halted first so running firmware cannot race the
// NVMC.
func (p *Programmer) Program(img *firmware.Image, opts nrf.ProgramOptions) error {
	if img == nil || img.Empty() {
		return nrf.OpError(nrf.CodeInvalidParameter, "program", "the image has no content")
	}
	info, err := p.ctx.ReadDeviceInfo()
	if err != nil {
		return err
	}
	started := time.Now()

	p.phase("Preparing device")
	if err := p.ctx.Halt(); err != nil {
		return err
	}
	pieces := chop(info, img)

	if opts.ChipErase != nrf.EraseNone || opts.QSPIChipErase != nrf.EraseNone {
		p.phase("Erasing")
	}
	switch opts.ChipErase {
	case nrf.EraseNone:
	case nrf.EraseAll:
		if err := p.EraseAll(); err != nil {
			return err
		}
	case nrf.EraseCtrlAP:
		if err := p.Erase(nrf.EraseCtrlAP, 0, 0); err != nil {
			return err
		}
		// Recovery reset the device; stop the core again.
		if err := p.ctx.Halt(); err != nil {
			return err
		}
	case nrf.ErasePages, nrf.ErasePagesIncludingUICR:
		if err := p.erasePieces(info, pieces, opts.ChipErase == nrf.ErasePagesIncludingUICR); err != nil {
			return err
		}
	default:
		return nrf.OpErrorf(nrf.CodeInvalidParameter, "program", "unknown erase action %d", opts.ChipErase)
	}
	if err := p.eraseQSPIForPieces(info, pieces, opts.QSPIChipErase); err != nil {
		return err
	}

	p.phase("Programming")
	for _, pc := range pieces {
		if err := p.writePiece(info, pc); err != nil {
			return err
		}
	}

	if opts.Verify != nrf.VerifyNone {
		p.phase("Verifying")
		if err := p.Verify(img, opts.Verify); err != nil {
			return err
		}
	}
	if opts.Reset != nrf.ResetNone {
		p.phase("Resetting")
		if err := p.ctx.Reset(opts.Reset); err != nil {
			return err
		}
	}

	p.log.Info("Programming complete",
		zap.Uint32("serial", p.ctx.Serial()),
		zap.Int("bytes", img.TotalBytes()),
		zap.Int("segments", len(img.Segments())),
		zap.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// erasePieces erases exactly the code pages the image touches, plus the
// UICR when allowed. An image with UICR content under plain ERASE_PAGES
// is refused; silently skipping the UICR would fail later with a
// confusing not-erased error.
func (p *Programmer) erasePieces(info device.Info, pieces []piece, includeUICR bool) error {
	hasUICR := false
	for _, pc := range pieces {
		if pc.region == regionUICR {
			hasUICR = true
		}
	}
	if hasUICR && !includeUICR {
		return nrf.OpError(nrf.CodeInvalidOperation, "program",
			"the image writes the UICR, use ERASE_PAGES_INCLUDING_UICR")
	}

	var prev uint32
	havePrev := false
	for _, pc := range pieces {
		if pc.region != regionCode {
			continue
		}
		first := pc.addr - pc.addr%info.CodePageSize
		end := pc.addr + uint32(len(pc.data))
		for page := first; page < end; page += info.CodePageSize {
			if havePrev && page == prev {
				continue
			}
			if err := p.ErasePage(page); err != nil {
				return err
			}
			prev, havePrev = page, true
		}
	}

	if hasUICR {
		return p.EraseUICR()
	}
	return nil
}

// eraseQSPIForPieces applies the external-flash erase knob. It only acts
// when the image actually has XIP content.
func (p *Programmer) eraseQSPIForPieces(info device.Info, pieces []piece, action nrf.EraseAction) error {
	hasXIP := false
	for _, pc := range pieces {
		if pc.region == regionXIP {
			hasXIP = true
		}
	}
	if !hasXIP || action == nrf.EraseNone {
		return nil
	}
	if err := p.requireXIP("program"); err != nil {
		return err
	}
	switch action {
	case nrf.EraseAll:
		return p.qspi.Erase(0, nrf.QSPIEraseAll)
	case nrf.ErasePages:
		for _, pc := range pieces {
			if pc.region != regionXIP {
				continue
			}
			first := pc.addr - info.XIPAddress
			first -= first % 4096
			last := pc.addr - info.XIPAddress + uint32(len(pc.data))
			for off := first; off < last; off += 4096 {
				if err := p.qspi.Erase(off, nrf.QSPIErase4KB); err != nil {
					return err
				}
			}
		}
		return nil
	default:
		return nrf.OpErrorf(nrf.CodeInvalidParameter, "program",
			"erase action %s is not valid for external flash", action)
	}
}

func (p *Programmer) writePiece(info device.Info, pc piece) error {
	switch pc.region {
	case regionCode, regionUICR:
		return p.writeNVMC(pc.addr, pc.data)
	case regionXIP:
		if err := p.requireXIP("program"); err != nil {
			return err
		}
		return p.qspi.Write(pc.addr-info.XIPAddress, pc.data)
	default:
		return p.ctx.WriteMemory(pc.addr, pc.data)
	}
}

// ReadToImage reads the selected memories into a sparse image.
func (p *Programmer) ReadToImage(opts nrf.ReadOptions) (*firmware.Image, error) {
	info, err := p.ctx.ReadDeviceInfo()
	if err != nil {
		return nil, err
	}
	img := firmware.NewImage()

	if opts.ReadCode && info.CodeSize > 0 {
		p.phase("Reading code flash")
		buf := make([]byte, info.CodeSize)
		if err := p.ctx.ReadMemory(info.CodeAddress, buf); err != nil {
			return nil, err
		}
		if err := img.Add(info.CodeAddress, buf); err != nil {
			return nil, err
		}
	}
	if opts.ReadUICR {
		p.phase("Reading UICR")
		buf := make([]byte, info.UICRSize)
		if err := p.ctx.ReadMemory(info.UICRAddress, buf); err != nil {
			return nil, err
		}
		if err := img.Add(info.UICRAddress, buf); err != nil {
			return nil, err
		}
	}
	if opts.ReadFICR {
		p.phase("Reading FICR")
		buf := make([]byte, ficrPageSize)
		if err := p.ctx.ReadMemory(p.ctx.Layout().FICR, buf); err != nil {
			return nil, err
		}
		if err := img.Add(p.ctx.Layout().FICR, buf); err != nil {
			return nil, err
		}
	}
	if opts.ReadRAM && info.RAMSize > 0 {
		p.phase("Reading RAM")
		buf := make([]byte, info.RAMSize)
		if err := p.ctx.ReadMemory(info.RAMAddress, buf); err != nil {
			return nil, err
		}
		if err := img.Add(info.RAMAddress, buf); err != nil {
			return nil, err
		}
	}
	if opts.ReadQSPI {
		p.phase("Reading external flash")
		if err := p.requireXIP("read_to_image"); err != nil {
			return nil, err
		}
		size, err := p.qspi.Size()
		if err != nil {
			return nil, err
		}
		if size > info.XIPSize {
			size = info.XIPSize
		}
		buf := make([]byte, size)
		if err := p.qspi.Read(0, buf); err != nil {
			return nil, err
		}
		if err := img.Add(info.XIPAddress, buf); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// Verify checks device content against the image. VERIFY_READ compares
// byte for byte and names the first mismatch; VERIFY_HASH compares one
// SHA-256 over all segment bytes. Both report VERIFY_ERROR on mismatch.
func (p *Programmer) Verify(img *firmware.Image, mode nrf.VerifyAction) error {
	if img == nil || img.Empty() || mode == nrf.VerifyNone {
		return nil
	}
	info, err := p.ctx.ReadDeviceInfo()
	if err != nil {
		return err
	}
	switch mode {
	case nrf.VerifyRead:
		return p.verifyRead(info, img)
	case nrf.VerifyHash:
		return p.verifyHash(info, img)
	default:
		return nrf.OpErrorf(nrf.CodeInvalidParameter, "verify", "unknown verify action %d", mode)
	}
}

func (p *Programmer) verifyRead(info device.Info, img *firmware.Image) error {
	for _, pc := range chop(info, img) {
		got := make([]byte, len(pc.data))
		if err := p.readPiece(info, pc, got); err != nil {
			return err
		}
		for i := range got {
			if got[i] != pc.data[i] {
				return nrf.OpErrorf(nrf.CodeVerifyError, "verify",
					"mismatch at %#08x: image %02x, device %02x",
					pc.addr+uint32(i), pc.data[i], got[i])
			}
		}
	}
	return nil
}

func (p *Programmer) verifyHash(info device.Info, img *firmware.Image) error {
	want := sha256.New()
	for _, seg := range img.Segments() {
		want.Write(seg.Data)
	}
	got := sha256.New()
	for _, pc := range chop(info, img) {
		buf := make([]byte, len(pc.data))
		if err := p.readPiece(info, pc, buf); err != nil {
			return err
		}
		got.Write(buf)
	}
	wantSum := want.Sum(nil)
	gotSum := got.Sum(nil)
	p.log.Debug("Verify hash",
		zap.String("image", fmt.Sprintf("%x", wantSum)),
		zap.String("device", fmt.Sprintf("%x", gotSum)),
	)
	if !bytes.Equal(wantSum, gotSum) {
		return nrf.OpError(nrf.CodeVerifyError, "verify",
			"content hash differs from the device readback")
	}
	return nil
}

func (p *Programmer) readPiece(info device.Info, pc piece, buf []byte) error {
	if pc.region == regionXIP {
		if err := p.requireXIP("verify"); err != nil {
			return err
		}
		return p.qspi.Read(pc.addr-info.XIPAddress, buf)
	}
	return p.ctx.ReadMemory(pc.addr, buf)
}
