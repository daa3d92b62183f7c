package flash

import (
	"bytes"
	"testing"

	"github.com/nrfprobe/nrfprobe/internal/firmware"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/transport/sim"
)

func buildImage(t *testing.T, segs map[uint32][]byte) *firmware.Image {
	t.Helper()
	img := firmware.NewImage()
	for addr, data := range segs {
		if err := img.Add(addr, data); err != nil {
			t.Fatalf("Add(%#x) error = %v", addr, err)
		}
	}
	return img
}

func pattern(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i)
	}
	return out
}

func TestProgramAndVerify(t *testing.T) {
	f := openFlash(t, "NRF52840")
	info, _ := f.ctx.ReadDeviceInfo()

	img := buildImage(t, map[uint32][]byte{
		0x0000:                  pattern(16, 0x10),
		0x1000:                  pattern(256, 0x40),
		info.UICRAddress + 0x80: {0x01, 0x02, 0x03, 0x04},
	})
	opts := nrf.ProgramOptions{
		Verify:    nrf.VerifyRead,
		ChipErase: nrf.EraseAll,
		Reset:     nrf.ResetNone,
	}
	if err := f.p.Program(img, opts); err != nil {
		t.Fatalf("Program error = %v", err)
	}

	flash := f.tgt.FlashBytes(nrf.CPApplication)
	if !bytes.Equal(flash[0x1000:0x1100], pattern(256, 0x40)) {
		t.Error("code segment content mismatch")
	}
	uicr := f.tgt.UICRBytes(nrf.CPApplication)
	if !bytes.Equal(uicr[0x80:0x84], []byte{1, 2, 3, 4}) {
		t.Errorf("UICR segment = % 02x, want 01 02 03 04", uicr[0x80:0x84])
	}

	// Reset was not requested, so the core stays halted.
	halted, err := f.ctx.IsHalted()
	if err != nil || !halted {
		t.Errorf("IsHalted = %v, %v, want true", halted, err)
	}

	if err := f.p.Verify(img, nrf.VerifyHash); err != nil {
		t.Errorf("Verify(HASH) error = %v", err)
	}

	wrong := buildImage(t, map[uint32][]byte{0x1000: pattern(256, 0x41)})
	if err := f.p.Verify(wrong, nrf.VerifyRead); nrf.CodeOf(err) != nrf.CodeVerifyError {
		t.Errorf("Verify(READ) of wrong image error = %v, want VERIFY_ERROR", err)
	}
	if err := f.p.Verify(wrong, nrf.VerifyHash); nrf.CodeOf(err) != nrf.CodeVerifyError {
		t.Errorf("Verify(HASH) of wrong image error = %v, want VERIFY_ERROR", err)
	}
}

func TestProgramEraseNoneNeedsErasedFlash(t *testing.T) {
	f := openFlash(t, "NRF52840", sim.WithFirmware(0x0000, []byte{1, 2, 3, 4}))

	img := buildImage(t, map[uint32][]byte{0x0000: pattern(8, 0x20)})
	err := f.p.Program(img, nrf.ProgramOptions{ChipErase: nrf.EraseNone, Reset: nrf.ResetNone})
	if nrf.CodeOf(err) != nrf.CodeInvalidOperation {
		t.Fatalf("Program error = %v, want INVALID_OPERATION", err)
	}

	// A page erase pass clears the way.
	err = f.p.Program(img, nrf.ProgramOptions{ChipErase: nrf.ErasePages, Reset: nrf.ResetNone})
	if err != nil {
		t.Fatalf("Program with page erase error = %v", err)
	}
	flash := f.tgt.FlashBytes(nrf.CPApplication)
	if !bytes.Equal(flash[:8], pattern(8, 0x20)) {
		t.Error("flash content mismatch after page-erase program")
	}
}

func TestProgramPageEraseScope(t *testing.T) {
	f := openFlash(t, "NRF52840", sim.WithFirmware(0x3000, []byte{0xEE, 0xEE, 0xEE, 0xEE}))

	img := buildImage(t, map[uint32][]byte{0x1000: pattern(32, 0x30)})
	if err := f.p.Program(img, nrf.ProgramOptions{ChipErase: nrf.ErasePages, Reset: nrf.ResetNone}); err != nil {
		t.Fatalf("Program error = %v", err)
	}

	// Content outside the image's pages survives a page-erase pass.
	flash := f.tgt.FlashBytes(nrf.CPApplication)
	if !bytes.Equal(flash[0x3000:0x3004], []byte{0xEE, 0xEE, 0xEE, 0xEE}) {
		t.Errorf("untouched page = % 02x, want EE EE EE EE", flash[0x3000:0x3004])
	}
}

func TestProgramErasePagesRejectsUICRContent(t *testing.T) {
	f := openFlash(t, "NRF52840")
	info, _ := f.ctx.ReadDeviceInfo()

	// Occupy the UICR so the erase requirement is real.
	if err := f.p.WriteU32(info.UICRAddress+0x40, 0xAAAA5555); err != nil {
		t.Fatalf("UICR seed write error = %v", err)
	}

	img := buildImage(t, map[uint32][]byte{
		0x0000:                  pattern(8, 0x11),
		info.UICRAddress + 0x40: {9, 8, 7, 6},
	})
	err := f.p.Program(img, nrf.ProgramOptions{ChipErase: nrf.ErasePages, Reset: nrf.ResetNone})
	if nrf.CodeOf(err) != nrf.CodeInvalidOperation {
		t.Fatalf("Program error = %v, want INVALID_OPERATION", err)
	}

	err = f.p.Program(img, nrf.ProgramOptions{ChipErase: nrf.ErasePagesIncludingUICR, Reset: nrf.ResetNone})
	if err != nil {
		t.Fatalf("Program with UICR erase error = %v", err)
	}
	uicr := f.tgt.UICRBytes(nrf.CPApplication)
	if !bytes.Equal(uicr[0x40:0x44], []byte{9, 8, 7, 6}) {
		t.Errorf("UICR = % 02x, want 09 08 07 06", uicr[0x40:0x44])
	}
}

func TestProgramResetAction(t *testing.T) {
	f := openFlash(t, "NRF52840")

	img := buildImage(t, map[uint32][]byte{0x0000: pattern(8, 0x50)})
	opts := nrf.ProgramOptions{ChipErase: nrf.EraseAll, Reset: nrf.ResetSystem}
	if err := f.p.Program(img, opts); err != nil {
		t.Fatalf("Program error = %v", err)
	}

	halted, err := f.ctx.IsHalted()
	if err != nil || halted {
		t.Errorf("IsHalted after system reset = %v, %v, want false", halted, err)
	}
	reas, err := f.ctx.ReadU32(f.ctx.Layout().ResetReas)
	if err != nil {
		t.Fatalf("RESETREAS read error = %v", err)
	}
	if reas&0x4 == 0 {
		t.Errorf("RESETREAS = %#x, want soft-reset bit set", reas)
	}
}

func TestProgramXIPImage(t *testing.T) {
	f := openFlash(t, "NRF52840", sim.WithExternalFlash(256))
	info, _ := f.ctx.ReadDeviceInfo()

	img := buildImage(t, map[uint32][]byte{
		0x0000:                 pattern(8, 0x60),
		info.XIPAddress + 0x40: pattern(64, 0x70),
	})
	opts := nrf.ProgramOptions{
		Verify:        nrf.VerifyRead,
		ChipErase:     nrf.EraseAll,
		QSPIChipErase: nrf.ErasePages,
		Reset:         nrf.ResetNone,
	}

	// XIP content without an initialized QSPI controller is refused.
	if err := f.p.Program(img, opts); nrf.CodeOf(err) != nrf.CodeInvalidOperation {
		t.Fatalf("Program before qspi init error = %v, want INVALID_OPERATION", err)
	}

	if err := f.q.Init(false, nrf.DefaultQSPIInitParams()); err != nil {
		t.Fatalf("qspi init error = %v", err)
	}
	if err := f.p.Program(img, opts); err != nil {
		t.Fatalf("Program error = %v", err)
	}

	xf := f.tgt.ExternalFlashBytes()
	if !bytes.Equal(xf[0x40:0x80], pattern(64, 0x70)) {
		t.Error("external flash content mismatch")
	}
	if err := f.p.Verify(img, nrf.VerifyHash); err != nil {
		t.Errorf("Verify(HASH) error = %v", err)
	}
}

func TestProgramRejectsEmptyImage(t *testing.T) {
	f := openFlash(t, "NRF52840")
	if err := f.p.Program(firmware.NewImage(), nrf.DefaultProgramOptions()); nrf.CodeOf(err) != nrf.CodeInvalidParameter {
		t.Errorf("Program(empty) error = %v, want INVALID_PARAMETER", err)
	}
	if err := f.p.Program(nil, nrf.DefaultProgramOptions()); nrf.CodeOf(err) != nrf.CodeInvalidParameter {
		t.Errorf("Program(nil) error = %v, want INVALID_PARAMETER", err)
	}
}

func TestReadToImage(t *testing.T) {
	seed := pattern(16, 0x90)
	f := openFlash(t, "NRF52840", sim.WithFirmware(0x0000, seed))
	info, _ := f.ctx.ReadDeviceInfo()

	img, err := f.p.ReadToImage(nrf.DefaultReadOptions())
	if err != nil {
		t.Fatalf("ReadToImage error = %v", err)
	}
	segs := img.Segments()
	if len(segs) != 1 || segs[0].Address != info.CodeAddress || uint32(len(segs[0].Data)) != info.CodeSize {
		t.Fatalf("code readout = %d segments, want one covering code flash", len(segs))
	}
	if !bytes.Equal(segs[0].Data[:16], seed) {
		t.Error("code readout content mismatch")
	}

	img, err = f.p.ReadToImage(nrf.ReadOptions{ReadUICR: true, ReadFICR: true})
	if err != nil {
		t.Fatalf("ReadToImage(UICR+FICR) error = %v", err)
	}
	// FICR and UICR pages touch, so the image holds them as one segment.
	segs = img.Segments()
	if len(segs) != 1 || segs[0].Address != f.ctx.Layout().FICR {
		t.Fatalf("got %d segments, want one starting at the FICR", len(segs))
	}
	if uint32(len(segs[0].Data)) != ficrPageSize+info.UICRSize {
		t.Errorf("segment length = %#x, want FICR page plus UICR page", len(segs[0].Data))
	}
}

func TestReadToImageQSPI(t *testing.T) {
	f := openFlash(t, "NRF52840", sim.WithExternalFlash(8192))

	if _, err := f.p.ReadToImage(nrf.ReadOptions{ReadQSPI: true}); nrf.CodeOf(err) != nrf.CodeInvalidOperation {
		t.Fatalf("ReadToImage before qspi init error = %v, want INVALID_OPERATION", err)
	}

	if err := f.q.Init(false, nrf.DefaultQSPIInitParams()); err != nil {
		t.Fatalf("qspi init error = %v", err)
	}
	if err := f.q.Write(0x100, []byte{4, 3, 2, 1}); err != nil {
		t.Fatalf("qspi write error = %v", err)
	}

	img, err := f.p.ReadToImage(nrf.ReadOptions{ReadQSPI: true})
	if err != nil {
		t.Fatalf("ReadToImage error = %v", err)
	}
	segs := img.Segments()
	info, _ := f.ctx.ReadDeviceInfo()
	if len(segs) != 1 || segs[0].Address != info.XIPAddress {
		t.Fatalf("got %d segments at %#x, want one at the XIP base", len(segs), segs[0].Address)
	}
	// The JEDEC id reports an 8 MiB part.
	if len(segs[0].Data) != 8*1024*1024 {
		t.Errorf("QSPI readout = %d bytes, want 8 MiB", len(segs[0].Data))
	}
	if !bytes.Equal(segs[0].Data[0x100:0x104], []byte{4, 3, 2, 1}) {
		t.Error("QSPI readout content mismatch")
	}
}

func TestVerifyEmptyAndUnknownMode(t *testing.T) {
	f := openFlash(t, "NRF52840")
	if err := f.p.Verify(firmware.NewImage(), nrf.VerifyRead); err != nil {
		t.Errorf("Verify(empty) error = %v, want nil", err)
	}
	img := buildImage(t, map[uint32][]byte{0x0: {0xFF, 0xFF, 0xFF, 0xFF}})
	if err := f.p.Verify(img, nrf.VerifyAction(7)); nrf.CodeOf(err) != nrf.CodeInvalidParameter {
		t.Errorf("Verify(unknown mode) error = %v, want INVALID_PARAMETER", err)
	}
}
