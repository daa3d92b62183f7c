// Package qspi drives the external serial NOR flash behind the QSPI
// peripheral.
//
// The controller is a strict state machine: Init activates the peripheral
// with a pin and opcode configuration, reads, writes, erases and custom
// instructions are only legal while initialized, and Uninit deactivates
// it again. Data moves by DMA between the external flash and a scratch
// window in data RAM; init with retain_ram snapshots that window and
// uninit restores it, making the scratch traffic invisible to the caller.
//
// The peripheral only accepts word-aligned addresses and lengths, so
// unaligned reads are widened and the excess discarded, and unaligned
// writes are widened with 0xFF padding, which serial NOR programming
// leaves unchanged on flash.
package qspi

import (
	"time"

	"go.uber.org/zap"

	"github.com/nrfprobe/nrfprobe/internal/catalog"
	"github.com/nrfprobe/nrfprobe/internal/device"
	"github.com/nrfprobe/nrfprobe/internal/logging"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
)

const (
	// readyTimeout bounds every EVENTS_READY wait. DMA chunks are a few
	// KiB and erases of one sector dominate; whole-chip erases of large
	// parts are the reason this is generous.
	readyTimeout = 4 * time.Minute
	readyPoll    = time.Millisecond

	// maxCustomBytes is the CINSTRDAT capacity of the peripheral.
	maxCustomBytes = 8

	opJEDECID = 0x9F
)

// Controller owns the QSPI peripheral of one application core.
type Controller struct {
	ctx *device.Context
	log *zap.Logger

	inited   bool
	retain   bool
	snapshot []byte
}

// New returns an uninitialized QSPI controller.
func New(ctx *device.Context) *Controller {
	return &Controller{ctx: ctx, log: logging.GetLogger()}
}

// Initialized reports whether Init has activated the peripheral.
func (q *Controller) Initialized() bool {
	return q.inited
}

// Init configures and activates the QSPI peripheral. With retainRAM set
// the DMA scratch window is snapshotted now and restored at Uninit.
func (q *Controller) Init(retainRAM bool, params nrf.QSPIInitParams) error {
	if q.inited {
		return nrf.OpError(nrf.CodeInvalidOperation, "qspi_init", "QSPI is already initialized")
	}
	info, err := q.ctx.ReadDeviceInfo()
	if err != nil {
		return err
	}
	if !info.QSPIPresent {
		return nrf.OpErrorf(nrf.CodeInvalidDeviceForOperation, "qspi_init",
			"%s has no QSPI peripheral", q.ctx.Family())
	}

	regs := q.ctx.Layout()
	if retainRAM {
		buf := make([]byte, regs.QSPIScratchSize)
		if err := q.ctx.ReadMemory(regs.QSPIScratch, buf); err != nil {
			return err
		}
		q.snapshot = buf
	}

	if err := q.writeReg(catalog.QSPIIfConfig0, ifConfig0(params)); err != nil {
		return err
	}
	if err := q.writeReg(catalog.QSPIIfConfig1, ifConfig1(params)); err != nil {
		return err
	}
	if err := q.writeReg(catalog.QSPIAddrConf, addrConf(params)); err != nil {
		return err
	}
	if err := q.task(catalog.QSPITasksActivate); err != nil {
		return err
	}

	q.inited = true
	q.retain = retainRAM
	q.log.Info("QSPI initialized",
		zap.Uint32("serial", q.ctx.Serial()),
		zap.Bool("retain_ram", retainRAM),
	)
	return nil
}

// Uninit deactivates the peripheral and, when Init ran with retainRAM,
// restores the scratch window.
func (q *Controller) Uninit() error {
	if !q.inited {
		return nrf.OpError(nrf.CodeInvalidOperation, "qspi_uninit", "QSPI is not initialized")
	}
	if err := q.writeReg(catalog.QSPITasksDeactivate, 1); err != nil {
		return err
	}
	if q.retain && q.snapshot != nil {
		if err := q.ctx.WriteMemory(q.ctx.Layout().QSPIScratch, q.snapshot); err != nil {
			return err
		}
	}
	q.inited = false
	q.retain = false
	q.snapshot = nil
	q.log.Info("QSPI uninitialized", zap.Uint32("serial", q.ctx.Serial()))
	return nil
}

// Read copies len(buf) bytes from external flash offset addr. Reads past
// the end of the fitted flash return erased bytes, the way the bus does.
func (q *Controller) Read(addr uint32, buf []byte) error {
	if err := q.requireInit("qspi_read"); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}
	regs := q.ctx.Layout()

	// Widen to word alignment; the scratch pass drops the excess.
	lo := addr &^ 3
	hi := (addr + uint32(len(buf)) + 3) &^ 3
	for chunk := lo; chunk < hi; {
		n := hi - chunk
		if n > regs.QSPIScratchSize {
			n = regs.QSPIScratchSize
		}
		if err := q.dmaRead(chunk, n); err != nil {
			return err
		}
		staged := make([]byte, n)
		if err := q.ctx.ReadMemory(regs.QSPIScratch, staged); err != nil {
			return err
		}
		copyOverlap(buf, addr, staged, chunk)
		chunk += n
	}
	logging.LogMemoryAccess("qspi_read", addr, len(buf))
	return nil
}

// Write programs len(data) bytes at external flash offset addr. Program
// pulses only clear bits; writing over non-erased flash does not fault
// here, it shows up in verification.
func (q *Controller) Write(addr uint32, data []byte) error {
	if err := q.requireInit("qspi_write"); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	regs := q.ctx.Layout()

	lo := addr &^ 3
	hi := (addr + uint32(len(data)) + 3) &^ 3
	for chunk := lo; chunk < hi; {
		n := hi - chunk
		if n > regs.QSPIScratchSize {
			n = regs.QSPIScratchSize
		}
		staged := make([]byte, n)
		fill(staged, 0xFF)
		copyOverlap(staged, chunk, data, addr)
		if err := q.ctx.WriteMemory(regs.QSPIScratch, staged); err != nil {
			return err
		}
		if err := q.dmaWrite(chunk, n); err != nil {
			return err
		}
		chunk += n
	}
	logging.LogFlashOp("qspi_write", addr, len(data))
	return nil
}

// Erase wipes one erase unit at addr, or the whole chip when length is
// QSPIEraseAll. The address must sit on a unit boundary.
func (q *Controller) Erase(addr uint32, length nrf.QSPIEraseLen) error {
	if err := q.requireInit("qspi_erase"); err != nil {
		return err
	}
	if unit := length.Bytes(); unit != 0 {
		if addr%unit != 0 {
			return nrf.OpErrorf(nrf.CodeInvalidParameter, "qspi_erase",
				"address %#08x is not aligned to the %s unit", addr, length)
		}
	} else if length != nrf.QSPIEraseAll {
		return nrf.OpErrorf(nrf.CodeInvalidParameter, "qspi_erase", "unknown erase length %d", length)
	}

	if err := q.writeReg(catalog.QSPIErasePtr, addr); err != nil {
		return err
	}
	if err := q.writeReg(catalog.QSPIEraseLen, uint32(length)); err != nil {
		return err
	}
	if err := q.task(catalog.QSPITasksEraseStart); err != nil {
		return err
	}
	logging.LogFlashOp("qspi_erase", addr, int(length.Bytes()))
	return nil
}

// Custom sends a vendor instruction with up to 8 data bytes and returns
// the same number of bytes the flash clocked back.
func (q *Controller) Custom(opcode uint8, data []byte) ([]byte, error) {
	if err := q.requireInit("qspi_custom"); err != nil {
		return nil, err
	}
	if len(data) > maxCustomBytes {
		return nil, nrf.OpErrorf(nrf.CodeInvalidParameter, "qspi_custom",
			"%d data bytes, the instruction registers hold at most %d", len(data), maxCustomBytes)
	}

	var words [2]uint32
	for i, b := range data {
		words[i/4] |= uint32(b) << (8 * uint(i%4))
	}
	if err := q.writeReg(catalog.QSPICinstrDat0, words[0]); err != nil {
		return nil, err
	}
	if err := q.writeReg(catalog.QSPICinstrDat1, words[1]); err != nil {
		return nil, err
	}
	if err := q.writeReg(catalog.QSPIEventsReady, 0); err != nil {
		return nil, err
	}
	// LENGTH field counts the opcode byte too.
	conf := uint32(opcode) | uint32(len(data)+1)<<8
	if err := q.writeReg(catalog.QSPICinstrConf, conf); err != nil {
		return nil, err
	}
	if err := q.waitReady(); err != nil {
		return nil, err
	}

	for i := range words {
		v, err := q.readReg(catalog.QSPICinstrDat0 + uint32(4*i))
		if err != nil {
			return nil, err
		}
		words[i] = v
	}
	out := make([]byte, len(data))
	for i := range out {
		out[i] = byte(words[i/4] >> (8 * uint(i%4)))
	}
	return out, nil
}

// Size reads the JEDEC identification and returns the fitted flash
// capacity in bytes.
func (q *Controller) Size() (uint32, error) {
	id, err := q.Custom(opJEDECID, make([]byte, 3))
	if err != nil {
		return 0, err
	}
	// Third byte is the capacity as a power of two.
	if id[2] < 16 || id[2] > 28 {
		return 0, nrf.OpErrorf(nrf.CodeInternalError, "qspi_size",
			"implausible JEDEC id % 02x", id)
	}
	return 1 << id[2], nil
}

func (q *Controller) requireInit(op string) error {
	if !q.inited {
		return nrf.OpError(nrf.CodeInvalidOperation, op, "QSPI is not initialized")
	}
	return nil
}

func (q *Controller) dmaRead(flashAddr, n uint32) error {
	regs := q.ctx.Layout()
	if err := q.writeReg(catalog.QSPIReadSrc, flashAddr); err != nil {
		return err
	}
	if err := q.writeReg(catalog.QSPIReadDst, regs.QSPIScratch); err != nil {
		return err
	}
	if err := q.writeReg(catalog.QSPIReadCnt, n); err != nil {
		return err
	}
	return q.task(catalog.QSPITasksReadStart)
}

func (q *Controller) dmaWrite(flashAddr, n uint32) error {
	regs := q.ctx.Layout()
	if err := q.writeReg(catalog.QSPIWriteDst, flashAddr); err != nil {
		return err
	}
	if err := q.writeReg(catalog.QSPIWriteSrc, regs.QSPIScratch); err != nil {
		return err
	}
	if err := q.writeReg(catalog.QSPIWriteCnt, n); err != nil {
		return err
	}
	return q.task(catalog.QSPITasksWriteStart)
}

// task clears EVENTS_READY, fires the task and waits for completion.
func (q *Controller) task(reg uint32) error {
	if err := q.writeReg(catalog.QSPIEventsReady, 0); err != nil {
		return err
	}
	if err := q.writeReg(reg, 1); err != nil {
		return err
	}
	return q.waitReady()
}

func (q *Controller) waitReady() error {
	deadline := time.Now().Add(readyTimeout)
	for {
		v, err := q.readReg(catalog.QSPIEventsReady)
		if err != nil {
			return err
		}
		if v != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return nrf.OpError(nrf.CodeTimeOut, "qspi", "peripheral never signalled ready")
		}
		time.Sleep(readyPoll)
	}
}

func (q *Controller) readReg(off uint32) (uint32, error) {
	return q.ctx.ReadU32(q.ctx.Layout().QSPIBase + off)
}

func (q *Controller) writeReg(off, v uint32) error {
	return q.ctx.WriteU32(q.ctx.Layout().QSPIBase+off, v)
}

// ifConfig0 packs opcode classes, address mode and page size.
func ifConfig0(p nrf.QSPIInitParams) uint32 {
	v := uint32(p.ReadMode) & 0x7
	v |= (uint32(p.WriteMode) & 0x7) << 3
	v |= (uint32(p.AddressMode) & 0x1) << 6
	v |= (uint32(p.PPSize) & 0x1) << 12
	return v
}

// ifConfig1 packs the SCK delay, SPI mode and frequency divider.
func ifConfig1(p nrf.QSPIInitParams) uint32 {
	v := p.SckDelay & 0xFF
	v |= (uint32(p.SpiMode) & 0x1) << 25
	v |= uint32(uint8(p.Frequency)&0xF) << 28
	return v
}

// addrConf carries the enter-4-byte-address opcode when 32 bit addressing
// is selected.
func addrConf(p nrf.QSPIInitParams) uint32 {
	if p.AddressMode == nrf.QSPIAddr32Bit {
		return 0xB7
	}
	return 0
}

// copyOverlap copies the part of src that overlaps dst in address space.
func copyOverlap(dst []byte, dstAddr uint32, src []byte, srcAddr uint32) {
	lo := dstAddr
	if srcAddr > lo {
		lo = srcAddr
	}
	hi := dstAddr + uint32(len(dst))
	if end := srcAddr + uint32(len(src)); end < hi {
		hi = end
	}
	if hi <= lo {
		return
	}
	copy(dst[lo-dstAddr:hi-dstAddr], src[lo-srcAddr:hi-srcAddr])
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
