package sim

import (
	"github.com/nrfprobe/nrfprobe/internal/catalog"
	"github.com/nrfprobe/nrfprobe/internal/transport"
)

// qspiState models the QSPI controller: DMA transfers between data RAM
// and the external flash, sector erases, and a small custom-instruction
// responder imitating an MX25R6435F.
type qspiState struct {
	activated   bool
	eventsReady uint32

	readSrc  uint32
	readDst  uint32
	readCnt  uint32
	writeDst uint32
	writeSrc uint32
	writeCnt uint32
	erasePtr uint32
	eraseLen uint32

	ifConfig0  uint32
	ifConfig1  uint32
	addrConf   uint32
	cinstrConf uint32
	cinstrDat  [2]uint32

	jedec [3]byte
}

func newQSPIState() *qspiState {
	return &qspiState{jedec: [3]byte{0xC2, 0x28, 0x17}}
}

func (q *qspiState) reset() {
	jedec := q.jedec
	*q = qspiState{jedec: jedec}
}

func (q *qspiState) readReg(off uint32) uint32 {
	switch off {
	case catalog.QSPIEventsReady:
		return q.eventsReady
	case catalog.QSPIReadSrc:
		return q.readSrc
	case catalog.QSPIReadDst:
		return q.readDst
	case catalog.QSPIReadCnt:
		return q.readCnt
	case catalog.QSPIWriteDst:
		return q.writeDst
	case catalog.QSPIWriteSrc:
		return q.writeSrc
	case catalog.QSPIWriteCnt:
		return q.writeCnt
	case catalog.QSPIErasePtr:
		return q.erasePtr
	case catalog.QSPIEraseLen:
		return q.eraseLen
	case catalog.QSPIIfConfig0:
		return q.ifConfig0
	case catalog.QSPIIfConfig1:
		return q.ifConfig1
	case catalog.QSPIAddrConf:
		return q.addrConf
	case catalog.QSPICinstrConf:
		return q.cinstrConf
	case catalog.QSPICinstrDat0:
		return q.cinstrDat[0]
	case catalog.QSPICinstrDat1:
		return q.cinstrDat[1]
	case catalog.QSPIStatusReg:
		// External flash idle, write enable latch clear.
		return 0
	}
	return 0
}

func (q *qspiState) writeReg(t *Target, c *core, off, v uint32) error {
	switch off {
	case catalog.QSPITasksActivate:
		if v == 1 {
			q.activated = true
			q.eventsReady = 1
		}
	case catalog.QSPITasksDeactivate:
		if v == 1 {
			q.activated = false
		}
	case catalog.QSPITasksReadStart:
		if v == 1 && q.activated {
			if err := q.dmaRead(t, c); err != nil {
				return err
			}
			q.eventsReady = 1
		}
	case catalog.QSPITasksWriteStart:
		if v == 1 && q.activated {
			if err := q.dmaWrite(t, c); err != nil {
				return err
			}
			q.eventsReady = 1
		}
	case catalog.QSPITasksEraseStart:
		if v == 1 && q.activated {
			q.erase(t)
			q.eventsReady = 1
		}
	case catalog.QSPIEventsReady:
		q.eventsReady = v
	case catalog.QSPIReadSrc:
		q.readSrc = v
	case catalog.QSPIReadDst:
		q.readDst = v
	case catalog.QSPIReadCnt:
		q.readCnt = v
	case catalog.QSPIWriteDst:
		q.writeDst = v
	case catalog.QSPIWriteSrc:
		q.writeSrc = v
	case catalog.QSPIWriteCnt:
		q.writeCnt = v
	case catalog.QSPIErasePtr:
		q.erasePtr = v
	case catalog.QSPIEraseLen:
		q.eraseLen = v
	case catalog.QSPIIfConfig0:
		q.ifConfig0 = v
	case catalog.QSPIIfConfig1:
		q.ifConfig1 = v
	case catalog.QSPIAddrConf:
		q.addrConf = v
	case catalog.QSPICinstrConf:
		q.cinstrConf = v
		q.execCustom(v)
	case catalog.QSPICinstrDat0:
		q.cinstrDat[0] = v
	case catalog.QSPICinstrDat1:
		q.cinstrDat[1] = v
	}
	return nil
}

// dmaRead copies external flash into data RAM. Reads past the end of the
// attached flash return erased bytes.
func (q *qspiState) dmaRead(t *Target, c *core) error {
	n := q.readCnt
	if n == 0 {
		return nil
	}
	off, ok := span(q.readDst, n, c.regs.RAMBase, uint32(len(c.ram)))
	if !ok {
		return transport.ErrBusFault
	}
	if err := c.ramPowerCheck(off, n); err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		src := q.readSrc + i
		if src < uint32(len(t.xflash)) {
			c.ram[off+i] = t.xflash[src]
		} else {
			c.ram[off+i] = 0xFF
		}
	}
	return nil
}

// dmaWrite programs data RAM content into the external flash. Serial NOR
// behaves like on-chip flash: program only clears bits.
func (q *qspiState) dmaWrite(t *Target, c *core) error {
	n := q.writeCnt
	if n == 0 {
		return nil
	}
	off, ok := span(q.writeSrc, n, c.regs.RAMBase, uint32(len(c.ram)))
	if !ok {
		return transport.ErrBusFault
	}
	if err := c.ramPowerCheck(off, n); err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		dst := q.writeDst + i
		if dst < uint32(len(t.xflash)) {
			t.xflash[dst] &= c.ram[off+i]
		}
	}
	return nil
}

func (q *qspiState) erase(t *Target) {
	if len(t.xflash) == 0 {
		return
	}
	var n uint32
	switch q.eraseLen {
	case 0:
		n = 4 * 1024
	case 1:
		n = 64 * 1024
	case 3:
		n = 32 * 1024
	case 2:
		fill(t.xflash, 0xFF)
		return
	default:
		return
	}
	start := q.erasePtr
	for i := uint32(0); i < n; i++ {
		if start+i < uint32(len(t.xflash)) {
			t.xflash[start+i] = 0xFF
		}
	}
}

// execCustom answers the two instructions the engine issues by itself;
// everything else reads back as zeros.
func (q *qspiState) execCustom(conf uint32) {
	opcode := conf & 0xFF
	switch opcode {
	case 0x9F: // JEDEC ID
		q.cinstrDat[0] = uint32(q.jedec[0]) | uint32(q.jedec[1])<<8 | uint32(q.jedec[2])<<16
		q.cinstrDat[1] = 0
	case 0x05: // read status register
		q.cinstrDat[0] = 0
		q.cinstrDat[1] = 0
	default:
		q.cinstrDat[0] = 0
		q.cinstrDat[1] = 0
	}
	q.eventsReady = 1
}
