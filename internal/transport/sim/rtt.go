package sim

import (
	"fmt"

	"github.com/nrfprobe/nrfprobe/internal/nrf"
)

// RTTBuffer describes one ring buffer of a simulated control block.
type RTTBuffer struct {
	Name string
	Size uint32
}

const (
	rttIDSize    = 16
	rttDescSize  = 24
	rttDescName  = 0
	rttDescBuf   = 4
	rttDescSize4 = 8
	rttDescWrOff = 12
	rttDescRdOff = 16
)

// InstallRTT lays a SEGGER control block into a core's RAM at the given
// offset, with the ring buffers and channel names packed behind the
// descriptor table. It returns the absolute control block address.
func (t *Target) InstallRTT(cp nrf.CoProcessor, ramOff uint32, up, down []RTTBuffer) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.coreFor(cp)
	if c == nil {
		return 0, fmt.Errorf("sim: target has no %v core", cp)
	}

	base := c.regs.RAMBase + ramOff
	descBytes := uint32(len(up)+len(down)) * rttDescSize
	cursor := ramOff + rttIDSize + 8 + descBytes

	copy(c.ram[ramOff:], "SEGGER RTT\x00\x00\x00\x00\x00\x00")
	put32(c.ram, ramOff+16, uint32(len(up)))
	put32(c.ram, ramOff+20, uint32(len(down)))

	writeDesc := func(d uint32, b RTTBuffer) error {
		bufOff := (cursor + 3) &^ 3
		if bufOff+b.Size > uint32(len(c.ram)) {
			return fmt.Errorf("sim: RTT buffers overflow RAM")
		}
		cursor = bufOff + b.Size
		nameOff := cursor
		if nameOff+uint32(len(b.Name))+1 > uint32(len(c.ram)) {
			return fmt.Errorf("sim: RTT names overflow RAM")
		}
		copy(c.ram[nameOff:], b.Name)
		c.ram[nameOff+uint32(len(b.Name))] = 0
		cursor = nameOff + uint32(len(b.Name)) + 1

		put32(c.ram, d+rttDescName, c.regs.RAMBase+nameOff)
		put32(c.ram, d+rttDescBuf, c.regs.RAMBase+bufOff)
		put32(c.ram, d+rttDescSize4, b.Size)
		put32(c.ram, d+rttDescWrOff, 0)
		put32(c.ram, d+rttDescRdOff, 0)
		put32(c.ram, d+20, 0)
		return nil
	}

	d := ramOff + rttIDSize + 8
	for _, b := range up {
		if err := writeDesc(d, b); err != nil {
			return 0, err
		}
		d += rttDescSize
	}
	for _, b := range down {
		if err := writeDesc(d, b); err != nil {
			return 0, err
		}
		d += rttDescSize
	}

	c.rttAddr = base
	c.rttUp = len(up)
	return base, nil
}

// RTTTargetWrite plays the firmware side of an up channel: it appends
// data to the ring and advances the write offset. Returns how many bytes
// fit before the ring filled.
func (t *Target) RTTTargetWrite(cp nrf.CoProcessor, ch int, data []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.coreFor(cp)
	if c == nil || c.rttAddr == 0 {
		return 0, fmt.Errorf("sim: no RTT control block installed")
	}
	d := c.rttDescOff(ch, true)
	bufOff := le32(c.ram[d+rttDescBuf:]) - c.regs.RAMBase
	size := le32(c.ram[d+rttDescSize4:])
	wr := le32(c.ram[d+rttDescWrOff:])
	rd := le32(c.ram[d+rttDescRdOff:])

	n := 0
	for _, b := range data {
		next := (wr + 1) % size
		if next == rd {
			break
		}
		c.ram[bufOff+wr] = b
		wr = next
		n++
	}
	put32(c.ram, d+rttDescWrOff, wr)
	return n, nil
}

// RTTTargetRead plays the firmware side of a down channel, draining at
// most max bytes the host has queued.
func (t *Target) RTTTargetRead(cp nrf.CoProcessor, ch int, max int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.coreFor(cp)
	if c == nil || c.rttAddr == 0 {
		return nil, fmt.Errorf("sim: no RTT control block installed")
	}
	d := c.rttDescOff(ch, false)
	bufOff := le32(c.ram[d+rttDescBuf:]) - c.regs.RAMBase
	size := le32(c.ram[d+rttDescSize4:])
	wr := le32(c.ram[d+rttDescWrOff:])
	rd := le32(c.ram[d+rttDescRdOff:])

	var out []byte
	for rd != wr && len(out) < max {
		out = append(out, c.ram[bufOff+rd])
		rd = (rd + 1) % size
	}
	put32(c.ram, d+rttDescRdOff, rd)
	return out, nil
}

// rttDescOff returns the RAM offset of a channel descriptor.
func (c *core) rttDescOff(ch int, up bool) uint32 {
	base := c.rttAddr - c.regs.RAMBase + rttIDSize + 8
	if !up {
		base += uint32(c.rttUp) * rttDescSize
	}
	return base + uint32(ch)*rttDescSize
}
