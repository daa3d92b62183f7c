// Package rtt speaks SEGGER RTT against a running target: it locates the
// control block the firmware placed in data RAM and moves bytes through
// its ring buffers without stopping the core.
//
// The probe never writes the control block, the firmware does. Start
// therefore only arms a search; the block may appear at any later poll,
// or never, and every transfer is non-blocking and may move fewer bytes
// than asked. Stop erases the block identifier in RAM, so a restart
// waits until the firmware writes it again.
package rtt

import (
	"bytes"

	"go.uber.org/zap"

	"github.com/nrfprobe/nrfprobe/internal/device"
	"github.com/nrfprobe/nrfprobe/internal/logging"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
)

// State is the lifecycle position of the RTT engine.
type State uint8

const (
	StateNotStarted State = iota
	StateSearching
	StateFound
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateSearching:
		return "SEARCHING"
	case StateFound:
		return "FOUND"
	case StateStopped:
		return "STOPPED"
	default:
		return "INVALID"
	}
}

const (
	// blockID is what firmware writes at the head of the control block.
	// The identifier field is 16 bytes, NUL filled past the text.
	blockID     = "SEGGER RTT"
	blockIDSize = 16

	// Descriptor table layout: per-channel name pointer, buffer pointer,
	// buffer size, write offset, read offset, flags.
	descSize     = 24
	descName     = 0
	descBuffer   = 4
	descBufSize  = 8
	descWriteOff = 12
	descReadOff  = 16

	// maxChannels bounds the descriptor counts a block may claim. Larger
	// values mean the identifier matched stray RAM content.
	maxChannels = 16

	// maxNameLen caps channel names on read.
	maxNameLen = 32

	// scanChunk is how much RAM one search poll covers.
	scanChunk uint32 = 16 * 1024
)

// ChannelInfo describes one ring buffer of a found control block.
type ChannelInfo struct {
	Index     int
	Direction nrf.RTTDirection
	Name      string
	Size      uint32
}

// Controller runs the RTT state machine for one core.
type Controller struct {
	ctx *device.Context
	log *zap.Logger

	state      State
	hint       uint32
	blockAddr  uint32
	scanCursor uint32
	upCount    int
	downCount  int
}

// New returns an idle RTT controller with no control block hint.
func New(ctx *device.Context) *Controller {
	return &Controller{ctx: ctx, log: logging.GetLogger(), hint: nrf.InvalidAddress}
}

// State reports the current lifecycle position.
func (r *Controller) State() State { return r.state }

// SetControlBlockAddress pins the search to one address instead of
// scanning RAM. Only legal before Start.
func (r *Controller) SetControlBlockAddress(addr uint32) error {
	if r.state == StateSearching || r.state == StateFound {
		return nrf.OpError(nrf.CodeInvalidOperation, "rtt_set_control_block_address",
			"RTT is already started")
	}
	if addr%4 != 0 {
		return nrf.OpErrorf(nrf.CodeInvalidParameter, "rtt_set_control_block_address",
			"control block address %#08x is not word aligned", addr)
	}
	info, err := r.ctx.ReadDeviceInfo()
	if err != nil {
		return err
	}
	if addr < info.RAMAddress || addr >= info.RAMAddress+info.RAMSize {
		return nrf.OpErrorf(nrf.CodeInvalidParameter, "rtt_set_control_block_address",
			"control block address %#08x is outside data RAM", addr)
	}
	r.hint = addr
	return nil
}

// Start arms the control block search and returns without waiting. Poll
// IsControlBlockFound afterwards.
func (r *Controller) Start() error {
	if r.state == StateSearching || r.state == StateFound {
		return nrf.OpError(nrf.CodeInvalidOperation, "rtt_start", "RTT is already started")
	}
	// Identification settles the RAM extent before the first poll.
	if _, err := r.ctx.ReadDeviceInfo(); err != nil {
		return err
	}
	r.state = StateSearching
	r.blockAddr = 0
	r.scanCursor = 0
	r.upCount = 0
	r.downCount = 0
	r.log.Debug("RTT search started",
		zap.Uint32("serial", r.ctx.Serial()),
		zap.Bool("hinted", r.hint != nrf.InvalidAddress),
	)
	return nil
}

// Stop ends the session and erases the control block identifier so the
// firmware has to publish it again. Stopping twice is harmless.
func (r *Controller) Stop() error {
	if r.state == StateFound && r.blockAddr != 0 {
		zero := make([]byte, blockIDSize)
		if err := r.ctx.WriteMemory(r.blockAddr, zero); err != nil {
			return err
		}
		r.log.Debug("RTT control block erased", zap.Uint32("address", r.blockAddr))
	}
	r.state = StateStopped
	r.blockAddr = 0
	return nil
}

// IsControlBlockFound advances the search by one bounded step and
// reports whether the control block has been located.
func (r *Controller) IsControlBlockFound() (bool, error) {
	switch r.state {
	case StateFound:
		return true, nil
	case StateSearching:
	default:
		return false, nrf.OpError(nrf.CodeInvalidOperation, "rtt_is_control_block_found",
			"RTT is not started")
	}
	if r.hint != nrf.InvalidAddress {
		return r.probeHint()
	}
	return r.scanStep()
}

// probeHint checks the pinned address. A wrong hint is not an error; the
// firmware may simply not have written the block yet.
func (r *Controller) probeHint() (bool, error) {
	ok, err := r.loadBlock(r.hint)
	if err != nil || !ok {
		return false, err
	}
	return true, nil
}

// scanStep searches one chunk of data RAM for the identifier, skipping
// sections whose power gate is off.
func (r *Controller) scanStep() (bool, error) {
	info, err := r.ctx.ReadDeviceInfo()
	if err != nil {
		return false, err
	}
	secSize, err := r.ctx.RAMSectionSize()
	if err != nil {
		return false, err
	}

	budget := scanChunk
	for budget > 0 && r.scanCursor < info.RAMSize {
		sec := r.scanCursor / secSize
		powered, err := r.ctx.RAMSectionPowered(sec)
		if err != nil {
			return false, err
		}
		if powered == nrf.RamOff {
			r.scanCursor = (sec + 1) * secSize
			continue
		}

		secEnd := (sec + 1) * secSize
		if secEnd > info.RAMSize {
			secEnd = info.RAMSize
		}
		n := secEnd - r.scanCursor
		if n > budget {
			n = budget
		}
		// Overlap by the identifier size so a block straddling the chunk
		// boundary still matches.
		readLen := n + blockIDSize
		if r.scanCursor+readLen > secEnd {
			readLen = secEnd - r.scanCursor
		}
		buf := make([]byte, readLen)
		if err := r.ctx.ReadMemory(info.RAMAddress+r.scanCursor, buf); err != nil {
			return false, err
		}
		// Stray RAM content can also contain the identifier, so probe
		// every aligned match in the chunk.
		for from := uint32(0); ; {
			off, ok := findIdentifier(buf, from)
			if !ok {
				break
			}
			found, err := r.loadBlock(info.RAMAddress + r.scanCursor + off)
			if err != nil {
				return false, err
			}
			if found {
				return true, nil
			}
			from = off + 4
		}
		r.scanCursor += n
		budget -= n
	}
	// The firmware may publish the block at any time, so a sweep that
	// reaches the end starts over on the next poll.
	if r.scanCursor >= info.RAMSize {
		r.scanCursor = 0
	}
	return false, nil
}

// findIdentifier looks for the next word-aligned block identifier at or
// after from.
func findIdentifier(buf []byte, from uint32) (uint32, bool) {
	id := []byte(blockID)
	for int(from) < len(buf) {
		i := bytes.Index(buf[from:], id)
		if i < 0 {
			return 0, false
		}
		off := from + uint32(i)
		if off%4 == 0 {
			return off, true
		}
		from = off + 1
	}
	return 0, false
}

// loadBlock validates the block at addr and latches the channel counts.
func (r *Controller) loadBlock(addr uint32) (bool, error) {
	head := make([]byte, blockIDSize+8)
	if err := r.ctx.ReadMemory(addr, head); err != nil {
		return false, err
	}
	if !bytes.Equal(head[:len(blockID)], []byte(blockID)) {
		return false, nil
	}
	up := le32(head[blockIDSize:])
	down := le32(head[blockIDSize+4:])
	if up > maxChannels || down > maxChannels || up+down == 0 {
		// The identifier matched stale RAM content.
		return false, nil
	}

	r.blockAddr = addr
	r.upCount = int(up)
	r.downCount = int(down)
	r.state = StateFound
	r.log.Info("RTT control block found",
		zap.Uint32("serial", r.ctx.Serial()),
		zap.Uint32("address", addr),
		zap.Int("up", r.upCount),
		zap.Int("down", r.downCount),
	)
	r.logChannels()
	return true, nil
}

func (r *Controller) logChannels() {
	for i := 0; i < r.upCount; i++ {
		if info, err := r.Channel(nrf.RTTUp, i); err == nil {
			logging.LogRTTChannel(nrf.RTTUp.String(), i, info.Name, info.Size)
		}
	}
	for i := 0; i < r.downCount; i++ {
		if info, err := r.Channel(nrf.RTTDown, i); err == nil {
			logging.LogRTTChannel(nrf.RTTDown.String(), i, info.Name, info.Size)
		}
	}
}

// ChannelCount returns how many up and down channels the block declares.
func (r *Controller) ChannelCount() (up, down int, err error) {
	if err := r.requireFound("rtt_read_channel_count"); err != nil {
		return 0, 0, err
	}
	return r.upCount, r.downCount, nil
}

// Channel reads the descriptor of one channel: its name, direction and
// ring size.
func (r *Controller) Channel(dir nrf.RTTDirection, index int) (ChannelInfo, error) {
	if err := r.requireFound("rtt_read_channel_info"); err != nil {
		return ChannelInfo{}, err
	}
	d, err := r.descAddr(dir, index, "rtt_read_channel_info")
	if err != nil {
		return ChannelInfo{}, err
	}
	namePtr, err := r.ctx.ReadU32(d + descName)
	if err != nil {
		return ChannelInfo{}, err
	}
	size, err := r.ctx.ReadU32(d + descBufSize)
	if err != nil {
		return ChannelInfo{}, err
	}
	name, err := r.readName(namePtr)
	if err != nil {
		return ChannelInfo{}, err
	}
	return ChannelInfo{Index: index, Direction: dir, Name: name, Size: size}, nil
}

// readName fetches a NUL-terminated channel name, capped at 32 bytes.
func (r *Controller) readName(ptr uint32) (string, error) {
	if ptr == 0 {
		return "", nil
	}
	info, err := r.ctx.ReadDeviceInfo()
	if err != nil {
		return "", err
	}
	if ptr < info.RAMAddress || ptr >= info.RAMAddress+info.RAMSize {
		return "", nil
	}
	n := uint32(maxNameLen + 1)
	if room := info.RAMAddress + info.RAMSize - ptr; room < n {
		n = room
	}
	buf := make([]byte, n)
	if err := r.ctx.ReadMemory(ptr, buf); err != nil {
		return "", err
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	if len(buf) > maxNameLen {
		buf = buf[:maxNameLen]
	}
	return string(buf), nil
}

// Read drains up to len(buf) bytes from an up channel. It returns what
// was available; zero bytes is a normal idle result, not an error.
func (r *Controller) Read(channel int, buf []byte) (int, error) {
	if err := r.requireFound("rtt_read"); err != nil {
		return 0, err
	}
	d, err := r.descAddr(nrf.RTTUp, channel, "rtt_read")
	if err != nil {
		return 0, err
	}
	ring, err := r.loadRing(d)
	if err != nil {
		return 0, err
	}
	if ring.size == 0 || len(buf) == 0 {
		return 0, nil
	}

	avail := (ring.wr + ring.size - ring.rd) % ring.size
	n := uint32(len(buf))
	if avail < n {
		n = avail
	}
	if n == 0 {
		return 0, nil
	}
	first := ring.size - ring.rd
	if first > n {
		first = n
	}
	if err := r.ctx.ReadMemory(ring.buffer+ring.rd, buf[:first]); err != nil {
		return 0, err
	}
	if first < n {
		if err := r.ctx.ReadMemory(ring.buffer, buf[first:n]); err != nil {
			return 0, err
		}
	}
	if err := r.ctx.WriteU32(d+descReadOff, (ring.rd+n)%ring.size); err != nil {
		return 0, err
	}
	return int(n), nil
}

// Write queues up to len(data) bytes on a down channel and reports how
// many fit. The ring keeps one byte free to distinguish full from empty.
func (r *Controller) Write(channel int, data []byte) (int, error) {
	if err := r.requireFound("rtt_write"); err != nil {
		return 0, err
	}
	d, err := r.descAddr(nrf.RTTDown, channel, "rtt_write")
	if err != nil {
		return 0, err
	}
	ring, err := r.loadRing(d)
	if err != nil {
		return 0, err
	}
	if ring.size == 0 || len(data) == 0 {
		return 0, nil
	}

	space := (ring.rd + ring.size - ring.wr - 1) % ring.size
	n := uint32(len(data))
	if space < n {
		n = space
	}
	if n == 0 {
		return 0, nil
	}
	first := ring.size - ring.wr
	if first > n {
		first = n
	}
	if err := r.ctx.WriteMemory(ring.buffer+ring.wr, data[:first]); err != nil {
		return 0, err
	}
	if first < n {
		if err := r.ctx.WriteMemory(ring.buffer, data[first:n]); err != nil {
			return 0, err
		}
	}
	if err := r.ctx.WriteU32(d+descWriteOff, (ring.wr+n)%ring.size); err != nil {
		return 0, err
	}
	return int(n), nil
}

type ringState struct {
	buffer uint32
	size   uint32
	wr     uint32
	rd     uint32
}

func (r *Controller) loadRing(d uint32) (ringState, error) {
	raw := make([]byte, 16)
	if err := r.ctx.ReadMemory(d+descBuffer, raw); err != nil {
		return ringState{}, err
	}
	return ringState{
		buffer: le32(raw[0:]),
		size:   le32(raw[4:]),
		wr:     le32(raw[8:]),
		rd:     le32(raw[12:]),
	}, nil
}

// descAddr returns the absolute address of one channel descriptor. Up
// descriptors come first in the table.
func (r *Controller) descAddr(dir nrf.RTTDirection, index int, op string) (uint32, error) {
	var count, base int
	switch dir {
	case nrf.RTTUp:
		count = r.upCount
	case nrf.RTTDown:
		count, base = r.downCount, r.upCount
	default:
		return 0, nrf.OpErrorf(nrf.CodeInvalidParameter, op, "unknown channel direction %d", dir)
	}
	if index < 0 || index >= count {
		return 0, nrf.OpErrorf(nrf.CodeInvalidParameter, op,
			"channel %d out of range, the block has %d %s channels", index, count, dir)
	}
	return r.blockAddr + blockIDSize + 8 + uint32(base+index)*descSize, nil
}

func (r *Controller) requireFound(op string) error {
	if r.state != StateFound {
		return nrf.OpError(nrf.CodeInvalidOperation, op, "the RTT control block has not been found")
	}
	return nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
