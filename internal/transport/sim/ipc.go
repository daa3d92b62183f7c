package sim

import (
	"crypto/sha256"

	"github.com/nrfprobe/nrfprobe/internal/catalog"
)

// modemStoreSize is the nRF91 modem firmware store behind the responder.
const modemStoreSize = 1024 * 1024

// ipcState models the DFU responder reached through the application-core
// IPC peripheral: a doorbell triggers command processing against the
// mailbox in application RAM, results come back as receive events.
type ipcState struct {
	armed  bool
	events [3]uint32
	uuid   [10]uint32

	// failStatus makes the next doorbell raise a fault event with this
	// status instead of running the command.
	failStatus uint32
}

// DisableIPCDFU silences the DFU responder so doorbell rings go
// unanswered, the way a device without the responder ROM behaves.
func (t *Target) DisableIPCDFU() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ipc.armed = false
}

// SetDFUUUID overrides the identity words the responder reports.
func (t *Target) SetDFUUUID(id [10]uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ipc.uuid = id
}

// FailNextIPCCommand arms a one-shot fault: the next doorbell raises the
// fault event carrying the given status.
func (t *Target) FailNextIPCCommand(status uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ipc.failStatus = status
}

// ModemFlashBytes returns a copy of the nRF91 modem firmware store.
func (t *Target) ModemFlashBytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.modem...)
}

func (t *Target) ipcRead(off uint32) uint32 {
	if off >= catalog.IPCEventsReceive && off < catalog.IPCEventsReceive+uint32(len(t.ipc.events))*4 {
		return t.ipc.events[(off-catalog.IPCEventsReceive)/4]
	}
	return 0
}

func (t *Target) ipcWrite(off uint32, v uint32) {
	if off >= catalog.IPCEventsReceive && off < catalog.IPCEventsReceive+uint32(len(t.ipc.events))*4 {
		t.ipc.events[(off-catalog.IPCEventsReceive)/4] = v
		return
	}
	if off == catalog.IPCTasksSend+4*catalog.IPCChanDoorbell && v != 0 {
		t.ipcDoorbell()
	}
}

// ipcDoorbell runs one mailbox command. Callers hold t.mu.
func (t *Target) ipcDoorbell() {
	if !t.ipc.armed {
		return
	}
	if t.ipc.failStatus != 0 {
		t.ipcRespond(t.ipc.failStatus, nil, catalog.IPCChanFault)
		t.ipc.failStatus = 0
		return
	}

	box := t.app.ram[catalog.IPCMailboxOffset : catalog.IPCMailboxOffset+catalog.IPCMailboxSize]
	cmd := le32(box[0:])
	addr := le32(box[4:])
	length := le32(box[8:])

	switch cmd {
	case catalog.IPCCmdWrite:
		store, off, ok := t.ipcRange(addr, length)
		if !ok || length > catalog.IPCMailboxSize-12 {
			t.ipcRespond(catalog.IPCStatusBadRange, nil, catalog.IPCChanFault)
			return
		}
		copy(store[off:off+length], box[12:12+length])
		t.ipcRespond(0, nil, catalog.IPCChanCommand)
	case catalog.IPCCmdRead:
		store, off, ok := t.ipcRange(addr, length)
		if !ok || length > catalog.IPCMailboxSize-8 {
			t.ipcRespond(catalog.IPCStatusBadRange, nil, catalog.IPCChanFault)
			return
		}
		t.ipcRespond(0, store[off:off+length], catalog.IPCChanData)
	case catalog.IPCCmdDigest:
		store, off, ok := t.ipcRange(addr, length)
		if !ok {
			t.ipcRespond(catalog.IPCStatusBadRange, nil, catalog.IPCChanFault)
			return
		}
		sum := sha256.Sum256(store[off : off+length])
		t.ipcRespond(0, sum[:], catalog.IPCChanData)
	case catalog.IPCCmdUUID:
		id := make([]byte, len(t.ipc.uuid)*4)
		for i, w := range t.ipc.uuid {
			put32(id, uint32(i)*4, w)
		}
		t.ipcRespond(0, id, catalog.IPCChanData)
	default:
		t.ipcRespond(catalog.IPCStatusBadCommand, nil, catalog.IPCChanFault)
	}
}

// ipcRange resolves a command address range to the store the responder
// programs: the modem store on nRF91 at plain offsets, the network core
// flash on nRF53 at its bus addresses.
func (t *Target) ipcRange(addr, length uint32) ([]byte, uint32, bool) {
	if length == 0 {
		return nil, 0, false
	}
	if t.modem != nil {
		if off, ok := span(addr, length, 0, uint32(len(t.modem))); ok {
			return t.modem, off, true
		}
		return nil, 0, false
	}
	if t.net != nil {
		if off, ok := span(addr, length, t.net.regs.CodeBase, uint32(len(t.net.flash))); ok {
			return t.net.flash, off, true
		}
	}
	return nil, 0, false
}

func (t *Target) ipcRespond(status uint32, payload []byte, channel uint32) {
	box := t.app.ram[catalog.IPCMailboxOffset:]
	put32(box, 0, status)
	put32(box, 4, uint32(len(payload)))
	copy(box[8:], payload)
	t.ipc.events[channel] = 1
}
