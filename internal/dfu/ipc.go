package dfu

import (
	"crypto/sha256"
	"time"

	"go.uber.org/zap"

	"github.com/nrfprobe/nrfprobe/internal/catalog"
	"github.com/nrfprobe/nrfprobe/internal/device"
	"github.com/nrfprobe/nrfprobe/internal/firmware"
	"github.com/nrfprobe/nrfprobe/internal/logging"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
	"github.com/nrfprobe/nrfprobe/internal/probe"
)

const (
	ipcDefaultTimeout = 30 * time.Second

	// ipcChunk is the firmware payload per write command. The command
	// header and payload must fit the shared mailbox together.
	ipcChunk = 4096

	ipcPollInterval = 500 * time.Microsecond
)

// IPCSession drives the DFU responder running behind the IPC peripheral:
// the modem core on nRF91, the network core on nRF53. Commands go into a
// mailbox in shared RAM, a doorbell task hands them to the responder, and
// completion comes back as receive events. All target access runs over
// the application core's debug port; the updated core itself is never
// touched over SWD.
type IPCSession struct {
	dev *device.Context
	cp  nrf.CoProcessor

	base    uint32
	mailbox uint32

	timeout  time.Duration
	progress func(string)
	log      *zap.Logger
	closed   bool
}

// OpenIPC connects to the application core of the probe's target and
// performs an identity handshake with the responder serving cp. The
// application core itself has no responder; selecting it fails.
func OpenIPC(pc *probe.Connection, cp nrf.CoProcessor, opts ...Option) (*IPCSession, error) {
	cfg := newConfig(0, ipcDefaultTimeout, 0, opts)
	switch cp {
	case nrf.CPModem, nrf.CPNetwork:
	case nrf.CPApplication:
		return nil, nrf.OpError(nrf.CodeInvalidParameter, "dfu",
			"the application core has no IPC DFU responder")
	default:
		return nil, nrf.OpErrorf(nrf.CodeInvalidParameter, "dfu",
			"unknown coprocessor %d", cp)
	}

	dev, err := device.Connect(pc, nrf.FamilyAuto, nrf.CPApplication)
	if err != nil {
		return nil, err
	}
	ok := (dev.Family() == nrf.FamilyNRF91 && cp == nrf.CPModem) ||
		(dev.Family() == nrf.FamilyNRF53 && cp == nrf.CPNetwork)
	if !ok {
		dev.Disconnect()
		return nil, nrf.OpErrorf(nrf.CodeInvalidDeviceForOperation, "dfu",
			"%s has no %s DFU target", dev.Family(), cp)
	}
	info, err := dev.ReadDeviceInfo()
	if err != nil {
		dev.Disconnect()
		return nil, err
	}

	s := &IPCSession{
		dev:      dev,
		cp:       cp,
		base:     dev.Layout().IPCBase,
		mailbox:  info.RAMAddress + catalog.IPCMailboxOffset,
		timeout:  cfg.timeout,
		progress: cfg.progress,
		log:      cfg.log,
	}

	// The handshake proves a live responder before the caller commits to
	// a transfer. A device without the responder loaded times out here.
	id, err := s.ReadUUID()
	if err != nil {
		dev.Disconnect()
		return nil, err
	}
	s.log.Debug("IPC DFU responder up",
		zap.String("target", cp.String()),
		zap.String("id", id.String()),
	)
	return s, nil
}

// Coprocessor returns the core this session updates.
func (s *IPCSession) Coprocessor() nrf.CoProcessor { return s.cp }

// DefaultVerifyAction returns the verify mode the transport prefers.
// The responder computes digests on-target, so hashing costs one command
// per image instead of a full read-back.
func (s *IPCSession) DefaultVerifyAction() nrf.VerifyAction { return nrf.VerifyHash }

// ProgramPackage transfers every image in the bundle.
func (s *IPCSession) ProgramPackage(pkg Package) error {
	imgs, err := packageImages(pkg)
	if err != nil {
		return err
	}
	return s.program(imgs)
}

// ProgramFiles transfers the given images in order.
func (s *IPCSession) ProgramFiles(imgs []*firmware.Image) error {
	flat, err := flattenImages(imgs)
	if err != nil {
		return err
	}
	return s.program(flat)
}

func (s *IPCSession) program(imgs []PackageImage) error {
	if err := s.requireOpen("dfu_program"); err != nil {
		return err
	}
	total := totalBytes(imgs)
	done := 0
	for _, im := range imgs {
		s.phase(im)
		for off := 0; off < len(im.Data); off += ipcChunk {
			end := off + ipcChunk
			if end > len(im.Data) {
				end = len(im.Data)
			}
			if err := s.writeChunk(im.Addr+uint32(off), im.Data[off:end]); err != nil {
				return err
			}
			done += end - off
			logging.LogDFUProgress("program", done, total)
		}
	}
	return nil
}

// VerifyPackage checks every image in the bundle against the target.
func (s *IPCSession) VerifyPackage(pkg Package, action nrf.VerifyAction) error {
	imgs, err := packageImages(pkg)
	if err != nil {
		return err
	}
	return s.verify(imgs, action)
}

// VerifyFiles checks the given images against the target.
func (s *IPCSession) VerifyFiles(imgs []*firmware.Image, action nrf.VerifyAction) error {
	flat, err := flattenImages(imgs)
	if err != nil {
		return err
	}
	return s.verify(flat, action)
}

func (s *IPCSession) verify(imgs []PackageImage, action nrf.VerifyAction) error {
	if err := s.requireOpen("dfu_verify"); err != nil {
		return err
	}
	switch action {
	case nrf.VerifyNone:
		return nil
	case nrf.VerifyHash, nrf.VerifyRead:
	default:
		return nrf.OpErrorf(nrf.CodeInvalidParameter, "dfu_verify",
			"unknown verify action %d", action)
	}
	total := totalBytes(imgs)
	done := 0
	for _, im := range imgs {
		if action == nrf.VerifyHash {
			got, err := s.ReadDigest(im.Addr, uint32(len(im.Data)))
			if err != nil {
				return err
			}
			if got != Digest(sha256.Sum256(im.Data)) {
				return nrf.OpErrorf(nrf.CodeVerifyError, "dfu_verify",
					"digest mismatch for %q at %#08x", im.Name, im.Addr)
			}
		} else {
			// Byte-accurate read through the raw command; the public Read
			// carries the legacy word-alignment contract.
			back, err := s.readRange(im.Addr, uint32(len(im.Data)))
			if err != nil {
				return err
			}
			for i := range back {
				if back[i] != im.Data[i] {
					return nrf.OpErrorf(nrf.CodeVerifyError, "dfu_verify",
						"mismatch for %q at %#08x", im.Name, im.Addr+uint32(i))
				}
			}
		}
		done += len(im.Data)
		logging.LogDFUProgress("verify", done, total)
	}
	return nil
}

// Read returns length bytes of the target store starting at addr. The
// address must be word aligned and the length a non-zero multiple of
// four.
func (s *IPCSession) Read(addr, length uint32) ([]byte, error) {
	if err := s.requireOpen("dfu_read"); err != nil {
		return nil, err
	}
	if addr%4 != 0 {
		return nil, nrf.OpErrorf(nrf.CodeInvalidParameter, "dfu_read",
			"address %#08x is not word aligned", addr)
	}
	if length == 0 || length%4 != 0 {
		return nil, nrf.OpErrorf(nrf.CodeInvalidParameter, "dfu_read",
			"length %d is not a non-zero multiple of four", length)
	}
	return s.readRange(addr, length)
}

func (s *IPCSession) readRange(addr, length uint32) ([]byte, error) {
	out := make([]byte, 0, length)
	for off := uint32(0); off < length; off += ipcChunk {
		n := length - off
		if n > ipcChunk {
			n = ipcChunk
		}
		data, err := s.exec(catalog.IPCCmdRead, addr+off, n, nil, catalog.IPCChanData)
		if err != nil {
			return nil, err
		}
		if uint32(len(data)) != n {
			return nil, nrf.OpErrorf(nrf.CodeInternalError, "dfu_read",
				"responder returned %d bytes for a %d byte read", len(data), n)
		}
		out = append(out, data...)
	}
	return out, nil
}

// ReadDigest asks the responder for the SHA-256 over [addr, addr+length).
func (s *IPCSession) ReadDigest(addr, length uint32) (Digest, error) {
	var d Digest
	if err := s.requireOpen("dfu_digest"); err != nil {
		return d, err
	}
	if length == 0 {
		return d, nrf.OpError(nrf.CodeInvalidParameter, "dfu_digest", "zero length range")
	}
	data, err := s.exec(catalog.IPCCmdDigest, addr, length, nil, catalog.IPCChanData)
	if err != nil {
		return d, err
	}
	if len(data) != len(d) {
		return d, nrf.OpErrorf(nrf.CodeInternalError, "dfu_digest",
			"responder returned a %d byte digest", len(data))
	}
	copy(d[:], data)
	return d, nil
}

// ReadUUID returns the responder's device identity.
func (s *IPCSession) ReadUUID() (DeviceID, error) {
	var id DeviceID
	if err := s.requireOpen("dfu_uuid"); err != nil {
		return id, err
	}
	data, err := s.exec(catalog.IPCCmdUUID, 0, 0, nil, catalog.IPCChanData)
	if err != nil {
		return id, err
	}
	if len(data) != len(id)*4 {
		return id, nrf.OpErrorf(nrf.CodeInternalError, "dfu_uuid",
			"responder returned a %d byte identity", len(data))
	}
	for i := range id {
		id[i] = word(data[i*4:])
	}
	return id, nil
}

// PendingEvent reports which responder event is raised, EventNone when
// idle. Fault wins when several are pending.
func (s *IPCSession) PendingEvent() (Event, error) {
	if err := s.requireOpen("dfu_event"); err != nil {
		return EventNone, err
	}
	for _, pair := range []struct {
		ch uint32
		ev Event
	}{
		{catalog.IPCChanFault, EventFault},
		{catalog.IPCChanCommand, EventCommand},
		{catalog.IPCChanData, EventData},
	} {
		v, err := s.readEvent(pair.ch)
		if err != nil {
			return EventNone, err
		}
		if v != 0 {
			return pair.ev, nil
		}
	}
	return EventNone, nil
}

// AckFaultEvent clears a pending fault event.
func (s *IPCSession) AckFaultEvent() error {
	if err := s.requireOpen("dfu_ack"); err != nil {
		return err
	}
	return s.ackEvent(catalog.IPCChanFault)
}

// AckCommandEvent clears a pending command-done event.
func (s *IPCSession) AckCommandEvent() error {
	if err := s.requireOpen("dfu_ack"); err != nil {
		return err
	}
	return s.ackEvent(catalog.IPCChanCommand)
}

// AckDataEvent clears a pending data-ready event.
func (s *IPCSession) AckDataEvent() error {
	if err := s.requireOpen("dfu_ack"); err != nil {
		return err
	}
	return s.ackEvent(catalog.IPCChanData)
}

// Close releases the debug connection. Closing twice is a no-op.
func (s *IPCSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.dev.Disconnect()
}

func (s *IPCSession) requireOpen(op string) error {
	if s.closed {
		return nrf.OpError(nrf.CodeInvalidOperation, op, "the DFU session is closed")
	}
	return nil
}

func (s *IPCSession) phase(im PackageImage) {
	if s.progress == nil {
		return
	}
	if im.Name != "" {
		s.progress("Programming " + im.Name)
	} else {
		s.progress("Programming")
	}
}

func (s *IPCSession) writeChunk(addr uint32, data []byte) error {
	_, err := s.exec(catalog.IPCCmdWrite, addr, uint32(len(data)), data, catalog.IPCChanCommand)
	return err
}

// exec runs one mailbox command: command block in, doorbell, poll for
// the completion event, acknowledge it, response out.
func (s *IPCSession) exec(cmd, addr, length uint32, payload []byte, want uint32) ([]byte, error) {
	block := make([]byte, 12+len(payload))
	putWord(block, 0, cmd)
	putWord(block, 4, addr)
	putWord(block, 8, length)
	copy(block[12:], payload)
	if err := s.dev.WriteMemory(s.mailbox, block); err != nil {
		return nil, err
	}

	// Clear stale events so this command's completion is unambiguous.
	for _, ch := range []uint32{catalog.IPCChanFault, catalog.IPCChanCommand, catalog.IPCChanData} {
		if err := s.ackEvent(ch); err != nil {
			return nil, err
		}
	}
	if err := s.dev.WriteU32(s.base+catalog.IPCTasksSend+4*catalog.IPCChanDoorbell, 1); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(s.timeout)
	for {
		fault, err := s.readEvent(catalog.IPCChanFault)
		if err != nil {
			return nil, err
		}
		if fault != 0 {
			if err := s.ackEvent(catalog.IPCChanFault); err != nil {
				return nil, err
			}
			status, err := s.dev.ReadU32(s.mailbox)
			if err != nil {
				return nil, err
			}
			return nil, nrf.OpErrorf(nrf.CodeDFUError, "dfu",
				"responder fault, status %d", status)
		}
		done, err := s.readEvent(want)
		if err != nil {
			return nil, err
		}
		if done != 0 {
			if err := s.ackEvent(want); err != nil {
				return nil, err
			}
			break
		}
		if time.Now().After(deadline) {
			return nil, nrf.OpError(nrf.CodeTimeOut, "dfu",
				"no response from the DFU responder")
		}
		time.Sleep(ipcPollInterval)
	}

	var hdr [8]byte
	if err := s.dev.ReadMemory(s.mailbox, hdr[:]); err != nil {
		return nil, err
	}
	status := word(hdr[0:])
	n := word(hdr[4:])
	if status != 0 {
		return nil, nrf.OpErrorf(nrf.CodeDFUError, "dfu",
			"responder rejected the command, status %d", status)
	}
	if n == 0 {
		return nil, nil
	}
	if n > catalog.IPCMailboxSize-8 {
		return nil, nrf.OpErrorf(nrf.CodeInternalError, "dfu",
			"responder reported an oversized %d byte payload", n)
	}
	out := make([]byte, n)
	if err := s.dev.ReadMemory(s.mailbox+8, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *IPCSession) readEvent(ch uint32) (uint32, error) {
	return s.dev.ReadU32(s.base + catalog.IPCEventsReceive + 4*ch)
}

func (s *IPCSession) ackEvent(ch uint32) error {
	return s.dev.WriteU32(s.base+catalog.IPCEventsReceive+4*ch, 0)
}
