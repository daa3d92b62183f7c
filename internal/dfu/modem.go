package dfu

import (
	"crypto/sha256"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/nrfprobe/nrfprobe/internal/firmware"
	"github.com/nrfprobe/nrfprobe/internal/logging"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
)

const (
	modemDefaultBaud    = 1000000
	modemDefaultTimeout = 30 * time.Second
	modemDefaultRetries = 3

	// modemChunk is the firmware payload per program command.
	modemChunk = 2048

	modemMaxPayload = 4096

	modemSOP = 0x01
	modemEOP = 0x17

	modemOpProgram = 0x02
	modemOpDigest  = 0x03
	modemOpUUID    = 0x04
)

// ModemUARTSession drives the modem firmware loader over its UART. Every
// command is one framed request and one framed response; a garbled or
// missing response is retransmitted up to the retry budget, a definitive
// rejection is not.
type ModemUARTSession struct {
	rw io.ReadWriteCloser

	retries  int
	progress func(string)
	log      *zap.Logger
	closed   bool
}

// OpenModemUART dials the loader on the given serial port and confirms
// it with an identity read.
func OpenModemUART(path string, opts ...Option) (*ModemUARTSession, error) {
	cfg := newConfig(modemDefaultBaud, modemDefaultTimeout, modemDefaultRetries, opts)
	port, err := openPort(path, cfg.baud, cfg.timeout)
	if err != nil {
		return nil, err
	}
	s := NewModemUARTSession(port, opts...)
	id, err := s.ReadUUID()
	if err != nil {
		port.Close()
		return nil, err
	}
	s.log.Debug("modem loader up",
		zap.String("port", path),
		zap.String("id", id.String()),
	)
	return s, nil
}

// NewModemUARTSession wraps an already open stream. The stream's read
// behavior bounds the response timeout.
func NewModemUARTSession(rw io.ReadWriteCloser, opts ...Option) *ModemUARTSession {
	cfg := newConfig(modemDefaultBaud, modemDefaultTimeout, modemDefaultRetries, opts)
	return &ModemUARTSession{
		rw:       rw,
		retries:  cfg.retries,
		progress: cfg.progress,
		log:      cfg.log,
	}
}

// DefaultVerifyAction returns the verify mode the transport prefers.
// The loader digests on its side, so hashing is cheap; reading modem
// flash back is not possible at all.
func (s *ModemUARTSession) DefaultVerifyAction() nrf.VerifyAction { return nrf.VerifyHash }

// ProgramPackage transfers every image in the bundle. Image addresses
// are loader offsets, not bus addresses.
func (s *ModemUARTSession) ProgramPackage(pkg Package) error {
	imgs, err := packageImages(pkg)
	if err != nil {
		return err
	}
	return s.program(imgs)
}

// ProgramFiles transfers the given images in order.
func (s *ModemUARTSession) ProgramFiles(imgs []*firmware.Image) error {
	flat, err := flattenImages(imgs)
	if err != nil {
		return err
	}
	return s.program(flat)
}

func (s *ModemUARTSession) program(imgs []PackageImage) error {
	if err := s.requireOpen("dfu_program"); err != nil {
		return err
	}
	total := totalBytes(imgs)
	done := 0
	for _, im := range imgs {
		if s.progress != nil {
			if im.Name != "" {
				s.progress("Programming " + im.Name)
			} else {
				s.progress("Programming")
			}
		}
		for off := 0; off < len(im.Data); off += modemChunk {
			end := off + modemChunk
			if end > len(im.Data) {
				end = len(im.Data)
			}
			payload := make([]byte, 4+end-off)
			putWord(payload, 0, im.Addr+uint32(off))
			copy(payload[4:], im.Data[off:end])
			if _, err := s.command(modemOpProgram, payload); err != nil {
				return err
			}
			done += end - off
			logging.LogDFUProgress("program", done, total)
		}
	}
	return nil
}

// VerifyPackage checks every image in the bundle against the modem.
func (s *ModemUARTSession) VerifyPackage(pkg Package, action nrf.VerifyAction) error {
	imgs, err := packageImages(pkg)
	if err != nil {
		return err
	}
	return s.verify(imgs, action)
}

// VerifyFiles checks the given images against the modem.
func (s *ModemUARTSession) VerifyFiles(imgs []*firmware.Image, action nrf.VerifyAction) error {
	flat, err := flattenImages(imgs)
	if err != nil {
		return err
	}
	return s.verify(flat, action)
}

func (s *ModemUARTSession) verify(imgs []PackageImage, action nrf.VerifyAction) error {
	if err := s.requireOpen("dfu_verify"); err != nil {
		return err
	}
	switch action {
	case nrf.VerifyNone:
		return nil
	case nrf.VerifyHash:
	case nrf.VerifyRead:
		return nrf.OpError(nrf.CodeInvalidParameter, "dfu_verify",
			"the modem loader cannot read flash back")
	default:
		return nrf.OpErrorf(nrf.CodeInvalidParameter, "dfu_verify",
			"unknown verify action %d", action)
	}
	total := totalBytes(imgs)
	done := 0
	for _, im := range imgs {
		got, err := s.ReadDigest(im.Addr, uint32(len(im.Data)))
		if err != nil {
			return err
		}
		if got != Digest(sha256.Sum256(im.Data)) {
			return nrf.OpErrorf(nrf.CodeVerifyError, "dfu_verify",
				"digest mismatch for %q at %#08x", im.Name, im.Addr)
		}
		done += len(im.Data)
		logging.LogDFUProgress("verify", done, total)
	}
	return nil
}

// ReadDigest asks the loader for the SHA-256 over [addr, addr+length).
func (s *ModemUARTSession) ReadDigest(addr, length uint32) (Digest, error) {
	var d Digest
	if err := s.requireOpen("dfu_digest"); err != nil {
		return d, err
	}
	if length == 0 {
		return d, nrf.OpError(nrf.CodeInvalidParameter, "dfu_digest", "zero length range")
	}
	var payload [8]byte
	putWord(payload[:], 0, addr)
	putWord(payload[:], 4, length)
	data, err := s.command(modemOpDigest, payload[:])
	if err != nil {
		return d, err
	}
	if len(data) != len(d) {
		return d, nrf.OpErrorf(nrf.CodeInternalError, "dfu_digest",
			"loader returned a %d byte digest", len(data))
	}
	copy(d[:], data)
	return d, nil
}

// ReadUUID returns the loader's device identity.
func (s *ModemUARTSession) ReadUUID() (DeviceID, error) {
	var id DeviceID
	if err := s.requireOpen("dfu_uuid"); err != nil {
		return id, err
	}
	data, err := s.command(modemOpUUID, nil)
	if err != nil {
		return id, err
	}
	if len(data) != len(id)*4 {
		return id, nrf.OpErrorf(nrf.CodeInternalError, "dfu_uuid",
			"loader returned a %d byte identity", len(data))
	}
	for i := range id {
		id[i] = word(data[i*4:])
	}
	return id, nil
}

// Close releases the serial port. Closing twice is a no-op.
func (s *ModemUARTSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.rw.Close()
}

func (s *ModemUARTSession) requireOpen(op string) error {
	if s.closed {
		return nrf.OpError(nrf.CodeInvalidOperation, op, "the DFU session is closed")
	}
	return nil
}

// command sends one framed request and parses the response. Timeouts
// and framing failures retry within the budget; a loader status other
// than success is final.
func (s *ModemUARTSession) command(op byte, payload []byte) ([]byte, error) {
	frame := modemFrame(op, payload)
	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		if attempt > 1 {
			flushInput(s.rw)
			s.log.Debug("modem command retry",
				zap.Uint8("op", op),
				zap.Int("attempt", attempt),
			)
		}
		if err := writeAll(s.rw, frame); err != nil {
			return nil, err
		}
		status, data, err := s.readResponse()
		if err != nil {
			code := nrf.CodeOf(err)
			if code == nrf.CodeTimeOut || code == nrf.CodeDFUError {
				lastErr = err
				continue
			}
			return nil, err
		}
		if status != 0 {
			return nil, nrf.OpErrorf(nrf.CodeDFUError, "dfu",
				"loader rejected command %#02x with status %d", op, status)
		}
		return data, nil
	}
	return nil, lastErr
}

func modemFrame(op byte, payload []byte) []byte {
	f := make([]byte, 0, len(payload)+7)
	f = append(f, modemSOP, op, byte(len(payload)), byte(len(payload)>>8))
	f = append(f, payload...)
	ck := modemChecksum(f[1:])
	f = append(f, byte(ck), byte(ck>>8), modemEOP)
	return f
}

func (s *ModemUARTSession) readResponse() (status byte, data []byte, err error) {
	var hdr [4]byte
	if err := readFull(s.rw, hdr[:]); err != nil {
		return 0, nil, err
	}
	if hdr[0] != modemSOP {
		return 0, nil, nrf.OpError(nrf.CodeDFUError, "dfu", "response does not start a frame")
	}
	n := int(hdr[2]) | int(hdr[3])<<8
	if n > modemMaxPayload {
		return 0, nil, nrf.OpErrorf(nrf.CodeDFUError, "dfu", "oversized %d byte response", n)
	}
	rest := make([]byte, n+3)
	if err := readFull(s.rw, rest); err != nil {
		return 0, nil, err
	}
	if rest[n+2] != modemEOP {
		return 0, nil, nrf.OpError(nrf.CodeDFUError, "dfu", "response does not end the frame")
	}
	ck := uint16(rest[n]) | uint16(rest[n+1])<<8
	sum := make([]byte, 0, n+3)
	sum = append(sum, hdr[1], hdr[2], hdr[3])
	sum = append(sum, rest[:n]...)
	if modemChecksum(sum) != ck {
		return 0, nil, nrf.OpError(nrf.CodeDFUError, "dfu", "response checksum mismatch")
	}
	return hdr[1], rest[:n], nil
}

// modemChecksum is the two's complement of the byte sum, the check the
// loader frames carry.
func modemChecksum(b []byte) uint16 {
	var sum uint16
	for _, v := range b {
		sum += uint16(v)
	}
	return 1 + (0xFFFF ^ sum)
}
