package dfu

import (
	"crypto/sha256"
	"encoding/base64"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/nrfprobe/nrfprobe/internal/firmware"
	"github.com/nrfprobe/nrfprobe/internal/logging"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
)

const (
	mcubootDefaultBaud    = 115200
	mcubootDefaultTimeout = 30 * time.Second
	mcubootDefaultRetries = 3

	// mcubootChunk is the image payload per upload request, sized so the
	// whole encoded packet stays inside the bootloader's receive buffer.
	mcubootChunk = 256

	// Packet text goes out in newline-terminated lines of at most two
	// marker bytes plus mcubootLineB64 base64 characters; the bootloader
	// console drops longer lines.
	mcubootLineB64 = 124
	mcubootLineMax = 512

	mcubootMaxStalls = 3
)

// Management opcodes and groups of the bootloader protocol. Responses
// carry the request opcode plus one.
const (
	smpOpRead  = 0
	smpOpWrite = 2

	smpGroupOS    = 0
	smpGroupImage = 1

	smpIDEcho  = 0
	smpIDReset = 5

	smpIDState  = 0
	smpIDUpload = 1
)

const smpHeaderLen = 8

// Console framing markers. A packet begins with one start line and
// continues over continuation lines until its declared length is in.
var (
	mcubootStartMarker = [2]byte{0x06, 0x09}
	mcubootContMarker  = [2]byte{0x04, 0x14}
)

// MCUBootSession talks to a device waiting in MCUboot serial recovery.
// Images upload into the slots the bootloader owns; the load addresses
// in a package are ignored because placement is the bootloader's call.
type MCUBootSession struct {
	rw io.ReadWriteCloser

	seq      uint8
	retries  int
	progress func(string)
	log      *zap.Logger
	closed   bool
}

// OpenMCUBoot dials the recovery console on the given serial port and
// confirms a live responder with an echo round trip.
func OpenMCUBoot(path string, opts ...Option) (*MCUBootSession, error) {
	cfg := newConfig(mcubootDefaultBaud, mcubootDefaultTimeout, mcubootDefaultRetries, opts)
	port, err := openPort(path, cfg.baud, cfg.timeout)
	if err != nil {
		return nil, err
	}
	s := NewMCUBootSession(port, opts...)
	if err := s.Ping(); err != nil {
		port.Close()
		return nil, err
	}
	s.log.Debug("MCUboot responder up", zap.String("port", path))
	return s, nil
}

// NewMCUBootSession wraps an already open stream. The stream's read
// behavior bounds the response timeout: a read that returns no bytes is
// taken as the target going silent.
func NewMCUBootSession(rw io.ReadWriteCloser, opts ...Option) *MCUBootSession {
	cfg := newConfig(mcubootDefaultBaud, mcubootDefaultTimeout, mcubootDefaultRetries, opts)
	return &MCUBootSession{
		rw:       rw,
		retries:  cfg.retries,
		progress: cfg.progress,
		log:      cfg.log,
	}
}

// DefaultVerifyAction returns the verify mode the transport prefers.
// Recovery uploads already carry a whole-image hash the bootloader
// checks on its side, so the default skips a second pass.
func (s *MCUBootSession) DefaultVerifyAction() nrf.VerifyAction { return nrf.VerifyNone }

// Ping round-trips an echo through the bootloader.
func (s *MCUBootSession) Ping() error {
	if err := s.requireOpen("dfu_ping"); err != nil {
		return err
	}
	const tag = "nrfprobe"
	var rsp struct {
		R string `cbor:"r"`
	}
	req := struct {
		D string `cbor:"d"`
	}{D: tag}
	if err := s.request(smpOpWrite, smpGroupOS, smpIDEcho, req, &rsp); err != nil {
		return err
	}
	if rsp.R != tag {
		return nrf.OpError(nrf.CodeDFUError, "dfu_ping", "echo came back altered")
	}
	return nil
}

// ProgramPackage uploads every image in the bundle, in order, one slot
// per image.
func (s *MCUBootSession) ProgramPackage(pkg Package) error {
	imgs, err := packageImages(pkg)
	if err != nil {
		return err
	}
	return s.program(imgs)
}

// ProgramFiles uploads the given images in order.
func (s *MCUBootSession) ProgramFiles(imgs []*firmware.Image) error {
	flat, err := flattenImages(imgs)
	if err != nil {
		return err
	}
	return s.program(flat)
}

func (s *MCUBootSession) program(imgs []PackageImage) error {
	if err := s.requireOpen("dfu_program"); err != nil {
		return err
	}
	for i, im := range imgs {
		if s.progress != nil {
			if im.Name != "" {
				s.progress("Uploading " + im.Name)
			} else {
				s.progress("Uploading")
			}
		}
		if err := s.upload(i, im); err != nil {
			return err
		}
	}
	return nil
}

type imageUploadReq struct {
	Image uint   `cbor:"image,omitempty"`
	Off   uint   `cbor:"off"`
	Len   uint   `cbor:"len,omitempty"`
	Sha   []byte `cbor:"sha,omitempty"`
	Data  []byte `cbor:"data"`
}

type imageUploadRsp struct {
	Rc  int  `cbor:"rc"`
	Off uint `cbor:"off"`
}

// upload streams one image, following the offset the bootloader reports
// back. The bootloader may rewind the offset to ask for retransmission;
// an offset that stops moving means the transfer is wedged.
func (s *MCUBootSession) upload(slot int, im PackageImage) error {
	sum := sha256.Sum256(im.Data)
	off := 0
	stalls := 0
	for off < len(im.Data) {
		end := off + mcubootChunk
		if end > len(im.Data) {
			end = len(im.Data)
		}
		req := imageUploadReq{
			Image: uint(slot),
			Off:   uint(off),
			Data:  im.Data[off:end],
		}
		if off == 0 {
			req.Len = uint(len(im.Data))
			req.Sha = sum[:]
		}
		var rsp imageUploadRsp
		if err := s.request(smpOpWrite, smpGroupImage, smpIDUpload, req, &rsp); err != nil {
			return err
		}
		if rsp.Rc != 0 {
			return nrf.OpErrorf(nrf.CodeDFUError, "dfu_program",
				"bootloader rejected the upload, rc %d", rsp.Rc)
		}
		next := int(rsp.Off)
		if next > len(im.Data) {
			return nrf.OpErrorf(nrf.CodeDFUError, "dfu_program",
				"bootloader ran past the image end at offset %d", next)
		}
		if next <= off {
			stalls++
			if stalls >= mcubootMaxStalls {
				return nrf.OpError(nrf.CodeDFUError, "dfu_program",
					"upload offset is not advancing")
			}
		} else {
			stalls = 0
		}
		off = next
		logging.LogDFUProgress("upload", off, len(im.Data))
	}
	return nil
}

// ImageSlot is the bootloader's report of one image slot.
type ImageSlot struct {
	Slot     int    `cbor:"slot"`
	Version  string `cbor:"version"`
	Hash     []byte `cbor:"hash"`
	Bootable bool   `cbor:"bootable"`
	Pending  bool   `cbor:"pending"`
	Active   bool   `cbor:"active"`
}

type imageStateRsp struct {
	Images []ImageSlot `cbor:"images"`
}

// VerifyPackage checks the uploaded images against the bundle.
func (s *MCUBootSession) VerifyPackage(pkg Package, action nrf.VerifyAction) error {
	imgs, err := packageImages(pkg)
	if err != nil {
		return err
	}
	return s.verify(imgs, action)
}

// VerifyFiles checks the uploaded images against the given files.
func (s *MCUBootSession) VerifyFiles(imgs []*firmware.Image, action nrf.VerifyAction) error {
	flat, err := flattenImages(imgs)
	if err != nil {
		return err
	}
	return s.verify(flat, action)
}

func (s *MCUBootSession) verify(imgs []PackageImage, action nrf.VerifyAction) error {
	if err := s.requireOpen("dfu_verify"); err != nil {
		return err
	}
	switch action {
	case nrf.VerifyNone:
		return nil
	case nrf.VerifyHash:
	case nrf.VerifyRead:
		return nrf.OpError(nrf.CodeInvalidParameter, "dfu_verify",
			"the recovery protocol cannot read flash back")
	default:
		return nrf.OpErrorf(nrf.CodeInvalidParameter, "dfu_verify",
			"unknown verify action %d", action)
	}

	state, err := s.imageState()
	if err != nil {
		return err
	}
	for i, im := range imgs {
		want := sha256.Sum256(im.Data)
		slot, ok := findSlot(state.Images, i)
		if !ok {
			return nrf.OpErrorf(nrf.CodeVerifyError, "dfu_verify",
				"no image in slot %d", i)
		}
		if len(slot.Hash) != len(want) {
			return nrf.OpErrorf(nrf.CodeVerifyError, "dfu_verify",
				"slot %d reports a %d byte hash", i, len(slot.Hash))
		}
		for j := range want {
			if slot.Hash[j] != want[j] {
				return nrf.OpErrorf(nrf.CodeVerifyError, "dfu_verify",
					"hash mismatch for %q in slot %d", im.Name, i)
			}
		}
	}
	return nil
}

func findSlot(slots []ImageSlot, n int) (ImageSlot, bool) {
	for _, s := range slots {
		if s.Slot == n {
			return s, true
		}
	}
	return ImageSlot{}, false
}

// Slots returns the bootloader's view of its image slots.
func (s *MCUBootSession) Slots() ([]ImageSlot, error) {
	if err := s.requireOpen("dfu_slots"); err != nil {
		return nil, err
	}
	state, err := s.imageState()
	if err != nil {
		return nil, err
	}
	return state.Images, nil
}

func (s *MCUBootSession) imageState() (imageStateRsp, error) {
	var state imageStateRsp
	err := s.request(smpOpRead, smpGroupImage, smpIDState, struct{}{}, &state)
	return state, err
}

// Reset reboots the target out of the bootloader into the new image.
func (s *MCUBootSession) Reset() error {
	if err := s.requireOpen("dfu_reset"); err != nil {
		return err
	}
	var rsp struct {
		Rc int `cbor:"rc"`
	}
	if err := s.request(smpOpWrite, smpGroupOS, smpIDReset, struct{}{}, &rsp); err != nil {
		return err
	}
	if rsp.Rc != 0 {
		return nrf.OpErrorf(nrf.CodeDFUError, "dfu_reset",
			"bootloader refused the reset, rc %d", rsp.Rc)
	}
	return nil
}

// Close releases the serial port. Closing twice is a no-op.
func (s *MCUBootSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.rw.Close()
}

func (s *MCUBootSession) requireOpen(op string) error {
	if s.closed {
		return nrf.OpError(nrf.CodeInvalidOperation, op, "the DFU session is closed")
	}
	return nil
}

// request runs one management round trip: encode, frame, send, receive,
// match the response to the request, decode. A lost or garbled response
// retransmits the same frame, same sequence number, up to the retry
// budget; hard serial errors end the attempt immediately.
func (s *MCUBootSession) request(op uint8, group uint16, id uint8, body, out any) error {
	payload, err := cbor.Marshal(body)
	if err != nil {
		return nrf.OpWrapf(nrf.CodeInternalError, "dfu", err, "encoding the request")
	}
	seq := s.seq
	s.seq++

	frame := make([]byte, smpHeaderLen+len(payload))
	frame[0] = op
	frame[1] = 0
	frame[2] = byte(len(payload) >> 8)
	frame[3] = byte(len(payload))
	frame[4] = byte(group >> 8)
	frame[5] = byte(group)
	frame[6] = seq
	frame[7] = id
	copy(frame[smpHeaderLen:], payload)

	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		if attempt > 1 {
			flushInput(s.rw)
			s.log.Debug("management retry",
				zap.Uint16("group", group), zap.Uint8("id", id), zap.Int("attempt", attempt))
		}
		if err := s.send(frame); err != nil {
			return err
		}
		err := s.exchange(op, group, id, seq, out)
		if err == nil {
			return nil
		}
		if code := nrf.CodeOf(err); code != nrf.CodeTimeOut && code != nrf.CodeDFUError {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// exchange receives and validates one response for the request identified
// by op, group, id and seq.
func (s *MCUBootSession) exchange(op uint8, group uint16, id, seq uint8, out any) error {
	rsp, err := s.receive()
	if err != nil {
		return err
	}
	if len(rsp) < smpHeaderLen {
		return nrf.OpError(nrf.CodeDFUError, "dfu", "response too short for a header")
	}
	rspLen := int(rsp[2])<<8 | int(rsp[3])
	rspGroup := uint16(rsp[4])<<8 | uint16(rsp[5])
	if rsp[0] != op+1 || rspGroup != group || rsp[7] != id {
		return nrf.OpErrorf(nrf.CodeDFUError, "dfu",
			"mismatched response op %d group %d id %d", rsp[0], rspGroup, rsp[7])
	}
	if rsp[6] != seq {
		return nrf.OpError(nrf.CodeDFUError, "dfu", "response answers a different request")
	}
	if rspLen != len(rsp)-smpHeaderLen {
		return nrf.OpError(nrf.CodeDFUError, "dfu", "truncated response payload")
	}
	if out != nil {
		if err := cbor.Unmarshal(rsp[smpHeaderLen:], out); err != nil {
			return nrf.OpWrapf(nrf.CodeDFUError, "dfu", err, "decoding the response")
		}
	}
	return nil
}

// send wraps a management frame in the console packet format: length
// prefix and checksum, base64 text, marker-framed lines.
func (s *MCUBootSession) send(frame []byte) error {
	raw := make([]byte, 0, len(frame)+4)
	raw = append(raw, byte((len(frame)+2)>>8), byte(len(frame)+2))
	raw = append(raw, frame...)
	crc := crc16(frame)
	raw = append(raw, byte(crc>>8), byte(crc))

	enc := base64.StdEncoding.EncodeToString(raw)
	for off := 0; off < len(enc); off += mcubootLineB64 {
		end := off + mcubootLineB64
		if end > len(enc) {
			end = len(enc)
		}
		line := make([]byte, 0, mcubootLineB64+3)
		if off == 0 {
			line = append(line, mcubootStartMarker[:]...)
		} else {
			line = append(line, mcubootContMarker[:]...)
		}
		line = append(line, enc[off:end]...)
		line = append(line, '\n')
		if err := writeAll(s.rw, line); err != nil {
			return err
		}
	}
	return nil
}

// receive collects packet lines until the declared length is complete
// and returns the checked management frame. Console noise before the
// start marker is skipped.
func (s *MCUBootSession) receive() ([]byte, error) {
	var enc []byte
	totalB64 := -1
	pktLen := 0
	for {
		line, err := s.readLine()
		if err != nil {
			return nil, err
		}
		if len(line) < 2 {
			continue
		}
		marker := [2]byte{line[0], line[1]}
		if len(enc) == 0 {
			if marker != mcubootStartMarker {
				continue
			}
		} else if marker != mcubootContMarker {
			return nil, nrf.OpError(nrf.CodeDFUError, "dfu",
				"packet interrupted by an unexpected start of frame")
		}
		enc = append(enc, line[2:]...)

		if totalB64 < 0 && len(enc) >= 4 {
			head, err := base64.StdEncoding.DecodeString(string(enc[:4]))
			if err != nil {
				return nil, nrf.OpWrapf(nrf.CodeDFUError, "dfu", err, "decoding the frame")
			}
			pktLen = int(head[0])<<8 | int(head[1])
			totalRaw := 2 + pktLen
			totalB64 = (totalRaw + 2) / 3 * 4
		}
		if totalB64 < 0 || len(enc) < totalB64 {
			continue
		}

		raw, err := base64.StdEncoding.DecodeString(string(enc[:totalB64]))
		if err != nil {
			return nil, nrf.OpWrapf(nrf.CodeDFUError, "dfu", err, "decoding the frame")
		}
		if pktLen < 2 || len(raw) < 2+pktLen {
			return nil, nrf.OpError(nrf.CodeDFUError, "dfu", "truncated frame")
		}
		body := raw[2 : 2+pktLen-2]
		got := uint16(raw[2+pktLen-2])<<8 | uint16(raw[2+pktLen-1])
		if crc16(body) != got {
			return nil, nrf.OpError(nrf.CodeDFUError, "dfu", "frame checksum mismatch")
		}
		return body, nil
	}
}

func (s *MCUBootSession) readLine() ([]byte, error) {
	var line []byte
	var b [1]byte
	for {
		if err := readFull(s.rw, b[:]); err != nil {
			return nil, err
		}
		if b[0] == '\n' {
			return line, nil
		}
		line = append(line, b[0])
		if len(line) > mcubootLineMax {
			return nil, nrf.OpError(nrf.CodeDFUError, "dfu",
				"console line overruns the frame limit")
		}
	}
}

// crc16 is the CCITT polynomial with a zero seed, the checksum the
// console framing carries.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
