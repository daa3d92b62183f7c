// Package dfu programs firmware over the recovery transports that live
// outside the SWD debug stack: the in-target IPC mailbox reached through
// the application core, the MCUboot serial recovery console, and the
// modem UART loader. A DFU session shares no state with a debug session;
// the two exist because some cores are reachable over exactly one of the
// two at a time.
package dfu

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nrfprobe/nrfprobe/internal/firmware"
	"github.com/nrfprobe/nrfprobe/internal/logging"
	"github.com/nrfprobe/nrfprobe/internal/nrf"
)

// Event identifies one of the IPC responder's receive events.
type Event int

const (
	EventNone Event = iota
	EventFault
	EventCommand
	EventData
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return "IPCEVENT_NONE"
	case EventFault:
		return "IPCEVENT_FAULT"
	case EventCommand:
		return "IPCEVENT_COMMAND"
	case EventData:
		return "IPCEVENT_DATA"
	default:
		return "INVALID"
	}
}

// Digest is a SHA-256 firmware digest.
type Digest [32]byte

// Words reinterprets the digest as eight little-endian words.
func (d Digest) Words() [8]uint32 {
	var w [8]uint32
	for i := range w {
		w[i] = word(d[i*4:])
	}
	return w
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// DeviceID is the ten-word identity the DFU responder reports.
type DeviceID [10]uint32

func (id DeviceID) String() string {
	parts := make([]string, len(id))
	for i, w := range id {
		parts[i] = fmt.Sprintf("%08x", w)
	}
	return strings.Join(parts, "-")
}

// PackageImage is one firmware blob from a bundle together with its load
// address. Transports that place images themselves ignore the address.
type PackageImage struct {
	Name string
	Addr uint32
	Data []byte
}

// Package is a firmware bundle: an ordered list of images. Unpacking the
// bundle from disk is the caller's business.
type Package interface {
	Images() ([]PackageImage, error)
}

// ImageList is the trivial in-memory Package.
type ImageList []PackageImage

func (l ImageList) Images() ([]PackageImage, error) { return l, nil }

// Session is the surface common to the three DFU transports. Each
// transport has its own preferred verify action; passing a stricter one
// than the transport supports fails with an invalid-parameter code.
type Session interface {
	ProgramPackage(pkg Package) error
	ProgramFiles(imgs []*firmware.Image) error
	VerifyPackage(pkg Package, action nrf.VerifyAction) error
	VerifyFiles(imgs []*firmware.Image, action nrf.VerifyAction) error
	DefaultVerifyAction() nrf.VerifyAction
	Close() error
}

// Option adjusts a DFU session at construction.
type Option func(*config)

type config struct {
	baud     int
	timeout  time.Duration
	retries  int
	progress func(string)
	log      *zap.Logger
}

// WithBaudRate overrides the transport's default serial baud rate.
func WithBaudRate(baud int) Option {
	return func(c *config) { c.baud = baud }
}

// WithResponseTimeout bounds how long a command waits for the target to
// answer before failing with a timeout code.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithRetries sets how many attempts a command gets on transports that
// retransmit after a garbled or missing response.
func WithRetries(n int) Option {
	return func(c *config) { c.retries = n }
}

// WithProgress installs a callback receiving coarse phase strings during
// transfers. The callback must not call back into the session.
func WithProgress(fn func(string)) Option {
	return func(c *config) { c.progress = fn }
}

// WithLogger routes session logging to the given logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) { c.log = log }
}

func newConfig(baud int, timeout time.Duration, retries int, opts []Option) config {
	c := config{
		baud:    baud,
		timeout: timeout,
		retries: retries,
		log:     logging.GetLogger(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *config) phase(msg string) {
	if c.progress != nil {
		c.progress(msg)
	}
}

// packageImages unpacks and validates a bundle.
func packageImages(pkg Package) ([]PackageImage, error) {
	if pkg == nil {
		return nil, nrf.OpError(nrf.CodeInvalidParameter, "dfu", "no package given")
	}
	imgs, err := pkg.Images()
	if err != nil {
		return nil, nrf.OpWrapf(nrf.CodeFileOperationFailed, "dfu", err, "unpacking the package")
	}
	if len(imgs) == 0 {
		return nil, nrf.OpError(nrf.CodeInvalidParameter, "dfu", "the package holds no images")
	}
	for _, im := range imgs {
		if len(im.Data) == 0 {
			return nil, nrf.OpErrorf(nrf.CodeInvalidParameter, "dfu", "image %q is empty", im.Name)
		}
	}
	return imgs, nil
}

// flattenImages turns sparse images into the flat blob-per-segment form
// the transfer loops consume.
func flattenImages(imgs []*firmware.Image) ([]PackageImage, error) {
	if len(imgs) == 0 {
		return nil, nrf.OpError(nrf.CodeInvalidParameter, "dfu", "no images given")
	}
	var out []PackageImage
	for i, im := range imgs {
		if im == nil || im.Empty() {
			return nil, nrf.OpErrorf(nrf.CodeInvalidParameter, "dfu", "image %d is empty", i)
		}
		for _, seg := range im.Segments() {
			out = append(out, PackageImage{
				Name: fmt.Sprintf("image %d", i),
				Addr: seg.Address,
				Data: seg.Data,
			})
		}
	}
	return out, nil
}

func totalBytes(imgs []PackageImage) int {
	n := 0
	for _, im := range imgs {
		n += len(im.Data)
	}
	return n
}

func word(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putWord(b []byte, off int, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}
