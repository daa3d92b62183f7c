package dfu

import (
	"errors"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/nrfprobe/nrfprobe/internal/nrf"
)

// openPort opens a serial device in 8N1 framing and arms its read
// timeout. The timeout doubles as the response timeout: a read that
// returns nothing within it means the target went silent.
func openPort(path string, baud int, timeout time.Duration) (serial.Port, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, mapPortError(path, err)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, nrf.OpWrapf(nrf.CodeSerialPortResourceError, "dfu", err,
			"arming the read timeout on %s", path)
	}
	return port, nil
}

func mapPortError(path string, err error) error {
	var pe *serial.PortError
	if errors.As(err, &pe) {
		switch pe.Code() {
		case serial.PortNotFound:
			return nrf.OpWrapf(nrf.CodeSerialPortNotFound, "dfu", err, "%s", path)
		case serial.PermissionDenied:
			return nrf.OpWrapf(nrf.CodeSerialPortPermission, "dfu", err, "%s", path)
		case serial.PortBusy:
			return nrf.OpWrapf(nrf.CodeSerialPortResourceError, "dfu", err, "%s is busy", path)
		}
	}
	return nrf.OpWrapf(nrf.CodeSerialPortResourceError, "dfu", err, "opening %s", path)
}

// readFull fills buf from the port. The serial library reports an armed
// read timeout as a zero-length read with a nil error, so an empty read
// is the timeout signal, not a condition to spin on.
func readFull(r io.Reader, buf []byte) error {
	off := 0
	for off < len(buf) {
		n, err := r.Read(buf[off:])
		if err != nil {
			return nrf.OpWrapf(nrf.CodeSerialPortReadError, "dfu", err, "serial read failed")
		}
		if n == 0 {
			return nrf.OpError(nrf.CodeTimeOut, "dfu", "no response before the timeout")
		}
		off += n
	}
	return nil
}

func writeAll(w io.Writer, data []byte) error {
	sent := 0
	for sent < len(data) {
		n, err := w.Write(data[sent:])
		if err != nil {
			return nrf.OpWrapf(nrf.CodeSerialPortWriteError, "dfu", err, "serial write failed")
		}
		sent += n
	}
	return nil
}

type inputFlusher interface {
	ResetInputBuffer() error
}

// flushInput drops any half-read response so the next attempt parses
// from a frame boundary. Test doubles without buffers are left alone.
func flushInput(rw io.ReadWriter) {
	if f, ok := rw.(inputFlusher); ok {
		_ = f.ResetInputBuffer()
	}
}
