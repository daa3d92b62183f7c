package firmware

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"

	"github.com/nrfprobe/nrfprobe/internal/nrf"
)

// hexLineBytes is the data byte count per emitted Intel HEX record.
const hexLineBytes = 16

// ReadHex parses Intel HEX records into an image.
func ReadHex(r io.Reader) (*Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, nrf.OpWrapf(nrf.CodeFileOperationFailed, "read_hex", err,
			"malformed Intel HEX input")
	}
	im := NewImage()
	for _, seg := range mem.GetDataSegments() {
		if err := im.Add(seg.Address, seg.Data); err != nil {
			return nil, err
		}
	}
	return im, nil
}

// WriteHex writes the image as Intel HEX records.
func WriteHex(w io.Writer, im *Image) error {
	mem := gohex.NewMemory()
	for _, seg := range im.Segments() {
		if err := mem.AddBinary(seg.Address, seg.Data); err != nil {
			return nrf.OpWrapf(nrf.CodeInternalError, "write_hex", err,
				"segment at %#08x", seg.Address)
		}
	}
	if err := mem.DumpIntelHex(w, hexLineBytes); err != nil {
		return nrf.OpWrapf(nrf.CodeFileOperationFailed, "write_hex", err,
			"writing Intel HEX output")
	}
	return nil
}

// ReadBin reads a flat binary stream as one segment based at addr.
func ReadBin(r io.Reader, addr uint32) (*Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nrf.OpWrapf(nrf.CodeFileOperationFailed, "read_bin", err,
			"reading binary input")
	}
	im := NewImage()
	if err := im.Add(addr, data); err != nil {
		return nil, err
	}
	return im, nil
}

// WriteBin flattens the image into a binary stream starting at its lowest
// address. Gaps between segments are filled with 0xFF, the erased state of
// the flash the image came from.
func WriteBin(w io.Writer, im *Image) error {
	lo, _, ok := im.Bounds()
	if !ok {
		return nil
	}
	next := lo
	for _, seg := range im.Segments() {
		if gap := int(seg.Address - next); gap > 0 {
			if _, err := w.Write(bytes.Repeat([]byte{0xFF}, gap)); err != nil {
				return nrf.OpWrapf(nrf.CodeFileOperationFailed, "write_bin", err,
					"writing binary output")
			}
		}
		if _, err := w.Write(seg.Data); err != nil {
			return nrf.OpWrapf(nrf.CodeFileOperationFailed, "write_bin", err,
				"writing binary output")
		}
		next = seg.End()
	}
	return nil
}

// LoadFile reads a firmware image from disk. The format follows the file
// extension: .hex and .ihex are Intel HEX, .bin is a flat binary placed at
// binAddr. Intel HEX files carry their own addresses and ignore binAddr.
func LoadFile(path string, binAddr uint32) (*Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".hex", ".ihex", ".bin":
	default:
		return nil, nrf.OpErrorf(nrf.CodeInvalidParameter, "load_file",
			"unsupported image format %q, expected .hex, .ihex or .bin", filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nrf.OpWrapf(nrf.CodeFileOperationFailed, "load_file", err,
			"cannot open %s", path)
	}
	defer f.Close()

	if ext == ".bin" {
		return ReadBin(f, binAddr)
	}
	return ReadHex(f)
}

// SaveFile writes a firmware image to disk, Intel HEX or flat binary by
// file extension.
func SaveFile(path string, im *Image) error {
	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex":
		if err := WriteHex(&buf, im); err != nil {
			return err
		}
	case ".bin":
		if err := WriteBin(&buf, im); err != nil {
			return err
		}
	default:
		return nrf.OpErrorf(nrf.CodeInvalidParameter, "save_file",
			"unsupported image format %q, expected .hex, .ihex or .bin", filepath.Ext(path))
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return nrf.OpWrapf(nrf.CodeFileOperationFailed, "save_file", err,
			"cannot write %s", path)
	}
	return nil
}
