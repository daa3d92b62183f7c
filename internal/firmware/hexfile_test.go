package firmware

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nrfprobe/nrfprobe/internal/nrf"
)

// Two segments: a vector table stub at 0x0 and a UICR word at 0x10001000,
// which crosses a 64K boundary and so exercises the extended linear
// address records.
const sampleHex = `:04000000DEADBEEFC4
:020000041000EA
:0410000001020304E2
:00000001FF
`

func TestReadHex(t *testing.T) {
	im, err := ReadHex(strings.NewReader(sampleHex))
	if err != nil {
		t.Fatalf("ReadHex error = %v", err)
	}

	segs := im.Segments()
	if len(segs) != 2 {
		t.Fatalf("len(Segments) = %d, want 2", len(segs))
	}
	if segs[0].Address != 0x00000000 || !bytes.Equal(segs[0].Data, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Errorf("segment 0 = %#x %x", segs[0].Address, segs[0].Data)
	}
	if segs[1].Address != 0x10001000 || !bytes.Equal(segs[1].Data, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("segment 1 = %#x %x", segs[1].Address, segs[1].Data)
	}
}

func TestReadHexRejectsBadChecksum(t *testing.T) {
	_, err := ReadHex(strings.NewReader(":04000000DEADBEEF00\n:00000001FF\n"))
	if nrf.CodeOf(err) != nrf.CodeFileOperationFailed {
		t.Errorf("bad checksum error = %v, want FILE_OPERATION_FAILED", err)
	}
}

func TestHexRoundTrip(t *testing.T) {
	im := NewImage()
	if err := im.Add(0x1000, []byte{0x8D, 0x20, 0x00, 0x20, 0xD5, 0x01, 0x00, 0x00}); err != nil {
		t.Fatalf("Add error = %v", err)
	}
	if err := im.Add(0x10001014, []byte{0x00, 0x80, 0x00, 0x00}); err != nil {
		t.Fatalf("Add error = %v", err)
	}

	var buf bytes.Buffer
	if err := WriteHex(&buf, im); err != nil {
		t.Fatalf("WriteHex error = %v", err)
	}
	back, err := ReadHex(&buf)
	if err != nil {
		t.Fatalf("ReadHex error = %v", err)
	}

	if diff := cmp.Diff(im.Segments(), back.Segments()); diff != "" {
		t.Errorf("segments changed across the round trip (-want +got):\n%s", diff)
	}
}

func TestWriteBinFillsGaps(t *testing.T) {
	im := NewImage()
	if err := im.Add(0x100, []byte{1, 2}); err != nil {
		t.Fatalf("Add error = %v", err)
	}
	if err := im.Add(0x106, []byte{3}); err != nil {
		t.Fatalf("Add error = %v", err)
	}

	var buf bytes.Buffer
	if err := WriteBin(&buf, im); err != nil {
		t.Fatalf("WriteBin error = %v", err)
	}
	want := []byte{1, 2, 0xFF, 0xFF, 0xFF, 0xFF, 3}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("WriteBin = %x, want %x", buf.Bytes(), want)
	}
}

func TestReadBin(t *testing.T) {
	im, err := ReadBin(bytes.NewReader([]byte{9, 8, 7}), 0x2000)
	if err != nil {
		t.Fatalf("ReadBin error = %v", err)
	}
	segs := im.Segments()
	if len(segs) != 1 || segs[0].Address != 0x2000 || !bytes.Equal(segs[0].Data, []byte{9, 8, 7}) {
		t.Errorf("Segments = %+v", segs)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	hexPath := filepath.Join(dir, "app.hex")
	if err := os.WriteFile(hexPath, []byte(sampleHex), 0644); err != nil {
		t.Fatal(err)
	}
	im, err := LoadFile(hexPath, 0)
	if err != nil {
		t.Fatalf("LoadFile(hex) error = %v", err)
	}
	if im.TotalBytes() != 8 {
		t.Errorf("hex TotalBytes = %d, want 8", im.TotalBytes())
	}

	binPath := filepath.Join(dir, "app.bin")
	if err := os.WriteFile(binPath, []byte{1, 2, 3, 4}, 0644); err != nil {
		t.Fatal(err)
	}
	im, err = LoadFile(binPath, 0x1000)
	if err != nil {
		t.Fatalf("LoadFile(bin) error = %v", err)
	}
	if lo, _, _ := im.Bounds(); lo != 0x1000 {
		t.Errorf("bin base = %#x, want 0x1000", lo)
	}

	if _, err := LoadFile(filepath.Join(dir, "app.elf"), 0); nrf.CodeOf(err) != nrf.CodeInvalidParameter {
		t.Errorf("unsupported extension error = %v, want INVALID_PARAMETER", err)
	}
	if _, err := LoadFile(filepath.Join(dir, "missing.hex"), 0); nrf.CodeOf(err) != nrf.CodeFileOperationFailed {
		t.Errorf("missing file error = %v, want FILE_OPERATION_FAILED", err)
	}
}

func TestSaveFile(t *testing.T) {
	im := NewImage()
	if err := im.Add(0, []byte{0xAA, 0xBB}); err != nil {
		t.Fatalf("Add error = %v", err)
	}

	dir := t.TempDir()
	hexPath := filepath.Join(dir, "out.hex")
	if err := SaveFile(hexPath, im); err != nil {
		t.Fatalf("SaveFile(hex) error = %v", err)
	}
	back, err := LoadFile(hexPath, 0)
	if err != nil {
		t.Fatalf("LoadFile error = %v", err)
	}
	if back.TotalBytes() != 2 {
		t.Errorf("round trip TotalBytes = %d, want 2", back.TotalBytes())
	}

	if err := SaveFile(filepath.Join(dir, "out.elf"), im); nrf.CodeOf(err) != nrf.CodeInvalidParameter {
		t.Errorf("unsupported extension error = %v, want INVALID_PARAMETER", err)
	}
}
