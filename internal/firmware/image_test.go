package firmware

import (
	"bytes"
	"testing"

	"github.com/nrfprobe/nrfprobe/internal/nrf"
)

func TestAddKeepsOrderAndMerges(t *testing.T) {
	im := NewImage()
	if err := im.Add(0x2000, []byte{3, 4}); err != nil {
		t.Fatalf("Add error = %v", err)
	}
	if err := im.Add(0x1000, []byte{1, 2}); err != nil {
		t.Fatalf("Add error = %v", err)
	}
	if err := im.Add(0x1002, []byte{9}); err != nil {
		t.Fatalf("Add error = %v", err)
	}

	segs := im.Segments()
	if len(segs) != 2 {
		t.Fatalf("len(Segments) = %d, want 2 after merge", len(segs))
	}
	if segs[0].Address != 0x1000 || !bytes.Equal(segs[0].Data, []byte{1, 2, 9}) {
		t.Errorf("segment 0 = %#x %v", segs[0].Address, segs[0].Data)
	}
	if segs[1].Address != 0x2000 {
		t.Errorf("segment 1 address = %#x, want 0x2000", segs[1].Address)
	}
	if im.TotalBytes() != 5 {
		t.Errorf("TotalBytes = %d, want 5", im.TotalBytes())
	}
	lo, hi, ok := im.Bounds()
	if !ok || lo != 0x1000 || hi != 0x2002 {
		t.Errorf("Bounds = %#x, %#x, %v", lo, hi, ok)
	}
}

func TestAddRejectsOverlap(t *testing.T) {
	im := NewImage()
	if err := im.Add(0x1000, make([]byte, 16)); err != nil {
		t.Fatalf("Add error = %v", err)
	}
	if err := im.Add(0x100F, []byte{1}); nrf.CodeOf(err) != nrf.CodeInvalidParameter {
		t.Errorf("overlapping Add error = %v, want INVALID_PARAMETER", err)
	}
	if err := im.Add(0x0FFF, []byte{1, 2}); nrf.CodeOf(err) != nrf.CodeInvalidParameter {
		t.Errorf("leading overlap Add error = %v, want INVALID_PARAMETER", err)
	}
	if err := im.Add(0xFFFFFFFF, []byte{1, 2}); nrf.CodeOf(err) != nrf.CodeInvalidParameter {
		t.Errorf("wrapping Add error = %v, want INVALID_PARAMETER", err)
	}
}

func TestAddCopiesData(t *testing.T) {
	im := NewImage()
	src := []byte{1, 2, 3}
	if err := im.Add(0, src); err != nil {
		t.Fatalf("Add error = %v", err)
	}
	src[0] = 0xAA
	if im.Segments()[0].Data[0] != 1 {
		t.Error("Add aliased the caller's slice")
	}
}

func TestSlice(t *testing.T) {
	im := NewImage()
	im.Add(0x1000, []byte{1, 2, 3, 4})
	im.Add(0x3000, []byte{5, 6})

	got := im.Slice(0x1002, 0x3001)
	if len(got) != 2 {
		t.Fatalf("len(Slice) = %d, want 2", len(got))
	}
	if got[0].Address != 0x1002 || !bytes.Equal(got[0].Data, []byte{3, 4}) {
		t.Errorf("clip 0 = %#x %v", got[0].Address, got[0].Data)
	}
	if got[1].Address != 0x3000 || !bytes.Equal(got[1].Data, []byte{5}) {
		t.Errorf("clip 1 = %#x %v", got[1].Address, got[1].Data)
	}
	if s := im.Slice(0x2000, 0x2100); len(s) != 0 {
		t.Errorf("Slice over a hole = %v, want empty", s)
	}
}
