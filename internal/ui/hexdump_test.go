package ui

import (
	"strings"
	"testing"
)

func TestHexDumpLines(t *testing.T) {
	// Cortex-M vector table start: initial SP then reset handler
	data := []byte{
		0x00, 0x40, 0x00, 0x20, 0xd5, 0x02, 0x00, 0x00,
		0xdd, 0x02, 0x00, 0x00, 0xdf, 0x02, 0x00, 0x00,
		0x48, 0x69, 0x21, 0x00,
	}

	lines := NewHexDump("", 0x00000000, data).Lines()

	if len(lines) != 2 {
		t.Fatalf("expected 2 rows for 20 bytes, got %d: %v", len(lines), lines)
	}

	want0 := "00000000  00 40 00 20 d5 02 00 00  dd 02 00 00 df 02 00 00  |.@. ............|"
	if lines[0] != want0 {
		t.Errorf("row 0 mismatch:\n got: %q\nwant: %q", lines[0], want0)
	}

	// Short final row pads the hex column so the gutter stays aligned
	if !strings.HasPrefix(lines[1], "00000010  48 69 21 00 ") {
		t.Errorf("row 1 should start at offset 0x10: %q", lines[1])
	}
	if !strings.HasSuffix(lines[1], "|Hi!.|") {
		t.Errorf("row 1 should show printable ASCII in the gutter: %q", lines[1])
	}
}

func TestHexDumpLinesAddressColumn(t *testing.T) {
	data := make([]byte, 32)
	lines := NewHexDump("", 0x10001000, data).Lines()

	if len(lines) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "10001000  ") {
		t.Errorf("first row should carry the base address: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "10001010  ") {
		t.Errorf("second row address should advance by 16: %q", lines[1])
	}
}

func TestHexDumpRenderPlain(t *testing.T) {
	plain := NewHexDump("", 0x2000, []byte{0xde, 0xad, 0xbe, 0xef}).RenderPlain()

	if strings.Count(plain, "\n") != 0 {
		t.Errorf("4 bytes should render as a single row: %q", plain)
	}
	if !strings.Contains(plain, "de ad be ef") {
		t.Errorf("missing hex bytes: %q", plain)
	}
}

func TestHexDumpEmpty(t *testing.T) {
	if lines := NewHexDump("", 0, nil).Lines(); len(lines) != 0 {
		t.Errorf("no data should produce no rows, got %v", lines)
	}
}

func TestProgressAppendStep(t *testing.T) {
	p := NewProgress("", 0)

	first := p.AppendStep("halting core")
	second := p.AppendStep("erasing page 0x1000")

	if first != 1 || second != 2 {
		t.Errorf("step numbers should be sequential, got %d then %d", first, second)
	}
	if p.Total != 2 {
		t.Errorf("Total should track appended steps, got %d", p.Total)
	}
	if p.Steps[1].Name != "erasing page 0x1000" {
		t.Errorf("unexpected step name: %q", p.Steps[1].Name)
	}
	if p.Steps[0].Status != StepPending {
		t.Errorf("appended steps should start pending")
	}
}
