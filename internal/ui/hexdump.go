package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// bytesPerRow is the width of one hex dump row.
const bytesPerRow = 16

// HexDump represents a box for displaying target memory contents.
// Used by read commands to show flash, RAM, UICR and FICR regions.
type HexDump struct {
	Title    string // e.g., "0x00000000, 256 bytes"
	Addr     uint32 // Address of the first byte
	Data     []byte // The bytes read from the target
	Width    int    // Terminal width
	MaxLines int    // Maximum rows to display (0 = unlimited)
}

// NewHexDump creates a new memory dump box
func NewHexDump(title string, addr uint32, data []byte) *HexDump {
	return &HexDump{
		Title:    title,
		Addr:     addr,
		Data:     data,
		Width:    GetTerminalWidth(),
		MaxLines: 0,
	}
}

// SetWidth sets the terminal width for responsive rendering
func (h *HexDump) SetWidth(width int) *HexDump {
	h.Width = width
	return h
}

// SetTitle sets a custom title for the box
func (h *HexDump) SetTitle(title string) *HexDump {
	h.Title = title
	return h
}

// SetMaxLines limits the number of rows displayed
func (h *HexDump) SetMaxLines(max int) *HexDump {
	h.MaxLines = max
	return h
}

// Lines formats the dump as plain rows: address column, sixteen hex
// bytes split into two groups, and an ASCII gutter.
//
//	00001000  8d 20 00 20 d5 01 00 00  dd 01 00 00 df 01 00 00  |. . ............|
func (h *HexDump) Lines() []string {
	var lines []string
	for off := 0; off < len(h.Data); off += bytesPerRow {
		end := off + bytesPerRow
		if end > len(h.Data) {
			end = len(h.Data)
		}
		row := h.Data[off:end]

		var hexCol strings.Builder
		var asciiCol strings.Builder
		for i := 0; i < bytesPerRow; i++ {
			if i == bytesPerRow/2 {
				hexCol.WriteString(" ")
			}
			if i < len(row) {
				fmt.Fprintf(&hexCol, "%02x ", row[i])
				if row[i] >= 0x20 && row[i] <= 0x7e {
					asciiCol.WriteByte(row[i])
				} else {
					asciiCol.WriteByte('.')
				}
			} else {
				hexCol.WriteString("   ")
			}
		}

		lines = append(lines, fmt.Sprintf("%08x  %s |%s|",
			h.Addr+uint32(off), hexCol.String(), asciiCol.String()))
	}
	return lines
}

// RenderPlain returns the dump without styling or borders, for piping.
func (h *HexDump) RenderPlain() string {
	return strings.Join(h.Lines(), "\n")
}

// Render returns the styled memory dump box as a string
func (h *HexDump) Render() string {
	width := h.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	// Apply max lines limit
	lines := h.Lines()
	if h.MaxLines > 0 && len(lines) > h.MaxLines {
		hidden := len(h.Data) - h.MaxLines*bytesPerRow
		lines = lines[:h.MaxLines]
		lines = append(lines, fmt.Sprintf("... (%d more bytes)", hidden))
	}

	title := h.Title
	if title == "" {
		title = fmt.Sprintf("0x%08X, %d bytes", h.Addr, len(h.Data))
	}
	titleStyled := DumpTitleStyle.Render(title)

	// Content styled (preserve monospace formatting)
	contentStyled := DumpContentStyle.Render(strings.Join(lines, "\n"))

	// Combine title and content
	inner := lipgloss.JoinVertical(lipgloss.Left, titleStyled, "", contentStyled)

	return DumpBoxStyle(width).MarginLeft(2).Render(inner)
}

// String implements fmt.Stringer
func (h *HexDump) String() string {
	return h.Render()
}

// RenderHexDump renders a memory dump box with the given contents
func RenderHexDump(title string, addr uint32, data []byte) string {
	return NewHexDump(title, addr, data).Render()
}
