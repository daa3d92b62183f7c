package ui

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// ErrPickerCancelled is returned when the user backs out of the picker
// without choosing a probe.
var ErrPickerCancelled = errors.New("selection cancelled")

// PickerItem is one selectable probe in the picker list.
type PickerItem struct {
	Serial uint32 // Probe serial number
	Label  string // Display line (e.g., "683999999  J-Link OB  (bench DK)")
}

// pickerModel is a minimal inline selection list. Unlike the full-screen
// screens elsewhere it renders in place, because the picker interrupts a
// normal command ("which probe did you mean?") and the surrounding
// header/result output must survive on screen.
type pickerModel struct {
	title     string
	items     []PickerItem
	cursor    int
	selected  bool
	cancelled bool
}

// newPickerModel creates a picker over the given items
func newPickerModel(title string, items []PickerItem) pickerModel {
	return pickerModel{
		title: title,
		items: items,
	}
}

// Init implements tea.Model
func (m pickerModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch keyMsg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case "enter":
		m.selected = true
		return m, tea.Quit
	case "q", "esc", "ctrl+c":
		m.cancelled = true
		return m, tea.Quit
	}

	return m, nil
}

// View implements tea.Model
func (m pickerModel) View() string {
	// Collapse the list once a choice is made so the transcript stays clean
	if m.selected {
		return PickerTitleStyle.Render(m.title) + " " +
			PickerSelectedStyle.Render(m.items[m.cursor].Label) + "\n"
	}
	if m.cancelled {
		return ""
	}

	var b strings.Builder
	b.WriteString(PickerTitleStyle.Render(m.title))
	b.WriteString("\n\n")

	for i, item := range m.items {
		if i == m.cursor {
			b.WriteString(PickerSelectedStyle.Render("→ " + item.Label))
		} else {
			b.WriteString(PickerItemStyle.Render(item.Label))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(PickerHelpStyle.Render("↑/↓ move · enter select · q cancel"))
	b.WriteString("\n")

	return b.String()
}

// PickProbe shows an interactive list of probes and blocks until the
// user selects one or cancels. Returns the chosen serial number, or
// ErrPickerCancelled.
//
// Callers must check IsInteractive first; without a terminal the picker
// cannot run and ambiguity has to be an error instead.
func PickProbe(title string, items []PickerItem) (uint32, error) {
	if len(items) == 0 {
		return 0, errors.New("no probes to pick from")
	}

	p := tea.NewProgram(newPickerModel(title, items))
	final, err := p.Run()
	if err != nil {
		return 0, fmt.Errorf("probe picker error: %w", err)
	}

	m, ok := final.(pickerModel)
	if !ok || m.cancelled || !m.selected {
		return 0, ErrPickerCancelled
	}

	return m.items[m.cursor].Serial, nil
}
