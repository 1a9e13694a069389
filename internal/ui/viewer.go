package ui

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// EventRow is one journaled event shown in the viewer.
type EventRow struct {
	Block    uint64
	Index    int
	TxHash   string
	Contract string
	Event    string
	Args     []string // name=value pairs
}

func (r EventRow) matches(filter string) bool {
	if filter == "" {
		return true
	}
	f := strings.ToLower(filter)
	if strings.Contains(strings.ToLower(r.Event), f) || strings.Contains(strings.ToLower(r.Contract), f) {
		return true
	}
	for _, a := range r.Args {
		if strings.Contains(strings.ToLower(a), f) {
			return true
		}
	}
	return false
}

// EventTable renders rows as a table.
func EventTable(rows []EventRow) *Table {
	t := NewTable("Block", "#", "Contract", "Event", "Args")
	for _, r := range rows {
		t.AddRow(strconv.FormatUint(r.Block, 10), strconv.Itoa(r.Index), r.Contract, r.Event, strings.Join(r.Args, " "))
	}
	return t
}

const defaultViewerHeight = 20

// viewerModel is the bubbletea model of the event viewer.
type viewerModel struct {
	title     string
	rows      []EventRow
	visible   []int // indexes into rows passing the filter
	cursor    int   // index into visible
	offset    int
	height    int
	filter    string
	filtering bool
	detail    bool
	flash     string
	copy      func(string) error
}

func newViewerModel(title string, rows []EventRow) viewerModel {
	m := viewerModel{title: title, rows: rows, height: defaultViewerHeight, copy: copyToClipboard}
	m.refilter()
	return m
}

func (m *viewerModel) refilter() {
	m.visible = nil
	for i, r := range m.rows {
		if r.matches(m.filter) {
			m.visible = append(m.visible, i)
		}
	}
	m.cursor, m.offset = 0, 0
}

func (m *viewerModel) move(delta int) {
	if len(m.visible) == 0 {
		return
	}
	m.cursor = max(0, min(len(m.visible)-1, m.cursor+delta))
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+m.height {
		m.offset = m.cursor - m.height + 1
	}
}

func (m *viewerModel) selected() (EventRow, bool) {
	if m.cursor >= len(m.visible) {
		return EventRow{}, false
	}
	return m.rows[m.visible[m.cursor]], true
}

func (m viewerModel) Init() tea.Cmd { return nil }

func (m viewerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		// title, header, divider and two lines of controls
		m.height = max(1, msg.Height-6)
		m.move(0)

	case tea.KeyMsg:
		m.flash = ""
		if m.filtering {
			switch msg.Type {
			case tea.KeyEnter, tea.KeyEsc:
				m.filtering = false
			case tea.KeyBackspace:
				if m.filter != "" {
					m.filter = m.filter[:len(m.filter)-1]
					m.refilter()
				}
			case tea.KeyRunes:
				m.filter += string(msg.Runes)
				m.refilter()
			}
			return m, nil
		}

		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			m.move(-1)
		case "down", "j":
			m.move(1)
		case "pgup":
			m.move(-m.height)
		case "pgdown":
			m.move(m.height)
		case "g", "home":
			m.move(-len(m.visible))
		case "G", "end":
			m.move(len(m.visible))
		case "/":
			m.filtering = true
		case "x":
			m.filter = ""
			m.refilter()
		case "enter":
			m.detail = !m.detail
		case "c":
			row, ok := m.selected()
			switch {
			case !ok || row.TxHash == "":
				m.flash = "No hash available"
			case m.copy(row.TxHash) == nil:
				m.flash = "Copied: " + TruncateAddr(row.TxHash)
			default:
				m.flash = "Copy failed"
			}
		}
	}
	return m, nil
}

func (m viewerModel) View() string {
	var sb strings.Builder
	sb.WriteString(StyleTitle.Render(m.title))
	sb.WriteString(Meta(fmt.Sprintf("  %d/%d events", len(m.visible), len(m.rows))))
	sb.WriteString("\n")

	shown := make([]EventRow, 0, len(m.visible))
	for _, i := range m.visible {
		shown = append(shown, m.rows[i])
	}
	table := EventTable(shown)
	table.SelIdx = m.cursor
	sb.WriteString(table.RenderWindow(m.offset, m.height))

	if row, ok := m.selected(); ok && m.detail {
		pairs := [][2]string{{"block", strconv.FormatUint(row.Block, 10)}, {"tx", row.TxHash}, {"contract", row.Contract}}
		for _, a := range row.Args {
			name, value, _ := strings.Cut(a, "=")
			pairs = append(pairs, [2]string{name, value})
		}
		sb.WriteString(KeyValueBlock(row.Event, pairs))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	switch {
	case m.filtering:
		sb.WriteString(StyleInfo.Render("/" + m.filter + "▌"))
	case m.flash != "":
		sb.WriteString(Success(m.flash))
	default:
		sb.WriteString(viewerControls(m.filter))
	}
	sb.WriteString("\n")
	return sb.String()
}

func viewerControls(filter string) string {
	sep := StyleMeta.Render("   ")
	parts := []string{
		StyleMeta.Render("[ ↑↓ ] navigate"),
		StyleInfo.Render("[ / ]") + StyleMeta.Render(" filter"),
		StyleInfo.Render("[ enter ]") + StyleMeta.Render(" details"),
		StyleWarning.Render("[ c ]") + StyleMeta.Render(" copy tx"),
		StyleMeta.Render("[ q ] quit"),
	}
	if filter != "" {
		parts = append(parts, StyleMeta.Render("filter: ")+StyleValue.Render(filter)+StyleMeta.Render(" [ x ] clear"))
	}
	return strings.Join(parts, sep)
}

// RunEventViewer opens the interactive event viewer and blocks until the
// user quits. The alt screen restores the terminal on exit.
func RunEventViewer(title string, rows []EventRow) error {
	p := tea.NewProgram(newViewerModel(title, rows), tea.WithInput(os.Stdin), tea.WithOutput(os.Stdout), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// copyToClipboard writes text to the system clipboard.
func copyToClipboard(text string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pbcopy")
	case "windows":
		cmd = exec.Command("clip")
	default:
		// Try wl-copy (Wayland), fall back to xclip.
		if _, err := exec.LookPath("wl-copy"); err == nil {
			cmd = exec.Command("wl-copy")
		} else {
			cmd = exec.Command("xclip", "-selection", "clipboard")
		}
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("clipboard: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("clipboard: %w", err)
	}
	_, _ = io.WriteString(stdin, text)
	stdin.Close()
	return cmd.Wait()
}
