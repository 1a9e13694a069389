package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// MaxColumnWidth caps automatic column widths.
const MaxColumnWidth = 44

// Column defines a table column. A zero Width is sized from the content.
type Column struct {
	Title string
	Width int
}

// Row is a slice of cell values.
type Row []string

// Table renders a lipgloss-styled table.
type Table struct {
	Columns []Column
	Rows    []Row
	SelIdx  int // selected row index (-1 = none)
}

// NewTable creates a table with the given column titles, sized from content.
func NewTable(titles ...string) *Table {
	cols := make([]Column, len(titles))
	for i, title := range titles {
		cols[i] = Column{Title: title}
	}
	return &Table{Columns: cols, SelIdx: -1}
}

// AddRow appends a row.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, Row(cells))
}

func (t *Table) widths() []int {
	out := make([]int, len(t.Columns))
	for i, col := range t.Columns {
		if col.Width > 0 {
			out[i] = col.Width
			continue
		}
		w := len(col.Title)
		for _, row := range t.Rows {
			if i < len(row) && len(row[i]) > w {
				w = len(row[i])
			}
		}
		out[i] = min(w, MaxColumnWidth)
	}
	return out
}

// Render returns the whole table.
func (t *Table) Render() string {
	return t.RenderWindow(0, len(t.Rows))
}

// RenderWindow renders the header and at most n rows starting at start.
// Cells are padded by hand so that styled cells never wrap.
func (t *Table) RenderWindow(start, n int) string {
	var sb strings.Builder

	headerStyle := lipgloss.NewStyle().Foreground(ColorHighlight).Bold(true)
	cellStyle := lipgloss.NewStyle().Foreground(ColorValue)
	widths := t.widths()

	pad := func(s string, width int) string {
		if len(s) > width {
			if width > 1 {
				return s[:width-1] + "…"
			}
			return s[:width]
		}
		return s + strings.Repeat(" ", width-len(s))
	}

	var headers, divider []string
	for i, col := range t.Columns {
		headers = append(headers, headerStyle.Render(pad(col.Title, widths[i])))
		divider = append(divider, StyleMeta.Render(strings.Repeat("-", widths[i])))
	}
	sb.WriteString(strings.Join(headers, " ") + "\n")
	sb.WriteString(strings.Join(divider, " ") + "\n")

	start = max(0, min(start, len(t.Rows)))
	end := min(len(t.Rows), start+max(n, 0))
	for i := start; i < end; i++ {
		row := t.Rows[i]
		style := cellStyle
		if i == t.SelIdx {
			style = StyleSelected
		}
		cells := make([]string, len(t.Columns))
		for j := range t.Columns {
			val := ""
			if j < len(row) {
				val = row[j]
			}
			cells[j] = style.Render(pad(val, widths[j]))
		}
		sb.WriteString(strings.Join(cells, " ") + "\n")
	}
	return sb.String()
}

// KeyValueBlock renders a set of key-value pairs in a bordered box.
func KeyValueBlock(title string, pairs [][2]string) string {
	var sb strings.Builder
	if title != "" {
		sb.WriteString(StyleTitle.Render(title))
		sb.WriteString("\n")
	}
	for _, p := range pairs {
		key := StyleMeta.Render(fmt.Sprintf("%-20s", p[0]+":"))
		val := StyleValue.Render(p[1])
		sb.WriteString("  " + key + " " + val + "\n")
	}
	return StyleBorder.Render(sb.String())
}
