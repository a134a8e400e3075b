package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the colors of styled output.
type Theme struct {
	Primary lipgloss.Color // Header and accent color
	Dim     lipgloss.Color // Separators and empty cells
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Header lipgloss.Style
	Cell   lipgloss.Style
	Dim    lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Header: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Cell:   lipgloss.NewStyle(),
		Dim:    lipgloss.NewStyle().Foreground(t.Dim),
	}
}

// Table is a list of rows rendered in aligned columns.
type Table struct {
	Headers []string
	Rows    [][]string

	// MaxCellWidth truncates longer cells. Zero means no limit.
	MaxCellWidth int
}

// Render renders the table with s. Rows shorter than the header are padded
// with "-".
func (t *Table) Render(s Styles) string {
	cols := len(t.Headers)
	for _, r := range t.Rows {
		cols = max(cols, len(r))
	}
	if cols == 0 {
		return ""
	}

	hasHeader := len(t.Headers) > 0
	cells := make([][]string, 0, len(t.Rows)+1)
	if hasHeader {
		cells = append(cells, t.row(t.Headers, cols))
	}
	for _, r := range t.Rows {
		cells = append(cells, t.row(r, cols))
	}

	widths := make([]int, cols)
	for _, r := range cells {
		for i, c := range r {
			widths[i] = max(widths[i], displayWidth(c))
		}
	}

	var b strings.Builder
	for n, r := range cells {
		for i, c := range r {
			style := s.Cell
			switch {
			case hasHeader && n == 0:
				style = s.Header
			case c == "-":
				style = s.Dim
			}
			b.WriteString(style.Render(c))
			if i < cols-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-displayWidth(c)+2))
			}
		}
		b.WriteByte('\n')
		if hasHeader && n == 0 {
			sep := 0
			for _, w := range widths {
				sep += w + 2
			}
			b.WriteString(s.Dim.Render(strings.Repeat("─", sep-2)))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (t *Table) row(r []string, cols int) []string {
	out := make([]string, cols)
	for i := range out {
		c := "-"
		if i < len(r) && r[i] != "" {
			c = r[i]
		}
		if t.MaxCellWidth > 0 {
			c = Truncate(c, t.MaxCellWidth)
		}
		out[i] = c
	}
	return out
}

func displayWidth(s string) int {
	return lipgloss.Width(s)
}

// truncateString safely truncates a string to the given width,
// handling multi-byte characters correctly.
func truncateString(s string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(s)
	currentWidth := 0
	for i, r := range runes {
		w := lipgloss.Width(string(r))
		if currentWidth+w > width {
			return string(runes[:i])
		}
		currentWidth += w
	}
	return s
}
