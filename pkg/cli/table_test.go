package cli

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

// plain renders without colors.
var plain = Styles{
	Header: lipgloss.NewStyle(),
	Cell:   lipgloss.NewStyle(),
	Dim:    lipgloss.NewStyle(),
}

func TestTableRender(t *testing.T) {
	tbl := &Table{
		Headers: []string{"ID", "VOICE", "KNOWLEDGE"},
		Rows: [][]string{
			{"coach", "v-coach", "3"},
			{"receptionist", "", "0"},
		},
	}
	got := tbl.Render(plain)
	lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want 4:\n%s", len(lines), got)
	}
	if lines[0] != "ID            VOICE    KNOWLEDGE" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "─") {
		t.Errorf("separator = %q", lines[1])
	}
	if lines[2] != "coach         v-coach  3" {
		t.Errorf("row = %q", lines[2])
	}
	if lines[3] != "receptionist  -        0" {
		t.Errorf("empty cell row = %q", lines[3])
	}
}

func TestTableNoHeaders(t *testing.T) {
	tbl := &Table{Rows: [][]string{{"a", "b"}, {"ccc"}}}
	got := tbl.Render(plain)
	want := "a    b\nccc  -\n"
	if got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestTableTruncates(t *testing.T) {
	tbl := &Table{
		Headers:      []string{"TEXT"},
		Rows:         [][]string{{"a very long transcript line"}},
		MaxCellWidth: 8,
	}
	if got := tbl.Render(plain); !strings.Contains(got, "a very …") {
		t.Errorf("Render = %q", got)
	}
}

func TestTableEmpty(t *testing.T) {
	if got := (&Table{}).Render(NewStyles(DefaultTheme)); got != "" {
		t.Errorf("Render = %q, want empty", got)
	}
}
