package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// stdoutIsTerminal reports whether stdout is an interactive terminal.
func stdoutIsTerminal() bool { return isTerminal(os.Stdout) }

func stdinIsTerminal() bool { return isTerminal(os.Stdin) }

// disableColor renders styles without escape sequences while keeping the
// table borders.
func disableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// writeTable renders rows as a bordered table on a terminal and as
// tab-separated values otherwise, so output stays pipeable.
func writeTable(w io.Writer, tty bool, headers []string, rows [][]string) {
	if !tty {
		fmt.Fprintln(w, strings.Join(headers, "\t"))
		for _, r := range rows {
			cells := make([]string, len(r))
			for i, c := range r {
				cells[i] = strings.NewReplacer("\t", " ", "\n", " ").Replace(c)
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(w, t.Render())
}

// writeNotice prints a highlighted one-line message on a terminal.
func writeNotice(w io.Writer, tty bool, msg string) {
	if tty {
		msg = noticeStyle.Render(msg)
	}
	fmt.Fprintln(w, msg)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
