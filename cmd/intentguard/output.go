package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorPass  = lipgloss.Color("#2CD7C7")
	colorFail  = lipgloss.Color("#E74C3C")
	colorWarn  = lipgloss.Color("#F4D03F")
	colorMuted = lipgloss.Color("#6C7A89")
)

var styles = struct {
	Pass    lipgloss.Style
	Fail    lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Bold    lipgloss.Style
	Box     lipgloss.Style
}{
	Pass:    lipgloss.NewStyle().Bold(true).Foreground(colorPass),
	Fail:    lipgloss.NewStyle().Bold(true).Foreground(colorFail),
	Warning: lipgloss.NewStyle().Foreground(colorWarn),
	Error:   lipgloss.NewStyle().Foreground(colorFail),
	Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	Bold:    lipgloss.NewStyle().Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorMuted).
		Padding(0, 1),
}

func verdictLabel(ok bool) string {
	if ok {
		return styles.Pass.Render("PASS")
	}
	return styles.Fail.Render("FAIL")
}

// printVerdict writes one assertion's outcome, with the explanation boxed on failure.
func printVerdict(w io.Writer, assertion string, ok bool, explanation string) {
	fmt.Fprintf(w, "%s  %s\n", verdictLabel(ok), assertion)
	if !ok && explanation != "" {
		fmt.Fprintln(w, styles.Box.Render("Explanation: "+explanation))
	}
}

func printWarnings(w io.Writer, missing []string) {
	if len(missing) == 0 {
		return
	}
	fmt.Fprintln(w, styles.Warning.Render("warning: no code object for "+strings.Join(wrapNames(missing), ", ")))
}

func wrapNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = "{" + n + "}"
	}
	return out
}
