package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/vanderheijden86/histviz/pkg/engine"
	"github.com/vanderheijden86/histviz/pkg/metrics"
)

var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#7D56F4", Dark: "#BD93F9"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#6272A4"}
	colorOK      = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#50FA7B"}
	colorWarn    = lipgloss.AdaptiveColor{Light: "#B26A00", Dark: "#FFB86C"}

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	keyStyle   = lipgloss.NewStyle().Foreground(colorMuted).Width(14)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorMuted).Padding(0, 1)
)

type summaryRow struct {
	key, value string
	warn       bool
}

func (s *session) summary() []summaryRow {
	t := s.eng.Telemetry()
	converged := "no"
	if t.Converged {
		converged = "yes"
	}
	rows := []summaryRow{
		{key: "source", value: s.opts.source},
		{key: "mode", value: t.Mode},
		{key: "nodes", value: fmt.Sprintf("%d (%d visible)", t.Nodes, t.VisibleNodes)},
		{key: "edges", value: fmt.Sprintf("%d (%d visible)", t.Edges, t.VisibleEdges)},
		{key: "frames", value: fmt.Sprintf("%d, %d ticks", t.Frames, t.Ticks)},
		{key: "converged", value: converged, warn: !t.Converged},
		{key: "last frame", value: t.LastFrame.String()},
		{key: "render", value: t.State.String(), warn: t.State != engine.StateReady},
	}
	if t.Dropped > 0 || t.Errors > 0 {
		rows = append(rows, summaryRow{key: "problems", value: fmt.Sprintf("%d dropped, %d errors", t.Dropped, t.Errors), warn: true})
	}
	if s.opts.out != "" {
		rows = append(rows, summaryRow{key: "output", value: s.opts.out})
	}
	return rows
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printSummary prints rows as a styled box on a terminal and as plain
// key: value lines otherwise.
func printSummary(w io.Writer, rows []summaryRow) {
	if !isTTY(w) {
		for _, r := range rows {
			fmt.Fprintf(w, "%s: %s\n", r.key, r.value)
		}
		return
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("histviz"))
	for _, r := range rows {
		val := lipgloss.NewStyle().Foreground(colorOK)
		if r.warn {
			val = val.Foreground(colorWarn)
		}
		b.WriteString("\n" + keyStyle.Render(r.key) + val.Render(r.value))
	}
	fmt.Fprintln(w, boxStyle.Render(b.String()))
}

// printTimings prints every stage that recorded at least once.
func printTimings(w io.Writer) {
	header := "stage            count    avg ms    max ms"
	if isTTY(w) {
		header = titleStyle.Render(header)
	}
	fmt.Fprintln(w, header)
	for _, st := range metrics.AllTimingStats() {
		if st.Count == 0 {
			continue
		}
		fmt.Fprintf(w, "%-15s %6d %9.3f %9.3f\n", st.Name, st.Count, st.AvgMs, st.MaxMs)
	}
}
