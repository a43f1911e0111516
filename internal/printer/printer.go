// Package printer renders human-facing summaries (deploy results, the release
// collection, the run history) with colors.
package printer

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

//nolint:gochecknoglobals // Shared color palette.
var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

// Printer writes colored lines to one output.
type Printer struct {
	out io.Writer
}

// New returns a printer writing to out (stdout when nil).
func New(out io.Writer) *Printer {
	if out == nil {
		out = os.Stdout
	}

	return &Printer{out: out}
}

// Success prints a green line with a check mark.
func (p *Printer) Success(format string, a ...any) {
	_, _ = green.Fprintf(p.out, "✓ %s\n", fmt.Sprintf(format, a...))
}

// Warning prints a yellow line.
func (p *Printer) Warning(format string, a ...any) {
	_, _ = yellow.Fprintf(p.out, "! %s\n", fmt.Sprintf(format, a...))
}

// Failure prints a red line with a cross.
func (p *Printer) Failure(format string, a ...any) {
	_, _ = red.Fprintf(p.out, "✗ %s\n", fmt.Sprintf(format, a...))
}

// Step prints a cyan line, used between stages of a multi-step operation.
func (p *Printer) Step(format string, a ...any) {
	_, _ = cyan.Fprintf(p.out, "→ %s\n", fmt.Sprintf(format, a...))
}

// Info prints a plain line.
func (p *Printer) Info(format string, a ...any) {
	_, _ = fmt.Fprintf(p.out, format+"\n", a...)
}

// Table prints rows aligned in columns under a bold header.
func (p *Printer) Table(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)

	_, _ = bold.Fprintln(w, strings.Join(headers, "\t"))

	for _, row := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	_ = w.Flush()
}
