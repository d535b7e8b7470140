package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// TextEmitter formats progress events as human-readable text for CLI output.
// On a terminal it shows a spinner while a stage runs and hides the raw
// output; with Verbose, or when not a terminal, output lines stream through.
type TextEmitter struct {
	W       io.Writer
	Verbose bool

	spin    *spinner.Spinner
	started time.Time
}

// NewTextEmitter creates a TextEmitter writing to w.
func NewTextEmitter(w io.Writer, verbose bool) *TextEmitter {
	e := &TextEmitter{W: w, Verbose: verbose}
	if !verbose && IsTerminal(w) {
		e.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	}
	return e
}

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Emit writes a formatted progress line to the underlying writer.
func (e *TextEmitter) Emit(ev Event) {
	switch ev.Type {
	case EventStageStart:
		e.started = time.Now()
		if e.spin != nil {
			e.spin.Suffix = fmt.Sprintf(" %s  $ %s", ev.Stage, ev.Command)
			e.spin.Start()
			return
		}
		_, _ = color.New(color.FgHiBlack).Fprintf(e.W, "$ %s\n", ev.Command)
	case EventLine:
		if e.spin == nil {
			fmt.Fprintln(e.W, strings.TrimRight(ev.Line, "\r\n"))
		}
	case EventStageEnd:
		e.stopSpinner()
		code := 0
		if ev.ExitCode != nil {
			code = *ev.ExitCode
		}
		elapsed := time.Since(e.started).Round(100 * time.Millisecond)
		if code == 0 {
			_, _ = color.New(color.FgGreen).Fprintf(e.W, "✓ %s", ev.Stage)
		} else {
			_, _ = color.New(color.FgRed).Fprintf(e.W, "✗ %s (exit %d)", ev.Stage, code)
		}
		_, _ = color.New(color.FgHiBlack).Fprintf(e.W, " %s\n", elapsed)
	case EventInfo:
		fmt.Fprintf(e.W, "  %s\n", ev.Message)
	case EventWarn:
		e.stopSpinner()
		_, _ = color.New(color.FgYellow).Fprintf(e.W, "Warning: %s\n", ev.Message)
	case EventDiagnosis:
		if ev.Diagnosis != nil {
			fmt.Fprintf(e.W, "  Root cause: %s\n", ev.Diagnosis.RootCause())
		}
	case EventPatch:
		if ev.Patch != nil {
			state := "unchanged"
			if ev.Patch.Changed {
				state = "applied"
			}
			fmt.Fprintf(e.W, "  Patch %s: %s\n", state, ev.Patch.Path)
		}
	case EventError:
		e.stopSpinner()
		_, _ = color.New(color.FgRed).Fprintf(e.W, "Error: %s\n", ev.Message)
	}
}

// Close stops a running spinner.
func (e *TextEmitter) Close() {
	e.stopSpinner()
}

func (e *TextEmitter) stopSpinner() {
	if e.spin != nil && e.spin.Active() {
		e.spin.Stop()
	}
}
