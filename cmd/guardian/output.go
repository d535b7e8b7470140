package guardian

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/kamilpajak/guardian/pkg/models"
)

func printReport(stderr, stdout io.Writer, r *models.PipelineReport) {
	if r == nil {
		return
	}
	dim := color.New(color.FgHiBlack)

	fmt.Fprintln(stderr)
	_, _ = dim.Fprintln(stderr, "  "+strings.Repeat("━", 50))
	fmt.Fprintln(stderr)

	fmt.Fprint(stdout, "initial status: ")
	printStatus(stdout, r.InitialStatus())

	for _, att := range r.Attempts {
		if att.Diagnosis != nil {
			_, _ = dim.Fprintf(stdout, "  attempt %d root cause: %s\n", att.Number, att.Diagnosis.RootCause())
		}
	}

	if r.Patched() {
		fmt.Fprint(stdout, "after patch: ")
		printStatus(stdout, r.FinalStatus())
	}

	if r.StopReason != "" {
		_, _ = dim.Fprintf(stderr, "  %s (%s)\n", r.StopReason, r.Duration.Round(100*time.Millisecond))
	}
}

func printStatus(w io.Writer, status string) {
	c := color.New(color.FgGreen, color.Bold)
	if status != "pass" {
		c = color.New(color.FgRed, color.Bold)
	}
	_, _ = c.Fprintln(w, status)
}

func printDiagnosis(stderr, stdout io.Writer, d *models.Diagnosis) {
	bold := color.New(color.Bold)
	dim := color.New(color.FgHiBlack)

	if !d.HasFailures() {
		_, _ = color.New(color.FgGreen).Fprintln(stdout, "No failing tests.")
		return
	}

	_, _ = bold.Fprintln(stdout, "ROOT CAUSE")
	fmt.Fprintln(stdout, d.RootCause())
	fmt.Fprintln(stdout)

	_, _ = bold.Fprintln(stdout, "FAILING TESTS")
	for _, f := range d.Failures {
		_, _ = dim.Fprintf(stdout, "[%s] ", f.Status)
		fmt.Fprint(stdout, f.UniqueID)
		if f.Message != "" {
			_, _ = dim.Fprintf(stdout, "  %s", f.Message)
		}
		fmt.Fprintln(stdout)
	}

	if d.SuggestedPatch != "" {
		fmt.Fprintln(stdout)
		_, _ = bold.Fprintln(stdout, "SUGGESTED PATCH")
		fmt.Fprintln(stdout, d.SuggestedPatch)
	}

	if d.Unclassified() {
		fmt.Fprintln(stderr)
		_, _ = color.New(color.FgYellow).Fprintln(stderr, "  Tip: no rule matched; the suggested patch covers every known issue.")
	}
}

func printPatch(w io.Writer, o *models.PatchOutcome) {
	if o.Changed {
		_, _ = color.New(color.FgGreen).Fprintf(w, "Patched %s", o.Path)
	} else {
		_, _ = color.New(color.FgYellow).Fprintf(w, "Already patched %s", o.Path)
	}
	if labels := o.Categories.Labels(); len(labels) > 0 {
		_, _ = color.New(color.FgHiBlack).Fprintf(w, " (%s)", strings.Join(labels, ", "))
	}
	fmt.Fprintln(w)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
