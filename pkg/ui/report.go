package ui

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/workflow"
)

// RenderSubmitReport writes the outcome of a submit.
func RenderSubmitReport(w io.Writer, format Format, r *workflow.SubmitReport) error {
	if ok, err := encode(w, format, r); ok {
		return err
	}

	p := newPalette(w)
	if len(r.Entries) == 0 {
		fmt.Fprintf(w, "Nothing to submit: every stack is already in %s.\n", r.Upstream)
		return nil
	}

	fmt.Fprintf(w, "Submitted %d %s onto %s: %s\n\n",
		len(r.Entries), plural(len(r.Entries), "entry", "entries"), p.bold.Sprint(r.Upstream),
		summarize(r.Entries, []workflow.Outcome{
			workflow.OutcomeCreated,
			workflow.OutcomeUpdated,
			workflow.OutcomeUpToDate,
			workflow.OutcomeFailed,
			workflow.OutcomeSkipped,
			workflow.OutcomeNotAttempted,
		}))
	writeEntries(w, p, r.Entries)
	return nil
}

// RenderLandReport writes the outcome of a land.
func RenderLandReport(w io.Writer, format Format, r *workflow.LandReport) error {
	if ok, err := encode(w, format, r); ok {
		return err
	}

	p := newPalette(w)
	fmt.Fprintf(w, "Landing %s onto %s (%s): %s\n\n",
		p.bold.Sprint(r.Stack), p.bold.Sprint(r.Upstream), r.MergeMethod,
		summarize(r.Entries, []workflow.Outcome{
			workflow.OutcomeLanded,
			workflow.OutcomeFailed,
			workflow.OutcomeNotAttempted,
		}))
	writeEntries(w, p, r.Entries)

	switch {
	case r.Complete:
		fmt.Fprintf(w, "\n%s %s is now at %s.\n", p.good.Sprint("Done."), r.Upstream, felerrors.ShortHash(r.UpstreamTip))
	case r.Failed():
		fmt.Fprintf(w, "\n%s Fix the failed entry and run land again; landed entries are not repeated.\n", p.bad.Sprint("Stopped."))
	}
	if r.Replayed {
		fmt.Fprintf(w, "The remaining entries were rebased onto %s locally; run submit to update their pull requests.\n", felerrors.ShortHash(r.UpstreamTip))
	}
	return nil
}

func writeEntries(w io.Writer, p *palette, entries []*workflow.EntryResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n",
			outcomeColor(p, e.Outcome).Sprint(string(e.Outcome)),
			prLabel(e.PRNumber),
			felerrors.ShortHash(e.Commit),
			dash(e.Branch),
			e.Subject,
		)
		if detail := entryDetail(e); detail != "" {
			fmt.Fprintf(tw, "  \t\t\t%s\t\n", p.faint.Sprint(detail))
		}
	}
	_ = tw.Flush()
}

// entryDetail is the second line shown under an entry: why it failed, or
// what changed.
func entryDetail(e *workflow.EntryResult) string {
	if e.Reason != "" {
		if e.Step != "" {
			return e.Step.String() + ": " + e.Reason
		}
		return e.Reason
	}
	var changes []string
	if e.Pushed {
		changes = append(changes, "pushed")
	}
	if e.Retargeted {
		changes = append(changes, "retargeted onto "+e.BaseBranch)
	}
	if e.Commented {
		changes = append(changes, fmt.Sprintf("revision %d", e.Revision))
	}
	if e.BodyUpdated {
		changes = append(changes, "stack list refreshed")
	}
	return strings.Join(changes, ", ")
}

func outcomeColor(p *palette, o workflow.Outcome) *color.Color {
	switch o {
	case workflow.OutcomeCreated, workflow.OutcomeUpdated, workflow.OutcomeLanded:
		return p.good
	case workflow.OutcomeFailed:
		return p.bad
	case workflow.OutcomeSkipped, workflow.OutcomeNotAttempted:
		return p.warn
	default:
		return p.faint
	}
}

func prLabel(n int) string {
	if n == 0 {
		return "-"
	}
	return fmt.Sprintf("#%d", n)
}

// summarize counts outcomes in the given order, omitting zeros.
func summarize(entries []*workflow.EntryResult, order []workflow.Outcome) string {
	counts := make(map[workflow.Outcome]int, len(order))
	for _, e := range entries {
		counts[e.Outcome]++
	}
	var parts []string
	for _, o := range order {
		if counts[o] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[o], o))
		}
	}
	if len(parts) == 0 {
		return "nothing to do"
	}
	return strings.Join(parts, ", ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
