package ui

import (
	"fmt"
	"io"
	"text/tabwriter"

	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/github"
	"thoreinstein.com/fel/pkg/workflow"
)

// RenderStatus writes every stack tip first, the way `git log` reads.
// Entries shared with an earlier stack are listed again but marked.
func RenderStatus(w io.Writer, format Format, r *workflow.StatusReport) error {
	if ok, err := encode(w, format, r); ok {
		return err
	}

	p := newPalette(w)
	if len(r.Stacks) == 0 {
		fmt.Fprintln(w, "No stacks.")
		return nil
	}

	seen := map[string]bool{}
	for i, s := range r.Stacks {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s onto %s\n", p.bold.Sprint(s.Name), r.Upstream)
		if len(s.Entries) == 0 {
			fmt.Fprintf(w, "  %s\n", p.faint.Sprint("no commits above "+r.Upstream))
			continue
		}

		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for j := len(s.Entries) - 1; j >= 0; j-- {
			e := s.Entries[j]
			shared := ""
			if seen[e.Commit] {
				shared = p.faint.Sprint("(shared)")
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n",
				felerrors.ShortHash(e.Commit),
				prLabel(e.PRNumber),
				statusLabel(p, e),
				e.Subject,
				shared,
			)
		}
		_ = tw.Flush()
		for _, e := range s.Entries {
			seen[e.Commit] = true
		}
	}
	return nil
}

func statusLabel(p *palette, e *workflow.EntryStatus) string {
	switch {
	case e.Error != "":
		return p.bad.Sprint("unknown: " + e.Error)
	case !e.Submitted():
		return p.faint.Sprint("not submitted")
	case e.State == github.PRStateMerged:
		return p.good.Sprint("merged")
	case e.State == github.PRStateClosed:
		return p.bad.Sprint("closed")
	case e.Mergeable:
		label := "ready"
		if e.Draft {
			label = "ready (draft)"
		}
		return p.good.Sprint(label)
	case e.Pending:
		return p.warn.Sprint("waiting: " + joinReasons(e.Reasons))
	default:
		return p.bad.Sprint("blocked: " + joinReasons(e.Reasons))
	}
}

func joinReasons(reasons []string) string {
	m := github.Mergeability{Reasons: reasons}
	return m.Reason()
}
