package workflow

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/github"
	"thoreinstein.com/fel/pkg/stack"
)

// statusConcurrency bounds parallel PR lookups so a large graph does not
// trip the secondary rate limit.
const statusConcurrency = 4

// EntryStatus is the remote state of one node.
type EntryStatus struct {
	Commit   string   `json:"commit" yaml:"commit"`
	Subject  string   `json:"subject" yaml:"subject"`
	Stacks   []string `json:"stacks" yaml:"stacks"`
	Branch   string   `json:"branch,omitempty" yaml:"branch,omitempty"`
	PRNumber int      `json:"pr_number,omitempty" yaml:"pr_number,omitempty"`
	PRURL    string   `json:"pr_url,omitempty" yaml:"pr_url,omitempty"`
	// State is the pull request state, or empty for unsubmitted entries.
	State     string   `json:"state,omitempty" yaml:"state,omitempty"`
	Draft     bool     `json:"draft,omitempty" yaml:"draft,omitempty"`
	Base      string   `json:"base,omitempty" yaml:"base,omitempty"`
	Revision  int      `json:"revision,omitempty" yaml:"revision,omitempty"`
	Mergeable bool     `json:"mergeable" yaml:"mergeable"`
	Pending   bool     `json:"pending,omitempty" yaml:"pending,omitempty"`
	Reasons   []string `json:"reasons,omitempty" yaml:"reasons,omitempty"`
	// Error is set when the pull request could not be read.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Submitted reports whether the entry has a pull request.
func (e *EntryStatus) Submitted() bool {
	return e.PRNumber > 0
}

// StackStatus lists one stack's entries from root to tip.
type StackStatus struct {
	Name      string         `json:"name" yaml:"name"`
	MergeBase string         `json:"merge_base" yaml:"merge_base"`
	Entries   []*EntryStatus `json:"entries" yaml:"entries"`
}

// StatusReport is the remote state of every stack in a graph.
type StatusReport struct {
	Upstream string         `json:"upstream" yaml:"upstream"`
	Stacks   []*StackStatus `json:"stacks" yaml:"stacks"`
}

// CollectStatus reads the pull request and mergeability of every tracked
// node of g. Lookups run concurrently; a failed lookup is recorded on its
// entry. The graph and the identity store are not modified.
func CollectStatus(ctx context.Context, g *stack.Graph, gh github.Client, retry felerrors.RetryConfig, logger *slog.Logger) (*StatusReport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries := make(map[stack.NodeID]*EntryStatus, g.Len())
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(statusConcurrency)

	for _, n := range g.Nodes() {
		e := &EntryStatus{
			Commit:  n.Commit.Hash,
			Subject: n.Commit.Subject(),
			Stacks:  n.Stacks,
		}
		entries[n.ID] = e

		id, ok := n.Tracked()
		if !ok {
			continue
		}
		e.Branch = id.Branch
		e.Revision = id.Revision
		if !id.HasPR() {
			continue
		}
		e.PRNumber = id.PRNumber

		eg.Go(func() error {
			if err := fillStatus(egCtx, gh, retry, e); err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				e.Error = err.Error()
				logger.Warn("failed to read pull request status", "pr", e.PRNumber, "error", err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, felerrors.Wrap(err, "status interrupted")
	}

	report := &StatusReport{Upstream: g.Upstream()}
	for _, name := range g.StackNames() {
		s := &StackStatus{Name: name, MergeBase: g.MergeBase(name)}
		for _, n := range g.Stack(name) {
			s.Entries = append(s.Entries, entries[n.ID])
		}
		report.Stacks = append(report.Stacks, s)
	}
	return report, nil
}

func fillStatus(ctx context.Context, gh github.Client, retry felerrors.RetryConfig, e *EntryStatus) error {
	pr, err := felerrors.RetryWithResult(ctx, retry, func(ctx context.Context) (*github.PRInfo, error) {
		return gh.GetPR(ctx, e.PRNumber)
	})
	if err != nil {
		return err
	}
	e.PRURL = pr.URL
	e.State = pr.State
	e.Draft = pr.Draft
	e.Base = pr.BaseBranch
	if !pr.IsOpen() {
		return nil
	}

	m, err := felerrors.RetryWithResult(ctx, retry, func(ctx context.Context) (*github.Mergeability, error) {
		return gh.GetMergeability(ctx, e.PRNumber)
	})
	if err != nil {
		return err
	}
	e.Mergeable = m.Mergeable
	e.Pending = m.Pending
	e.Reasons = m.Reasons
	return nil
}
