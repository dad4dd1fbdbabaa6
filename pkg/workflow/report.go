package workflow

import (
	"fmt"
	"strings"

	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/stack"
)

// Outcome is what happened to one entry.
type Outcome string

const (
	// OutcomeCreated means a pull request was opened for the entry.
	OutcomeCreated Outcome = "created"
	// OutcomeUpdated means the entry's branch, base or content changed remotely.
	OutcomeUpdated Outcome = "updated"
	// OutcomeUpToDate means nothing had to change.
	OutcomeUpToDate Outcome = "up-to-date"
	// OutcomeSkipped means an ancestor failed, so the entry's base is unknown.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed means an operation on the entry failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeLanded means the entry is part of upstream and was cleaned up.
	OutcomeLanded Outcome = "landed"
	// OutcomeNotAttempted means the walk stopped before reaching the entry.
	OutcomeNotAttempted Outcome = "not-attempted"
)

// EntryResult reports one node of a submit or land.
type EntryResult struct {
	Commit     string  `json:"commit" yaml:"commit"`
	Subject    string  `json:"subject" yaml:"subject"`
	Stack      string  `json:"stack" yaml:"stack"`
	Branch     string  `json:"branch,omitempty" yaml:"branch,omitempty"`
	BaseBranch string  `json:"base_branch,omitempty" yaml:"base_branch,omitempty"`
	PRNumber   int     `json:"pr_number,omitempty" yaml:"pr_number,omitempty"`
	PRURL      string  `json:"pr_url,omitempty" yaml:"pr_url,omitempty"`
	Revision   int     `json:"revision,omitempty" yaml:"revision,omitempty"`
	Outcome    Outcome `json:"outcome" yaml:"outcome"`
	Step       Step    `json:"step,omitempty" yaml:"step,omitempty"`
	Reason     string  `json:"reason,omitempty" yaml:"reason,omitempty"`
	// ReplayedAs is the entry's commit after a partial land moved it onto
	// the new upstream tip.
	ReplayedAs string `json:"replayed_as,omitempty" yaml:"replayed_as,omitempty"`

	// Pushed is set when the remote branch moved.
	Pushed bool `json:"pushed" yaml:"pushed"`
	// Retargeted is set when the pull request's base changed.
	Retargeted bool `json:"retargeted" yaml:"retargeted"`
	// Commented is set when a diff summary was posted.
	Commented bool `json:"commented" yaml:"commented"`
	// BodyUpdated is set when the stack footer was rewritten.
	BodyUpdated bool `json:"body_updated" yaml:"body_updated"`

	Err error `json:"-" yaml:"-"`
}

func newEntryResult(n *stack.Node, outcome Outcome) *EntryResult {
	res := &EntryResult{
		Commit:  n.Commit.Hash,
		Subject: n.Commit.Subject(),
		Stack:   n.Stack,
		Outcome: outcome,
	}
	if id, ok := n.Tracked(); ok {
		res.Branch = id.Branch
		res.PRNumber = id.PRNumber
		res.Revision = id.Revision
	}
	return res
}

// Changed reports whether anything moved on the remote for the entry.
func (r *EntryResult) Changed() bool {
	return r.Pushed || r.Retargeted || r.Commented || r.BodyUpdated || r.Outcome == OutcomeCreated
}

func (r *EntryResult) fail(step Step, err error) {
	r.Outcome = OutcomeFailed
	r.Step = step
	r.Err = err
	r.Reason = err.Error()
}

func (r *EntryResult) skip(reason string) {
	r.Outcome = OutcomeSkipped
	r.Reason = reason
}

// SubmitReport lists the outcome of every node of a submitted graph, in
// topological order.
type SubmitReport struct {
	Upstream string         `json:"upstream" yaml:"upstream"`
	Entries  []*EntryResult `json:"entries" yaml:"entries"`
}

// Failed reports whether any entry failed or was skipped because of a failure.
func (r *SubmitReport) Failed() bool {
	for _, e := range r.Entries {
		if e.Outcome == OutcomeFailed || e.Outcome == OutcomeSkipped {
			return true
		}
	}
	return false
}

// Count returns how many entries ended with outcome.
func (r *SubmitReport) Count(outcome Outcome) int {
	return countOutcome(r.Entries, outcome)
}

// Err summarizes the failed entries as one error, or nil.
func (r *SubmitReport) Err() error {
	return reportErr("submit", r.Entries)
}

// Entry returns the result for a commit.
func (r *SubmitReport) Entry(commit string) (*EntryResult, bool) {
	return findEntry(r.Entries, commit)
}

// LandReport lists the entries of one stack from root to tip.
type LandReport struct {
	Stack       string         `json:"stack" yaml:"stack"`
	Upstream    string         `json:"upstream" yaml:"upstream"`
	MergeMethod string         `json:"merge_method" yaml:"merge_method"`
	UpstreamTip string         `json:"upstream_tip,omitempty" yaml:"upstream_tip,omitempty"`
	Complete    bool           `json:"complete" yaml:"complete"`
	// Replayed is set when a partial land rebased the remaining entries onto
	// UpstreamTip and moved the local stack branches with them.
	Replayed bool           `json:"replayed" yaml:"replayed"`
	Entries  []*EntryResult `json:"entries" yaml:"entries"`
}

// Failed reports whether the walk stopped at a failed entry.
func (r *LandReport) Failed() bool {
	return countOutcome(r.Entries, OutcomeFailed) > 0
}

// Count returns how many entries ended with outcome.
func (r *LandReport) Count(outcome Outcome) int {
	return countOutcome(r.Entries, outcome)
}

// Err summarizes the failed entry as an error, or nil.
func (r *LandReport) Err() error {
	return reportErr("land", r.Entries)
}

// Entry returns the result for a commit.
func (r *LandReport) Entry(commit string) (*EntryResult, bool) {
	return findEntry(r.Entries, commit)
}

func countOutcome(entries []*EntryResult, outcome Outcome) int {
	n := 0
	for _, e := range entries {
		if e.Outcome == outcome {
			n++
		}
	}
	return n
}

func findEntry(entries []*EntryResult, commit string) (*EntryResult, bool) {
	for _, e := range entries {
		if e.Commit == commit {
			return e, true
		}
	}
	return nil, false
}

func reportErr(op string, entries []*EntryResult) error {
	var failed []string
	var first error
	for _, e := range entries {
		if e.Outcome != OutcomeFailed {
			continue
		}
		if first == nil {
			first = e.Err
		}
		failed = append(failed, fmt.Sprintf("%s (%s)", felerrors.ShortHash(e.Commit), e.Subject))
	}
	if len(failed) == 0 {
		return nil
	}
	msg := fmt.Sprintf("%d %s failed: %s", len(failed), plural(len(failed), "entry", "entries"), strings.Join(failed, ", "))
	if first == nil {
		return felerrors.NewWorkflowError(op, msg)
	}
	return felerrors.NewWorkflowErrorWithCause(op, msg, first)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
