package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"thoreinstein.com/fel/pkg/config"
	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/git"
	"thoreinstein.com/fel/pkg/github"
	"thoreinstein.com/fel/pkg/identity"
	"thoreinstein.com/fel/pkg/stack"
)

// Lander merges one stack's entries into upstream, root first.
type Lander struct {
	repo   Repository
	github github.Client
	store  IdentityStore
	opts   LandOptions
	logger *slog.Logger
}

// NewLander creates a Lander. A nil logger uses slog.Default.
func NewLander(repo Repository, gh github.Client, store IdentityStore, opts LandOptions, logger *slog.Logger) *Lander {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MergeMethod == "" {
		opts.MergeMethod = config.MergeMethodRebase
	}
	return &Lander{
		repo:   repo,
		github: gh,
		store:  store,
		opts:   opts,
		logger: logger,
	}
}

// Land merges the entries of stackName from root to tip. It stops at the
// first entry that cannot be landed: entries before it are landed and
// cleaned up, the rest are left for a later run. When the walk stops after
// something reached upstream, the remaining entries are replayed onto the
// new upstream tip so that run finds them still tracked. The returned
// error covers problems that prevented the walk from starting, a failed
// replay and cancellation; per-entry failures are in the report.
//
// Cancellation is only honoured between entries. An entry that has started
// runs to completion or failure.
func (l *Lander) Land(ctx context.Context, g *stack.Graph, stackName string) (*LandReport, error) {
	if !slices.Contains(g.StackNames(), stackName) {
		return nil, felerrors.NewWorkflowError(string(StepPreflight), fmt.Sprintf("stack %q is not part of the graph", stackName))
	}
	if err := config.ValidateMergeMethod(l.opts.MergeMethod); err != nil {
		return nil, err
	}

	nodes := g.Stack(stackName)
	report := &LandReport{
		Stack:       stackName,
		Upstream:    g.Upstream(),
		MergeMethod: l.opts.MergeMethod,
	}
	for _, n := range nodes {
		report.Entries = append(report.Entries, newEntryResult(n, OutcomeNotAttempted))
	}

	tip, err := l.fetchUpstream(ctx, g.Upstream())
	if err != nil {
		return report, err
	}
	report.UpstreamTip = tip

	var stopErr error
	upstreamHas := make(map[stack.NodeID]bool, len(nodes))
	stopped := false
	for i, n := range nodes {
		if err := ctx.Err(); err != nil {
			stopErr = felerrors.Wrap(err, "land interrupted")
			stopped = true
			break
		}

		res := report.Entries[i]
		next, step, err := l.landNode(context.WithoutCancel(ctx), g, n, tip, res)
		if err != nil {
			res.fail(step, err)
			l.logger.Error("failed to land entry", "commit", n.Commit.ShortHash(), "step", step, "error", err)
			// Cleanup only fails once the entry is already upstream.
			if step == StepCleanup {
				upstreamHas[n.ID] = true
			}
			stopped = true
			break
		}
		upstreamHas[n.ID] = true
		tip = next
		report.UpstreamTip = tip
	}

	if !stopped {
		report.Complete = true
		if l.opts.UpdateLocal {
			if err := l.repo.ResetBranch(ctx, stackName, tip); err != nil {
				return report, felerrors.NewWorkflowErrorWithCause(string(StepCleanup), "failed to move "+stackName+" to the new upstream tip", err)
			}
			l.logger.Info("stack branch moved to upstream", "branch", stackName, "commit", felerrors.ShortHash(tip))
		}
		return report, stopErr
	}

	if len(upstreamHas) == 0 {
		return report, stopErr
	}
	if err := l.replayRemaining(context.WithoutCancel(ctx), g, upstreamHas, report); err != nil {
		if stopErr == nil {
			stopErr = err
		}
		l.logger.Warn("remaining entries left on the old upstream", "stack", stackName, "error", err)
	}
	return report, stopErr
}

// landNode lands one entry on top of tip and returns the new upstream tip.
// Nothing is pushed or retargeted until the pull request is known to be
// mergeable or still waiting on the service.
func (l *Lander) landNode(ctx context.Context, g *stack.Graph, n *stack.Node, tip string, res *EntryResult) (string, Step, error) {
	hash := n.Commit.Hash
	upstream := g.Upstream()

	id, err := l.lookupEntry(ctx, n)
	if err != nil {
		return tip, StepPreflight, err
	}
	if id != nil {
		res.Branch = id.Branch
		res.PRNumber = id.PRNumber
		res.Revision = id.Revision
	}

	contained, err := l.repo.IsAncestor(ctx, hash, tip)
	if err != nil {
		return tip, StepPreflight, err
	}
	if contained {
		res.Reason = "already in " + upstream
		return tip, StepCleanup, l.finish(ctx, g, n, id, res)
	}

	if !id.HasPR() {
		return tip, StepPreflight, felerrors.NewStackError(felerrors.KindUnsubmittedEntry,
			"entry has no pull request; run fel submit first").WithCommit(hash)
	}

	pr, err := felerrors.RetryWithResult(ctx, l.opts.Retry, func(ctx context.Context) (*github.PRInfo, error) {
		return l.github.GetPR(ctx, id.PRNumber)
	})
	if err != nil {
		return tip, StepPreflight, err
	}
	res.PRURL = pr.URL
	switch {
	case pr.IsMerged():
		// Landed by an earlier run that stopped before cleaning up.
		next, err := l.fetchUpstream(ctx, upstream)
		if err != nil {
			return tip, StepCleanup, err
		}
		res.Reason = "already merged"
		return next, StepCleanup, l.finish(ctx, g, n, id, res)
	case !pr.IsOpen():
		return tip, StepPreflight, felerrors.NewStackError(felerrors.KindClosedEntry,
			fmt.Sprintf("pull request #%d is closed", pr.Number)).WithCommit(hash)
	}

	m, err := l.waitMergeable(ctx, pr.Number)
	if err != nil {
		return tip, StepPreflight, err
	}
	if !m.Mergeable && !m.Pending {
		return tip, StepPreflight, notMergeable(pr.Number, m, hash)
	}

	candidate, err := l.repo.Rebase(ctx, hash, tip)
	if err != nil {
		return tip, StepRebase, err
	}
	if err := l.pushCandidate(ctx, id.Branch, candidate, res); err != nil {
		return tip, StepRebase, err
	}
	if pr.BaseBranch != upstream {
		if _, err := felerrors.RetryWithResult(ctx, l.opts.Retry, func(ctx context.Context) (*github.PRInfo, error) {
			return l.github.UpdatePR(ctx, pr.Number, github.UpdatePROptions{BaseBranch: &upstream})
		}); err != nil {
			return tip, StepRetarget, err
		}
		res.Retargeted = true
	}

	// A new head or base makes the service compute the verdict again.
	if m.Pending || res.Pushed || res.Retargeted {
		m, err = l.waitMergeable(ctx, pr.Number)
		if err != nil {
			return tip, StepPreflight, err
		}
		if !m.Mergeable {
			return tip, StepPreflight, notMergeable(pr.Number, m, hash)
		}
	}

	if err := l.merge(ctx, upstream, pr, n.Commit, candidate); err != nil {
		return tip, StepMerge, err
	}
	l.logger.Info("landed pull request", "pr", pr.Number, "method", l.opts.MergeMethod)

	next, err := l.fetchUpstream(ctx, upstream)
	if err != nil {
		return tip, StepCleanup, err
	}
	return next, StepCleanup, l.finish(ctx, g, n, id, res)
}

func notMergeable(number int, m *github.Mergeability, commit string) error {
	return felerrors.NewStackError(felerrors.KindNotMergeable,
		fmt.Sprintf("pull request #%d: %s", number, m.Reason())).WithCommit(commit)
}

// replayRemaining rebases every entry that descends from a landed one onto
// the current upstream tip, moves each entry's identity to its replayed
// commit and points the stack branches at the replayed tips. Landed
// commits come back from the merge with new hashes, so without this the
// next run would see the old ones as untracked work. Nothing is pushed;
// the next submit or land updates the entry branches.
func (l *Lander) replayRemaining(ctx context.Context, g *stack.Graph, upstreamHas map[stack.NodeID]bool, report *LandReport) error {
	tip, err := l.fetchUpstream(ctx, g.Upstream())
	if err != nil {
		return err
	}
	report.UpstreamTip = tip

	replayed := make(map[stack.NodeID]string)
	var order []*stack.Node
	for _, n := range g.Nodes() {
		if upstreamHas[n.ID] {
			continue
		}
		parent := g.Parent(n)
		if parent == nil {
			continue
		}
		onto, ok := replayed[parent.ID]
		if !ok {
			if !upstreamHas[parent.ID] {
				continue
			}
			onto = tip
		}
		next, err := l.repo.Rebase(ctx, n.Commit.Hash, onto)
		if err != nil {
			return felerrors.NewWorkflowErrorWithCause(string(StepRebase),
				"failed to replay "+n.Commit.ShortHash()+" onto "+g.Upstream(), err)
		}
		replayed[n.ID] = next
		order = append(order, n)
	}
	if len(order) == 0 {
		return nil
	}

	for _, n := range order {
		if _, ok := n.Tracked(); !ok {
			continue
		}
		if _, err := l.store.Move(ctx, n.Commit.Hash, replayed[n.ID]); err != nil {
			return err
		}
	}

	for _, name := range g.StackNames() {
		tipNode, ok := g.Lookup(g.Tip(name))
		if !ok {
			continue
		}
		next, ok := replayed[tipNode.ID]
		if !ok {
			continue
		}
		if err := l.repo.ResetBranch(ctx, name, next); err != nil {
			return felerrors.NewWorkflowErrorWithCause(string(StepCleanup), "failed to move "+name+" onto the new upstream tip", err)
		}
		l.logger.Info("remaining entries moved onto upstream", "branch", name, "commit", felerrors.ShortHash(next))
	}

	for _, res := range report.Entries {
		if n, ok := g.Lookup(res.Commit); ok {
			if next, ok := replayed[n.ID]; ok {
				res.ReplayedAs = next
			}
		}
	}
	report.Replayed = true
	return nil
}

// lookupEntry returns the node's entry, moving a rewrite-propagated entry onto
// the node's commit. New nodes have none.
func (l *Lander) lookupEntry(ctx context.Context, n *stack.Node) (*identity.Identity, error) {
	if n.Kind != stack.KindTracked {
		return nil, nil
	}
	return l.store.Lookup(ctx, n.Commit.Hash)
}

func (l *Lander) fetchUpstream(ctx context.Context, upstream string) (string, error) {
	return felerrors.RetryWithResult(ctx, l.opts.Retry, func(ctx context.Context) (string, error) {
		return l.repo.FetchBranch(ctx, upstream)
	})
}

// pushCandidate force-updates the entry branch to the rebased commit so the
// pull request shows exactly what will land.
func (l *Lander) pushCandidate(ctx context.Context, branch, candidate string, res *EntryResult) error {
	spec := git.PushSpec{Commit: candidate, Branch: branch, Force: true}
	result, err := felerrors.RetryWithResult(ctx, l.opts.Retry, func(ctx context.Context) (*git.PushResult, error) {
		return l.repo.Push(ctx, spec)
	})
	if err != nil {
		return felerrors.NewWorkflowErrorWithCause(string(StepPush), "failed to push "+branch, err)
	}
	u, ok := result.For("refs/heads/" + branch)
	if !ok || u.Status == git.PushRejected {
		return felerrors.NewWorkflowError(string(StepPush), "push of "+branch+" rejected: "+u.Reason)
	}
	res.Pushed = u.Status.Changed()
	return nil
}

// errStillPending marks a mergeability verdict that never settled.
var errStillPending = felerrors.New("mergeability still pending")

// waitMergeable polls mergeability while the verdict is only waiting on the
// service or on running checks, within the retry bound. A verdict that is
// still pending when the retries run out is returned as is.
func (l *Lander) waitMergeable(ctx context.Context, number int) (*github.Mergeability, error) {
	var last *github.Mergeability
	m, err := felerrors.RetryWithResult(ctx, l.opts.Retry, func(ctx context.Context) (*github.Mergeability, error) {
		m, err := l.github.GetMergeability(ctx, number)
		if err != nil {
			return nil, err
		}
		last = m
		if m.Pending {
			return nil, &felerrors.GitHubError{
				Operation: "GetMergeability",
				Message:   m.Reason(),
				Retryable: true,
				Cause:     errStillPending,
			}
		}
		return m, nil
	})
	if err != nil {
		if felerrors.Is(err, errStillPending) && last != nil {
			return last, nil
		}
		return nil, err
	}
	return m, nil
}

// merge advances upstream to include the entry without a merge commit.
func (l *Lander) merge(ctx context.Context, upstream string, pr *github.PRInfo, commit *git.Commit, candidate string) error {
	if l.opts.MergeMethod == config.MergeMethodFastForward {
		return l.pushUpstream(ctx, upstream, candidate)
	}

	opts := github.MergeOptions{Method: l.opts.MergeMethod, SHA: candidate}
	if l.opts.MergeMethod == config.MergeMethodSquash {
		opts.CommitTitle = fmt.Sprintf("%s (#%d)", commit.Subject(), pr.Number)
		opts.CommitBody = commit.Body()
	}
	return felerrors.Retry(ctx, l.opts.Retry, func(ctx context.Context) error {
		return l.github.MergePR(ctx, pr.Number, opts)
	})
}

// pushUpstream fast-forwards upstream to candidate. GitHub marks the pull
// request merged once its head is reachable from the base.
func (l *Lander) pushUpstream(ctx context.Context, upstream, candidate string) error {
	spec := git.PushSpec{Commit: candidate, Branch: upstream}
	result, err := felerrors.RetryWithResult(ctx, l.opts.Retry, func(ctx context.Context) (*git.PushResult, error) {
		return l.repo.Push(ctx, spec)
	})
	if err != nil {
		return felerrors.NewWorkflowErrorWithCause(string(StepMerge), "failed to push "+upstream, err)
	}
	u, ok := result.For("refs/heads/" + upstream)
	if !ok || u.Status == git.PushRejected {
		return felerrors.NewWorkflowError(string(StepMerge), "fast-forward of "+upstream+" rejected: "+u.Reason)
	}
	return nil
}

// finish cleans up a landed entry. Children are retargeted to upstream
// first because GitHub closes pull requests whose base branch is deleted.
func (l *Lander) finish(ctx context.Context, g *stack.Graph, n *stack.Node, id *identity.Identity, res *EntryResult) error {
	upstream := g.Upstream()

	for _, child := range g.Children(n) {
		cid, ok := child.Tracked()
		if !ok || !cid.HasPR() {
			continue
		}
		if err := l.retargetChild(ctx, cid.PRNumber, upstream); err != nil {
			return err
		}
	}

	if id == nil {
		res.Outcome = OutcomeLanded
		return nil
	}

	if err := l.store.Forget(ctx, id.EntryID); err != nil {
		return err
	}

	if id.Branch != "" {
		result, err := felerrors.RetryWithResult(ctx, l.opts.Retry, func(ctx context.Context) (*git.PushResult, error) {
			return l.repo.DeleteRemoteBranch(ctx, id.Branch)
		})
		if err != nil {
			return felerrors.NewWorkflowErrorWithCause(string(StepCleanup), "failed to delete remote branch "+id.Branch, err)
		}
		if u, ok := result.For("refs/heads/" + id.Branch); ok && u.Status == git.PushRejected {
			// Usually already deleted by the service after the merge.
			l.logger.Debug("remote branch not deleted", "branch", id.Branch, "reason", u.Reason)
		}
		if err := l.repo.DeleteRemoteTrackingRef(ctx, id.Branch); err != nil {
			l.logger.Debug("remote-tracking ref not deleted", "branch", id.Branch, "error", err)
		}
		if err := l.repo.DeleteLocalBranch(ctx, id.Branch); err != nil {
			l.logger.Warn("failed to delete local branch", "branch", id.Branch, "error", err)
		}
	}

	res.Outcome = OutcomeLanded
	return nil
}

func (l *Lander) retargetChild(ctx context.Context, number int, upstream string) error {
	pr, err := felerrors.RetryWithResult(ctx, l.opts.Retry, func(ctx context.Context) (*github.PRInfo, error) {
		return l.github.GetPR(ctx, number)
	})
	if err != nil {
		return err
	}
	if !pr.IsOpen() || pr.BaseBranch == upstream {
		return nil
	}
	if _, err := felerrors.RetryWithResult(ctx, l.opts.Retry, func(ctx context.Context) (*github.PRInfo, error) {
		return l.github.UpdatePR(ctx, number, github.UpdatePROptions{BaseBranch: &upstream})
	}); err != nil {
		return err
	}
	l.logger.Info("retargeted child pull request", "pr", number, "base", upstream)
	return nil
}
