package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"thoreinstein.com/fel/pkg/config"
	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/git"
	"thoreinstein.com/fel/pkg/github"
	"thoreinstein.com/fel/pkg/identity"
	"thoreinstein.com/fel/pkg/stack"
)

// Synchronizer pushes a stack graph to the remote as a set of pull requests.
type Synchronizer struct {
	repo   Repository
	github github.Client
	store  IdentityStore
	opts   SubmitOptions
	logger *slog.Logger
}

// NewSynchronizer creates a Synchronizer. A nil logger uses slog.Default.
func NewSynchronizer(repo Repository, gh github.Client, store IdentityStore, opts SubmitOptions, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BranchPrefix == "" {
		opts.BranchPrefix = DefaultBranchPrefix
	}
	if opts.BranchNaming == "" {
		opts.BranchNaming = config.BranchNamingIndex
	}
	return &Synchronizer{
		repo:   repo,
		github: gh,
		store:  store,
		opts:   opts,
		logger: logger,
	}
}

// submitted is a node whose branch and pull request are in place for this run.
type submitted struct {
	id  *identity.Identity
	pr  *github.PRInfo
	res *EntryResult
}

// Submit brings every node of g up to date on the remote, parents before
// children. A node that fails does not stop its siblings, but its
// descendants are skipped. Cancellation is checked between nodes only: a
// node that has started is submitted fully, the nodes after it are left
// not attempted. The returned error is non-nil only when ctx was
// cancelled; per-node failures are in the report.
func (s *Synchronizer) Submit(ctx context.Context, g *stack.Graph) (*SubmitReport, error) {
	report := &SubmitReport{Upstream: g.Upstream()}
	done := make(map[stack.NodeID]*submitted, g.Len())

	for _, n := range g.Nodes() {
		res := newEntryResult(n, OutcomeNotAttempted)
		report.Entries = append(report.Entries, res)

		if ctx.Err() != nil {
			res.Reason = "cancelled"
			continue
		}

		parent := g.Parent(n)
		base := g.Upstream()
		if parent != nil {
			p, ok := done[parent.ID]
			if !ok {
				res.skip("ancestor " + parent.Commit.ShortHash() + " was not submitted")
				s.logger.Warn("skipping entry", "commit", n.Commit.ShortHash(), "reason", res.Reason)
				continue
			}
			base = p.id.Branch
		}
		res.BaseBranch = base

		sub, step, err := s.submitNode(context.WithoutCancel(ctx), n, base, res)
		if err != nil {
			res.fail(step, err)
			s.logger.Error("failed to submit entry", "commit", n.Commit.ShortHash(), "step", step, "error", err)
			continue
		}
		done[n.ID] = sub
		s.logger.Debug("entry submitted", "commit", n.Commit.ShortHash(), "pr", sub.pr.Number, "outcome", res.Outcome)
	}

	if err := ctx.Err(); err != nil {
		return report, felerrors.Wrap(err, "submit interrupted")
	}

	if s.opts.StackFooter {
		s.updateFooters(ctx, g, done)
	}
	return report, nil
}

func (s *Synchronizer) submitNode(ctx context.Context, n *stack.Node, base string, res *EntryResult) (*submitted, Step, error) {
	commit := n.Commit

	id, err := s.resolve(ctx, n)
	if err != nil {
		return nil, StepAssign, err
	}
	res.Branch = id.Branch
	res.PRNumber = id.PRNumber
	res.Revision = id.Revision

	id, err = s.push(ctx, commit, id, res)
	if err != nil {
		return nil, StepPush, err
	}

	if !id.HasPR() {
		return s.create(ctx, commit, id, base, res)
	}
	return s.update(ctx, commit, id, base, res)
}

// resolve returns the node's identity, creating one for new commits. Lookup
// moves a rewrite-propagated identity onto the node's commit.
func (s *Synchronizer) resolve(ctx context.Context, n *stack.Node) (*identity.Identity, error) {
	if n.Kind == stack.KindTracked {
		id, err := s.store.Lookup(ctx, n.Commit.Hash)
		if err != nil {
			return nil, err
		}
		if id != nil {
			return id, nil
		}
		s.logger.Warn("tracked entry disappeared since the graph was built", "commit", n.Commit.ShortHash())
	}

	branch, err := s.branchName(ctx, n)
	if err != nil {
		return nil, err
	}
	return s.store.Assign(ctx, n.Commit.Hash, identity.Identity{Branch: branch, Stack: n.Stack})
}

// branchName derives a new entry's branch from its stack and position (or
// short hash), adding a numeric suffix when another entry owns the name.
func (s *Synchronizer) branchName(ctx context.Context, n *stack.Node) (string, error) {
	leaf := strconv.Itoa(n.Position)
	if s.opts.BranchNaming == config.BranchNamingHash {
		leaf = n.Commit.ShortHash()
	}
	name := strings.Trim(s.opts.BranchPrefix, "/") + "/" + n.Stack + "/" + leaf

	for i := 1; ; i++ {
		candidate := name
		if i > 1 {
			candidate = fmt.Sprintf("%s-%d", name, i)
		}
		owner, err := s.store.BranchOwner(ctx, candidate)
		if err != nil {
			return "", err
		}
		if owner == "" {
			return candidate, nil
		}
	}
}

// push moves the entry branch to commit. A branch fel has never pushed must
// not exist yet; afterwards the branch is force-updated since amends
// replace the commit it points at.
func (s *Synchronizer) push(ctx context.Context, commit *git.Commit, id *identity.Identity, res *EntryResult) (*identity.Identity, error) {
	fresh := id.LastSubmittedCommit == "" && !id.HasPR()
	spec := git.PushSpec{Commit: commit.Hash, Branch: id.Branch, Force: !fresh, MustNotExist: fresh}

	result, err := felerrors.RetryWithResult(ctx, s.opts.Retry, func(ctx context.Context) (*git.PushResult, error) {
		return s.repo.Push(ctx, spec)
	})
	if err != nil {
		return nil, felerrors.NewWorkflowErrorWithCause(string(StepPush), "failed to push "+id.Branch, err)
	}

	u, ok := result.For("refs/heads/" + id.Branch)
	if !ok {
		return nil, felerrors.NewWorkflowError(string(StepPush), "git reported no status for "+id.Branch)
	}
	if u.Status == git.PushRejected {
		if fresh {
			return nil, felerrors.NewStackError(felerrors.KindDuplicatePush,
				"remote branch already exists and is not owned by this entry").WithRef(id.Branch).WithCommit(commit.Hash)
		}
		return nil, felerrors.NewWorkflowError(string(StepPush), "push of "+id.Branch+" rejected: "+u.Reason)
	}
	res.Pushed = u.Status.Changed()

	if !fresh {
		return id, nil
	}
	// Record the push so a retry after a later failure force-updates
	// instead of tripping over its own branch.
	return s.store.Update(ctx, commit.Hash, func(i *identity.Identity) error {
		i.LastSubmittedCommit = commit.Hash
		return nil
	})
}

func (s *Synchronizer) create(ctx context.Context, commit *git.Commit, id *identity.Identity, base string, res *EntryResult) (*submitted, Step, error) {
	opts := github.CreatePROptions{
		Title:      commit.Subject(),
		Body:       commit.Body(),
		HeadBranch: id.Branch,
		BaseBranch: base,
		Draft:      s.opts.Draft,
		Reviewers:  s.opts.Reviewers,
	}
	pr, err := felerrors.RetryWithResult(ctx, s.opts.Retry, func(ctx context.Context) (*github.PRInfo, error) {
		return s.github.CreatePR(ctx, opts)
	})
	if err != nil {
		return nil, StepCreatePR, err
	}
	s.logger.Info("created pull request", "pr", pr.Number, "branch", id.Branch, "base", base)

	id, err = s.store.Update(ctx, commit.Hash, func(i *identity.Identity) error {
		i.PRNumber = pr.Number
		i.LastSubmittedTree = commit.Tree
		i.LastSubmittedCommit = commit.Hash
		i.Revision = 1
		return nil
	})
	if err != nil {
		return nil, StepRecord, err
	}

	res.Outcome = OutcomeCreated
	res.PRNumber = pr.Number
	res.PRURL = pr.URL
	res.Revision = id.Revision
	return &submitted{id: id, pr: pr, res: res}, "", nil
}

func (s *Synchronizer) update(ctx context.Context, commit *git.Commit, id *identity.Identity, base string, res *EntryResult) (*submitted, Step, error) {
	pr, err := felerrors.RetryWithResult(ctx, s.opts.Retry, func(ctx context.Context) (*github.PRInfo, error) {
		return s.github.GetPR(ctx, id.PRNumber)
	})
	if err != nil {
		return nil, StepRetarget, err
	}
	res.PRURL = pr.URL
	if !pr.IsOpen() {
		return nil, StepRetarget, felerrors.NewStackError(felerrors.KindClosedEntry,
			fmt.Sprintf("pull request #%d is %s", pr.Number, pr.State)).WithCommit(commit.Hash)
	}

	if pr.BaseBranch != base {
		s.logger.Info("retargeting pull request", "pr", pr.Number, "from", pr.BaseBranch, "to", base)
		updated, err := felerrors.RetryWithResult(ctx, s.opts.Retry, func(ctx context.Context) (*github.PRInfo, error) {
			return s.github.UpdatePR(ctx, pr.Number, github.UpdatePROptions{BaseBranch: &base})
		})
		if err != nil {
			return nil, StepRetarget, err
		}
		pr = updated
		res.Retargeted = true
	}

	revision := id.Revision
	treeChanged := id.LastSubmittedTree != commit.Tree
	if treeChanged {
		revision++
		// Without a recorded tree there is nothing to compare against.
		if s.opts.DiffComments && id.LastSubmittedTree != "" {
			if err := s.comment(ctx, pr.Number, id, commit, revision, res); err != nil {
				return nil, StepComment, err
			}
		}
	}

	if treeChanged || id.LastSubmittedCommit != commit.Hash {
		id, err = s.store.Update(ctx, commit.Hash, func(i *identity.Identity) error {
			i.LastSubmittedTree = commit.Tree
			i.LastSubmittedCommit = commit.Hash
			i.Revision = revision
			return nil
		})
		if err != nil {
			return nil, StepRecord, err
		}
	}

	res.Revision = id.Revision
	if res.Pushed || res.Retargeted || res.Commented {
		res.Outcome = OutcomeUpdated
	} else {
		res.Outcome = OutcomeUpToDate
	}
	return &submitted{id: id, pr: pr, res: res}, "", nil
}

// comment posts a summary of new content. Content that changed only because
// an ancestor was rewritten gets no comment; the ancestor's PR carries it.
func (s *Synchronizer) comment(ctx context.Context, number int, prev *identity.Identity, commit *git.Commit, revision int, res *EntryResult) error {
	change, err := loadRevisionChange(ctx, s.repo, prev, commit, revision)
	if err != nil {
		return err
	}
	if !change.ownChange() {
		s.logger.Debug("content changed through an ancestor only", "pr", number)
		return nil
	}

	body := change.render(ctx, s.repo)
	if err := felerrors.Retry(ctx, s.opts.Retry, func(ctx context.Context) error {
		return s.github.CreateComment(ctx, number, body)
	}); err != nil {
		return err
	}
	res.Commented = true
	return nil
}

// updateFooters rewrites the stack listing of every submitted PR whose body
// does not already carry the current one.
func (s *Synchronizer) updateFooters(ctx context.Context, g *stack.Graph, done map[stack.NodeID]*submitted) {
	prs := make(map[stack.NodeID]footerPR, g.Len())
	for _, n := range g.Nodes() {
		if sub, ok := done[n.ID]; ok {
			prs[n.ID] = footerPR{number: sub.pr.Number, title: sub.pr.Title}
		} else if id, ok := n.Tracked(); ok && id.HasPR() {
			prs[n.ID] = footerPR{number: id.PRNumber, title: n.Commit.Subject()}
		}
	}

	for _, n := range g.Nodes() {
		sub, ok := done[n.ID]
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		body := withFooter(sub.pr.Body, renderFooter(g, n, prs))
		if strings.TrimSpace(body) == strings.TrimSpace(normalizeBody(sub.pr.Body)) {
			continue
		}

		pr, err := felerrors.RetryWithResult(ctx, s.opts.Retry, func(ctx context.Context) (*github.PRInfo, error) {
			return s.github.UpdatePR(ctx, sub.pr.Number, github.UpdatePROptions{Body: &body})
		})
		if err != nil {
			sub.res.fail(StepFooter, err)
			s.logger.Error("failed to update stack footer", "pr", sub.pr.Number, "error", err)
			continue
		}
		sub.pr = pr
		sub.res.BodyUpdated = true
		if sub.res.Outcome == OutcomeUpToDate {
			sub.res.Outcome = OutcomeUpdated
		}
	}
}
