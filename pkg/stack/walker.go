// Package stack infers the topology of local stacks from commit ancestry.
//
// A stack is the run of commits on a local branch above its merge base with
// upstream. Build walks every requested stack and merges them into one DAG;
// commits shared by several stacks become a single node with several
// children.
package stack

import (
	"context"

	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/git"
)

// CommitReader is the read-only slice of the repository the walker needs.
type CommitReader interface {
	ResolveRef(ctx context.Context, ref string) (string, error)
	MergeBase(ctx context.Context, a, b string) (string, error)
	ReadCommit(ctx context.Context, hash string) (*git.Commit, error)
}

// Walker enumerates a stack's commits from tip to root, stopping before the
// merge base. It reads one commit per call to Next and can be restarted
// with Reset.
type Walker struct {
	repo     CommitReader
	branch   string
	upstream string
	tip      string
	base     string
	cursor   string
}

// NewWalker resolves branch and upstream and computes their merge base.
//
// It fails with DetachedHead when branch is empty or cannot be resolved,
// and with AmbiguousBase when upstream cannot be resolved or shares no
// history with branch.
func NewWalker(ctx context.Context, repo CommitReader, branch, upstream string) (*Walker, error) {
	if branch == "" {
		return nil, felerrors.NewStackError(felerrors.KindDetachedHead, "no branch given and HEAD is not on a branch")
	}

	tip, err := repo.ResolveRef(ctx, branch)
	if err != nil {
		if felerrors.Is(err, git.ErrRefNotFound) {
			return nil, felerrors.NewStackError(felerrors.KindDetachedHead, "branch tip cannot be resolved").
				WithRef(branch).WithCause(err)
		}
		return nil, felerrors.Wrapf(err, "failed to resolve %s", branch)
	}

	upstreamTip, err := repo.ResolveRef(ctx, upstream)
	if err != nil {
		if felerrors.Is(err, git.ErrRefNotFound) {
			return nil, felerrors.NewStackError(felerrors.KindAmbiguousBase, "upstream "+upstream+" cannot be resolved").
				WithRef(branch).WithCause(err)
		}
		return nil, felerrors.Wrapf(err, "failed to resolve %s", upstream)
	}

	base, err := repo.MergeBase(ctx, tip, upstreamTip)
	if err != nil {
		if felerrors.Is(err, git.ErrNoMergeBase) {
			return nil, felerrors.NewStackError(felerrors.KindAmbiguousBase, "no common ancestor with "+upstream).
				WithRef(branch)
		}
		return nil, felerrors.Wrapf(err, "failed to compute merge base of %s and %s", branch, upstream)
	}

	return &Walker{
		repo:     repo,
		branch:   branch,
		upstream: upstream,
		tip:      tip,
		base:     base,
		cursor:   tip,
	}, nil
}

// Branch returns the branch being walked.
func (w *Walker) Branch() string {
	return w.branch
}

// Tip returns the resolved branch tip.
func (w *Walker) Tip() string {
	return w.tip
}

// MergeBase returns the commit the walk stops at. It is never yielded.
func (w *Walker) MergeBase() string {
	return w.base
}

// Next returns the next commit towards the merge base. The boolean is false
// once the walk is exhausted.
func (w *Walker) Next(ctx context.Context) (*git.Commit, bool, error) {
	if w.cursor == "" || w.cursor == w.base {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	c, err := w.repo.ReadCommit(ctx, w.cursor)
	if err != nil {
		return nil, false, felerrors.Wrapf(err, "failed to read commit %s", felerrors.ShortHash(w.cursor))
	}
	if c.IsMerge() {
		return nil, false, felerrors.NewStackError(felerrors.KindMergeCommit, "stacks must be linear").
			WithRef(w.branch).WithCommit(c.Hash)
	}
	if c.Parent() == "" {
		// reached a root without meeting the merge base
		return nil, false, felerrors.NewStackError(felerrors.KindAmbiguousBase, "walk reached a root commit before the merge base").
			WithRef(w.branch).WithCommit(c.Hash)
	}

	w.cursor = c.Parent()
	return c, true, nil
}

// Reset restarts the walk from the tip.
func (w *Walker) Reset() {
	w.cursor = w.tip
}

// Collect drains the walk and returns the commits in tip-to-root order.
func (w *Walker) Collect(ctx context.Context) ([]*git.Commit, error) {
	var out []*git.Commit
	for {
		c, ok, err := w.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, c)
	}
}
