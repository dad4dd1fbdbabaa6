package git

import (
	"context"
	"strings"

	felerrors "thoreinstein.com/fel/pkg/errors"
)

// Rebase replays commit onto the commit onto and returns the hash of the new
// commit. It uses merge-tree and commit-tree so neither the index nor the
// working tree is touched. The original author is preserved; the committer
// comes from the current git identity.
//
// A conflict is reported as a StackError of kind RebaseConflict.
func (r *Repository) Rebase(ctx context.Context, commit, onto string) (string, error) {
	c, err := r.ReadCommit(ctx, commit)
	if err != nil {
		return "", err
	}
	if c.IsMerge() {
		return "", felerrors.NewStackError(felerrors.KindMergeCommit, "cannot rebase a merge commit").WithCommit(c.Hash)
	}
	if c.Parent() == onto {
		return c.Hash, nil
	}

	args := []string{"merge-tree", "--write-tree", "--no-messages"}
	if parent := c.Parent(); parent != "" {
		args = append(args, "--merge-base="+parent)
	}
	args = append(args, onto, c.Hash)

	out, err := r.runner.Output(ctx, r.dir, "git", args...)
	if err != nil {
		if exitCode(err) == 1 {
			return "", felerrors.NewStackError(felerrors.KindRebaseConflict, "does not apply cleanly onto "+felerrors.ShortHash(onto)).
				WithCommit(c.Hash).
				WithCause(r.wrap(args, err))
		}
		return "", r.wrap(args, err)
	}
	tree, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	if tree == "" {
		return "", felerrors.Newf("merge-tree produced no tree for %s", c.ShortHash())
	}

	return r.CommitTree(ctx, tree, []string{onto}, c.Message, c.Author)
}

// CommitTree creates a commit object for tree with the given parents.
func (r *Repository) CommitTree(ctx context.Context, tree string, parents []string, message string, author Signature) (string, error) {
	args := []string{"commit-tree", tree}
	for _, p := range parents {
		args = append(args, "-p", p)
	}
	args = append(args, "-F", "-")

	var env []string
	if author.Name != "" {
		env = author.Env("AUTHOR")
	}
	out, err := r.outputWithInput(ctx, Input{Stdin: message, Env: env}, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// DiffStat returns `git diff --stat` between two trees or commits.
func (r *Repository) DiffStat(ctx context.Context, from, to string) (string, error) {
	return r.output(ctx, "diff", "--stat", "--no-color", from, to)
}

// Patch returns the patch a commit introduces relative to its first parent.
func (r *Repository) Patch(ctx context.Context, commit string) (string, error) {
	return r.output(ctx, "show", "--format=", "--patch", "--no-color", "--first-parent", commit)
}
