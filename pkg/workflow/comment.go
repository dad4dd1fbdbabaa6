package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/git"
	"thoreinstein.com/fel/pkg/identity"
)

// maxInterdiffBytes bounds the interdiff embedded in a comment; GitHub
// rejects comment bodies over 64KiB.
const maxInterdiffBytes = 32 << 10

var hunkHeaderRegex = regexp.MustCompile(`^@@ -\d+(,\d+)? \+\d+(,\d+)? @@`)

// patchFingerprint strips the parts of a patch that change when only the
// commit's ancestors changed: blob ids and hunk line numbers.
func patchFingerprint(patch string) string {
	lines := strings.Split(patch, "\n")
	out := lines[:0]
	for _, l := range lines {
		switch {
		case strings.HasPrefix(l, "index "):
			continue
		case hunkHeaderRegex.MatchString(l):
			l = hunkHeaderRegex.ReplaceAllString(l, "@@")
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

// revisionChange describes new content for an entry that already has a
// pull request.
type revisionChange struct {
	prev     *identity.Identity
	commit   *git.Commit
	revision int
	// prevPatch is empty when the previous commit is no longer available.
	prevPatch string
	patch     string
}

// ownChange reports whether the entry's own patch differs from the
// previously submitted one. Content that changed only because an ancestor
// changed does not count. An unknown previous patch counts as changed.
func (c *revisionChange) ownChange() bool {
	if c.prevPatch == "" {
		return true
	}
	return patchFingerprint(c.prevPatch) != patchFingerprint(c.patch)
}

// loadRevisionChange reads the patches needed to describe the change from
// prev to commit.
func loadRevisionChange(ctx context.Context, repo Repository, prev *identity.Identity, commit *git.Commit, revision int) (*revisionChange, error) {
	c := &revisionChange{prev: prev, commit: commit, revision: revision}

	patch, err := repo.Patch(ctx, commit.Hash)
	if err != nil {
		return nil, felerrors.Wrapf(err, "failed to read patch of %s", commit.ShortHash())
	}
	c.patch = patch

	if prev.LastSubmittedCommit != "" && repo.HasObject(ctx, prev.LastSubmittedCommit) {
		prevPatch, err := repo.Patch(ctx, prev.LastSubmittedCommit)
		if err != nil {
			return nil, felerrors.Wrapf(err, "failed to read patch of %s", felerrors.ShortHash(prev.LastSubmittedCommit))
		}
		c.prevPatch = prevPatch
	}
	return c, nil
}

// render builds the comment body: a header, the diffstat between the two
// versions and, when the previous commit is still around, an interdiff of
// the two patches.
func (c *revisionChange) render(ctx context.Context, repo Repository) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Revision %d**: updated from `%s` to `%s`\n",
		c.revision, felerrors.ShortHash(c.prev.LastSubmittedCommit), c.commit.ShortHash())

	if c.prevPatch == "" {
		b.WriteString("\nThe previous revision is not available locally, so no diff is shown.\n")
		return b.String()
	}

	if stat, err := repo.DiffStat(ctx, c.prev.LastSubmittedCommit, c.commit.Hash); err == nil && strings.TrimSpace(stat) != "" {
		b.WriteString("\n```\n")
		b.WriteString(strings.TrimRight(stat, "\n"))
		b.WriteString("\n```\n")
	}

	if !c.ownChange() {
		return b.String()
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(c.prevPatch),
		B:        difflib.SplitLines(c.patch),
		FromFile: "revision " + fmt.Sprint(c.revision-1),
		ToFile:   "revision " + fmt.Sprint(c.revision),
		Context:  3,
	})
	if err != nil || diff == "" {
		return b.String()
	}
	truncated := false
	if len(diff) > maxInterdiffBytes {
		diff = diff[:maxInterdiffBytes]
		if i := strings.LastIndexByte(diff, '\n'); i > 0 {
			diff = diff[:i+1]
		}
		truncated = true
	}

	b.WriteString("\n<details>\n<summary>Interdiff</summary>\n\n```diff\n")
	b.WriteString(diff)
	if !strings.HasSuffix(diff, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n")
	if truncated {
		b.WriteString("\n_Interdiff truncated._\n")
	}
	b.WriteString("</details>\n")
	return b.String()
}
