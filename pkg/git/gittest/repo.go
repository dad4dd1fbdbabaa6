// Package gittest provides an in-memory repository with a single remote for
// tests of code that drives git.
//
// Commits carry a free-form "change" string standing in for their patch. A
// commit's tree is derived from its parent's tree and its change, so
// replaying a change onto the same parent reproduces the same tree while
// every commit still gets a unique hash.
package gittest

import (
	"context"
	"crypto/sha1" //nolint:gosec // content addressing, not security
	"encoding/hex"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/git"
)

// Repo is an in-memory repository. It is safe for concurrent use.
type Repo struct {
	mu sync.Mutex

	remoteName string
	seq        int
	commits    map[string]*git.Commit
	changes    map[string]string
	local      map[string]string
	remote     map[string]string
	tracking   map[string]string
	notes      map[string]map[string]string
	config     map[string][]string
	head       string

	// Conflicts lists commits whose rebase onto anything but their current
	// parent fails.
	Conflicts map[string]bool
	// PushErrors fails any push touching the named remote branch.
	PushErrors map[string]error
	// PushFailures fails this many pushes touching the named remote branch
	// with a dropped connection before letting them through.
	PushFailures map[string]int
	// Pushed records every pushed spec in order.
	Pushed []git.PushSpec
}

// New returns a repository whose upstream branch holds a single root commit,
// both locally and on the remote.
func New(upstream string) *Repo {
	r := &Repo{
		remoteName:   "origin",
		commits:      make(map[string]*git.Commit),
		changes:      make(map[string]string),
		local:        make(map[string]string),
		remote:       make(map[string]string),
		tracking:     make(map[string]string),
		notes:        make(map[string]map[string]string),
		config:       make(map[string][]string),
		Conflicts:    make(map[string]bool),
		PushErrors:   make(map[string]error),
		PushFailures: make(map[string]int),
	}
	root := r.newCommit("", "initial", "root")
	r.local[upstream] = root
	r.remote[upstream] = root
	r.tracking[upstream] = root
	return r
}

func (r *Repo) newCommit(parent, message, change string) string {
	r.seq++
	parentTree := ""
	var parents []string
	if parent != "" {
		parentTree = r.commits[parent].Tree
		parents = []string{parent}
	}
	tree := digest("tree", parentTree, change)
	hash := digest("commit", tree, parent, message, fmt.Sprint(r.seq))
	r.commits[hash] = &git.Commit{
		Hash:      hash,
		Tree:      tree,
		Parents:   parents,
		Author:    git.Signature{Name: "Test Author", Email: "author@example.com", When: "1700000000 +0000"},
		Committer: git.Signature{Name: "Test Author", Email: "author@example.com", When: fmt.Sprintf("%d +0000", 1700000000+r.seq)},
		Message:   message + "\n",
	}
	r.changes[hash] = change
	return hash
}

func digest(parts ...string) string {
	h := sha1.New() //nolint:gosec
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Commit creates a commit on top of parent without moving any branch.
func (r *Repo) Commit(parent, message, change string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newCommit(parent, message, change)
}

// Merge creates a merge commit of first and second.
func (r *Repo) Merge(first, second, message string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	hash := r.newCommit(first, message, "merge "+second)
	r.commits[hash].Parents = append(r.commits[hash].Parents, second)
	return hash
}

// Stack creates one commit per subject on top of base, points branch at the
// last one and returns the new hashes root first. Each commit's change is
// its subject.
func (r *Repo) Stack(branch, base string, subjects ...string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tip, ok := r.local[base]; ok {
		base = tip
	}
	hashes := make([]string, 0, len(subjects))
	parent := base
	for _, s := range subjects {
		parent = r.newCommit(parent, s, s)
		hashes = append(hashes, parent)
	}
	r.local[branch] = parent
	return hashes
}

// SetBranch points a local branch at commit.
func (r *Repo) SetBranch(branch, commit string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local[branch] = commit
}

// Branch returns the commit a local branch points at.
func (r *Repo) Branch(branch string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.local[branch]
}

// Checkout makes branch the current branch. An empty name detaches HEAD.
func (r *Repo) Checkout(branch string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = branch
}

// Amend rewrites commit on branch with a new change and replays its
// descendants on top, the way `git commit --amend` followed by a rebase
// would. Notes are carried to the new commits for every ref listed in
// notes.rewriteRef. It returns the old to new hash mapping.
func (r *Repo) Amend(branch, commit, change string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var chain []string
	for c := r.local[branch]; c != commit; c = r.commits[c].Parent() {
		if c == "" {
			panic("gittest: " + commit + " is not on " + branch)
		}
		chain = append(chain, c)
	}
	slices.Reverse(chain)

	old := r.commits[commit]
	rewritten := map[string]string{}
	next := r.newCommit(old.Parent(), strings.TrimSuffix(old.Message, "\n"), change)
	r.copyNotes(commit, next)
	rewritten[commit] = next

	for _, c := range chain {
		orig := r.commits[c]
		next = r.newCommit(next, strings.TrimSuffix(orig.Message, "\n"), r.changes[c])
		r.copyNotes(c, next)
		rewritten[c] = next
	}
	r.local[branch] = next
	return rewritten
}

// Pick replays commits in the given order on top of onto and points branch
// at the last one, the way reordering lines of an interactive rebase would.
// Notes are carried as for Amend. It returns the new hashes in order.
func (r *Repo) Pick(branch, onto string, commits ...string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tip, ok := r.local[onto]; ok {
		onto = tip
	}
	out := make([]string, 0, len(commits))
	next := onto
	for _, c := range commits {
		orig := r.commits[c]
		next = r.newCommit(next, strings.TrimSuffix(orig.Message, "\n"), r.changes[c])
		r.copyNotes(c, next)
		out = append(out, next)
	}
	r.local[branch] = next
	return out
}

func (r *Repo) copyNotes(from, to string) {
	for ref, byCommit := range r.notes {
		if !r.rewritesRef(ref) {
			continue
		}
		if n, ok := byCommit[from]; ok {
			byCommit[to] = n
		}
	}
}

func (r *Repo) rewritesRef(ref string) bool {
	for _, pattern := range r.config["notes.rewriteRef"] {
		if matched, _ := path.Match(pattern, ref); matched || pattern == ref {
			return true
		}
	}
	return false
}

// RemoteBranch returns the commit a branch points at on the remote.
func (r *Repo) RemoteBranch(branch string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.remote[branch]
	return c, ok
}

// SetRemoteBranch points a remote branch at commit, as another client's push would.
func (r *Repo) SetRemoteBranch(branch, commit string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remote[branch] = commit
}

// ApplyRemote replays the change of commit on top of a remote branch and
// advances it, the way a hosting service merges a pull request by rebase or
// squash. It returns the new commit.
func (r *Repo) ApplyRemote(branch, commit string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.commits[commit]
	next := r.newCommit(r.remote[branch], strings.TrimSuffix(c.Message, "\n"), r.changes[commit])
	r.remote[branch] = next
	return next
}

// Change returns the change string a commit introduces.
func (r *Repo) Change(commit string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changes[commit]
}

// Note returns the note attached to commit under ref.
func (r *Repo) Note(ref, commit string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notes[ref][commit]
	return n, ok
}

// PushedBranches returns the remote branch of every recorded push, in order.
func (r *Repo) PushedBranches() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Pushed))
	for _, p := range r.Pushed {
		out = append(out, p.Branch)
	}
	return out
}

func (r *Repo) resolve(ref string) (string, bool) {
	switch {
	case strings.HasPrefix(ref, "refs/heads/"):
		c, ok := r.local[strings.TrimPrefix(ref, "refs/heads/")]
		return c, ok
	case strings.HasPrefix(ref, "refs/remotes/"+r.remoteName+"/"):
		c, ok := r.tracking[strings.TrimPrefix(ref, "refs/remotes/"+r.remoteName+"/")]
		return c, ok
	case strings.HasPrefix(ref, r.remoteName+"/"):
		c, ok := r.tracking[strings.TrimPrefix(ref, r.remoteName+"/")]
		return c, ok
	case ref == "HEAD":
		c, ok := r.local[r.head]
		return c, ok
	}
	if c, ok := r.local[ref]; ok {
		return c, true
	}
	if _, ok := r.commits[ref]; ok {
		return ref, true
	}
	return "", false
}

// ResolveRef implements the repository read used by the stack walker.
func (r *Repo) ResolveRef(_ context.Context, ref string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.resolve(ref)
	if !ok {
		return "", felerrors.Wrapf(git.ErrRefNotFound, "%s", ref)
	}
	return c, nil
}

// CurrentBranch returns the checked-out branch.
func (r *Repo) CurrentBranch(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.head == "" {
		return "", git.ErrDetachedHEAD
	}
	return r.head, nil
}

func (r *Repo) ancestors(commit string) map[string]bool {
	seen := map[string]bool{}
	queue := []string{commit}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		if cm, ok := r.commits[c]; ok {
			queue = append(queue, cm.Parents...)
		}
	}
	return seen
}

// MergeBase returns the first commit on a's first-parent chain that is
// reachable from b.
func (r *Repo) MergeBase(_ context.Context, a, b string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reach := r.ancestors(b)
	for c := a; c != ""; c = r.commits[c].Parent() {
		if reach[c] {
			return c, nil
		}
	}
	return "", git.ErrNoMergeBase
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (r *Repo) IsAncestor(_ context.Context, ancestor, descendant string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ancestors(descendant)[ancestor], nil
}

// HasObject reports whether the commit exists.
func (r *Repo) HasObject(_ context.Context, hash string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.commits[hash]
	return ok
}

// ReadCommit returns a copy of the commit.
func (r *Repo) ReadCommit(_ context.Context, hash string) (*git.Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.commits[hash]
	if !ok {
		return nil, felerrors.Wrapf(git.ErrRefNotFound, "%s", hash)
	}
	cp := *c
	cp.Parents = slices.Clone(c.Parents)
	return &cp, nil
}

// ReadNote returns the note under ref for commit.
func (r *Repo) ReadNote(_ context.Context, ref, commit string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notes[ref][commit]
	return n, ok, nil
}

// WriteNote replaces the note under ref for commit.
func (r *Repo) WriteNote(_ context.Context, ref, commit, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.notes[ref] == nil {
		r.notes[ref] = map[string]string{}
	}
	r.notes[ref][commit] = content
	return nil
}

// RemoveNote removes the note under ref for commit.
func (r *Repo) RemoveNote(_ context.Context, ref, commit string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.notes[ref], commit)
	return nil
}

// ConfigGetAll returns every value of key.
func (r *Repo) ConfigGetAll(_ context.Context, key string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.config[key]), nil
}

// ConfigAdd appends a value to key.
func (r *Repo) ConfigAdd(_ context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config[key] = append(r.config[key], value)
	return nil
}

// Remote returns the remote name.
func (r *Repo) Remote() string {
	return r.remoteName
}

// RemoteTrackingRef returns the remote-tracking ref for branch.
func (r *Repo) RemoteTrackingRef(branch string) string {
	return "refs/remotes/" + r.remoteName + "/" + branch
}

// Push applies specs to the remote with the semantics of
// `git push --porcelain`: rejections are reported per ref.
func (r *Repo) Push(_ context.Context, specs ...git.PushSpec) (*git.PushResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range specs {
		if err := r.PushErrors[s.Branch]; err != nil {
			return nil, err
		}
		if r.PushFailures[s.Branch] > 0 {
			r.PushFailures[s.Branch]--
			return nil, felerrors.NewGitError("push", []string{"push", r.remoteName, s.Branch},
				"fatal: the remote end hung up unexpectedly", nil)
		}
	}

	result := &git.PushResult{}
	r.Pushed = append(r.Pushed, specs...)

	for _, s := range specs {
		ref := "refs/heads/" + s.Branch
		u := git.RefUpdate{From: s.Commit, To: ref}
		current, exists := r.remote[s.Branch]
		switch {
		case exists && current == s.Commit:
			u.Status, u.Summary = git.PushUpToDate, "[up to date]"
		case s.MustNotExist && exists:
			u.Status, u.Summary, u.Reason = git.PushRejected, "[rejected]", "stale info"
		case exists && !s.Force && !r.ancestors(s.Commit)[current]:
			u.Status, u.Summary, u.Reason = git.PushRejected, "[rejected]", "non-fast-forward"
		default:
			switch {
			case !exists:
				u.Status, u.Summary = git.PushNew, "[new branch]"
			case r.ancestors(s.Commit)[current]:
				u.Status, u.Summary = git.PushFastForward, felerrors.ShortHash(current)+".."+felerrors.ShortHash(s.Commit)
			default:
				u.Status, u.Summary = git.PushForced, felerrors.ShortHash(current)+"..."+felerrors.ShortHash(s.Commit)
			}
			r.remote[s.Branch] = s.Commit
			r.tracking[s.Branch] = s.Commit
		}
		result.Updates = append(result.Updates, u)
	}
	return result, nil
}

// DeleteRemoteBranch deletes branch on the remote.
func (r *Repo) DeleteRemoteBranch(_ context.Context, branch string) (*git.PushResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref := "refs/heads/" + branch
	if _, ok := r.remote[branch]; !ok {
		return &git.PushResult{Updates: []git.RefUpdate{{Status: git.PushRejected, To: ref, Summary: "[rejected]", Reason: "remote ref does not exist"}}}, nil
	}
	delete(r.remote, branch)
	delete(r.tracking, branch)
	return &git.PushResult{Updates: []git.RefUpdate{{Status: git.PushDeleted, To: ref, Summary: "[deleted]"}}}, nil
}

// FetchBranch copies a remote branch into its tracking ref.
func (r *Repo) FetchBranch(_ context.Context, branch string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.remote[branch]
	if !ok {
		return "", felerrors.Wrapf(git.ErrRefNotFound, "%s/%s", r.remoteName, branch)
	}
	r.tracking[branch] = c
	return c, nil
}

// RemoteBranchCommit returns the commit branch points at on the remote.
func (r *Repo) RemoteBranchCommit(_ context.Context, branch string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.remote[branch]
	if !ok {
		return "", felerrors.Wrapf(git.ErrRefNotFound, "%s/%s", r.remoteName, branch)
	}
	return c, nil
}

// Rebase replays commit onto onto. Commits listed in Conflicts fail with
// RebaseConflict.
func (r *Repo) Rebase(_ context.Context, commit, onto string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.commits[commit]
	if !ok {
		return "", felerrors.Wrapf(git.ErrRefNotFound, "%s", commit)
	}
	if c.IsMerge() {
		return "", felerrors.NewStackError(felerrors.KindMergeCommit, "cannot rebase a merge commit").WithCommit(commit)
	}
	if c.Parent() == onto {
		return commit, nil
	}
	if r.Conflicts[commit] {
		return "", felerrors.NewStackError(felerrors.KindRebaseConflict, "does not apply cleanly onto "+felerrors.ShortHash(onto)).
			WithCommit(commit)
	}
	return r.newCommit(onto, strings.TrimSuffix(c.Message, "\n"), r.changes[commit]), nil
}

// DiffStat summarizes the change between two commits.
func (r *Repo) DiffStat(_ context.Context, from, to string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf(" %s => %s\n 1 file changed\n", r.changes[from], r.changes[to]), nil
}

// Patch renders a commit's change as a one-line patch.
func (r *Repo) Patch(_ context.Context, commit string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return "diff --git a/change b/change\n+" + r.changes[commit] + "\n", nil
}

// DeleteLocalBranch removes a local branch.
func (r *Repo) DeleteLocalBranch(_ context.Context, branch string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.local, branch)
	return nil
}

// DeleteRemoteTrackingRef removes a remote-tracking ref.
func (r *Repo) DeleteRemoteTrackingRef(_ context.Context, branch string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tracking, branch)
	return nil
}

// ResetBranch points a local branch at commit.
func (r *Repo) ResetBranch(_ context.Context, branch, commit string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local[branch] = commit
	return nil
}
