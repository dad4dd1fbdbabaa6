// Package githubtest provides an in-memory pull request host for tests of
// code that drives a github.Client.
package githubtest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/git/gittest"
	"thoreinstein.com/fel/pkg/github"
)

// Host implements github.Client on top of a gittest repository, so merges
// advance the remote base branch. Exported maps may be edited between calls
// to stage state; they are not guarded against concurrent test edits.
type Host struct {
	mu   sync.Mutex
	repo *gittest.Repo
	next int

	PRs      map[int]*github.PRInfo
	Comments map[int][]string
	// Mergeability overrides the default verdict (mergeable) per PR.
	Mergeability map[int]*github.Mergeability
	// PendingPolls answers Pending this many times before the real verdict.
	PendingPolls map[int]int
	Merges       map[int]github.MergeOptions
	MergeErr     map[int]error
	// CreateErr fails CreatePR for the named head branch.
	CreateErr map[string]error
	// CreateFailures answers CreatePR for the named head branch with a 502
	// this many times before creating the pull request.
	CreateFailures map[string]int

	calls []string
}

var _ github.Client = (*Host)(nil)

// New returns an empty host backed by repo.
func New(repo *gittest.Repo) *Host {
	return &Host{
		repo:           repo,
		next:           1,
		PRs:            make(map[int]*github.PRInfo),
		Comments:       make(map[int][]string),
		Mergeability:   make(map[int]*github.Mergeability),
		PendingPolls:   make(map[int]int),
		Merges:         make(map[int]github.MergeOptions),
		MergeErr:       make(map[int]error),
		CreateErr:      make(map[string]error),
		CreateFailures: make(map[string]int),
	}
}

func (h *Host) IsAuthenticated() bool { return true }

func (h *Host) CreatePR(_ context.Context, opts github.CreatePROptions) (*github.PRInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.CreateErr[opts.HeadBranch]; err != nil {
		return nil, err
	}
	if h.CreateFailures[opts.HeadBranch] > 0 {
		h.CreateFailures[opts.HeadBranch]--
		h.calls = append(h.calls, "create "+opts.HeadBranch+" (502)")
		return nil, felerrors.NewGitHubErrorWithStatus("CreatePR", 502, "Bad Gateway")
	}
	pr := &github.PRInfo{
		Number:     h.next,
		Title:      opts.Title,
		Body:       opts.Body,
		State:      github.PRStateOpen,
		Draft:      opts.Draft,
		URL:        fmt.Sprintf("https://github.com/octo/widgets/pull/%d", h.next),
		HeadBranch: opts.HeadBranch,
		BaseBranch: opts.BaseBranch,
	}
	h.PRs[pr.Number] = pr
	h.next++
	h.calls = append(h.calls, "create "+opts.HeadBranch)
	c := *pr
	return &c, nil
}

func (h *Host) GetPR(_ context.Context, number int) (*github.PRInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pr, ok := h.PRs[number]
	if !ok {
		return nil, felerrors.NewGitHubErrorWithStatus("GetPR", 404, "Not Found")
	}
	c := *pr
	if sha, ok := h.repo.RemoteBranch(pr.HeadBranch); ok {
		c.HeadSHA = sha
	}
	return &c, nil
}

func (h *Host) UpdatePR(_ context.Context, number int, opts github.UpdatePROptions) (*github.PRInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pr, ok := h.PRs[number]
	if !ok {
		return nil, felerrors.NewGitHubErrorWithStatus("UpdatePR", 404, "Not Found")
	}
	if opts.BaseBranch != nil {
		pr.BaseBranch = *opts.BaseBranch
		h.calls = append(h.calls, fmt.Sprintf("retarget #%d %s", number, *opts.BaseBranch))
	}
	if opts.Body != nil {
		pr.Body = *opts.Body
		h.calls = append(h.calls, fmt.Sprintf("body #%d", number))
	}
	if opts.Title != nil {
		pr.Title = *opts.Title
	}
	c := *pr
	return &c, nil
}

func (h *Host) CreateComment(_ context.Context, number int, body string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Comments[number] = append(h.Comments[number], body)
	h.calls = append(h.calls, fmt.Sprintf("comment #%d", number))
	return nil
}

func (h *Host) GetMergeability(_ context.Context, number int) (*github.Mergeability, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.PendingPolls[number] > 0 {
		h.PendingPolls[number]--
		return &github.Mergeability{Pending: true, Reasons: []string{"mergeability is still being computed"}}, nil
	}
	if v, ok := h.Mergeability[number]; ok {
		return v, nil
	}
	return &github.Mergeability{Mergeable: true}, nil
}

// MergePR replays the PR head onto its base the way a rebase or squash
// merge would. The head must match opts.SHA.
func (h *Host) MergePR(_ context.Context, number int, opts github.MergeOptions) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.MergeErr[number]; err != nil {
		return err
	}
	pr, ok := h.PRs[number]
	if !ok || pr.State != github.PRStateOpen {
		return felerrors.NewGitHubErrorWithStatus("MergePR", 405, "Pull Request is not mergeable")
	}
	head, _ := h.repo.RemoteBranch(pr.HeadBranch)
	if opts.SHA != "" && opts.SHA != head {
		return felerrors.NewGitHubErrorWithStatus("MergePR", 409, "Head branch was modified")
	}
	h.repo.ApplyRemote(pr.BaseBranch, head)
	pr.State = github.PRStateMerged
	h.Merges[number] = opts
	h.calls = append(h.calls, fmt.Sprintf("merge #%d %s", number, opts.Method))
	return nil
}

func (h *Host) DeleteBranch(_ context.Context, branch string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "delete "+branch)
	return nil
}

func (h *Host) GetDefaultBranch(context.Context) (string, error) {
	return "master", nil
}

func (h *Host) GetCurrentRepo(context.Context) (string, string, error) {
	return "octo", "widgets", nil
}

// PR returns a copy of pull request number. It panics if there is none.
func (h *Host) PR(number int) github.PRInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return *h.PRs[number]
}

// CommentCount is the number of comments on all pull requests.
func (h *Host) CommentCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.Comments {
		n += len(c)
	}
	return n
}

// ResetCalls clears the call log.
func (h *Host) ResetCalls() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = nil
}

// Calls returns every mutating call so far as "<op> <target>".
func (h *Host) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.calls)
}
