// Package workflow drives a stack graph against the remote.
//
// Submit walks every node of a graph in topological order:
//  1. Assign - give new commits an identity and an entry branch
//  2. Push - move the entry branch to the node's commit
//  3. Create or update - open the pull request, or retarget it and comment
//     when its content changed
//  4. Footer - rewrite the stack listing at the bottom of every PR body
//
// Land walks one stack from its root to its tip:
//  1. Preflight - the entry has an open pull request that can be merged
//  2. Rebase - replay the commit onto the current upstream tip and push it
//  3. Merge - advance upstream without a merge commit
//  4. Cleanup - retarget children, forget the entry, delete its branches
//
// Both are safe to re-run after an interruption: the identity store records
// what already succeeded.
package workflow

import (
	"context"

	"thoreinstein.com/fel/pkg/config"
	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/git"
	"thoreinstein.com/fel/pkg/identity"
)

// Step names the operation an entry was in when it stopped.
type Step string

const (
	// StepAssign creates the entry's identity.
	StepAssign Step = "assign"
	// StepPush moves the entry branch on the remote.
	StepPush Step = "push"
	// StepCreatePR opens the pull request.
	StepCreatePR Step = "create-pr"
	// StepRetarget changes the pull request's base branch.
	StepRetarget Step = "retarget"
	// StepComment posts the diff summary of new content.
	StepComment Step = "comment"
	// StepRecord writes the submitted state back to the identity store.
	StepRecord Step = "record"
	// StepFooter rewrites the stack footer.
	StepFooter Step = "footer"
	// StepPreflight checks an entry can be landed.
	StepPreflight Step = "preflight"
	// StepRebase replays the entry onto upstream.
	StepRebase Step = "rebase"
	// StepMerge merges the pull request.
	StepMerge Step = "merge"
	// StepCleanup forgets the entry and removes its branches.
	StepCleanup Step = "cleanup"
)

// String returns the string representation of the step.
func (s Step) String() string {
	return string(s)
}

// Repository is the git access submit and land need.
type Repository interface {
	ResolveRef(ctx context.Context, ref string) (string, error)
	ReadCommit(ctx context.Context, hash string) (*git.Commit, error)
	IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error)
	HasObject(ctx context.Context, hash string) bool
	Push(ctx context.Context, specs ...git.PushSpec) (*git.PushResult, error)
	DeleteRemoteBranch(ctx context.Context, branch string) (*git.PushResult, error)
	FetchBranch(ctx context.Context, branch string) (string, error)
	Rebase(ctx context.Context, commit, onto string) (string, error)
	DiffStat(ctx context.Context, from, to string) (string, error)
	Patch(ctx context.Context, commit string) (string, error)
	DeleteLocalBranch(ctx context.Context, branch string) error
	DeleteRemoteTrackingRef(ctx context.Context, branch string) error
	ResetBranch(ctx context.Context, branch, commit string) error
}

// IdentityStore is the subset of the identity store that mutates entries.
type IdentityStore interface {
	Lookup(ctx context.Context, commit string) (*identity.Identity, error)
	Assign(ctx context.Context, commit string, id identity.Identity) (*identity.Identity, error)
	Update(ctx context.Context, commit string, mutate func(*identity.Identity) error) (*identity.Identity, error)
	Move(ctx context.Context, from, to string) (*identity.Identity, error)
	Forget(ctx context.Context, entryID string) error
	BranchOwner(ctx context.Context, branch string) (string, error)
}

var (
	_ Repository    = (*git.Repository)(nil)
	_ IdentityStore = (*identity.Store)(nil)
)

// DefaultBranchPrefix is prepended to every entry branch.
const DefaultBranchPrefix = "fel"

// SubmitOptions configures Submit.
type SubmitOptions struct {
	// BranchPrefix starts every entry branch name.
	BranchPrefix string
	// BranchNaming is "index" (position in the stack) or "hash" (short commit hash).
	BranchNaming string
	// Draft opens new pull requests as drafts.
	Draft bool
	// Reviewers are requested on new pull requests.
	Reviewers []string
	// StackFooter rewrites each PR body with a listing of its stack.
	StackFooter bool
	// DiffComments posts a summary comment when an entry's content changes.
	DiffComments bool
	// Retry bounds retries of each remote operation.
	Retry felerrors.RetryConfig
}

// LandOptions configures Land.
type LandOptions struct {
	// MergeMethod is "rebase", "squash" or "fast-forward".
	MergeMethod string
	// UpdateLocal resets the stack branch to the new upstream tip once
	// every entry has landed. A land that stops partway always moves the
	// remaining entries onto the new tip.
	UpdateLocal bool
	// Retry bounds retries of each remote operation, including waiting for
	// mergeability that is still being computed.
	Retry felerrors.RetryConfig
}

// SubmitOptionsFromConfig builds submit options from configuration.
func SubmitOptionsFromConfig(cfg *config.Config) SubmitOptions {
	return SubmitOptions{
		BranchPrefix: cfg.Submit.BranchPrefix,
		BranchNaming: cfg.Submit.BranchNaming,
		Draft:        cfg.Submit.Draft,
		Reviewers:    cfg.Submit.Reviewers,
		StackFooter:  cfg.Submit.StackFooter,
		DiffComments: cfg.Submit.DiffComments,
		Retry:        cfg.RetryPolicy(),
	}
}

// LandOptionsFromConfig builds land options from configuration.
func LandOptionsFromConfig(cfg *config.Config) LandOptions {
	return LandOptions{
		MergeMethod: cfg.Land.MergeMethod,
		UpdateLocal: cfg.Land.UpdateLocal,
		Retry:       cfg.RetryPolicy(),
	}
}
