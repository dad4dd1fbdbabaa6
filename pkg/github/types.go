// Package github is the hosting-service boundary: pull request creation,
// retargeting, comments, mergeability checks and merges.
//
// Two implementations satisfy Client. APIClient talks to the REST API with
// go-github and a client-side rate limit. CLIClient shells out to the gh CLI
// and reuses its stored credentials.
package github

import (
	"strings"
	"time"
)

// AuthMethod represents the authentication method for GitHub.
type AuthMethod string

const (
	// AuthToken uses a personal access token for authentication.
	AuthToken AuthMethod = "token"
	// AuthOAuth uses the OAuth device flow with a cached token.
	AuthOAuth AuthMethod = "oauth"
	// AuthGHCLI uses the gh CLI's stored credentials.
	AuthGHCLI AuthMethod = "gh_cli"
)

// PR states as reported by PRInfo.State.
const (
	PRStateOpen   = "open"
	PRStateClosed = "closed"
	PRStateMerged = "merged"
)

// PRInfo represents pull request information.
type PRInfo struct {
	Number     int       `json:"number"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	State      string    `json:"state"` // "open", "closed", "merged"
	Draft      bool      `json:"draft"`
	URL        string    `json:"url"`
	HeadBranch string    `json:"head_branch"`
	BaseBranch string    `json:"base_branch"`
	HeadSHA    string    `json:"head_sha"`
	Author     string    `json:"author"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsOpen reports whether the pull request can still be updated or merged.
func (pr *PRInfo) IsOpen() bool {
	return pr.State == PRStateOpen
}

// IsMerged reports whether the pull request has been merged.
func (pr *PRInfo) IsMerged() bool {
	return pr.State == PRStateMerged
}

// normalizeState maps the various spellings services use onto PRState*.
func normalizeState(state string, merged bool) string {
	if merged {
		return PRStateMerged
	}
	switch strings.ToLower(state) {
	case "merged":
		return PRStateMerged
	case "closed":
		return PRStateClosed
	default:
		return PRStateOpen
	}
}

// CreatePROptions holds options for creating a pull request.
type CreatePROptions struct {
	Title      string   // PR title (required)
	Body       string   // PR body/description
	HeadBranch string   // Source branch (required)
	BaseBranch string   // Target branch (required)
	Draft      bool     // Create as draft PR
	Reviewers  []string // Requested reviewers
}

// UpdatePROptions holds the fields to change on a pull request. Nil fields
// are left untouched.
type UpdatePROptions struct {
	Title      *string
	Body       *string
	BaseBranch *string
}

// IsEmpty reports whether the update changes nothing.
func (o UpdatePROptions) IsEmpty() bool {
	return o.Title == nil && o.Body == nil && o.BaseBranch == nil
}

// MergeOptions holds options for merging a pull request.
type MergeOptions struct {
	Method string // "squash" or "rebase"
	// SHA is the head commit the merge must apply to. The service refuses
	// the merge if the head has moved.
	SHA         string
	CommitTitle string
	CommitBody  string
}

// Mergeability is the service's verdict on whether a pull request can be
// merged right now.
type Mergeability struct {
	Mergeable bool
	// Pending is set when every blocking reason is something still in
	// progress (the verdict itself or running checks); callers may poll.
	Pending bool
	Reasons []string
}

// Reason joins the blocking reasons into one line.
func (m *Mergeability) Reason() string {
	return strings.Join(m.Reasons, "; ")
}
