package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/git"
)

// CLIClient implements the Client interface using the gh CLI.
// Most users already have gh installed and authenticated, so this is the
// default when no token is configured.
type CLIClient struct {
	owner   string
	repo    string
	verbose bool
	token   string // Optional token passed as GITHUB_TOKEN
	runner  git.CommandRunner
	logger  *slog.Logger
}

// CLIClientOption is a functional option for configuring CLIClient.
type CLIClientOption func(*CLIClient)

// WithToken sets a token to be used via GITHUB_TOKEN environment variable.
func WithToken(token string) CLIClientOption {
	return func(c *CLIClient) {
		c.token = token
	}
}

// WithLogger sets a custom logger for the client.
func WithLogger(logger *slog.Logger) CLIClientOption {
	return func(c *CLIClient) {
		c.logger = logger
	}
}

// WithCommandRunner replaces the process runner. Used by tests.
func WithCommandRunner(runner git.CommandRunner) CLIClientOption {
	return func(c *CLIClient) {
		c.runner = runner
	}
}

// NewCLIClient creates a gh CLI-based client for owner/repo.
func NewCLIClient(owner, repo string, verbose bool, opts ...CLIClientOption) (*CLIClient, error) {
	c := &CLIClient{
		owner:   owner,
		repo:    repo,
		verbose: verbose,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.runner == nil {
		if _, err := exec.LookPath("gh"); err != nil {
			return nil, felerrors.NewGitHubErrorWithCause("NewCLIClient", "gh CLI not found in PATH", err)
		}
		c.runner = &git.RealCommandRunner{Verbose: verbose, Logger: c.logger}
	}

	return c, nil
}

// IsAuthenticated checks if gh CLI is authenticated with GitHub.
func (c *CLIClient) IsAuthenticated() bool {
	_, err := c.runGH(context.Background(), "", "auth", "status")
	return err == nil
}

// CreatePR creates a new pull request using gh pr create.
func (c *CLIClient) CreatePR(ctx context.Context, opts CreatePROptions) (*PRInfo, error) {
	if opts.Title == "" {
		return nil, felerrors.NewGitHubError("CreatePR", "title is required")
	}
	if opts.HeadBranch == "" || opts.BaseBranch == "" {
		return nil, felerrors.NewGitHubError("CreatePR", "head and base branches are required")
	}

	args := []string{"pr", "create", "--repo", c.fullName(),
		"--title", opts.Title,
		"--body-file", "-",
		"--head", opts.HeadBranch,
		"--base", opts.BaseBranch,
	}
	if opts.Draft {
		args = append(args, "--draft")
	}
	for _, reviewer := range opts.Reviewers {
		args = append(args, "--reviewer", reviewer)
	}

	c.logDebug("creating PR", "head", opts.HeadBranch, "base", opts.BaseBranch)

	output, err := c.runGH(ctx, opts.Body, args...)
	if err != nil {
		return nil, felerrors.NewGitHubErrorWithCause("CreatePR", "failed to create PR", err)
	}

	// gh pr create prints the new pull request's URL
	prURL := lastLine(output)
	number, err := extractPRNumber(prURL)
	if err != nil {
		return nil, err
	}
	return c.GetPR(ctx, number)
}

// GetPR retrieves pull request information by number.
func (c *CLIClient) GetPR(ctx context.Context, number int) (*PRInfo, error) {
	c.logDebug("getting PR", "number", number)

	var resp ghPRResponse
	if err := c.viewPR(ctx, number, prJSONFields, &resp); err != nil {
		return nil, felerrors.NewGitHubErrorWithCause("GetPR", fmt.Sprintf("failed to get PR #%d", number), err)
	}
	return resp.toPRInfo(), nil
}

// UpdatePR changes the title, body or base branch of a pull request.
func (c *CLIClient) UpdatePR(ctx context.Context, number int, opts UpdatePROptions) (*PRInfo, error) {
	if opts.IsEmpty() {
		return c.GetPR(ctx, number)
	}

	args := []string{"pr", "edit", strconv.Itoa(number), "--repo", c.fullName()}
	if opts.Title != nil {
		args = append(args, "--title", *opts.Title)
	}
	if opts.BaseBranch != nil {
		args = append(args, "--base", *opts.BaseBranch)
	}
	stdin := ""
	if opts.Body != nil {
		args = append(args, "--body-file", "-")
		stdin = *opts.Body
	}

	c.logDebug("updating PR", "number", number, "retarget", opts.BaseBranch != nil)

	if _, err := c.runGH(ctx, stdin, args...); err != nil {
		return nil, felerrors.NewGitHubErrorWithCause("UpdatePR", fmt.Sprintf("failed to update PR #%d", number), err)
	}
	return c.GetPR(ctx, number)
}

// CreateComment posts a comment on a pull request's conversation.
func (c *CLIClient) CreateComment(ctx context.Context, number int, body string) error {
	args := []string{"pr", "comment", strconv.Itoa(number), "--repo", c.fullName(), "--body-file", "-"}
	if _, err := c.runGH(ctx, body, args...); err != nil {
		return felerrors.NewGitHubErrorWithCause("CreateComment", fmt.Sprintf("failed to comment on PR #%d", number), err)
	}
	return nil
}

// GetMergeability decides whether a pull request can be merged from what
// gh pr view reports.
func (c *CLIClient) GetMergeability(ctx context.Context, number int) (*Mergeability, error) {
	var resp ghMergeResponse
	if err := c.viewPR(ctx, number, mergeJSONFields, &resp); err != nil {
		return nil, felerrors.NewGitHubErrorWithCause("GetMergeability", fmt.Sprintf("failed to inspect PR #%d", number), err)
	}
	return evaluateMergeability(resp.inputs()), nil
}

// MergePR merges a pull request, refusing if its head is no longer opts.SHA.
func (c *CLIClient) MergePR(ctx context.Context, number int, opts MergeOptions) error {
	args := []string{"pr", "merge", strconv.Itoa(number), "--repo", c.fullName()}

	switch opts.Method {
	case "squash":
		args = append(args, "--squash")
	case "rebase":
		args = append(args, "--rebase")
	default:
		return felerrors.NewGitHubError("MergePR", "unsupported merge method "+opts.Method)
	}
	if opts.SHA != "" {
		args = append(args, "--match-head-commit", opts.SHA)
	}
	if opts.CommitTitle != "" {
		args = append(args, "--subject", opts.CommitTitle)
	}
	if opts.CommitBody != "" {
		args = append(args, "--body", opts.CommitBody)
	}
	// Branch deletion is handled separately so gh never touches the local
	// checkout.

	c.logDebug("merging PR", "number", number, "method", opts.Method)

	if _, err := c.runGH(ctx, "", args...); err != nil {
		return felerrors.NewGitHubErrorWithCause("MergePR", fmt.Sprintf("failed to merge PR #%d", number), err)
	}
	return nil
}

// DeleteBranch deletes a branch from the remote repository.
func (c *CLIClient) DeleteBranch(ctx context.Context, branch string) error {
	if branch == "" {
		return felerrors.NewGitHubError("DeleteBranch", "branch name is required")
	}

	endpoint := fmt.Sprintf("repos/%s/git/refs/heads/%s", c.fullName(), branch)
	c.logDebug("deleting branch", "branch", branch, "endpoint", endpoint)

	if _, err := c.runGH(ctx, "", "api", endpoint, "-X", "DELETE"); err != nil {
		return felerrors.NewGitHubErrorWithCause("DeleteBranch", "failed to delete branch "+branch, err)
	}
	return nil
}

// GetDefaultBranch returns the repository's default branch name.
func (c *CLIClient) GetDefaultBranch(ctx context.Context) (string, error) {
	output, err := c.runGH(ctx, "", "repo", "view", c.fullName(), "--json", "defaultBranchRef")
	if err != nil {
		return "", felerrors.NewGitHubErrorWithCause("GetDefaultBranch", "failed to get default branch", err)
	}

	var resp ghRepoResponse
	if err := json.Unmarshal([]byte(output), &resp); err != nil {
		return "", felerrors.NewGitHubErrorWithCause("GetDefaultBranch", "failed to parse repo response", err)
	}
	return resp.DefaultBranchRef.Name, nil
}

// GetCurrentRepo returns the owner and repo name the client was created for.
func (c *CLIClient) GetCurrentRepo(context.Context) (owner, repo string, err error) {
	return c.owner, c.repo, nil
}

func (c *CLIClient) fullName() string {
	return c.owner + "/" + c.repo
}

func (c *CLIClient) viewPR(ctx context.Context, number int, fields []string, out any) error {
	output, err := c.runGH(ctx, "", "pr", "view", strconv.Itoa(number), "--repo", c.fullName(),
		"--json", strings.Join(fields, ","))
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(output), out); err != nil {
		return felerrors.Wrap(err, "failed to parse gh output")
	}
	return nil
}

// runGH executes a gh command with optional stdin and returns its stdout.
func (c *CLIClient) runGH(ctx context.Context, stdin string, args ...string) (string, error) {
	input := git.Input{Stdin: stdin}
	if c.token != "" {
		input.Env = []string{"GITHUB_TOKEN=" + c.token}
	}

	output, err := c.runner.OutputWithInput(ctx, "", input, "gh", args...)
	if err != nil {
		errMsg := err.Error()
		var exitErr *git.ExitError
		if felerrors.As(err, &exitErr) && strings.TrimSpace(exitErr.Stderr) != "" {
			errMsg = strings.TrimSpace(exitErr.Stderr)
		}
		ghErr := felerrors.NewGitHubError("gh", errMsg)
		ghErr.Retryable = isRetryableGHError(errMsg)
		ghErr.Cause = err
		return "", ghErr
	}
	return string(output), nil
}

// logDebug logs a debug message if verbose mode is enabled.
func (c *CLIClient) logDebug(msg string, args ...any) {
	if c.verbose {
		c.logger.Debug(msg, args...)
	}
}

var prJSONFields = []string{
	"number", "title", "body", "state", "isDraft", "url",
	"headRefName", "baseRefName", "headRefOid", "author",
	"createdAt", "updatedAt",
}

var mergeJSONFields = []string{
	"mergeable", "mergeStateStatus", "reviewDecision", "latestReviews", "statusCheckRollup",
}

// ghPRResponse represents the JSON response from gh pr view.
type ghPRResponse struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	State       string    `json:"state"`
	IsDraft     bool      `json:"isDraft"`
	URL         string    `json:"url"`
	HeadRefName string    `json:"headRefName"`
	BaseRefName string    `json:"baseRefName"`
	HeadRefOid  string    `json:"headRefOid"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Author      struct {
		Login string `json:"login"`
	} `json:"author"`
}

func (r *ghPRResponse) toPRInfo() *PRInfo {
	return &PRInfo{
		Number:     r.Number,
		Title:      r.Title,
		Body:       r.Body,
		State:      normalizeState(r.State, false),
		Draft:      r.IsDraft,
		URL:        r.URL,
		HeadBranch: r.HeadRefName,
		BaseBranch: r.BaseRefName,
		HeadSHA:    r.HeadRefOid,
		Author:     r.Author.Login,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// ghMergeResponse is the subset of gh pr view used for mergeability.
type ghMergeResponse struct {
	Mergeable        string `json:"mergeable"`
	MergeStateStatus string `json:"mergeStateStatus"`
	ReviewDecision   string `json:"reviewDecision"`
	LatestReviews    []struct {
		State  string `json:"state"`
		Author struct {
			Login string `json:"login"`
		} `json:"author"`
	} `json:"latestReviews"`
	StatusCheckRollup []struct {
		Typename   string `json:"__typename"`
		Name       string `json:"name"`
		Context    string `json:"context"`
		Status     string `json:"status"`
		State      string `json:"state"`
		Conclusion string `json:"conclusion"`
	} `json:"statusCheckRollup"`
}

func (r *ghMergeResponse) inputs() mergeInputs {
	in := mergeInputs{
		state:          strings.ToLower(r.MergeStateStatus),
		reviewRequired: r.ReviewDecision == "REVIEW_REQUIRED",
		checks:         make(map[string]checkState),
	}
	switch r.Mergeable {
	case "MERGEABLE":
		in.mergeable = boolPtr(true)
	case "CONFLICTING":
		in.mergeable = boolPtr(false)
	}

	var history []reviewEvent
	for _, rv := range r.LatestReviews {
		history = append(history, reviewEvent{login: rv.Author.Login, state: rv.State})
	}
	in.reviews = latestReviews(history)

	for _, check := range r.StatusCheckRollup {
		if check.Typename == "StatusContext" {
			in.checks[check.Context] = checkStateFor(check.State, "")
			continue
		}
		in.checks[check.Name] = checkStateFor(check.Status, check.Conclusion)
	}
	return in
}

func boolPtr(b bool) *bool {
	return &b
}

// ghRepoResponse represents the JSON response from gh repo view.
type ghRepoResponse struct {
	DefaultBranchRef struct {
		Name string `json:"name"`
	} `json:"defaultBranchRef"`
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// extractPRNumber extracts the PR number from a GitHub PR URL.
func extractPRNumber(url string) (int, error) {
	// URL format: https://github.com/owner/repo/pull/123
	_, numberStr, found := strings.Cut(url, "/pull/")
	if !found {
		return 0, felerrors.NewGitHubError("extractPRNumber", "invalid PR URL format: "+url)
	}
	number, err := strconv.Atoi(numberStr)
	if err != nil {
		return 0, felerrors.NewGitHubErrorWithCause("extractPRNumber", "failed to parse PR number", err)
	}
	return number, nil
}

// isRetryableGHError checks if a gh CLI error message indicates a retryable error.
func isRetryableGHError(errMsg string) bool {
	retryablePatterns := []string{
		"rate limit",
		"timeout",
		"connection refused",
		"connection reset",
		"network",
		"502",
		"503",
		"504",
	}

	lowerErr := strings.ToLower(errMsg)
	for _, pattern := range retryablePatterns {
		if strings.Contains(lowerErr, pattern) {
			return true
		}
	}
	return false
}
