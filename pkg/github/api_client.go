package github

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	felerrors "thoreinstein.com/fel/pkg/errors"
)

// APIClient implements Client using GitHub REST API.
type APIClient struct {
	client  *gh.Client
	owner   string
	repo    string
	verbose bool
	logger  *slog.Logger

	baseURL    string
	rps        float64
	httpClient *http.Client
}

// APIClientOption is a functional option for configuring APIClient.
type APIClientOption func(*APIClient)

// WithAPILogger sets a custom logger for the API client.
func WithAPILogger(logger *slog.Logger) APIClientOption {
	return func(c *APIClient) {
		c.logger = logger
	}
}

// WithBaseURL points the client at a GitHub Enterprise API root.
func WithBaseURL(url string) APIClientOption {
	return func(c *APIClient) {
		c.baseURL = url
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables the limit.
func WithRateLimit(perSecond float64) APIClientOption {
	return func(c *APIClient) {
		c.rps = perSecond
	}
}

// WithHTTPClient replaces the authenticated HTTP client. Used by tests.
func WithHTTPClient(hc *http.Client) APIClientOption {
	return func(c *APIClient) {
		c.httpClient = hc
	}
}

// NewAPIClient creates a GitHub API client for owner/repo with the given token.
func NewAPIClient(token, owner, repo string, verbose bool, opts ...APIClientOption) (*APIClient, error) {
	if token == "" {
		return nil, felerrors.NewGitHubError("NewAPIClient", "token is required")
	}
	if owner == "" || repo == "" {
		return nil, felerrors.NewGitHubError("NewAPIClient", "repository owner and name are required")
	}

	c := &APIClient{
		owner:   owner,
		repo:    repo,
		verbose: verbose,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	hc := c.httpClient
	if hc == nil {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(context.Background(), ts)
	}
	hc.Transport = newRateLimitedTransport(hc.Transport, c.rps)

	client := gh.NewClient(hc)
	if c.baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(c.baseURL, c.baseURL)
		if err != nil {
			return nil, felerrors.NewGitHubErrorWithCause("NewAPIClient", "invalid api_url "+c.baseURL, err)
		}
	}
	c.client = client

	return c, nil
}

// IsAuthenticated checks if the client is authenticated with GitHub.
func (c *APIClient) IsAuthenticated() bool {
	_, _, err := c.client.Users.Get(context.Background(), "")
	return err == nil
}

// CreatePR creates a new pull request.
func (c *APIClient) CreatePR(ctx context.Context, opts CreatePROptions) (*PRInfo, error) {
	if opts.Title == "" {
		return nil, felerrors.NewGitHubError("CreatePR", "title is required")
	}
	if opts.HeadBranch == "" || opts.BaseBranch == "" {
		return nil, felerrors.NewGitHubError("CreatePR", "head and base branches are required")
	}

	c.logDebug("creating PR", "head", opts.HeadBranch, "base", opts.BaseBranch)

	pr, resp, err := c.client.PullRequests.Create(ctx, c.owner, c.repo, &gh.NewPullRequest{
		Title: gh.Ptr(opts.Title),
		Head:  gh.Ptr(opts.HeadBranch),
		Base:  gh.Ptr(opts.BaseBranch),
		Body:  gh.Ptr(opts.Body),
		Draft: gh.Ptr(opts.Draft),
	})
	if err != nil {
		return nil, toGitHubError("CreatePR", resp, err)
	}

	if len(opts.Reviewers) > 0 {
		_, _, reviewErr := c.client.PullRequests.RequestReviewers(ctx, c.owner, c.repo, pr.GetNumber(), gh.ReviewersRequest{
			Reviewers: opts.Reviewers,
		})
		if reviewErr != nil {
			// the pull request exists; a reviewer typo should not fail the submit
			c.logger.Warn("failed to request reviewers", "pr", pr.GetNumber(), "error", reviewErr)
		}
	}

	return prInfoFromGitHub(pr), nil
}

// GetPR retrieves pull request information by number.
func (c *APIClient) GetPR(ctx context.Context, number int) (*PRInfo, error) {
	c.logDebug("getting PR", "number", number)

	pr, resp, err := c.client.PullRequests.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		return nil, toGitHubError("GetPR", resp, err)
	}
	return prInfoFromGitHub(pr), nil
}

// UpdatePR changes the title, body or base branch of a pull request.
func (c *APIClient) UpdatePR(ctx context.Context, number int, opts UpdatePROptions) (*PRInfo, error) {
	if opts.IsEmpty() {
		return c.GetPR(ctx, number)
	}

	c.logDebug("updating PR", "number", number, "retarget", opts.BaseBranch != nil)

	edit := &gh.PullRequest{Title: opts.Title, Body: opts.Body}
	if opts.BaseBranch != nil {
		edit.Base = &gh.PullRequestBranch{Ref: opts.BaseBranch}
	}
	pr, resp, err := c.client.PullRequests.Edit(ctx, c.owner, c.repo, number, edit)
	if err != nil {
		return nil, toGitHubError("UpdatePR", resp, err)
	}
	return prInfoFromGitHub(pr), nil
}

// CreateComment posts a comment on a pull request's conversation.
func (c *APIClient) CreateComment(ctx context.Context, number int, body string) error {
	c.logDebug("commenting on PR", "number", number)

	_, resp, err := c.client.Issues.CreateComment(ctx, c.owner, c.repo, number, &gh.IssueComment{Body: gh.Ptr(body)})
	if err != nil {
		return toGitHubError("CreateComment", resp, err)
	}
	return nil
}

// GetMergeability collects conflicts, reviews, branch protection and check
// results for a pull request and decides whether it can be merged.
func (c *APIClient) GetMergeability(ctx context.Context, number int) (*Mergeability, error) {
	pr, resp, err := c.client.PullRequests.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		return nil, toGitHubError("GetMergeability", resp, err)
	}

	in := mergeInputs{
		mergeable: pr.Mergeable,
		state:     strings.ToLower(pr.GetMergeableState()),
		checks:    make(map[string]checkState),
	}

	var history []reviewEvent
	listOpts := &gh.ListOptions{PerPage: 100}
	for {
		reviews, resp, err := c.client.PullRequests.ListReviews(ctx, c.owner, c.repo, number, listOpts)
		if err != nil {
			return nil, toGitHubError("GetMergeability", resp, err)
		}
		for _, r := range reviews {
			history = append(history, reviewEvent{login: r.GetUser().GetLogin(), state: r.GetState()})
		}
		if resp.NextPage == 0 {
			break
		}
		listOpts.Page = resp.NextPage
	}
	in.reviews = latestReviews(history)

	protection, _, err := c.client.Repositories.GetBranchProtection(ctx, c.owner, c.repo, pr.GetBase().GetRef())
	switch {
	case err == nil:
		if rr := protection.RequiredPullRequestReviews; rr != nil {
			in.requiredApprovals = rr.RequiredApprovingReviewCount
		}
		if rc := protection.RequiredStatusChecks; rc != nil {
			if rc.Checks != nil {
				for _, check := range *rc.Checks {
					in.requiredChecks = append(in.requiredChecks, check.Context)
				}
			} else if rc.Contexts != nil {
				in.requiredChecks = append(in.requiredChecks, *rc.Contexts...)
			}
		}
	case errors.Is(err, gh.ErrBranchNotProtected):
	default:
		// reading protection needs admin rights on many repositories
		c.logDebug("branch protection unavailable", "base", pr.GetBase().GetRef(), "error", err)
	}

	sha := pr.GetHead().GetSHA()
	runs, resp, err := c.client.Checks.ListCheckRunsForRef(ctx, c.owner, c.repo, sha, &gh.ListCheckRunsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, toGitHubError("GetMergeability", resp, err)
	}
	for _, run := range runs.CheckRuns {
		in.checks[run.GetName()] = checkStateFor(run.GetStatus(), run.GetConclusion())
	}

	combined, resp, err := c.client.Repositories.GetCombinedStatus(ctx, c.owner, c.repo, sha, nil)
	if err != nil {
		return nil, toGitHubError("GetMergeability", resp, err)
	}
	for _, st := range combined.Statuses {
		in.checks[st.GetContext()] = checkStateFor(st.GetState(), "")
	}

	return evaluateMergeability(in), nil
}

// MergePR merges a pull request. The merge is refused if the head has moved
// away from opts.SHA.
func (c *APIClient) MergePR(ctx context.Context, number int, opts MergeOptions) error {
	c.logDebug("merging PR", "number", number, "method", opts.Method, "sha", opts.SHA)

	commitMsg := opts.CommitBody
	_, resp, err := c.client.PullRequests.Merge(ctx, c.owner, c.repo, number, commitMsg, &gh.PullRequestOptions{
		CommitTitle: opts.CommitTitle,
		SHA:         opts.SHA,
		MergeMethod: opts.Method,
	})
	if err != nil {
		return toGitHubError("MergePR", resp, err)
	}
	return nil
}

// DeleteBranch deletes a branch from the remote repository.
func (c *APIClient) DeleteBranch(ctx context.Context, branch string) error {
	if branch == "" {
		return felerrors.NewGitHubError("DeleteBranch", "branch name is required")
	}

	c.logDebug("deleting branch", "branch", branch)

	resp, err := c.client.Git.DeleteRef(ctx, c.owner, c.repo, "heads/"+branch)
	if err != nil {
		return toGitHubError("DeleteBranch", resp, err)
	}
	return nil
}

// GetDefaultBranch returns the repository's default branch name.
func (c *APIClient) GetDefaultBranch(ctx context.Context) (string, error) {
	repository, resp, err := c.client.Repositories.Get(ctx, c.owner, c.repo)
	if err != nil {
		return "", toGitHubError("GetDefaultBranch", resp, err)
	}
	return repository.GetDefaultBranch(), nil
}

// GetCurrentRepo returns the owner and repo name the client was created for.
func (c *APIClient) GetCurrentRepo(context.Context) (owner, repo string, err error) {
	return c.owner, c.repo, nil
}

func (c *APIClient) logDebug(msg string, args ...any) {
	if c.verbose {
		c.logger.Debug(msg, args...)
	}
}

func prInfoFromGitHub(pr *gh.PullRequest) *PRInfo {
	return &PRInfo{
		Number:     pr.GetNumber(),
		Title:      pr.GetTitle(),
		Body:       pr.GetBody(),
		State:      normalizeState(pr.GetState(), pr.GetMerged()),
		Draft:      pr.GetDraft(),
		URL:        pr.GetHTMLURL(),
		HeadBranch: pr.GetHead().GetRef(),
		BaseBranch: pr.GetBase().GetRef(),
		HeadSHA:    pr.GetHead().GetSHA(),
		Author:     pr.GetUser().GetLogin(),
		CreatedAt:  pr.GetCreatedAt().Time,
		UpdatedAt:  pr.GetUpdatedAt().Time,
	}
}

func toGitHubError(operation string, resp *gh.Response, err error) error {
	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		ghErr := felerrors.NewGitHubErrorWithCause(operation, "rate limited", err)
		ghErr.Retryable = true
		return ghErr
	}
	if resp != nil && resp.StatusCode > 0 {
		msg := err.Error()
		var errResp *gh.ErrorResponse
		if errors.As(err, &errResp) && errResp.Message != "" {
			msg = errResp.Message
		}
		return felerrors.NewGitHubErrorWithStatus(operation, resp.StatusCode, msg)
	}
	return felerrors.NewGitHubErrorWithCause(operation, "API request failed", err)
}
