package github

import (
	"context"
	"log/slog"
	"os"

	"golang.org/x/oauth2"

	"thoreinstein.com/fel/pkg/config"
	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/git"
)

// Client defines the interface for GitHub operations.
// Implementations include CLIClient (wrapping gh CLI) and APIClient (using GitHub REST API).
type Client interface {
	// IsAuthenticated checks if the client is authenticated with GitHub.
	IsAuthenticated() bool

	// CreatePR creates a new pull request.
	CreatePR(ctx context.Context, opts CreatePROptions) (*PRInfo, error)

	// GetPR retrieves pull request information by number.
	GetPR(ctx context.Context, number int) (*PRInfo, error)

	// UpdatePR edits a pull request's title, body or base branch.
	UpdatePR(ctx context.Context, number int, opts UpdatePROptions) (*PRInfo, error)

	// CreateComment adds a comment to a pull request.
	CreateComment(ctx context.Context, number int, body string) error

	// GetMergeability reports whether a pull request can be merged now.
	GetMergeability(ctx context.Context, number int) (*Mergeability, error)

	// MergePR merges a pull request.
	MergePR(ctx context.Context, number int, opts MergeOptions) error

	// DeleteBranch deletes a branch from the remote repository.
	DeleteBranch(ctx context.Context, branch string) error

	// GetDefaultBranch returns the repository's default branch name.
	GetDefaultBranch(ctx context.Context) (string, error)

	// GetCurrentRepo returns the owner and repo name the client operates on.
	GetCurrentRepo(ctx context.Context) (owner, repo string, err error)
}

// Compile-time checks that implementations satisfy the Client interface.
var (
	_ Client = (*CLIClient)(nil)
	_ Client = (*APIClient)(nil)
)

// NewClient creates a GitHub client for repo based on the provided configuration.
//
// Token resolution order:
//  1. GITHUB_TOKEN environment variable
//  2. FEL_GITHUB_TOKEN environment variable
//  3. Token from config file (github.token)
//  4. Cached OAuth token (keychain or file)
//  5. OAuth device flow (if client_id configured)
//  6. Fall back to gh CLI
func NewClient(cfg *config.GitHubConfig, repo *git.RepoURL, verbose bool, logger *slog.Logger) (Client, error) {
	if cfg == nil {
		return nil, felerrors.NewGitHubError("NewClient", "github config is required")
	}
	if repo == nil || repo.Owner == "" || repo.Repo == "" {
		return nil, felerrors.NewGitHubError("NewClient", "could not determine the GitHub repository from the remote URL")
	}
	if logger == nil {
		logger = slog.Default()
	}

	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		token = os.Getenv("FEL_GITHUB_TOKEN")
	}
	if token == "" {
		token = cfg.Token
	}

	apiOpts := []APIClientOption{
		WithAPILogger(logger),
		WithRateLimit(cfg.RequestsPerSecond),
	}
	if cfg.APIURL != "" {
		apiOpts = append(apiOpts, WithBaseURL(cfg.APIURL))
	}

	switch AuthMethod(cfg.AuthMethod) {
	case AuthToken:
		if token == "" {
			return nil, felerrors.NewGitHubError("NewClient",
				"token auth requires GITHUB_TOKEN, FEL_GITHUB_TOKEN env var, or github.token in config")
		}
		return NewAPIClient(token, repo.Owner, repo.Repo, verbose, apiOpts...)

	case AuthOAuth:
		if token != "" {
			return NewAPIClient(token, repo.Owner, repo.Repo, verbose, apiOpts...)
		}
		oauthToken, err := oauthToken(cfg, repo, verbose, logger)
		if err != nil {
			return nil, err
		}
		return NewAPIClient(oauthToken, repo.Owner, repo.Repo, verbose, apiOpts...)

	case AuthGHCLI, "":
		// Default: prefer API client if we have a token, fall back to CLI
		if token != "" {
			return NewAPIClient(token, repo.Owner, repo.Repo, verbose, apiOpts...)
		}
		return NewCLIClient(repo.Owner, repo.Repo, verbose, WithLogger(logger))

	default:
		return nil, felerrors.NewGitHubError("NewClient", "unknown auth method: "+cfg.AuthMethod)
	}
}

// oauthToken returns a cached OAuth token or runs the device flow.
func oauthToken(cfg *config.GitHubConfig, repo *git.RepoURL, verbose bool, logger *slog.Logger) (string, error) {
	cache := NewTokenCache(repo.Host)

	cachedToken, err := cache.Get()
	if err != nil && verbose {
		logger.Debug("failed to read cached token", "error", err)
	}
	if cachedToken != nil && cachedToken.Valid() {
		if verbose {
			logger.Debug("using cached OAuth token")
		}
		return cachedToken.AccessToken, nil
	}

	if cfg.ClientID == "" {
		return "", felerrors.NewGitHubError("NewClient",
			"oauth auth requires github.client_id in config; alternatively use gh_cli auth method")
	}

	apiToken, err := DeviceLogin{
		ClientID: cfg.ClientID,
		Host:     repo.Host,
		Prompt:   os.Stderr,
	}.Token(context.Background())
	if err != nil {
		return "", err
	}

	token := &oauth2.Token{
		AccessToken: apiToken.Token,
		TokenType:   apiToken.Type,
	}
	if cacheErr := cache.Set(token); cacheErr != nil {
		logger.Warn("failed to cache OAuth token", "error", cacheErr)
	} else if verbose {
		logger.Debug("cached OAuth token for future use")
	}

	return token.AccessToken, nil
}
