package git

import (
	"context"
	"regexp"
	"strings"

	felerrors "thoreinstein.com/fel/pkg/errors"
)

// RepoURL represents a parsed remote URL of a GitHub (or GitHub Enterprise)
// repository.
type RepoURL struct {
	Original string // Original input
	Host     string // e.g. github.com
	Protocol string // "ssh" or "https"
	Owner    string // org/user
	Repo     string // Repository name (without .git)
}

// FullName returns "owner/repo".
func (u *RepoURL) FullName() string {
	return u.Owner + "/" + u.Repo
}

var (
	// SSH format: git@host:owner/repo.git
	sshURLRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+@([a-zA-Z0-9_.-]+):([a-zA-Z0-9_.-]+)/([a-zA-Z0-9_.-]+?)(?:\.git)?/?$`)

	// ssh://git@host[:port]/owner/repo.git
	sshSchemeURLRegex = regexp.MustCompile(`^ssh://(?:[a-zA-Z0-9_.-]+@)?([a-zA-Z0-9_.-]+)(?::\d+)?/([a-zA-Z0-9_.-]+)/([a-zA-Z0-9_.-]+?)(?:\.git)?/?$`)

	// https://host/owner/repo(.git), optionally with credentials
	httpsURLRegex = regexp.MustCompile(`^https?://(?:[^@/]+@)?([a-zA-Z0-9_.:-]+)/([a-zA-Z0-9_.-]+)/([a-zA-Z0-9_.-]+?)(?:\.git)?/?$`)

	// Shorthand format: github.com/owner/repo (no protocol)
	shorthandURLRegex = regexp.MustCompile(`^(github\.com)/([a-zA-Z0-9_.-]+)/([a-zA-Z0-9_.-]+?)(?:\.git)?$`)
)

// ParseRemoteURL parses the URL formats git accepts for a GitHub remote.
// Supported formats:
//   - SSH: git@github.com:owner/repo.git
//   - SSH scheme: ssh://git@github.com/owner/repo.git
//   - HTTPS: https://github.com/owner/repo
//   - Shorthand: github.com/owner/repo
func ParseRemoteURL(input string) (*RepoURL, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, felerrors.New("empty URL provided")
	}

	for _, p := range []struct {
		re       *regexp.Regexp
		protocol string
	}{
		{sshSchemeURLRegex, "ssh"},
		{httpsURLRegex, "https"},
		{sshURLRegex, "ssh"},
		{shorthandURLRegex, "ssh"},
	} {
		if m := p.re.FindStringSubmatch(input); len(m) == 4 {
			return &RepoURL{
				Original: input,
				Host:     m[1],
				Protocol: p.protocol,
				Owner:    m[2],
				Repo:     m[3],
			}, nil
		}
	}

	return nil, felerrors.Newf("unrecognized remote URL format: %q\n\nSupported formats:\n  git@github.com:owner/repo.git (SSH)\n  https://github.com/owner/repo (HTTPS)\n  github.com/owner/repo (shorthand)", input)
}

// RemoteRepo parses the URL of the configured remote.
func (r *Repository) RemoteRepo(ctx context.Context) (*RepoURL, error) {
	raw, err := r.RemoteURL(ctx)
	if err != nil {
		return nil, felerrors.Wrapf(err, "failed to read URL of remote %q", r.remote)
	}
	return ParseRemoteURL(raw)
}
