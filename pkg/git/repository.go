package git

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	felerrors "thoreinstein.com/fel/pkg/errors"
)

// Sentinel errors for expected lookups that come back empty.
var (
	ErrRefNotFound  = felerrors.New("ref not found")
	ErrNoMergeBase  = felerrors.New("no merge base")
	ErrDetachedHEAD = felerrors.New("HEAD is detached")
)

// Repository runs git plumbing against a single working copy.
type Repository struct {
	dir    string
	remote string
	runner CommandRunner
	logger *slog.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithRunner sets the command runner. Used by tests.
func WithRunner(runner CommandRunner) Option {
	return func(r *Repository) {
		r.runner = runner
	}
}

// WithRemote sets the remote pushes and fetches go to.
func WithRemote(remote string) Option {
	return func(r *Repository) {
		r.remote = remote
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// NewRepository creates a Repository rooted at dir.
func NewRepository(dir string, verbose bool, opts ...Option) *Repository {
	r := &Repository{
		dir:    dir,
		remote: "origin",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.runner == nil {
		r.runner = &RealCommandRunner{Verbose: verbose, Logger: r.logger}
	}
	return r
}

// Dir returns the working directory the repository runs in.
func (r *Repository) Dir() string {
	return r.dir
}

// Remote returns the configured remote name.
func (r *Repository) Remote() string {
	return r.remote
}

// RemoteTrackingRef returns the remote-tracking ref for branch.
func (r *Repository) RemoteTrackingRef(branch string) string {
	return "refs/remotes/" + r.remote + "/" + branch
}

func (r *Repository) output(ctx context.Context, args ...string) (string, error) {
	out, err := r.runner.Output(ctx, r.dir, "git", args...)
	if err != nil {
		return string(out), r.wrap(args, err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}

func (r *Repository) outputWithInput(ctx context.Context, input Input, args ...string) (string, error) {
	out, err := r.runner.OutputWithInput(ctx, r.dir, input, "git", args...)
	if err != nil {
		return string(out), r.wrap(args, err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}

func (r *Repository) run(ctx context.Context, args ...string) error {
	if err := r.runner.Run(ctx, r.dir, "git", args...); err != nil {
		return r.wrap(args, err)
	}
	return nil
}

func (r *Repository) wrap(args []string, err error) error {
	op := ""
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			op = a
			break
		}
	}
	return felerrors.NewGitError(op, args, stderrOf(err), err)
}

// ResolveRef resolves ref to a commit hash. It returns ErrRefNotFound when
// the ref does not exist.
func (r *Repository) ResolveRef(ctx context.Context, ref string) (string, error) {
	out, err := r.output(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		if exitCode(err) == 1 {
			return "", felerrors.Wrapf(ErrRefNotFound, "%s", ref)
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CurrentBranch returns the short name of the checked out branch, or
// ErrDetachedHEAD.
func (r *Repository) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.output(ctx, "symbolic-ref", "--quiet", "--short", "HEAD")
	if err != nil {
		if exitCode(err) == 1 {
			return "", ErrDetachedHEAD
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// MergeBase returns the best common ancestor of a and b, or ErrNoMergeBase.
func (r *Repository) MergeBase(ctx context.Context, a, b string) (string, error) {
	out, err := r.output(ctx, "merge-base", a, b)
	if err != nil {
		if exitCode(err) == 1 {
			return "", ErrNoMergeBase
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (r *Repository) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	err := r.run(ctx, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, err
}

// HasObject reports whether the object exists in the local object database.
func (r *Repository) HasObject(ctx context.Context, hash string) bool {
	return r.run(ctx, "cat-file", "-e", hash+"^{commit}") == nil
}

// ReadCommit reads a commit object.
func (r *Repository) ReadCommit(ctx context.Context, hash string) (*Commit, error) {
	resolved, err := r.ResolveRef(ctx, hash)
	if err != nil {
		return nil, err
	}
	raw, err := r.runner.Output(ctx, r.dir, "git", "cat-file", "commit", resolved)
	if err != nil {
		return nil, r.wrap([]string{"cat-file", "commit", resolved}, err)
	}
	return ParseCommit(resolved, raw)
}

// GitCommonDir returns the absolute path of the shared .git directory, which
// is the same for every worktree of the repository.
func (r *Repository) GitCommonDir(ctx context.Context) (string, error) {
	out, err := r.output(ctx, "rev-parse", "--git-common-dir")
	if err != nil {
		return "", err
	}
	dir := strings.TrimSpace(out)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(r.dir, dir)
	}
	return filepath.Clean(dir), nil
}

// RemoteURL returns the fetch URL of the configured remote.
func (r *Repository) RemoteURL(ctx context.Context) (string, error) {
	return r.output(ctx, "remote", "get-url", r.remote)
}

// ConfigGetAll returns every value of a multi-valued config key.
func (r *Repository) ConfigGetAll(ctx context.Context, key string) ([]string, error) {
	out, err := r.output(ctx, "config", "--get-all", key)
	if err != nil {
		if exitCode(err) == 1 {
			return nil, nil
		}
		return nil, err
	}
	var values []string
	for line := range strings.SplitSeq(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			values = append(values, line)
		}
	}
	return values, nil
}

// ConfigAdd appends a value to a multi-valued config key in the repository config.
func (r *Repository) ConfigAdd(ctx context.Context, key, value string) error {
	return r.run(ctx, "config", "--add", key, value)
}

// DeleteLocalBranch force-deletes a local branch. A missing branch is not an error.
func (r *Repository) DeleteLocalBranch(ctx context.Context, branch string) error {
	if _, err := r.ResolveRef(ctx, "refs/heads/"+branch); err != nil {
		if felerrors.Is(err, ErrRefNotFound) {
			return nil
		}
		return err
	}
	return r.run(ctx, "branch", "-D", branch)
}

// DeleteRemoteTrackingRef removes the local remote-tracking ref for branch.
func (r *Repository) DeleteRemoteTrackingRef(ctx context.Context, branch string) error {
	return r.run(ctx, "update-ref", "-d", r.RemoteTrackingRef(branch))
}

// ResetBranch points branch at commit. When the branch is checked out the
// working tree is moved with reset --keep, which refuses to discard local
// changes.
func (r *Repository) ResetBranch(ctx context.Context, branch, commit string) error {
	current, err := r.CurrentBranch(ctx)
	if err != nil && !felerrors.Is(err, ErrDetachedHEAD) {
		return err
	}
	if current == branch {
		return r.run(ctx, "reset", "--keep", commit)
	}
	return r.run(ctx, "branch", "-f", branch, commit)
}
