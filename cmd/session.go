package cmd

import (
	"context"
	"log/slog"

	"thoreinstein.com/fel/pkg/bootstrap"
	"thoreinstein.com/fel/pkg/config"
	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/git"
	"thoreinstein.com/fel/pkg/github"
	"thoreinstein.com/fel/pkg/identity"
	"thoreinstein.com/fel/pkg/stack"
	"thoreinstein.com/fel/pkg/workflow"
)

// repository is everything the stack commands need from git.
type repository interface {
	workflow.Repository
	stack.CommitReader
	identity.NoteStore
	identity.ConfigStore
	CurrentBranch(ctx context.Context) (string, error)
	RemoteTrackingRef(branch string) string
}

var _ repository = (*git.Repository)(nil)

// session bundles the collaborators of one stack command.
type session struct {
	cfg    *config.Config
	repo   repository
	store  *identity.Store
	github github.Client
	logger *slog.Logger
}

// openSession opens the repository in the working directory and its
// identity store. The GitHub client is only created when withGitHub is set.
func openSession(ctx context.Context, cfg *config.Config, withGitHub bool) (*session, error) {
	logger := slog.Default()

	root, err := bootstrap.FindGitRoot()
	if err != nil {
		return nil, felerrors.Wrap(err, "failed to locate repository")
	}
	if root == "" {
		return nil, felerrors.New("not inside a git repository")
	}
	repo := git.NewRepository(root, verbose, git.WithRemote(cfg.Git.Remote), git.WithLogger(logger))

	path := cfg.Store.Path
	if path == "" {
		common, err := repo.GitCommonDir(ctx)
		if err != nil {
			return nil, err
		}
		path = identity.DefaultPath(common)
	}

	s := &session{cfg: cfg, repo: repo, logger: logger}
	if err := s.openStore(ctx, path); err != nil {
		return nil, err
	}

	if withGitHub {
		remote, err := repo.RemoteRepo(ctx)
		if err != nil {
			s.Close()
			return nil, err
		}
		gh, err := github.NewClient(&cfg.GitHub, remote, verbose, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.github = gh
	}
	return s, nil
}

// openStore makes sure rewrites carry identities and opens the store at path.
func (s *session) openStore(ctx context.Context, path string) error {
	changed, err := identity.EnsureRewriteTracking(ctx, s.repo, s.cfg.Store.NotesRef)
	if err != nil {
		return err
	}
	if changed {
		s.logger.Info("enabled rewrite tracking", "key", identity.RewriteRefKey, "ref", s.cfg.Store.NotesRef)
	}

	store, err := identity.Open(path, s.repo, identity.WithNotesRef(s.cfg.Store.NotesRef), identity.WithLogger(s.logger))
	if err != nil {
		return err
	}
	s.store = store
	return nil
}

// Close releases the identity store.
func (s *session) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

// stacks returns args, or the checked out branch when args is empty.
func (s *session) stacks(ctx context.Context, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	branch, err := s.repo.CurrentBranch(ctx)
	if err != nil {
		if felerrors.Is(err, git.ErrDetachedHEAD) {
			return nil, felerrors.NewStackError(felerrors.KindDetachedHead, "no stack given and HEAD is not on a branch")
		}
		return nil, err
	}
	return []string{branch}, nil
}

// graph fetches upstream and builds the graph of stacks against the
// remote-tracking copy, so entries already merged upstream drop out.
func (s *session) graph(ctx context.Context, stacks []string) (*stack.Graph, error) {
	upstream := s.cfg.Git.Upstream
	if _, err := felerrors.RetryWithResult(ctx, s.cfg.RetryPolicy(), func(ctx context.Context) (string, error) {
		return s.repo.FetchBranch(ctx, upstream)
	}); err != nil {
		return nil, felerrors.Wrapf(err, "failed to fetch %s", upstream)
	}
	return stack.Build(ctx, s.repo, s.store, stacks, upstream,
		stack.WithUpstreamRef(s.repo.RemoteTrackingRef(upstream)),
		stack.WithLogger(s.logger))
}
