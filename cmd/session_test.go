package cmd

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thoreinstein.com/fel/pkg/config"
	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/git/gittest"
	"thoreinstein.com/fel/pkg/github/githubtest"
	"thoreinstein.com/fel/pkg/identity"
)

func testConfig() *config.Config {
	return &config.Config{
		Git: config.GitConfig{Remote: "origin", Upstream: "master"},
		Submit: config.SubmitConfig{
			BranchPrefix: "fel",
			BranchNaming: config.BranchNamingIndex,
			StackFooter:  true,
			DiffComments: true,
		},
		Land:  config.LandConfig{MergeMethod: config.MergeMethodRebase, UpdateLocal: true},
		Store: config.StoreConfig{NotesRef: identity.DefaultNotesRef},
		Retry: config.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
}

type testEnv struct {
	s    *session
	repo *gittest.Repo
	gh   *githubtest.Host
}

// newTestEnv returns a session over an in-memory repository and PR host.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := gittest.New("master")
	s := &session{
		cfg:    testConfig(),
		repo:   repo,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	require.NoError(t, s.openStore(context.Background(), filepath.Join(t.TempDir(), "identities.db")))
	t.Cleanup(func() { s.Close() })

	gh := githubtest.New(repo)
	s.github = gh
	return &testEnv{s: s, repo: repo, gh: gh}
}

func TestOpenStoreEnablesRewriteTracking(t *testing.T) {
	env := newTestEnv(t)

	refs, err := env.repo.ConfigGetAll(context.Background(), identity.RewriteRefKey)
	require.NoError(t, err)
	assert.Contains(t, refs, identity.DefaultNotesRef)
	assert.Equal(t, identity.DefaultNotesRef, env.s.store.NotesRef())
}

func TestSessionStacks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.repo.Stack("feature", "master", "Add file A")

	got, err := env.s.stacks(ctx, []string{"one", "two"})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, got)

	env.repo.Checkout("feature")
	got, err = env.s.stacks(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"feature"}, got)

	env.repo.Checkout("")
	_, err = env.s.stacks(ctx, nil)
	require.Error(t, err)
	assert.True(t, felerrors.IsKind(err, felerrors.KindDetachedHead))
}

func TestSessionGraphFetchesUpstream(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	hashes := env.repo.Stack("feature", "master", "Add file A", "Add file B")

	// Another client landed the first commit.
	env.repo.SetRemoteBranch("master", hashes[0])

	g, err := env.s.graph(ctx, []string{"feature"})
	require.NoError(t, err)
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, hashes[0], g.MergeBase("feature"))

	tracked, err := env.repo.ResolveRef(ctx, env.repo.RemoteTrackingRef("master"))
	require.NoError(t, err)
	assert.Equal(t, hashes[0], tracked)
}

func TestSessionCloseWithoutStore(t *testing.T) {
	t.Parallel()

	s := &session{}
	assert.NoError(t, s.Close())
}
