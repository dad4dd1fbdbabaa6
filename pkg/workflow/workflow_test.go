package workflow

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/git/gittest"
	"thoreinstein.com/fel/pkg/github"
	"thoreinstein.com/fel/pkg/github/githubtest"
	"thoreinstein.com/fel/pkg/identity"
	"thoreinstein.com/fel/pkg/stack"
)

// harness wires a repository, identity store and PR host together.
type harness struct {
	t     *testing.T
	repo  *gittest.Repo
	gh    *githubtest.Host
	store *identity.Store
}

var testRetry = felerrors.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := gittest.New("master")
	_, err := identity.EnsureRewriteTracking(context.Background(), repo, identity.DefaultNotesRef)
	require.NoError(t, err)

	store, err := identity.Open(filepath.Join(t.TempDir(), "identities.db"), repo, identity.WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &harness{t: t, repo: repo, gh: githubtest.New(repo), store: store}
}

func (h *harness) build(stacks ...string) *stack.Graph {
	h.t.Helper()
	g, err := stack.Build(context.Background(), h.repo, h.store, stacks, "master",
		stack.WithUpstreamRef(h.repo.RemoteTrackingRef("master")),
		stack.WithLogger(discardLogger()))
	require.NoError(h.t, err)
	return g
}

func submitOptions() SubmitOptions {
	return SubmitOptions{
		BranchPrefix: "fel",
		BranchNaming: "index",
		StackFooter:  true,
		DiffComments: true,
		Retry:        testRetry,
	}
}

func (h *harness) synchronizer() *Synchronizer {
	return NewSynchronizer(h.repo, h.gh, h.store, submitOptions(), discardLogger())
}

func (h *harness) submit(stacks ...string) *SubmitReport {
	h.t.Helper()
	report, err := h.synchronizer().Submit(context.Background(), h.build(stacks...))
	require.NoError(h.t, err)
	return report
}

func (h *harness) lander(method string) *Lander {
	return NewLander(h.repo, h.gh, h.store, LandOptions{MergeMethod: method, UpdateLocal: true, Retry: testRetry}, discardLogger())
}

func (h *harness) land(stackName, method string) *LandReport {
	h.t.Helper()
	report, err := h.lander(method).Land(context.Background(), h.build(stackName), stackName)
	require.NoError(h.t, err)
	return report
}

func outcomes(entries []*EntryResult) []Outcome {
	out := make([]Outcome, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Outcome)
	}
	return out
}

// interruptingHost cancels the run the first time a pull request is created
// or merged, the way Ctrl-C during a remote call would. Like a real client
// it then refuses to work under a cancelled context.
type interruptingHost struct {
	*githubtest.Host
	cancel context.CancelFunc
}

func (h *interruptingHost) CreatePR(ctx context.Context, opts github.CreatePROptions) (*github.PRInfo, error) {
	h.cancel()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.Host.CreatePR(ctx, opts)
}

func (h *interruptingHost) MergePR(ctx context.Context, number int, opts github.MergeOptions) error {
	h.cancel()
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.Host.MergePR(ctx, number, opts)
}
