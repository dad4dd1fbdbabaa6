package stack

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/git/gittest"
)

func subjects(t *testing.T, w *Walker) []string {
	t.Helper()
	commits, err := w.Collect(context.Background())
	require.NoError(t, err)
	out := make([]string, 0, len(commits))
	for _, c := range commits {
		out = append(out, c.Subject())
	}
	return out
}

func TestWalker_TipToRoot(t *testing.T) {
	repo := gittest.New("master")
	repo.Stack("feature", "master", "A", "B", "C", "D", "E")

	w, err := NewWalker(context.Background(), repo, "feature", "master")
	require.NoError(t, err)

	assert.Equal(t, []string{"E", "D", "C", "B", "A"}, subjects(t, w))
	assert.Equal(t, repo.Branch("master"), w.MergeBase())
	assert.Equal(t, repo.Branch("feature"), w.Tip())
}

func TestWalker_ResetRestarts(t *testing.T) {
	ctx := context.Background()
	repo := gittest.New("master")
	repo.Stack("feature", "master", "A", "B")

	w, err := NewWalker(ctx, repo, "feature", "master")
	require.NoError(t, err)

	first, ok, err := w.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B", first.Subject())

	w.Reset()
	assert.Equal(t, []string{"B", "A"}, subjects(t, w))

	_, ok, err = w.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "exhausted walk stays exhausted")
}

func TestWalker_EmptyStack(t *testing.T) {
	repo := gittest.New("master")
	repo.SetBranch("feature", repo.Branch("master"))

	w, err := NewWalker(context.Background(), repo, "feature", "master")
	require.NoError(t, err)
	assert.Empty(t, subjects(t, w))
}

func TestWalker_StopsAtMergeBaseWhenUpstreamMoved(t *testing.T) {
	repo := gittest.New("master")
	repo.Stack("feature", "master", "A", "B")
	repo.Stack("master", "master", "upstream-1", "upstream-2")

	w, err := NewWalker(context.Background(), repo, "feature", "master")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, subjects(t, w))
}

func TestWalker_Errors(t *testing.T) {
	repo := gittest.New("master")
	repo.Stack("feature", "master", "A")
	orphan := repo.Commit("", "orphan root", "x")
	repo.SetBranch("orphan", orphan)

	tests := []struct {
		name     string
		branch   string
		upstream string
		want     felerrors.Kind
	}{
		{"empty branch", "", "master", felerrors.KindDetachedHead},
		{"unknown branch", "nope", "master", felerrors.KindDetachedHead},
		{"unknown upstream", "feature", "nope", felerrors.KindAmbiguousBase},
		{"no common history", "orphan", "master", felerrors.KindAmbiguousBase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWalker(context.Background(), repo, tt.branch, tt.upstream)
			require.Error(t, err)
			assert.True(t, felerrors.IsKind(err, tt.want), "got %v", err)
		})
	}
}

func TestWalker_MergeCommit(t *testing.T) {
	ctx := context.Background()
	repo := gittest.New("master")
	hashes := repo.Stack("feature", "master", "A")
	side := repo.Commit(repo.Branch("master"), "side", "side")
	merge := repo.Merge(hashes[0], side, "merge side")
	repo.SetBranch("feature", repo.Commit(merge, "B", "B"))

	w, err := NewWalker(ctx, repo, "feature", "master")
	require.NoError(t, err)
	_, err = w.Collect(ctx)
	require.Error(t, err)
	assert.True(t, felerrors.IsKind(err, felerrors.KindMergeCommit))
}
