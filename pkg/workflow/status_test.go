package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thoreinstein.com/fel/pkg/github"
)

func TestCollectStatus(t *testing.T) {
	h := newHarness(t)
	one := h.repo.Stack("one", "master", "A", "B")
	h.submit("one")
	h.repo.Stack("two", one[0], "C")

	h.gh.Mergeability[2] = &github.Mergeability{Reasons: []string{"pending checks: build"}, Pending: true}
	h.gh.PRs[1].Draft = true

	report, err := CollectStatus(context.Background(), h.build("one", "two"), h.gh, testRetry, discardLogger())
	require.NoError(t, err)

	require.Len(t, report.Stacks, 2)
	assert.Equal(t, "master", report.Upstream)

	first := report.Stacks[0]
	assert.Equal(t, "one", first.Name)
	require.Len(t, first.Entries, 2)

	a := first.Entries[0]
	assert.Equal(t, 1, a.PRNumber)
	assert.Equal(t, github.PRStateOpen, a.State)
	assert.True(t, a.Draft)
	assert.True(t, a.Mergeable)
	assert.Equal(t, []string{"one", "two"}, a.Stacks)

	b := first.Entries[1]
	assert.False(t, b.Mergeable)
	assert.True(t, b.Pending)
	assert.Equal(t, "fel/one/1", b.Base)

	second := report.Stacks[1]
	require.Len(t, second.Entries, 2)
	assert.Same(t, a, second.Entries[0], "shared node reported once")
	c := second.Entries[1]
	assert.False(t, c.Submitted())
	assert.Empty(t, c.State)
}

func TestCollectStatus_LookupFailure(t *testing.T) {
	h := newHarness(t)
	h.repo.Stack("feature", "master", "A")
	h.submit("feature")
	delete(h.gh.PRs, 1)

	report, err := CollectStatus(context.Background(), h.build("feature"), h.gh, testRetry, discardLogger())
	require.NoError(t, err)

	e := report.Stacks[0].Entries[0]
	assert.Contains(t, e.Error, "Not Found")
	assert.Empty(t, e.State)
}

func TestCollectStatus_MergedEntrySkipsMergeability(t *testing.T) {
	h := newHarness(t)
	h.repo.Stack("feature", "master", "A")
	h.submit("feature")
	h.gh.PRs[1].State = github.PRStateMerged
	h.gh.PendingPolls[1] = 100

	report, err := CollectStatus(context.Background(), h.build("feature"), h.gh, testRetry, discardLogger())
	require.NoError(t, err)

	e := report.Stacks[0].Entries[0]
	assert.Equal(t, github.PRStateMerged, e.State)
	assert.False(t, e.Pending)
	assert.Equal(t, 100, h.gh.PendingPolls[1])
}
