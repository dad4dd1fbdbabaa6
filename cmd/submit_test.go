package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	felerrors "thoreinstein.com/fel/pkg/errors"
)

func TestSubmitCommandFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		flagName     string
		shorthand    string
		defaultValue string
	}{
		{"draft", "d", "false"},
		{"reviewer", "r", "[]"},
		{"naming", "", ""},
		{"no-footer", "", "false"},
		{"no-comments", "", "false"},
	}

	for _, tt := range tests {
		t.Run(tt.flagName, func(t *testing.T) {
			t.Parallel()

			flag := submitCmd.Flags().Lookup(tt.flagName)
			require.NotNil(t, flag, "submit should have --%s", tt.flagName)
			assert.Equal(t, tt.shorthand, flag.Shorthand)
			assert.Equal(t, tt.defaultValue, flag.DefValue)
		})
	}
}

func TestSubmitOptionsOverrideConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Submit.Reviewers = []string{"carol"}

	opts := submitOptions(cfg, SubmitFlags{})
	assert.False(t, opts.Draft)
	assert.Equal(t, []string{"carol"}, opts.Reviewers)
	assert.True(t, opts.StackFooter)
	assert.True(t, opts.DiffComments)

	opts = submitOptions(cfg, SubmitFlags{
		Draft:        true,
		Reviewers:    []string{"alice", "bob"},
		BranchNaming: "hash",
		NoFooter:     true,
		NoComments:   true,
	})
	assert.True(t, opts.Draft)
	assert.Equal(t, []string{"alice", "bob"}, opts.Reviewers)
	assert.Equal(t, "hash", opts.BranchNaming)
	assert.False(t, opts.StackFooter)
	assert.False(t, opts.DiffComments)
}

func TestRunSubmit(t *testing.T) {
	env := newTestEnv(t)
	env.repo.Stack("feature", "master", "Add file A", "Add file B")
	env.repo.Checkout("feature")

	var out bytes.Buffer
	err := runSubmit(context.Background(), &out, env.s, nil, SubmitFlags{Draft: true})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Submitted 2 entries onto master")
	require.Len(t, env.gh.PRs, 2)
	assert.True(t, env.gh.PR(1).Draft)
	assert.Equal(t, "master", env.gh.PR(1).BaseBranch)
	assert.Equal(t, "fel/feature/1", env.gh.PR(2).BaseBranch)

	// A second run has nothing to do.
	out.Reset()
	env.gh.ResetCalls()
	require.NoError(t, runSubmit(context.Background(), &out, env.s, nil, SubmitFlags{}))
	assert.Empty(t, env.gh.Calls())
}

func TestRunSubmitJSON(t *testing.T) {
	env := newTestEnv(t)
	env.repo.Stack("feature", "master", "Add file A")

	old := outputFlag
	outputFlag = "json"
	defer func() { outputFlag = old }()

	var out bytes.Buffer
	require.NoError(t, runSubmit(context.Background(), &out, env.s, []string{"feature"}, SubmitFlags{}))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "master", decoded["upstream"])
}

func TestRunSubmitReportsFailures(t *testing.T) {
	env := newTestEnv(t)
	env.repo.Stack("feature", "master", "Add file A", "Add file B")
	env.gh.CreateErr["fel/feature/1"] = felerrors.NewGitHubErrorWithStatus("CreatePR", 422, "Validation Failed")

	var out bytes.Buffer
	err := runSubmit(context.Background(), &out, env.s, []string{"feature"}, SubmitFlags{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 entry failed")
	assert.Contains(t, out.String(), "1 failed")
}

func TestRunSubmitRejectsUnknownNaming(t *testing.T) {
	env := newTestEnv(t)

	err := runSubmit(context.Background(), &bytes.Buffer{}, env.s, []string{"feature"}, SubmitFlags{BranchNaming: "random"})
	require.Error(t, err)
	assert.True(t, felerrors.IsConfigError(err))
}
