package github

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/git"
)

// ghRunner answers gh invocations by matching the joined argument prefix.
type ghRunner struct {
	mu        sync.Mutex
	responses map[string]string
	failures  map[string]string
	calls     []ghCall
}

type ghCall struct {
	args  string
	input git.Input
}

func newGHRunner() *ghRunner {
	return &ghRunner{responses: map[string]string{}, failures: map[string]string{}}
}

func (r *ghRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	_, err := r.OutputWithInput(ctx, dir, git.Input{}, name, args...)
	return err
}

func (r *ghRunner) Output(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	return r.OutputWithInput(ctx, dir, git.Input{}, name, args...)
}

func (r *ghRunner) OutputWithInput(_ context.Context, _ string, input git.Input, _ string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	joined := strings.Join(args, " ")
	r.calls = append(r.calls, ghCall{args: joined, input: input})
	for prefix, stderr := range r.failures {
		if strings.HasPrefix(joined, prefix) {
			return nil, &git.ExitError{Code: 1, Stderr: stderr}
		}
	}
	for prefix, out := range r.responses {
		if strings.HasPrefix(joined, prefix) {
			return []byte(out), nil
		}
	}
	return []byte{}, nil
}

func (r *ghRunner) call(prefix string) (ghCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if strings.HasPrefix(c.args, prefix) {
			return c, true
		}
	}
	return ghCall{}, false
}

func newTestCLIClient(t *testing.T, runner *ghRunner) *CLIClient {
	t.Helper()
	c, err := NewCLIClient("octo", "widgets", false, WithCommandRunner(runner), WithToken("tok"))
	require.NoError(t, err)
	return c
}

const prViewJSON = `{"number":12,"title":"Add widget","state":"OPEN","isDraft":false,"url":"https://github.com/octo/widgets/pull/12","headRefName":"fel/x/1","baseRefName":"master","headRefOid":"abc","author":{"login":"me"}}`

func TestCLIClient_CreatePR(t *testing.T) {
	runner := newGHRunner()
	runner.responses["pr create"] = "Creating pull request\nhttps://github.com/octo/widgets/pull/12\n"
	runner.responses["pr view 12"] = prViewJSON
	c := newTestCLIClient(t, runner)

	pr, err := c.CreatePR(t.Context(), CreatePROptions{
		Title:      "Add widget",
		Body:       "the body",
		HeadBranch: "fel/x/1",
		BaseBranch: "master",
		Draft:      true,
		Reviewers:  []string{"alice"},
	})
	require.NoError(t, err)
	assert.Equal(t, 12, pr.Number)
	assert.Equal(t, PRStateOpen, pr.State)
	assert.Equal(t, "abc", pr.HeadSHA)
	assert.Equal(t, "me", pr.Author)

	call, ok := runner.call("pr create")
	require.True(t, ok)
	assert.Contains(t, call.args, "--repo octo/widgets")
	assert.Contains(t, call.args, "--head fel/x/1")
	assert.Contains(t, call.args, "--base master")
	assert.Contains(t, call.args, "--draft")
	assert.Contains(t, call.args, "--reviewer alice")
	assert.Equal(t, "the body", call.input.Stdin, "body goes through stdin")
	assert.Contains(t, call.input.Env, "GITHUB_TOKEN=tok")
}

func TestCLIClient_UpdatePR(t *testing.T) {
	runner := newGHRunner()
	runner.responses["pr view 12"] = prViewJSON
	c := newTestCLIClient(t, runner)

	base, body := "master", "new body"
	_, err := c.UpdatePR(t.Context(), 12, UpdatePROptions{BaseBranch: &base, Body: &body})
	require.NoError(t, err)

	call, ok := runner.call("pr edit 12")
	require.True(t, ok)
	assert.Contains(t, call.args, "--base master")
	assert.Contains(t, call.args, "--body-file -")
	assert.Equal(t, "new body", call.input.Stdin)
}

func TestCLIClient_UpdatePR_NothingToChange(t *testing.T) {
	runner := newGHRunner()
	runner.responses["pr view 12"] = prViewJSON
	c := newTestCLIClient(t, runner)

	_, err := c.UpdatePR(t.Context(), 12, UpdatePROptions{})
	require.NoError(t, err)
	_, edited := runner.call("pr edit")
	assert.False(t, edited)
}

func TestCLIClient_MergePR(t *testing.T) {
	runner := newGHRunner()
	c := newTestCLIClient(t, runner)

	require.NoError(t, c.MergePR(t.Context(), 12, MergeOptions{Method: "squash", SHA: "abc"}))
	call, ok := runner.call("pr merge 12")
	require.True(t, ok)
	assert.Contains(t, call.args, "--squash")
	assert.Contains(t, call.args, "--match-head-commit abc")
	assert.NotContains(t, call.args, "--delete-branch")

	err := c.MergePR(t.Context(), 12, MergeOptions{Method: "merge"})
	assert.Error(t, err, "merge commits are not supported")
}

func TestCLIClient_GetMergeability(t *testing.T) {
	runner := newGHRunner()
	runner.responses["pr view 12 --repo octo/widgets --json mergeable"] = `{
		"mergeable": "MERGEABLE",
		"mergeStateStatus": "BLOCKED",
		"reviewDecision": "REVIEW_REQUIRED",
		"latestReviews": [],
		"statusCheckRollup": [
			{"__typename": "CheckRun", "name": "ci", "status": "IN_PROGRESS", "conclusion": ""},
			{"__typename": "StatusContext", "context": "lint", "state": "SUCCESS"}
		]
	}`
	c := newTestCLIClient(t, runner)

	m, err := c.GetMergeability(t.Context(), 12)
	require.NoError(t, err)
	assert.False(t, m.Mergeable)
	assert.Equal(t, []string{"review required", "pending checks: ci"}, m.Reasons)
}

func TestCLIClient_ErrorsCarryStderr(t *testing.T) {
	runner := newGHRunner()
	runner.failures["pr view"] = "HTTP 502: Bad Gateway"
	c := newTestCLIClient(t, runner)

	_, err := c.GetPR(t.Context(), 12)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad Gateway")
	assert.True(t, felerrors.IsRetryable(err))
}

func TestExtractPRNumber(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    int
		wantErr bool
	}{
		{"valid url", "https://github.com/owner/repo/pull/123", 123, false},
		{"enterprise url", "https://git.example.com/owner/repo/pull/9", 9, false},
		{"not a number", "https://github.com/owner/repo/pull/abc", 0, true},
		{"not a pull url", "https://github.com/owner/repo", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractPRNumber(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("extractPRNumber() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("extractPRNumber() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryableGHError(t *testing.T) {
	tests := []struct {
		errMsg string
		want   bool
	}{
		{"API rate limit exceeded", true},
		{"request timeout", true},
		{"connection reset by peer", true},
		{"HTTP 503 Service Unavailable", true},
		{"resource not found", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isRetryableGHError(tt.errMsg); got != tt.want {
			t.Errorf("isRetryableGHError(%q) = %v, want %v", tt.errMsg, got, tt.want)
		}
	}
}
