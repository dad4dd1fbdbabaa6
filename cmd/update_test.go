package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateCommandFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		flagName    string
		shorthand   string
		wantContain string
	}{
		{"check", "c", "Check for updates"},
		{"force", "f", "Force update"},
		{"pre", "p", "pre-release"},
		{"yes", "y", "confirmation"},
	}

	for _, tt := range tests {
		t.Run(tt.flagName, func(t *testing.T) {
			t.Parallel()

			flag := updateCmd.Flags().Lookup(tt.flagName)
			require.NotNil(t, flag, "update should have --%s", tt.flagName)
			assert.Equal(t, tt.shorthand, flag.Shorthand)
			assert.Equal(t, "false", flag.DefValue)
			assert.Contains(t, flag.Usage, tt.wantContain)
		})
	}
}

func TestUpdateCommandDescription(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "update", updateCmd.Use)
	assert.NotNil(t, updateCmd.RunE)
	for _, want := range []string{"GitHub releases", "checksums", "fel update --check", "--yes", "--force", "--pre"} {
		assert.Contains(t, updateCmd.Long, want)
	}
	assert.Equal(t, "thoreinstein", repoOwner)
	assert.Equal(t, "fel", repoName)
}

// answer runs confirmUpdate with input on stdin and returns its result and
// the prompt it printed.
func answer(t *testing.T, input, current, next string) (bool, string) {
	t.Helper()
	oldStdin, oldStdout := os.Stdin, os.Stdout
	defer func() {
		os.Stdin = oldStdin
		os.Stdout = oldStdout
	}()

	inR, inW, err := os.Pipe()
	require.NoError(t, err)
	outR, outW, err := os.Pipe()
	require.NoError(t, err)
	os.Stdin, os.Stdout = inR, outW

	go func() {
		defer inW.Close()
		_, _ = io.WriteString(inW, input)
	}()

	ok := confirmUpdate(current, next)
	outW.Close()

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(outR)
	return ok, buf.String()
}

func TestConfirmUpdate(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"Y\n", true},
		{"yes\n", true},
		{"  Yes  \n", true},
		{"n\n", false},
		{"no\n", false},
		{"\n", false},
		{"yep\n", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			got, _ := answer(t, tt.input, "1.0.0", "2.0.0")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfirmUpdatePrompt(t *testing.T) {
	tests := []struct {
		current string
		want    string
	}{
		{"dev", "Update fel from dev to 1.0.0? [y/N]: "},
		{"0.9.2", "Update fel from 0.9.2 to 1.0.0? [y/N]: "},
		{"v0.9.2", "Update fel from 0.9.2 to 1.0.0? [y/N]: "},
	}

	for _, tt := range tests {
		t.Run(tt.current, func(t *testing.T) {
			_, prompt := answer(t, "n\n", tt.current, "1.0.0")
			assert.Equal(t, tt.want, prompt)
		})
	}
}

func TestIsDevVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		version string
		want    bool
	}{
		{"dev", true},
		{"abc1234-dirty", true},
		{"1.0.0", false},
		{"v1.2.3", false},
		{"1.0.0-alpha", false},
		{"0.4.1-3-gabc1234-dirty", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isDevVersion(tt.version), "isDevVersion(%q)", tt.version)
	}
}

func TestUpToDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name              string
		current           string
		latestLessOrEqual bool
		force             bool
		want              bool
	}{
		{"dev build always updates", "dev", true, false, false},
		{"latest already installed", "1.0.0", true, false, true},
		{"forced reinstall", "1.0.0", true, true, false},
		{"newer release", "1.0.0", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, upToDate(tt.current, tt.latestLessOrEqual, tt.force))
		})
	}
}

func TestGetVersion(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Version, GetVersion())
	assert.NotEmpty(t, Version)
}

func TestUpdateCheckDue(t *testing.T) {
	t.Parallel()

	stamp := filepath.Join(t.TempDir(), "fel", "last-update-check")
	now := time.Now()

	assert.True(t, updateCheckDue(stamp, now), "missing stamp")

	require.NoError(t, touchStamp(stamp, now.Add(-time.Hour)))
	assert.False(t, updateCheckDue(stamp, now), "checked an hour ago")

	require.NoError(t, touchStamp(stamp, now.Add(-updateCheckInterval-time.Minute)))
	assert.True(t, updateCheckDue(stamp, now), "checked over a day ago")
}

func TestNotifyUpdateSkipsNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	notifyUpdate(context.Background(), &buf)
	assert.Zero(t, buf.Len())
}
