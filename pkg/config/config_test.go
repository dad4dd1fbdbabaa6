package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	felerrors "thoreinstein.com/fel/pkg/errors"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "origin", cfg.Git.Remote)
	assert.Equal(t, "master", cfg.Git.Upstream)
	assert.Equal(t, "fel", cfg.Submit.BranchPrefix)
	assert.Equal(t, BranchNamingIndex, cfg.Submit.BranchNaming)
	assert.True(t, cfg.Submit.StackFooter)
	assert.Equal(t, MergeMethodRebase, cfg.Land.MergeMethod)
	assert.Equal(t, "refs/notes/fel", cfg.Store.NotesRef)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Retry.Timeout)
	assert.Equal(t, "gh_cli", cfg.GitHub.AuthMethod)
}

func TestLoad_FromTOML(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[git]
upstream = "main"

[submit]
branch_prefix = "jd"
branch_naming = "hash"

[land]
merge_method = "squash"

[retry]
timeout = "5s"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "main", cfg.Git.Upstream)
	assert.Equal(t, "origin", cfg.Git.Remote)
	assert.Equal(t, "jd", cfg.Submit.BranchPrefix)
	assert.Equal(t, BranchNamingHash, cfg.Submit.BranchNaming)
	assert.Equal(t, MergeMethodSquash, cfg.Land.MergeMethod)
	assert.Equal(t, 5*time.Second, cfg.RetryPolicy().Timeout)
}

func TestValidateMergeMethod(t *testing.T) {
	tests := []struct {
		method  string
		wantErr bool
	}{
		{"", false},
		{"rebase", false},
		{"squash", false},
		{"fast-forward", false},
		{"merge", true},
		{"octopus", true},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			err := ValidateMergeMethod(tt.method)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateMergeMethod(%q) error = %v, wantErr %v", tt.method, err, tt.wantErr)
			}
			if err != nil && !felerrors.IsConfigError(err) {
				t.Errorf("expected ConfigError, got %T", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Git:    GitConfig{Remote: "origin", Upstream: "master"},
			Submit: SubmitConfig{BranchPrefix: "fel", BranchNaming: "index"},
			Land:   LandConfig{MergeMethod: "rebase"},
			Store:  StoreConfig{NotesRef: "refs/notes/fel"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad naming", func(c *Config) { c.Submit.BranchNaming = "position" }, "submit.branch_naming"},
		{"empty upstream", func(c *Config) { c.Git.Upstream = "" }, "git.upstream"},
		{"bad prefix", func(c *Config) { c.Submit.BranchPrefix = "a b" }, "submit.branch_prefix"},
		{"bad notes ref", func(c *Config) { c.Store.NotesRef = "refs/heads/x" }, "store.notes_ref"},
		{"bad auth", func(c *Config) { c.GitHub.AuthMethod = "password" }, "github.auth_method"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *felerrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestCheckSecurityWarnings(t *testing.T) {
	t.Setenv("FEL_GITHUB_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "")

	warnings := CheckSecurityWarnings(&Config{GitHub: GitHubConfig{Token: "ghp_x"}})
	require.Len(t, warnings, 1)
	assert.Equal(t, "github.token", warnings[0].Field)

	t.Setenv("FEL_GITHUB_TOKEN", "ghp_env")
	assert.Empty(t, CheckSecurityWarnings(&Config{GitHub: GitHubConfig{Token: "ghp_x"}}))
}
