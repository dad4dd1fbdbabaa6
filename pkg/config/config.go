package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	felerrors "thoreinstein.com/fel/pkg/errors"
)

// Config represents the application configuration.
// Repository information (owner/name) is derived from the git remote, not configuration.
type Config struct {
	Git    GitConfig    `mapstructure:"git"`
	GitHub GitHubConfig `mapstructure:"github"`
	Submit SubmitConfig `mapstructure:"submit"`
	Land   LandConfig   `mapstructure:"land"`
	Store  StoreConfig  `mapstructure:"store"`
	Retry  RetryConfig  `mapstructure:"retry"`
	Update UpdateConfig `mapstructure:"update"`
}

// GitConfig holds the remote and upstream branch stacks are built against.
type GitConfig struct {
	Remote   string `mapstructure:"remote"`   // Remote to push entry branches to
	Upstream string `mapstructure:"upstream"` // Branch PRs ultimately target
}

// GitHubConfig holds GitHub integration configuration
type GitHubConfig struct {
	AuthMethod        string  `mapstructure:"auth_method"`         // "token", "oauth", "gh_cli"
	ClientID          string  `mapstructure:"client_id"`           // OAuth app client ID (for device flow)
	Token             string  `mapstructure:"token"`               // For token auth (FEL_GITHUB_TOKEN env var takes precedence)
	APIURL            string  `mapstructure:"api_url"`             // GitHub Enterprise API base URL
	RequestsPerSecond float64 `mapstructure:"requests_per_second"` // Client-side API rate limit
}

// SubmitConfig controls how entries are pushed and described.
type SubmitConfig struct {
	BranchPrefix string   `mapstructure:"branch_prefix"`
	BranchNaming string   `mapstructure:"branch_naming"` // "index" or "hash"
	Draft        bool     `mapstructure:"draft"`
	Reviewers    []string `mapstructure:"reviewers"`
	StackFooter  bool     `mapstructure:"stack_footer"`
	DiffComments bool     `mapstructure:"diff_comments"`
}

// LandConfig controls how entries are merged.
type LandConfig struct {
	MergeMethod string `mapstructure:"merge_method"` // "rebase", "squash", "fast-forward"
	UpdateLocal bool   `mapstructure:"update_local"` // Reset the stack branch to upstream after a full land
}

// StoreConfig locates the identity store.
type StoreConfig struct {
	Path     string `mapstructure:"path"`      // Empty means <git-common-dir>/fel/identities.db
	NotesRef string `mapstructure:"notes_ref"` // Notes ref that carries identities across rewrites
}

// RetryConfig bounds retries of remote operations.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// UpdateConfig controls the release check.
type UpdateConfig struct {
	Check bool `mapstructure:"check"`
}

// SecurityWarning represents a configuration security issue
type SecurityWarning struct {
	Field   string
	Message string
}

// Load loads the configuration from file and environment variables
func Load() (*Config, error) {
	config := &Config{}

	setDefaults()

	if err := viper.Unmarshal(config); err != nil {
		return nil, felerrors.Wrap(err, "failed to unmarshal config")
	}

	if err := expandPaths(config); err != nil {
		return nil, felerrors.Wrap(err, "failed to expand paths")
	}

	if err := config.Validate(); err != nil {
		return nil, felerrors.Wrap(err, "config validation failed")
	}

	return config, nil
}

// CheckSecurityWarnings returns warnings for insecure configuration practices.
func CheckSecurityWarnings(config *Config) []SecurityWarning {
	var warnings []SecurityWarning

	if config.GitHub.Token != "" && os.Getenv("FEL_GITHUB_TOKEN") == "" && os.Getenv("GITHUB_TOKEN") == "" {
		warnings = append(warnings, SecurityWarning{
			Field:   "github.token",
			Message: "GitHub token is set in config file. For security, use FEL_GITHUB_TOKEN environment variable or 'gh auth login' instead.",
		})
	}

	return warnings
}

// Merge methods supported by land. A plain "merge" is rejected because it
// would create merge commits on upstream.
const (
	MergeMethodRebase      = "rebase"
	MergeMethodSquash      = "squash"
	MergeMethodFastForward = "fast-forward"
)

// ValidMergeMethods is the list of supported land strategies.
var ValidMergeMethods = []string{MergeMethodRebase, MergeMethodSquash, MergeMethodFastForward}

// ValidateMergeMethod validates that a merge method is supported.
func ValidateMergeMethod(method string) error {
	if method == "" {
		return nil // Empty is allowed, will use default
	}
	if slices.Contains(ValidMergeMethods, method) {
		return nil
	}
	return felerrors.NewConfigError("land.merge_method",
		"invalid merge method "+`"`+method+`"`+": must be one of: "+strings.Join(ValidMergeMethods, ", "))
}

// Branch naming modes.
const (
	BranchNamingIndex = "index"
	BranchNamingHash  = "hash"
)

// Validate validates the configuration and returns any validation errors.
func (c *Config) Validate() error {
	if err := ValidateMergeMethod(c.Land.MergeMethod); err != nil {
		return err
	}

	switch c.Submit.BranchNaming {
	case "", BranchNamingIndex, BranchNamingHash:
	default:
		return felerrors.NewConfigError("submit.branch_naming", "must be one of: index, hash")
	}

	switch c.GitHub.AuthMethod {
	case "", "token", "oauth", "gh_cli":
	default:
		return felerrors.NewConfigError("github.auth_method", "must be one of: token, oauth, gh_cli")
	}

	if c.Git.Upstream == "" {
		return felerrors.NewConfigError("git.upstream", "must not be empty")
	}
	if c.Git.Remote == "" {
		return felerrors.NewConfigError("git.remote", "must not be empty")
	}
	if strings.ContainsAny(c.Submit.BranchPrefix, " ~^:?*[\\") {
		return felerrors.NewConfigError("submit.branch_prefix", "contains characters not allowed in a branch name")
	}
	if c.Store.NotesRef != "" && !strings.HasPrefix(c.Store.NotesRef, "refs/notes/") {
		return felerrors.NewConfigError("store.notes_ref", "must start with refs/notes/")
	}
	if c.Retry.MaxRetries < 0 {
		return felerrors.NewConfigError("retry.max_retries", "must not be negative")
	}

	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("git.remote", "origin")
	viper.SetDefault("git.upstream", "master")

	viper.SetDefault("github.auth_method", "gh_cli") // Prefer gh CLI auth
	viper.SetDefault("github.client_id", "")
	viper.SetDefault("github.token", "")
	viper.SetDefault("github.api_url", "")
	viper.SetDefault("github.requests_per_second", 5.0)

	viper.SetDefault("submit.branch_prefix", "fel")
	viper.SetDefault("submit.branch_naming", BranchNamingIndex)
	viper.SetDefault("submit.draft", false)
	viper.SetDefault("submit.reviewers", []string{})
	viper.SetDefault("submit.stack_footer", true)
	viper.SetDefault("submit.diff_comments", true)

	viper.SetDefault("land.merge_method", MergeMethodRebase)
	viper.SetDefault("land.update_local", true)

	viper.SetDefault("store.path", "")
	viper.SetDefault("store.notes_ref", "refs/notes/fel")

	viper.SetDefault("retry.max_retries", felerrors.DefaultMaxRetries)
	viper.SetDefault("retry.base_delay", felerrors.DefaultBaseDelay)
	viper.SetDefault("retry.max_delay", felerrors.DefaultMaxDelay)
	viper.SetDefault("retry.timeout", felerrors.DefaultTimeout)

	viper.SetDefault("update.check", true)
}

// RetryPolicy converts the retry section into the errors package form.
func (c *Config) RetryPolicy() felerrors.RetryConfig {
	return felerrors.RetryConfig{
		MaxRetries: c.Retry.MaxRetries,
		BaseDelay:  c.Retry.BaseDelay,
		MaxDelay:   c.Retry.MaxDelay,
		Timeout:    c.Retry.Timeout,
		Jitter:     felerrors.DefaultJitter,
	}
}

// expandPaths expands ~ in paths
func expandPaths(config *Config) error {
	var err error

	config.Store.Path, err = expandPath(config.Store.Path)
	if err != nil {
		return err
	}

	return nil
}

// expandPath expands ~ to home directory
func expandPath(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, path[1:]), nil
}
