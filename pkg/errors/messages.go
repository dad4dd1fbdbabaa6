package errors

import (
	"fmt"
	"strings"
)

// FormatUserError returns a user-friendly error message with actionable guidance.
// It examines the error chain and provides context-appropriate help text.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var stackErr *StackError
	if As(err, &stackErr) {
		return formatStackError(stackErr)
	}

	var configErr *ConfigError
	if As(err, &configErr) {
		return formatConfigError(configErr)
	}

	var ghErr *GitHubError
	if As(err, &ghErr) {
		return formatGitHubError(ghErr)
	}

	var gitErr *GitError
	if As(err, &gitErr) {
		return formatGitError(gitErr)
	}

	return err.Error()
}

func formatConfigError(err *ConfigError) string {
	var b strings.Builder

	if err.Field != "" {
		fmt.Fprintf(&b, "Configuration error in '%s': %s\n", err.Field, err.Message)
	} else {
		fmt.Fprintf(&b, "Configuration error: %s\n", err.Message)
	}

	b.WriteString("\nTo fix this:\n")
	b.WriteString("  • Check your config file: ~/.config/fel/config.toml\n")
	b.WriteString("  • Check the repository override file: .fel.toml\n")

	if err.Cause != nil {
		fmt.Fprintf(&b, "\nUnderlying error: %v", err.Cause)
	}

	return b.String()
}

// formatGitHubError formats a GitHubError with actionable guidance based on status code.
func formatGitHubError(err *GitHubError) string {
	var b strings.Builder

	fmt.Fprintf(&b, "GitHub error during %s: %s\n", err.Operation, err.Message)

	switch err.StatusCode {
	case 401:
		b.WriteString("\nAuthentication failed. To fix this:\n")
		b.WriteString("  • Set the FEL_GITHUB_TOKEN or GITHUB_TOKEN environment variable\n")
		b.WriteString("  • Or run 'gh auth login' and set github.auth_method = \"gh_cli\"\n")
		b.WriteString("  • Ensure your token has the 'repo' scope\n")

	case 403:
		b.WriteString("\nPermission denied. To fix this:\n")
		b.WriteString("  • Ensure you have write access to this repository\n")
		b.WriteString("  • If using SSO, ensure the token is authorized for your organization\n")

	case 404:
		b.WriteString("\nResource not found. To fix this:\n")
		b.WriteString("  • Verify the remote points at the right repository\n")
		b.WriteString("  • Ensure the branch or PR still exists\n")

	case 422:
		b.WriteString("\nValidation failed. To fix this:\n")
		b.WriteString("  • Ensure the base branch exists on the remote\n")
		b.WriteString("  • Check that a PR for this branch is not already open\n")

	case 429:
		b.WriteString("\nRate limit exceeded. Wait a few minutes before retrying.\n")

	case 500, 502, 503, 504:
		b.WriteString("\nGitHub server error. Wait a few moments and try again.\n")
		b.WriteString("  • Check GitHub Status: https://www.githubstatus.com\n")
	}

	if err.Retryable {
		b.WriteString("\nThis error may be temporary. Re-running the command is safe.\n")
	}

	if err.Cause != nil {
		fmt.Fprintf(&b, "\nUnderlying error: %v", err.Cause)
	}

	return b.String()
}

func formatGitError(err *GitError) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", err.Error())
	if len(err.Args) > 0 {
		fmt.Fprintf(&b, "\nCommand: git %s\n", strings.Join(err.Args, " "))
	}
	if err.Retryable {
		b.WriteString("\nThis looks like a network problem. Re-running the command is safe.\n")
	}
	return b.String()
}

// formatStackError formats a StackError with guidance per kind.
func formatStackError(err *StackError) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", err.Error())

	switch err.Kind {
	case KindDetachedHead:
		b.WriteString("\nTo fix this:\n")
		b.WriteString("  • Check out a branch, or pass the branch name explicitly\n")

	case KindAmbiguousBase:
		b.WriteString("\nThe branch shares no history with upstream. To fix this:\n")
		b.WriteString("  • Fetch the remote and verify git.upstream is set correctly\n")

	case KindMergeCommit:
		b.WriteString("\nStacks must be linear. To fix this:\n")
		b.WriteString("  • Rebase the branch onto upstream to drop merge commits\n")

	case KindInconsistentTopology, KindDuplicateAssignment:
		b.WriteString("\nThe stack metadata is inconsistent. To fix this:\n")
		b.WriteString("  • Run with --verbose to see which commits disagree\n")
		b.WriteString("  • Remove the stale note with 'git notes --ref=refs/notes/fel remove <commit>'\n")

	case KindUnsubmittedEntry:
		b.WriteString("\nRun 'fel submit' before landing.\n")

	case KindNotMergeable:
		b.WriteString("\nResolve the blocking review or check, then run 'fel land' again.\n")
		b.WriteString("Already landed entries will not be landed twice.\n")

	case KindRebaseConflict:
		b.WriteString("\nThe entry no longer applies cleanly on upstream. To fix this:\n")
		b.WriteString("  • Rebase the stack locally, resolve conflicts, and run 'fel submit'\n")

	case KindDuplicatePush:
		b.WriteString("\nThe remote branch already exists and belongs to something else.\n")
		b.WriteString("  • Delete the remote branch or change submit.branch_prefix\n")
	}

	if err.Cause != nil {
		fmt.Fprintf(&b, "\nUnderlying error: %v", err.Cause)
	}

	return b.String()
}
