// Package errors provides typed errors for fel.
//
// Errors fall into three groups. Graph construction errors (StackError with a
// topology kind) are fatal to the whole invocation and never retried.
// Transport errors (GitHubError, GitError with Retryable set) are retried with
// a bound before they surface as a per-entry failure. Policy errors
// (StackError with KindNotMergeable or KindUnsubmittedEntry) stop a land walk.
//
// All error types support errors.Is and errors.As from the standard library
// and cockroachdb/errors.
package errors

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Field   string // Which config field has the issue
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
	}
	return "config error: " + e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// NewConfigErrorWithCause creates a new ConfigError with an underlying cause.
func NewConfigErrorWithCause(field, message string, cause error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Cause: cause}
}

// GitHubError represents GitHub API/CLI errors.
type GitHubError struct {
	Operation  string // e.g., "CreatePR", "MergePR"
	StatusCode int    // HTTP status code if applicable
	Message    string
	Retryable  bool
	Cause      error
}

// Error implements the error interface.
func (e *GitHubError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("github %s failed (HTTP %d): %s", e.Operation, e.StatusCode, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("github %s failed: %s: %v", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("github %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *GitHubError) Unwrap() error {
	return e.Cause
}

// NewGitHubError creates a new GitHubError.
func NewGitHubError(operation, message string) *GitHubError {
	return &GitHubError{Operation: operation, Message: message}
}

// NewGitHubErrorWithStatus creates a new GitHubError with HTTP status code.
func NewGitHubErrorWithStatus(operation string, statusCode int, message string) *GitHubError {
	return &GitHubError{
		Operation:  operation,
		StatusCode: statusCode,
		Message:    message,
		Retryable:  isRetryableHTTPStatus(statusCode),
	}
}

// NewGitHubErrorWithCause creates a new GitHubError with an underlying cause.
func NewGitHubErrorWithCause(operation, message string, cause error) *GitHubError {
	return &GitHubError{
		Operation: operation,
		Message:   message,
		Retryable: IsRetryable(cause),
		Cause:     cause,
	}
}

// GitError represents a failed git invocation.
type GitError struct {
	Operation string // e.g., "push", "merge-tree"
	Args      []string
	Stderr    string
	Retryable bool
	Cause     error
}

// Error implements the error interface.
func (e *GitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	return fmt.Sprintf("git %s failed: %s", e.Operation, msg)
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *GitError) Unwrap() error {
	return e.Cause
}

// NewGitError creates a GitError from a failed command. Network-flavoured
// failures (remote hang-ups, timeouts, DNS) are marked retryable.
func NewGitError(operation string, args []string, stderr string, cause error) *GitError {
	return &GitError{
		Operation: operation,
		Args:      args,
		Stderr:    stderr,
		Retryable: isRetryableGitOutput(stderr),
		Cause:     cause,
	}
}

var retryableGitPatterns = []string{
	"could not resolve host",
	"connection timed out",
	"connection reset",
	"the remote end hung up unexpectedly",
	"early eof",
	"operation timed out",
	"temporary failure",
	"http 5",
	"rpc failed",
}

func isRetryableGitOutput(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, p := range retryableGitPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Kind classifies a StackError.
type Kind string

// Stack error kinds.
const (
	KindAmbiguousBase        Kind = "AmbiguousBase"
	KindDetachedHead         Kind = "DetachedHead"
	KindDuplicateAssignment  Kind = "DuplicateAssignment"
	KindInconsistentTopology Kind = "InconsistentTopology"
	KindMergeCommit          Kind = "MergeCommit"
	KindUnsubmittedEntry     Kind = "UnsubmittedEntry"
	KindNotMergeable         Kind = "NotMergeable"
	KindDuplicatePush        Kind = "DuplicatePush"
	KindRebaseConflict       Kind = "RebaseConflict"
	KindClosedEntry          Kind = "ClosedEntry"
)

// StackError represents a stack topology, identity or landing policy error.
type StackError struct {
	Kind    Kind
	Ref     string // branch or ref the error concerns, if any
	Commit  string // commit hash the error concerns, if any
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *StackError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	switch {
	case e.Ref != "" && e.Commit != "":
		fmt.Fprintf(&b, " (%s at %s)", e.Ref, ShortHash(e.Commit))
	case e.Ref != "":
		fmt.Fprintf(&b, " (%s)", e.Ref)
	case e.Commit != "":
		fmt.Fprintf(&b, " (%s)", ShortHash(e.Commit))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *StackError) Unwrap() error {
	return e.Cause
}

// NewStackError creates a new StackError.
func NewStackError(kind Kind, message string) *StackError {
	return &StackError{Kind: kind, Message: message}
}

// WithRef sets the ref the error concerns.
func (e *StackError) WithRef(ref string) *StackError {
	e.Ref = ref
	return e
}

// WithCommit sets the commit the error concerns.
func (e *StackError) WithCommit(commit string) *StackError {
	e.Commit = commit
	return e
}

// WithCause adds an underlying cause to the StackError.
func (e *StackError) WithCause(cause error) *StackError {
	e.Cause = cause
	return e
}

// Topology reports whether the kind is a graph-construction error. These
// abort an invocation before any mutation happens.
func (k Kind) Topology() bool {
	switch k {
	case KindAmbiguousBase, KindDetachedHead, KindDuplicateAssignment, KindInconsistentTopology, KindMergeCommit:
		return true
	}
	return false
}

// WorkflowError represents a failed step while submitting or landing an entry.
type WorkflowError struct {
	Step      string // e.g., "push", "create-pr", "retarget", "merge", "cleanup"
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s: %s", e.Step, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *WorkflowError) Unwrap() error {
	return e.Cause
}

// NewWorkflowError creates a new WorkflowError.
func NewWorkflowError(step, message string) *WorkflowError {
	return &WorkflowError{Step: step, Message: message}
}

// NewWorkflowErrorWithCause creates a new WorkflowError with an underlying cause.
func NewWorkflowErrorWithCause(step, message string, cause error) *WorkflowError {
	return &WorkflowError{
		Step:      step,
		Message:   message,
		Retryable: IsRetryable(cause),
		Cause:     cause,
	}
}

// IsRetryable checks if an error or any error in its chain is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ghErr *GitHubError
	if errors.As(err, &ghErr) {
		return ghErr.Retryable
	}

	var gitErr *GitError
	if errors.As(err, &gitErr) {
		return gitErr.Retryable
	}

	var wfErr *WorkflowError
	if errors.As(err, &wfErr) {
		return wfErr.Retryable
	}

	return false
}

// IsKind reports whether err's chain contains a StackError of the given kind.
func IsKind(err error, kind Kind) bool {
	var stackErr *StackError
	if errors.As(err, &stackErr) {
		return stackErr.Kind == kind
	}
	return false
}

// IsConfigError checks if an error or any error in its chain is a ConfigError.
func IsConfigError(err error) bool {
	var configErr *ConfigError
	return errors.As(err, &configErr)
}

// IsGitHubError checks if an error or any error in its chain is a GitHubError.
func IsGitHubError(err error) bool {
	var ghErr *GitHubError
	return errors.As(err, &ghErr)
}

// IsGitError checks if an error or any error in its chain is a GitError.
func IsGitError(err error) bool {
	var gitErr *GitError
	return errors.As(err, &gitErr)
}

// IsStackError checks if an error or any error in its chain is a StackError.
func IsStackError(err error) bool {
	var stackErr *StackError
	return errors.As(err, &stackErr)
}

// ShortHash abbreviates a commit hash for display.
func ShortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// isRetryableHTTPStatus returns true for HTTP status codes that are typically retryable.
func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}

// Re-export commonly used functions from cockroachdb/errors so consumers can
// use felerrors.Wrap() instead of importing two packages.
var (
	New    = errors.New
	Newf   = errors.Newf
	Wrap   = errors.Wrap
	Wrapf  = errors.Wrapf
	Is     = errors.Is
	As     = errors.As
	Cause  = errors.Cause
	Unwrap = errors.Unwrap
)
