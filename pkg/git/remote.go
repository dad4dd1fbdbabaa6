package git

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	felerrors "thoreinstein.com/fel/pkg/errors"
)

// PushStatus is the per-ref outcome reported by `git push --porcelain`.
type PushStatus int

// Push statuses, one per porcelain flag character.
const (
	PushUnknown     PushStatus = iota
	PushFastForward            // ' '
	PushForced                 // '+'
	PushNew                    // '*'
	PushUpToDate               // '='
	PushRejected               // '!'
	PushDeleted                // '-'
)

func (s PushStatus) String() string {
	switch s {
	case PushFastForward:
		return "fast-forward"
	case PushForced:
		return "forced"
	case PushNew:
		return "new"
	case PushUpToDate:
		return "up-to-date"
	case PushRejected:
		return "rejected"
	case PushDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Changed reports whether the push moved the remote ref.
func (s PushStatus) Changed() bool {
	return s == PushFastForward || s == PushForced || s == PushNew || s == PushDeleted
}

// RefUpdate is one line of porcelain push output.
type RefUpdate struct {
	Status  PushStatus
	From    string
	To      string
	Summary string
	Reason  string
}

// PushResult collects the ref updates of a single push.
type PushResult struct {
	Updates []RefUpdate
}

// For returns the update for the given remote ref, if any.
func (p *PushResult) For(ref string) (RefUpdate, bool) {
	for _, u := range p.Updates {
		if u.To == ref {
			return u, true
		}
	}
	return RefUpdate{}, false
}

// PushSpec describes one ref to push.
type PushSpec struct {
	Commit string
	Branch string // remote branch name, without refs/heads/
	// Force replaces the remote branch regardless of its current value.
	Force bool
	// MustNotExist makes the push fail if the remote branch already exists.
	MustNotExist bool
}

func (s PushSpec) ref() string {
	return "refs/heads/" + s.Branch
}

// Push pushes specs to the configured remote in one invocation. A rejected
// ref is reported in the result, not as an error; the error return is for
// failures that prevented git from reporting per-ref status.
func (r *Repository) Push(ctx context.Context, specs ...PushSpec) (*PushResult, error) {
	if len(specs) == 0 {
		return &PushResult{}, nil
	}

	args := []string{"push", "--porcelain"}
	for _, s := range specs {
		if s.MustNotExist {
			args = append(args, "--force-with-lease="+s.ref()+":")
		}
	}
	args = append(args, r.remote)
	for _, s := range specs {
		spec := s.Commit + ":" + s.ref()
		if s.Force {
			spec = "+" + spec
		}
		args = append(args, spec)
	}

	out, err := r.runner.Output(ctx, r.dir, "git", args...)
	result := ParsePushOutput(string(out))
	if err != nil && len(result.Updates) == 0 {
		return nil, r.wrap(args, err)
	}
	return result, nil
}

// DeleteRemoteBranch deletes branch on the configured remote.
func (r *Repository) DeleteRemoteBranch(ctx context.Context, branch string) (*PushResult, error) {
	args := []string{"push", "--porcelain", r.remote, ":refs/heads/" + branch}
	out, err := r.runner.Output(ctx, r.dir, "git", args...)
	result := ParsePushOutput(string(out))
	if err != nil && len(result.Updates) == 0 {
		return nil, r.wrap(args, err)
	}
	return result, nil
}

var pushReasonRegex = regexp.MustCompile(`^(.*?)\s*\((.*)\)$`)

// ParsePushOutput parses the output of `git push --porcelain`.
func ParsePushOutput(out string) *PushResult {
	result := &PushResult{}
	for line := range strings.SplitSeq(out, "\n") {
		if len(line) < 2 || line[1] != '\t' {
			continue
		}
		fields := strings.SplitN(line[2:], "\t", 2)
		from, to, _ := strings.Cut(fields[0], ":")
		u := RefUpdate{
			Status: pushStatusFromFlag(line[0]),
			From:   from,
			To:     to,
		}
		if len(fields) == 2 {
			u.Summary = fields[1]
			if m := pushReasonRegex.FindStringSubmatch(fields[1]); m != nil {
				u.Summary, u.Reason = m[1], m[2]
			}
		}
		result.Updates = append(result.Updates, u)
	}
	return result
}

func pushStatusFromFlag(flag byte) PushStatus {
	switch flag {
	case ' ':
		return PushFastForward
	case '+':
		return PushForced
	case '*':
		return PushNew
	case '=':
		return PushUpToDate
	case '!':
		return PushRejected
	case '-':
		return PushDeleted
	default:
		return PushUnknown
	}
}

// Fetch fetches refspecs from the configured remote.
func (r *Repository) Fetch(ctx context.Context, refspecs ...string) error {
	args := append([]string{"fetch", "--quiet", r.remote}, refspecs...)
	return r.run(ctx, args...)
}

// FetchBranch fetches branch into its remote-tracking ref and returns the
// fetched commit.
func (r *Repository) FetchBranch(ctx context.Context, branch string) (string, error) {
	refspec := fmt.Sprintf("+refs/heads/%s:%s", branch, r.RemoteTrackingRef(branch))
	if err := r.Fetch(ctx, refspec); err != nil {
		return "", err
	}
	return r.ResolveRef(ctx, r.RemoteTrackingRef(branch))
}

// RemoteBranchCommit returns the commit branch points at on the remote, or
// ErrRefNotFound.
func (r *Repository) RemoteBranchCommit(ctx context.Context, branch string) (string, error) {
	out, err := r.output(ctx, "ls-remote", "--heads", r.remote, "refs/heads/"+branch)
	if err != nil {
		return "", err
	}
	hash, _, _ := strings.Cut(strings.TrimSpace(out), "\t")
	if hash == "" {
		return "", felerrors.Wrapf(ErrRefNotFound, "%s/%s", r.remote, branch)
	}
	return hash, nil
}
