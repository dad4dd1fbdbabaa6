package github

import (
	"fmt"
	"slices"
	"strings"
)

type checkState int

const (
	checkPending checkState = iota
	checkPassed
	checkFailed
)

// mergeInputs is everything the two clients collect about a pull request
// before deciding whether it can land.
type mergeInputs struct {
	// mergeable is nil while the service is still computing it.
	mergeable *bool
	// state is the lower-cased mergeable state ("clean", "dirty", "blocked", ...).
	state string
	// reviews maps reviewer login to their latest review state.
	reviews map[string]string
	// requiredApprovals is zero when unknown or not required.
	requiredApprovals int
	// reviewRequired is set when the service reports review is still required
	// without saying how many approvals are missing.
	reviewRequired bool
	requiredChecks []string
	checks         map[string]checkState
}

func evaluateMergeability(in mergeInputs) *Mergeability {
	m := &Mergeability{}

	// Waiting on the service or on running checks is worth retrying;
	// anything else needs a person.
	waiting := 0
	if in.mergeable == nil {
		waiting++
		m.Reasons = append(m.Reasons, "mergeability is still being computed")
	} else if !*in.mergeable || in.state == "dirty" {
		m.Reasons = append(m.Reasons, "has merge conflicts")
	}

	var approvals int
	var changesBy []string
	for login, state := range in.reviews {
		switch strings.ToUpper(state) {
		case "APPROVED":
			approvals++
		case "CHANGES_REQUESTED":
			changesBy = append(changesBy, login)
		}
	}
	if len(changesBy) > 0 {
		slices.Sort(changesBy)
		m.Reasons = append(m.Reasons, "changes requested by "+strings.Join(changesBy, ", "))
	}
	switch {
	case in.requiredApprovals > approvals:
		m.Reasons = append(m.Reasons, fmt.Sprintf("needs %d approving review(s), has %d", in.requiredApprovals, approvals))
	case in.reviewRequired && len(changesBy) == 0:
		m.Reasons = append(m.Reasons, "review required")
	}

	var failed, pending, missing []string
	for name, st := range in.checks {
		switch st {
		case checkFailed:
			failed = append(failed, name)
		case checkPending:
			pending = append(pending, name)
		}
	}
	for _, name := range in.requiredChecks {
		if _, ok := in.checks[name]; !ok {
			missing = append(missing, name)
		}
	}
	for _, group := range []struct {
		label string
		names []string
	}{
		{"failing checks", failed},
		{"pending checks", pending},
		{"missing required checks", missing},
	} {
		if len(group.names) > 0 {
			slices.Sort(group.names)
			m.Reasons = append(m.Reasons, group.label+": "+strings.Join(group.names, ", "))
		}
	}
	if len(pending) > 0 {
		waiting++
	}

	if in.state == "blocked" && len(m.Reasons) == 0 {
		m.Reasons = append(m.Reasons, "blocked by branch protection")
	}

	m.Mergeable = len(m.Reasons) == 0
	m.Pending = !m.Mergeable && waiting == len(m.Reasons)
	return m
}

// latestReviews reduces a review history to each reviewer's latest
// decisive state. Comments do not override an earlier approval.
func latestReviews(history []reviewEvent) map[string]string {
	out := make(map[string]string)
	for _, r := range history {
		state := strings.ToUpper(r.state)
		switch state {
		case "APPROVED", "CHANGES_REQUESTED", "DISMISSED":
			out[r.login] = state
		}
	}
	return out
}

type reviewEvent struct {
	login string
	state string
}

// checkStateFor maps check-run and commit-status vocabulary onto checkState.
func checkStateFor(status, conclusion string) checkState {
	status, conclusion = strings.ToLower(status), strings.ToLower(conclusion)
	switch status {
	case "queued", "in_progress", "pending", "waiting", "requested", "expected":
		return checkPending
	case "failure", "error":
		return checkFailed
	case "success":
		return checkPassed
	}
	switch conclusion {
	case "success", "neutral", "skipped":
		return checkPassed
	case "":
		return checkPending
	default:
		return checkFailed
	}
}
