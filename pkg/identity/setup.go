package identity

import (
	"context"
	"path"

	felerrors "thoreinstein.com/fel/pkg/errors"
)

// RewriteRefKey is the git config key listing the notes refs git copies on
// amend and rebase.
const RewriteRefKey = "notes.rewriteRef"

// EnsureRewriteTracking makes git carry notes under ref across amend and
// rebase. It reports whether the configuration had to be changed.
func EnsureRewriteTracking(ctx context.Context, cfg ConfigStore, ref string) (bool, error) {
	if ref == "" {
		ref = DefaultNotesRef
	}

	refs, err := cfg.ConfigGetAll(ctx, RewriteRefKey)
	if err != nil {
		return false, felerrors.Wrapf(err, "failed to read %s", RewriteRefKey)
	}
	for _, existing := range refs {
		// notes.rewriteRef accepts globs such as refs/notes/*
		if matched, _ := path.Match(existing, ref); matched || existing == ref {
			return false, nil
		}
	}

	if err := cfg.ConfigAdd(ctx, RewriteRefKey, ref); err != nil {
		return false, felerrors.Wrapf(err, "failed to add %s to %s", ref, RewriteRefKey)
	}
	return true, nil
}
