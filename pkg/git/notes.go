package git

import (
	"context"
	"strings"
)

// ReadNote returns the note attached to commit under ref. The boolean is
// false when the commit carries no note.
func (r *Repository) ReadNote(ctx context.Context, ref, commit string) (string, bool, error) {
	out, err := r.output(ctx, "notes", "--ref="+ref, "show", commit)
	if err != nil {
		if exitCode(err) == 1 && strings.Contains(strings.ToLower(stderrOf(err)), "no note found") {
			return "", false, nil
		}
		return "", false, err
	}
	return out, true, nil
}

// WriteNote attaches content to commit under ref, replacing any existing note.
func (r *Repository) WriteNote(ctx context.Context, ref, commit, content string) error {
	_, err := r.outputWithInput(ctx, Input{Stdin: content}, "notes", "--ref="+ref, "add", "--force", "--file=-", commit)
	return err
}

// RemoveNote removes the note attached to commit under ref, if any.
func (r *Repository) RemoveNote(ctx context.Context, ref, commit string) error {
	return r.run(ctx, "notes", "--ref="+ref, "remove", "--ignore-missing", commit)
}
