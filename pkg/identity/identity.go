// Package identity persists the mapping between mutable local commits and
// the stable stack entries (pull requests) they represent.
//
// Two substrates work together. A SQLite side table is the authoritative
// record of every entry and of the single commit each entry is currently
// attached to. A git note under a dedicated ref carries the entry id on the
// commit itself; with notes.rewriteRef configured, git copies that note to
// the new commit whenever a commit is amended or rebased, which is what lets
// an entry be found again after its hash changes.
package identity

import (
	"context"
	"time"
)

// DefaultNotesRef is the notes ref that carries entry ids across rewrites.
const DefaultNotesRef = "refs/notes/fel"

// Identity is a durable stack entry.
type Identity struct {
	EntryID string
	// PRNumber is zero until the entry's pull request has been created.
	PRNumber int
	Branch   string
	Stack    string
	// LastSubmittedTree is the tree hash of the commit last pushed for this entry.
	LastSubmittedTree string
	// LastSubmittedCommit is the commit hash last pushed for this entry.
	LastSubmittedCommit string
	// Revision counts how many distinct contents have been submitted.
	Revision  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPR reports whether a pull request has been recorded for the entry.
func (i *Identity) HasPR() bool {
	return i != nil && i.PRNumber > 0
}

// Clone returns a copy of the identity.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// NoteStore is the git notes substrate the store propagates identities through.
type NoteStore interface {
	ReadNote(ctx context.Context, ref, commit string) (string, bool, error)
	WriteNote(ctx context.Context, ref, commit, content string) error
	RemoveNote(ctx context.Context, ref, commit string) error
}

// ConfigStore reads and writes multi-valued git configuration.
type ConfigStore interface {
	ConfigGetAll(ctx context.Context, key string) ([]string, error)
	ConfigAdd(ctx context.Context, key, value string) error
}

// resolution records how an identity was found for a commit.
type resolution int

const (
	resolvedNone resolution = iota
	// resolvedDirect: the commit itself is attached to the entry.
	resolvedDirect
	// resolvedNote: the commit carries a rewrite-propagated note for a
	// known entry attached to some other commit.
	resolvedNote
	// resolvedRecovered: the note names an entry the side table does not
	// know (for example after the database was removed) and was never
	// forgotten; the entry is rebuilt from the note.
	resolvedRecovered
)
