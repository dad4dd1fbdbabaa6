package identity

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	felerrors "thoreinstein.com/fel/pkg/errors"
)

// fakeNotes is an in-memory notes substrate. rewrite simulates what git does
// for an amend or rebase when notes.rewriteRef is configured.
type fakeNotes struct {
	mu       sync.Mutex
	notes    map[string]string
	writeErr error
}

func newFakeNotes() *fakeNotes {
	return &fakeNotes{notes: map[string]string{}}
}

func (f *fakeNotes) key(ref, commit string) string { return ref + "@" + commit }

func (f *fakeNotes) ReadNote(_ context.Context, ref, commit string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[f.key(ref, commit)]
	return n, ok, nil
}

func (f *fakeNotes) WriteNote(_ context.Context, ref, commit, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.notes[f.key(ref, commit)] = content
	return nil
}

func (f *fakeNotes) RemoveNote(_ context.Context, ref, commit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.notes, f.key(ref, commit))
	return nil
}

func (f *fakeNotes) rewrite(from, to string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.notes[f.key(DefaultNotesRef, from)]; ok {
		f.notes[f.key(DefaultNotesRef, to)] = n
	}
}

func (f *fakeNotes) has(commit string) bool {
	_, ok, _ := f.ReadNote(context.Background(), DefaultNotesRef, commit)
	return ok
}

func openTestStore(t *testing.T, notes NoteStore) *Store {
	t.Helper()
	seq := 0
	s, err := Open(filepath.Join(t.TempDir(), "fel", "identities.db"), notes,
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("entry-%d", seq)
		}),
		WithClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_AssignAndLookup(t *testing.T) {
	ctx := context.Background()
	notes := newFakeNotes()
	s := openTestStore(t, notes)

	id, err := s.Assign(ctx, "c1", Identity{Branch: "fel/feature/1", Stack: "feature"})
	require.NoError(t, err)
	assert.Equal(t, "entry-1", id.EntryID)
	assert.False(t, id.HasPR())
	assert.True(t, notes.has("c1"), "assign must write the note")

	got, err := s.Lookup(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "entry-1", got.EntryID)
	assert.Equal(t, "fel/feature/1", got.Branch)

	missing, err := s.Lookup(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_AssignDuplicate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, newFakeNotes())

	_, err := s.Assign(ctx, "c1", Identity{Branch: "fel/feature/1"})
	require.NoError(t, err)

	_, err = s.Assign(ctx, "c1", Identity{Branch: "fel/feature/9"})
	require.Error(t, err)
	assert.True(t, felerrors.IsKind(err, felerrors.KindDuplicateAssignment))
}

func TestStore_AssignRollsBackOnNoteFailure(t *testing.T) {
	ctx := context.Background()
	notes := newFakeNotes()
	notes.writeErr = fmt.Errorf("disk full")
	s := openTestStore(t, notes)

	_, err := s.Assign(ctx, "c1", Identity{Branch: "fel/feature/1"})
	require.Error(t, err)

	got, err := s.Peek(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, got, "failed assignment must not leave an entry")

	owner, err := s.BranchOwner(ctx, "fel/feature/1")
	require.NoError(t, err)
	assert.Empty(t, owner)
}

func TestStore_IdentitySurvivesAmend(t *testing.T) {
	ctx := context.Background()
	notes := newFakeNotes()
	s := openTestStore(t, notes)

	_, err := s.Assign(ctx, "c1", Identity{Branch: "fel/feature/1"})
	require.NoError(t, err)
	_, err = s.Update(ctx, "c1", func(id *Identity) error {
		id.PRNumber = 101
		return nil
	})
	require.NoError(t, err)

	// amend: git copies the note from c1 to c1'
	notes.rewrite("c1", "c1-amended")

	peeked, err := s.Peek(ctx, "c1-amended")
	require.NoError(t, err)
	require.NotNil(t, peeked)
	assert.Equal(t, 101, peeked.PRNumber)

	// Peek is read-only: the old commit is still the attachment
	old, err := s.Peek(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, old)

	got, err := s.Lookup(ctx, "c1-amended")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "entry-1", got.EntryID)
	assert.Equal(t, 101, got.PRNumber)

	// the attachment moved: updates now go through the new commit
	_, err = s.Update(ctx, "c1-amended", func(id *Identity) error {
		id.LastSubmittedTree = "t2"
		return nil
	})
	require.NoError(t, err)

	_, err = s.Update(ctx, "c1", func(id *Identity) error { return nil })
	assert.ErrorIs(t, err, ErrNotAttached)

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "propagation must move, never copy")
}

func TestStore_RepeatedAmendChain(t *testing.T) {
	ctx := context.Background()
	notes := newFakeNotes()
	s := openTestStore(t, notes)

	_, err := s.Assign(ctx, "v1", Identity{Branch: "fel/feature/1"})
	require.NoError(t, err)

	prev := "v1"
	for i := 2; i <= 4; i++ {
		next := fmt.Sprintf("v%d", i)
		notes.rewrite(prev, next)
		got, err := s.Lookup(ctx, next)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "entry-1", got.EntryID)
		prev = next
	}

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_Move(t *testing.T) {
	ctx := context.Background()
	notes := newFakeNotes()
	s := openTestStore(t, notes)

	_, err := s.Assign(ctx, "c1", Identity{Branch: "fel/feature/2", PRNumber: 2})
	require.NoError(t, err)
	_, err = s.Assign(ctx, "other", Identity{Branch: "fel/feature/9"})
	require.NoError(t, err)

	moved, err := s.Move(ctx, "c1", "c1-replayed")
	require.NoError(t, err)
	require.NotNil(t, moved)
	assert.Equal(t, "entry-1", moved.EntryID)
	assert.True(t, notes.has("c1-replayed"))
	assert.False(t, notes.has("c1"), "the old commit no longer names the entry")

	got, err := s.Peek(ctx, "c1-replayed")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.PRNumber)

	old, err := s.Peek(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, old)

	none, err := s.Move(ctx, "untracked", "elsewhere")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = s.Move(ctx, "c1-replayed", "other")
	assert.True(t, felerrors.IsKind(err, felerrors.KindDuplicateAssignment))

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestStore_UpdateRewritesNote(t *testing.T) {
	ctx := context.Background()
	notes := newFakeNotes()
	s := openTestStore(t, notes)

	_, err := s.Assign(ctx, "c1", Identity{Branch: "fel/feature/1"})
	require.NoError(t, err)

	updated, err := s.Update(ctx, "c1", func(id *Identity) error {
		id.EntryID = "tampered"
		id.PRNumber = 7
		id.Revision = 1
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "entry-1", updated.EntryID, "entry id is immutable")

	content, ok, _ := notes.ReadNote(ctx, DefaultNotesRef, "c1")
	require.True(t, ok)
	payload, err := decodeNote(content)
	require.NoError(t, err)
	assert.Equal(t, 7, payload.PR)
	assert.Equal(t, "entry-1", payload.EntryID)
}

func TestStore_UpdateMutatorError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, newFakeNotes())

	_, err := s.Assign(ctx, "c1", Identity{Branch: "fel/feature/1"})
	require.NoError(t, err)

	_, err = s.Update(ctx, "c1", func(id *Identity) error {
		id.PRNumber = 5
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	got, err := s.Lookup(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.PRNumber, "failed update must not persist")
}

func TestStore_Forget(t *testing.T) {
	ctx := context.Background()
	notes := newFakeNotes()
	s := openTestStore(t, notes)

	id, err := s.Assign(ctx, "c1", Identity{Branch: "fel/feature/1"})
	require.NoError(t, err)
	notes.rewrite("c1", "c1-rebased")

	require.NoError(t, s.Forget(ctx, id.EntryID))
	assert.False(t, notes.has("c1"), "forget removes the attached commit's note")

	got, err := s.Lookup(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// a stale note elsewhere names a forgotten entry and is ignored
	got, err = s.Lookup(ctx, "c1-rebased")
	require.NoError(t, err)
	assert.Nil(t, got)

	// the id is never reused
	_, err = s.Assign(ctx, "c2", Identity{EntryID: id.EntryID, Branch: "fel/feature/2"})
	assert.True(t, felerrors.IsKind(err, felerrors.KindDuplicateAssignment))

	// forgetting twice is harmless
	require.NoError(t, s.Forget(ctx, id.EntryID))
}

func TestStore_RecoversFromNoteWhenDatabaseLost(t *testing.T) {
	ctx := context.Background()
	notes := newFakeNotes()

	first := openTestStore(t, notes)
	_, err := first.Assign(ctx, "c1", Identity{Branch: "fel/feature/1", Stack: "feature"})
	require.NoError(t, err)
	_, err = first.Update(ctx, "c1", func(id *Identity) error {
		id.PRNumber = 12
		return nil
	})
	require.NoError(t, err)

	// a fresh database sees only the note
	second := openTestStore(t, notes)
	got, err := second.Lookup(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "entry-1", got.EntryID)
	assert.Equal(t, 12, got.PRNumber)
	assert.Equal(t, "fel/feature/1", got.Branch)

	owner, err := second.BranchOwner(ctx, "fel/feature/1")
	require.NoError(t, err)
	assert.Equal(t, "entry-1", owner)
}

func TestStore_IgnoresUnreadableNote(t *testing.T) {
	ctx := context.Background()
	notes := newFakeNotes()
	require.NoError(t, notes.WriteNote(ctx, DefaultNotesRef, "c1", "just some text"))
	s := openTestStore(t, notes)

	got, err := s.Lookup(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_CustomNotesRef(t *testing.T) {
	ctx := context.Background()
	notes := newFakeNotes()
	s, err := Open(filepath.Join(t.TempDir(), "ids.db"), notes, WithNotesRef("refs/notes/custom"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Assign(ctx, "c1", Identity{Branch: "b"})
	require.NoError(t, err)

	_, ok, _ := notes.ReadNote(ctx, "refs/notes/custom", "c1")
	assert.True(t, ok)
	assert.Equal(t, "refs/notes/custom", s.NotesRef())
}
