package identity

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register the "sqlite" driver

	felerrors "thoreinstein.com/fel/pkg/errors"
)

// ErrNotAttached is returned by Update when no identity is attached to the commit.
var ErrNotAttached = felerrors.New("no identity attached to commit")

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	entry_id    TEXT PRIMARY KEY,
	pr_number   INTEGER NOT NULL DEFAULT 0,
	branch      TEXT NOT NULL UNIQUE,
	stack       TEXT NOT NULL DEFAULT '',
	last_tree   TEXT NOT NULL DEFAULT '',
	last_commit TEXT NOT NULL DEFAULT '',
	revision    INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS attachments (
	commit_hash TEXT PRIMARY KEY,
	entry_id    TEXT NOT NULL UNIQUE REFERENCES entries(entry_id) ON DELETE CASCADE,
	attached_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS forgotten (
	entry_id     TEXT PRIMARY KEY,
	pr_number    INTEGER NOT NULL DEFAULT 0,
	forgotten_at TEXT NOT NULL
);
`

// Store is the persistent identity store. It is owned by a single process
// invocation; concurrent fel runs against one repository are not supported.
type Store struct {
	db     *sql.DB
	notes  NoteStore
	ref    string
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Store.
type Option func(*Store)

// WithNotesRef overrides the notes ref identities are carried under.
func WithNotesRef(ref string) Option {
	return func(s *Store) {
		if ref != "" {
			s.ref = ref
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides entry id generation. Used by tests.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// DefaultPath returns the store location inside a repository's common git dir.
func DefaultPath(gitCommonDir string) string {
	return filepath.Join(gitCommonDir, "fel", "identities.db")
}

// Open opens (creating if needed) the store at path.
func Open(path string, notes NoteStore, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, felerrors.Wrapf(err, "failed to create directory for %s", path)
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, felerrors.Wrap(err, "failed to open identity store")
	}
	// One connection keeps the pragmas and transactions on the same handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, felerrors.Wrap(err, "failed to initialize identity store schema")
	}

	s := &Store{
		db:     db,
		notes:  notes,
		ref:    DefaultNotesRef,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// NotesRef returns the notes ref the store writes to.
func (s *Store) NotesRef() string {
	return s.ref
}

// Peek resolves the identity of commit without changing anything. It sees
// the same identity Lookup would return, which lets graph construction stay
// free of side effects.
func (s *Store) Peek(ctx context.Context, commit string) (*Identity, error) {
	id, _, err := s.resolve(ctx, commit)
	return id, err
}

// Lookup resolves the identity of commit. A commit that is not directly
// attached but carries a rewrite-propagated note has the entry moved to it:
// the previous commit's attachment is dropped, never copied.
func (s *Store) Lookup(ctx context.Context, commit string) (*Identity, error) {
	id, how, err := s.resolve(ctx, commit)
	if err != nil || id == nil {
		return id, err
	}

	switch how {
	case resolvedNote:
		if err := s.attach(ctx, commit, id, false); err != nil {
			return nil, err
		}
		s.logger.Debug("identity propagated", "commit", felerrors.ShortHash(commit), "entry", id.EntryID)
	case resolvedRecovered:
		if err := s.attach(ctx, commit, id, true); err != nil {
			return nil, err
		}
		s.logger.Info("identity recovered from note", "commit", felerrors.ShortHash(commit), "entry", id.EntryID, "pr", id.PRNumber)
	}
	return id, nil
}

// Assign attaches a brand-new identity to commit. EntryID is generated when
// empty. It fails with DuplicateAssignment if the commit is already
// attached to an entry.
func (s *Store) Assign(ctx context.Context, commit string, id Identity) (*Identity, error) {
	existing, err := s.direct(ctx, s.db, commit)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, felerrors.NewStackError(felerrors.KindDuplicateAssignment,
			"commit already belongs to entry "+existing.EntryID).WithCommit(commit)
	}

	if id.EntryID == "" {
		id.EntryID = s.newID()
	}
	if forgotten, err := s.isForgotten(ctx, id.EntryID); err != nil {
		return nil, err
	} else if forgotten {
		return nil, felerrors.NewStackError(felerrors.KindDuplicateAssignment,
			"entry id "+id.EntryID+" was already used").WithCommit(commit)
	}

	now := s.now().UTC()
	id.CreatedAt, id.UpdatedAt = now, now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, felerrors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertEntry(ctx, tx, &id); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO attachments (commit_hash, entry_id, attached_at) VALUES (?, ?, ?)`,
		commit, id.EntryID, formatTime(now)); err != nil {
		return nil, felerrors.Wrap(err, "failed to attach identity")
	}

	// The note is written inside the transaction so a failed note write
	// leaves no half-assigned entry behind.
	if err := s.writeNote(ctx, commit, &id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, felerrors.Wrap(err, "failed to commit identity assignment")
	}

	s.logger.Debug("identity assigned", "commit", felerrors.ShortHash(commit), "entry", id.EntryID, "branch", id.Branch)
	return &id, nil
}

// Update atomically rewrites the identity attached to commit. The entry id
// cannot be changed by the mutator.
func (s *Store) Update(ctx context.Context, commit string, mutate func(*Identity) error) (*Identity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, felerrors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	id, err := s.direct(ctx, tx, commit)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, felerrors.Wrapf(ErrNotAttached, "%s", felerrors.ShortHash(commit))
	}

	before := *id
	if err := mutate(id); err != nil {
		return nil, err
	}
	id.EntryID = before.EntryID
	id.CreatedAt = before.CreatedAt
	id.UpdatedAt = s.now().UTC()

	if _, err := tx.ExecContext(ctx, `
		UPDATE entries
		SET pr_number = ?, branch = ?, stack = ?, last_tree = ?, last_commit = ?, revision = ?, updated_at = ?
		WHERE entry_id = ?`,
		id.PRNumber, id.Branch, id.Stack, id.LastSubmittedTree, id.LastSubmittedCommit, id.Revision,
		formatTime(id.UpdatedAt), id.EntryID); err != nil {
		return nil, felerrors.Wrap(err, "failed to update identity")
	}

	if noteChanged(&before, id) {
		if err := s.writeNote(ctx, commit, id); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, felerrors.Wrap(err, "failed to commit identity update")
	}
	return id, nil
}

// Move attaches the entry of commit from to commit to and writes its note
// there, for commits fel rewrites itself. It returns nil when from has no
// entry. The note on from is removed so the entry is only carried forward.
func (s *Store) Move(ctx context.Context, from, to string) (*Identity, error) {
	id, err := s.Lookup(ctx, from)
	if err != nil || id == nil || from == to {
		return id, err
	}

	existing, err := s.direct(ctx, s.db, to)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.EntryID != id.EntryID {
		return nil, felerrors.NewStackError(felerrors.KindDuplicateAssignment,
			"commit already belongs to entry "+existing.EntryID).WithCommit(to)
	}

	if err := s.attach(ctx, to, id, false); err != nil {
		return nil, err
	}
	if err := s.writeNote(ctx, to, id); err != nil {
		return nil, err
	}
	if err := s.notes.RemoveNote(ctx, s.ref, from); err != nil {
		s.logger.Warn("failed to remove note", "commit", felerrors.ShortHash(from), "error", err)
	}
	s.logger.Debug("identity moved", "from", felerrors.ShortHash(from), "to", felerrors.ShortHash(to), "entry", id.EntryID)
	return id, nil
}

// Forget removes an entry entirely. Its id is remembered as used so a stale
// note that still names it is ignored afterwards.
func (s *Store) Forget(ctx context.Context, entryID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return felerrors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	var commit string
	var pr int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(a.commit_hash, ''), e.pr_number
		FROM entries e LEFT JOIN attachments a ON a.entry_id = e.entry_id
		WHERE e.entry_id = ?`, entryID).Scan(&commit, &pr)
	if felerrors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return felerrors.Wrap(err, "failed to read entry")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE entry_id = ?`, entryID); err != nil {
		return felerrors.Wrap(err, "failed to delete entry")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE entry_id = ?`, entryID); err != nil {
		return felerrors.Wrap(err, "failed to delete attachment")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO forgotten (entry_id, pr_number, forgotten_at) VALUES (?, ?, ?)`,
		entryID, pr, formatTime(s.now().UTC())); err != nil {
		return felerrors.Wrap(err, "failed to record forgotten entry")
	}
	if err := tx.Commit(); err != nil {
		return felerrors.Wrap(err, "failed to commit forget")
	}

	if commit != "" {
		if err := s.notes.RemoveNote(ctx, s.ref, commit); err != nil {
			// The entry is gone either way; a leftover note names a forgotten id and is ignored.
			s.logger.Warn("failed to remove note", "commit", felerrors.ShortHash(commit), "error", err)
		}
	}
	s.logger.Debug("identity forgotten", "entry", entryID, "pr", pr)
	return nil
}

// BranchOwner returns the entry id that owns branch, or "".
func (s *Store) BranchOwner(ctx context.Context, branch string) (string, error) {
	var entryID string
	err := s.db.QueryRowContext(ctx, `SELECT entry_id FROM entries WHERE branch = ?`, branch).Scan(&entryID)
	if felerrors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", felerrors.Wrap(err, "failed to query branch owner")
	}
	return entryID, nil
}

// Entries returns every live entry ordered by creation.
func (s *Store) Entries(ctx context.Context) ([]*Identity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM entries ORDER BY created_at, entry_id`)
	if err != nil {
		return nil, felerrors.Wrap(err, "failed to list entries")
	}
	defer rows.Close()

	var out []*Identity
	for rows.Next() {
		id, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, felerrors.Wrap(rows.Err(), "failed to list entries")
}

// resolve finds the identity for commit without mutating anything.
func (s *Store) resolve(ctx context.Context, commit string) (*Identity, resolution, error) {
	id, err := s.direct(ctx, s.db, commit)
	if err != nil {
		return nil, resolvedNone, err
	}
	if id != nil {
		return id, resolvedDirect, nil
	}

	content, ok, err := s.notes.ReadNote(ctx, s.ref, commit)
	if err != nil {
		return nil, resolvedNone, felerrors.Wrapf(err, "failed to read note for %s", felerrors.ShortHash(commit))
	}
	if !ok {
		return nil, resolvedNone, nil
	}
	payload, err := decodeNote(content)
	if err != nil {
		s.logger.Warn("ignoring unreadable note", "commit", felerrors.ShortHash(commit), "error", err)
		return nil, resolvedNone, nil
	}

	id, err = s.byEntryID(ctx, payload.EntryID)
	if err != nil {
		return nil, resolvedNone, err
	}
	if id != nil {
		return id, resolvedNote, nil
	}

	forgotten, err := s.isForgotten(ctx, payload.EntryID)
	if err != nil {
		return nil, resolvedNone, err
	}
	if forgotten || payload.Branch == "" {
		return nil, resolvedNone, nil
	}
	owner, err := s.BranchOwner(ctx, payload.Branch)
	if err != nil {
		return nil, resolvedNone, err
	}
	if owner != "" {
		return nil, resolvedNone, nil
	}

	now := s.now().UTC()
	return &Identity{
		EntryID:   payload.EntryID,
		PRNumber:  payload.PR,
		Branch:    payload.Branch,
		Stack:     payload.Stack,
		Revision:  payload.Revision,
		CreatedAt: now,
		UpdatedAt: now,
	}, resolvedRecovered, nil
}

// attach moves entry id to commit. With insert, the entry row is created first.
func (s *Store) attach(ctx context.Context, commit string, id *Identity, insert bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return felerrors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if insert {
		if err := insertEntry(ctx, tx, id); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE entry_id = ?`, id.EntryID); err != nil {
		return felerrors.Wrap(err, "failed to detach previous commit")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO attachments (commit_hash, entry_id, attached_at) VALUES (?, ?, ?)`,
		commit, id.EntryID, formatTime(s.now().UTC())); err != nil {
		return felerrors.Wrap(err, "failed to attach identity")
	}
	return felerrors.Wrap(tx.Commit(), "failed to commit attachment")
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const entryColumns = `entry_id, pr_number, branch, stack, last_tree, last_commit, revision, created_at, updated_at`

func (s *Store) direct(ctx context.Context, q querier, commit string) (*Identity, error) {
	row := q.QueryRowContext(ctx, `
		SELECT e.entry_id, e.pr_number, e.branch, e.stack, e.last_tree, e.last_commit, e.revision, e.created_at, e.updated_at
		FROM attachments a JOIN entries e ON e.entry_id = a.entry_id
		WHERE a.commit_hash = ?`, commit)
	id, err := scanEntry(row)
	if felerrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return id, err
}

func (s *Store) byEntryID(ctx context.Context, entryID string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE entry_id = ?`, entryID)
	id, err := scanEntry(row)
	if felerrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return id, err
}

func (s *Store) isForgotten(ctx context.Context, entryID string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM forgotten WHERE entry_id = ?`, entryID).Scan(&n); err != nil {
		return false, felerrors.Wrap(err, "failed to query forgotten entries")
	}
	return n > 0, nil
}

func (s *Store) writeNote(ctx context.Context, commit string, id *Identity) error {
	content, err := encodeNote(id)
	if err != nil {
		return err
	}
	if err := s.notes.WriteNote(ctx, s.ref, commit, content); err != nil {
		return felerrors.Wrapf(err, "failed to write note for %s", felerrors.ShortHash(commit))
	}
	return nil
}

func noteChanged(before, after *Identity) bool {
	return payloadFor(before) != payloadFor(after)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEntry(ctx context.Context, tx execer, id *Identity) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.EntryID, id.PRNumber, id.Branch, id.Stack, id.LastSubmittedTree, id.LastSubmittedCommit,
		id.Revision, formatTime(id.CreatedAt), formatTime(id.UpdatedAt))
	if err != nil {
		return felerrors.Wrapf(err, "failed to insert entry %s", id.EntryID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Identity, error) {
	var id Identity
	var created, updated string
	err := row.Scan(&id.EntryID, &id.PRNumber, &id.Branch, &id.Stack, &id.LastSubmittedTree,
		&id.LastSubmittedCommit, &id.Revision, &created, &updated)
	if err != nil {
		if felerrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, felerrors.Wrap(err, "failed to scan entry")
	}
	id.CreatedAt = parseTime(created)
	id.UpdatedAt = parseTime(updated)
	return &id, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
