package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
)

// testRepo is a throwaway repository backed by the real git binary.
type testRepo struct {
	t    *testing.T
	dir  string
	repo *Repository
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	home := t.TempDir()
	t.Setenv("GIT_CONFIG_GLOBAL", filepath.Join(home, "gitconfig"))
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")

	dir := t.TempDir()
	tr := &testRepo{t: t, dir: dir}
	tr.git("init", "-q")
	tr.git("symbolic-ref", "HEAD", "refs/heads/master")
	tr.git("config", "user.name", "Test User")
	tr.git("config", "user.email", "test@example.com")
	tr.git("config", "commit.gpgsign", "false")
	tr.repo = NewRepository(dir, false)
	return tr
}

func (tr *testRepo) git(args ...string) string {
	tr.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = tr.dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		tr.t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

func (tr *testRepo) commit(file, content, message string) string {
	tr.t.Helper()
	if err := os.WriteFile(filepath.Join(tr.dir, file), []byte(content), 0o644); err != nil {
		tr.t.Fatal(err)
	}
	tr.git("add", file)
	tr.git("commit", "-q", "-m", message)
	return tr.git("rev-parse", "HEAD")
}

func requireGitVersion(t *testing.T, major, minor int) {
	t.Helper()
	out, err := exec.Command("git", "version").Output()
	if err != nil {
		t.Skip("git not available")
	}
	m := regexp.MustCompile(`(\d+)\.(\d+)`).FindStringSubmatch(string(out))
	if m == nil {
		t.Skipf("unrecognized git version %q", out)
	}
	gotMajor, _ := strconv.Atoi(m[1])
	gotMinor, _ := strconv.Atoi(m[2])
	if gotMajor < major || (gotMajor == major && gotMinor < minor) {
		t.Skipf("git %d.%d required, have %s", major, minor, strings.TrimSpace(string(out)))
	}
}

func TestIntegration_ReadCommitAndMergeBase(t *testing.T) {
	tr := newTestRepo(t)
	ctx := context.Background()

	base := tr.commit("README", "hello\n", "Initial commit")
	tr.git("checkout", "-q", "-b", "feature")
	a := tr.commit("a.txt", "A\n", "Add file A")

	c, err := tr.repo.ReadCommit(ctx, a)
	if err != nil {
		t.Fatalf("ReadCommit() error = %v", err)
	}
	if c.Parent() != base || c.Subject() != "Add file A" || c.Author.Email != "test@example.com" {
		t.Errorf("ReadCommit() = %+v", c)
	}

	mb, err := tr.repo.MergeBase(ctx, "feature", "master")
	if err != nil || mb != base {
		t.Errorf("MergeBase() = %q, %v; want %q", mb, err, base)
	}

	branch, err := tr.repo.CurrentBranch(ctx)
	if err != nil || branch != "feature" {
		t.Errorf("CurrentBranch() = %q, %v", branch, err)
	}

	ok, err := tr.repo.IsAncestor(ctx, base, a)
	if err != nil || !ok {
		t.Errorf("IsAncestor() = %v, %v", ok, err)
	}
}

func TestIntegration_NotesFollowAmend(t *testing.T) {
	tr := newTestRepo(t)
	ctx := context.Background()

	tr.commit("README", "hello\n", "Initial commit")
	c1 := tr.commit("a.txt", "A\n", "Add file A")

	if err := tr.repo.ConfigAdd(ctx, "notes.rewriteRef", "refs/notes/fel"); err != nil {
		t.Fatal(err)
	}
	if err := tr.repo.WriteNote(ctx, "refs/notes/fel", c1, "entry-id = \"e1\"\n"); err != nil {
		t.Fatalf("WriteNote() error = %v", err)
	}

	tr.git("commit", "-q", "--amend", "-m", "Add file A (amended)")
	c2 := tr.git("rev-parse", "HEAD")
	if c1 == c2 {
		t.Fatal("amend did not change the hash")
	}

	note, ok, err := tr.repo.ReadNote(ctx, "refs/notes/fel", c2)
	if err != nil || !ok {
		t.Fatalf("ReadNote(amended) = %v, %v", ok, err)
	}
	if note != "entry-id = \"e1\"" {
		t.Errorf("note = %q", note)
	}

	if err := tr.repo.RemoveNote(ctx, "refs/notes/fel", c2); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := tr.repo.ReadNote(ctx, "refs/notes/fel", c2); ok {
		t.Error("note still present after RemoveNote()")
	}
	// removing again is not an error
	if err := tr.repo.RemoveNote(ctx, "refs/notes/fel", c2); err != nil {
		t.Errorf("RemoveNote(missing) error = %v", err)
	}
}

func TestIntegration_RebaseWithoutWorkingTree(t *testing.T) {
	requireGitVersion(t, 2, 40)
	tr := newTestRepo(t)
	ctx := context.Background()

	tr.commit("README", "hello\n", "Initial commit")
	tr.git("checkout", "-q", "-b", "feature")
	a := tr.commit("a.txt", "A\n", "Add file A")
	tr.git("checkout", "-q", "master")
	upstream := tr.commit("other.txt", "other\n", "Upstream change")

	rebased, err := tr.repo.Rebase(ctx, a, upstream)
	if err != nil {
		t.Fatalf("Rebase() error = %v", err)
	}
	c, err := tr.repo.ReadCommit(ctx, rebased)
	if err != nil {
		t.Fatal(err)
	}
	if c.Parent() != upstream {
		t.Errorf("parent = %s, want %s", c.Parent(), upstream)
	}
	if c.Subject() != "Add file A" || c.Author.Name != "Test User" {
		t.Errorf("rebased commit = %+v", c)
	}
	files := tr.git("ls-tree", "--name-only", rebased)
	if files != "README\na.txt\nother.txt" {
		t.Errorf("tree = %q", files)
	}
}

func TestIntegration_PushToBareRemote(t *testing.T) {
	tr := newTestRepo(t)
	ctx := context.Background()

	remoteDir := t.TempDir()
	cmd := exec.Command("git", "init", "-q", "--bare", remoteDir)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("init bare: %v\n%s", err, out)
	}
	tr.git("remote", "add", "origin", remoteDir)

	tr.commit("README", "hello\n", "Initial commit")
	a := tr.commit("a.txt", "A\n", "Add file A")

	result, err := tr.repo.Push(ctx, PushSpec{Commit: a, Branch: "fel/feature/1", MustNotExist: true})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if u, _ := result.For("refs/heads/fel/feature/1"); u.Status != PushNew {
		t.Errorf("first push status = %v, want new", u.Status)
	}

	result, err = tr.repo.Push(ctx, PushSpec{Commit: a, Branch: "fel/feature/1", Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if u, _ := result.For("refs/heads/fel/feature/1"); u.Status != PushUpToDate {
		t.Errorf("second push status = %v, want up-to-date", u.Status)
	}

	b := tr.commit("b.txt", "B\n", "Add file B")
	result, err = tr.repo.Push(ctx, PushSpec{Commit: b, Branch: "fel/feature/1", MustNotExist: true})
	if err != nil {
		t.Fatal(err)
	}
	if u, _ := result.For("refs/heads/fel/feature/1"); u.Status != PushRejected {
		t.Errorf("push over existing branch status = %v, want rejected", u.Status)
	}

	got, err := tr.repo.RemoteBranchCommit(ctx, "fel/feature/1")
	if err != nil || got != a {
		t.Errorf("RemoteBranchCommit() = %q, %v; want %q", got, err, a)
	}

	fetched, err := tr.repo.FetchBranch(ctx, "fel/feature/1")
	if err != nil || fetched != a {
		t.Errorf("FetchBranch() = %q, %v", fetched, err)
	}

	if _, err := tr.repo.DeleteRemoteBranch(ctx, "fel/feature/1"); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.repo.RemoteBranchCommit(ctx, "fel/feature/1"); err == nil {
		t.Error("remote branch still exists after delete")
	}
}
