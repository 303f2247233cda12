package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

var testAuthor = &object.Signature{Name: "Test Author", Email: "test@example.com"}

// createTestRepo initializes a repository in a temp dir with files committed on the default branch
func createTestRepo(t *testing.T, files map[string]string) (string, *git.Repository) {
	t.Helper()

	dir := t.TempDir()
	r, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	commitFiles(t, r, dir, files, "Initial commit")
	return dir, r
}

func commitFiles(t *testing.T, r *git.Repository, dir string, files map[string]string, msg string) {
	t.Helper()

	wt, err := r.Worktree()
	require.NoError(t, err)

	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		_, err := wt.Add(name)
		require.NoError(t, err)
	}

	_, err = wt.Commit(msg, &git.CommitOptions{Author: testAuthor})
	require.NoError(t, err)
}

// requireGitBinary skips tests that need the local transport, which runs git-upload-pack and git-receive-pack
func requireGitBinary(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available for the local transport")
	}
}

// cloneFrom clones src into a new temp dir
func cloneFrom(t *testing.T, src string, bare bool) (string, *git.Repository) {
	t.Helper()

	dir := t.TempDir()
	r, err := git.PlainClone(dir, bare, &git.CloneOptions{URL: src})
	require.NoError(t, err)
	return dir, r
}

// addLinkedWorktree runs "git worktree add" so the new working copy has a .git file
func addLinkedWorktree(t *testing.T, dir string) string {
	t.Helper()
	requireGitBinary(t)

	wt := filepath.Join(t.TempDir(), "linked")
	out, err := exec.Command("git", "-C", dir, "worktree", "add", "-b", "linked", wt).CombinedOutput()
	require.NoError(t, err, string(out))
	return wt
}
