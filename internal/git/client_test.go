package git

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/reposync/internal/syncerr"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantNil   bool
		permanent bool
		sentinel  error
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "already up to date", err: git.NoErrAlreadyUpToDate, wantNil: true},
		{name: "authentication", err: transport.ErrAuthenticationRequired, permanent: true, sentinel: syncerr.ErrTokenExpired},
		{name: "authorization", err: transport.ErrAuthorizationFailed, permanent: true, sentinel: syncerr.ErrPermissionDenied},
		{name: "not found", err: transport.ErrRepositoryNotFound, permanent: true, sentinel: syncerr.ErrRepositoryNotFound},
		{name: "diverged", err: git.ErrNonFastForwardUpdate, permanent: true, sentinel: syncerr.ErrConflictResolution},
		{name: "dirty worktree", err: git.ErrUnstagedChanges, permanent: true, sentinel: syncerr.ErrConflictResolution},
		{
			name:      "hook rejected large file",
			err:       errors.New("command error on refs/heads/main: pre-receive hook declined (remote: error: GH001: Large files detected)"),
			permanent: true,
			sentinel:  syncerr.ErrFileSizeExceeded,
		},
		{
			name:      "request entity too large",
			err:       errors.New(`unexpected client error: unexpected requesting "https://example.com/acme/widgets.git/git-receive-pack" status code: 413`),
			permanent: true,
			sentinel:  syncerr.ErrFileSizeExceeded,
		},
		{name: "transient", err: errors.New("connection reset by peer")},
		{name: "cancelled", err: context.Canceled, sentinel: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := classify("push", "acme/widgets", tt.err)
			if tt.wantNil {
				assert.NoError(t, got)
				return
			}
			require.Error(t, got)

			var perm *backoff.PermanentError
			assert.Equal(t, tt.permanent, errors.As(got, &perm))
			if tt.sentinel != nil {
				assert.ErrorIs(t, got, tt.sentinel)
			}
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestRemoteErrors(t *testing.T) {
	t.Parallel()

	output := "Counting objects: 3, done.\r\n" +
		"error: GH001: Large files detected. You may want to try Git Large File Storage.\n" +
		"error: File big.bin is 120.00 MB; this exceeds the file size limit of 100.00 MB\n"
	got := remoteErrors(output)
	assert.Equal(t, "error: GH001: Large files detected. You may want to try Git Large File Storage.; "+
		"error: File big.bin is 120.00 MB; this exceeds the file size limit of 100.00 MB", got)
	assert.True(t, rejectedForSize(got))

	assert.Empty(t, remoteErrors("Resolving deltas: 100% (2/2), done.\n"))
	assert.False(t, rejectedForSize("connection reset by peer"))
}

func TestAuth(t *testing.T) {
	t.Parallel()

	a := auth("https://github.com/acme/widgets.git", "tok")
	basic, ok := a.(*githttp.BasicAuth)
	require.True(t, ok)
	assert.Equal(t, "x-access-token", basic.Username)
	assert.Equal(t, "tok", basic.Password)

	assert.Nil(t, auth("git@github.com:acme/widgets.git", "tok"))
	assert.Nil(t, auth("/srv/git/widgets.git", "tok"))
	assert.Nil(t, auth("https://github.com/acme/widgets.git", ""))
}

func TestClient_NotARepository(t *testing.T) {
	t.Parallel()

	c := NewClient(t.TempDir())
	err := c.Pull(context.Background(), "tok")
	require.ErrorIs(t, err, syncerr.ErrInvalidInput)

	var perm *backoff.PermanentError
	assert.True(t, errors.As(err, &perm))
}

func TestClient_PushAndPullRoundTrip(t *testing.T) {
	t.Parallel()
	requireGitBinary(t)

	srcDir, _ := createTestRepo(t, map[string]string{"README.md": "hello\n"})
	bareDir, _ := cloneFrom(t, srcDir, true)

	aliceDir, _ := cloneFrom(t, bareDir, false)
	bobDir, _ := cloneFrom(t, bareDir, false)
	ctx := context.Background()

	// Alice changes two files but only one is in the push set
	require.NoError(t, os.WriteFile(filepath.Join(aliceDir, "README.md"), []byte("hello from alice\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(aliceDir, "big.bin"), []byte("excluded"), 0644))

	alice := NewClient(aliceDir, WithAuthor("Alice", "alice@example.com"))
	require.NoError(t, alice.Push(ctx, "", []string{"README.md"}))

	// Pushing again with nothing new is success
	require.NoError(t, alice.Push(ctx, "", []string{"README.md"}))

	bob := NewClient(bobDir)
	require.NoError(t, bob.Pull(ctx, ""))

	got, err := os.ReadFile(filepath.Join(bobDir, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "hello from alice\n", string(got))

	_, err = os.Stat(filepath.Join(bobDir, "big.bin"))
	assert.True(t, os.IsNotExist(err), "files outside the push set never reach the remote")

	// Pulling again is already up to date
	require.NoError(t, bob.Pull(ctx, ""))
}

func TestClient_PushRejectedWhenDiverged(t *testing.T) {
	t.Parallel()
	requireGitBinary(t)

	srcDir, _ := createTestRepo(t, map[string]string{"README.md": "hello\n"})
	bareDir, _ := cloneFrom(t, srcDir, true)
	aliceDir, _ := cloneFrom(t, bareDir, false)
	bobDir, _ := cloneFrom(t, bareDir, false)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(aliceDir, "a.txt"), []byte("a"), 0644))
	require.NoError(t, NewClient(aliceDir).Push(ctx, "", []string{"a.txt"}))

	require.NoError(t, os.WriteFile(filepath.Join(bobDir, "b.txt"), []byte("b"), 0644))
	err := NewClient(bobDir).Push(ctx, "", []string{"b.txt"})
	require.ErrorIs(t, err, syncerr.ErrConflictResolution)
	assert.False(t, syncerr.IsRetryable(err))
}

func TestClient_Repository(t *testing.T) {
	t.Parallel()

	dir, r := createTestRepo(t, map[string]string{"README.md": "hello\n"})

	_, err := NewClient(dir).Repository()
	require.ErrorContains(t, err, "not configured")

	_, err = r.CreateRemote(&gitconfig.RemoteConfig{
		Name: DefaultRemote,
		URLs: []string{"https://github.com/acme/widgets.git"},
	})
	require.NoError(t, err)
	_, err = r.CreateRemote(&gitconfig.RemoteConfig{
		Name: "local",
		URLs: []string{"/srv/git/widgets"},
	})
	require.NoError(t, err)

	name, err := NewClient(dir).Repository()
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", name)

	_, err = NewClient(dir, WithRemote("local")).Repository()
	require.ErrorContains(t, err, "cannot derive owner/name")
}

func TestClient_ChangedFiles(t *testing.T) {
	t.Parallel()

	dir, _ := createTestRepo(t, map[string]string{
		"README.md":    "hello\n",
		"docs/a.md":    "a\n",
		"unchanged.go": "package x\n",
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("changed\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("new\n"), 0644))
	require.NoError(t, os.Remove(filepath.Join(dir, "docs", "a.md")))

	files, err := NewClient(dir).ChangedFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "docs/a.md", "new.txt"}, files)
}

func TestGitDir(t *testing.T) {
	t.Parallel()

	dir, _ := createTestRepo(t, map[string]string{"README.md": "hello\n"})

	got, err := GitDir(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".git"), got)

	sub := filepath.Join(dir, "docs")
	require.NoError(t, os.Mkdir(sub, 0750))
	got, err = GitDir(sub)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".git"), got, "the git dir is found from a subdirectory")

	_, err = GitDir(t.TempDir())
	require.Error(t, err)
}

func TestGitDir_LinkedWorktree(t *testing.T) {
	t.Parallel()

	dir, _ := createTestRepo(t, map[string]string{"README.md": "hello\n"})
	wt := addLinkedWorktree(t, dir)

	fi, err := os.Stat(filepath.Join(wt, ".git"))
	require.NoError(t, err)
	require.False(t, fi.IsDir(), "a linked worktree has a .git file")

	got, err := GitDir(wt)
	require.NoError(t, err)
	fi, err = os.Stat(got)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	rel, err := filepath.Rel(wt, got)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rel, ".."), "git dir %s is outside the working tree", got)

	// Files written to the git dir never show up as changes
	require.NoError(t, os.WriteFile(filepath.Join(got, "reposync.lock"), nil, 0600))
	files, err := NewClient(wt).ChangedFiles()
	require.NoError(t, err)
	assert.Empty(t, files)
}
