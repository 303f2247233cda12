package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/stacklok/reposync/internal/git"
)

const (
	lockFileName      = "reposync.lock"
	lockRetryInterval = 200 * time.Millisecond
	lockTimeout       = 10 * time.Second
)

// lockPath returns reposync.lock inside the workspace's git directory, which
// for a linked worktree lives under the main repository. A workspace that is
// not a git working copy gets a dot file instead.
func lockPath(workspace string) string {
	if gitDir, err := git.GitDir(workspace); err == nil {
		return filepath.Join(gitDir, lockFileName)
	}
	return filepath.Join(workspace, "."+lockFileName)
}

// lockWorkspace serializes reposync processes working on the same workspace.
// The returned function releases the lock.
func lockWorkspace(ctx context.Context, workspace string) (func(), error) {
	path := lockPath(workspace)
	lock := flock.New(path)

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, lockRetryInterval)
	if err != nil || !locked {
		return nil, fmt.Errorf("workspace %s is locked by another reposync process (lock file %s)", workspace, path)
	}
	return func() {
		_ = lock.Unlock()
	}, nil
}
