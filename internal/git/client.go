// Package git provides the default go-git backed implementations of the
// workspace inspector and the transfer capability.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/stacklok/reposync/internal/repo"
	"github.com/stacklok/reposync/internal/syncerr"
)

const (
	// DefaultRemote is the remote pulled from and pushed to
	DefaultRemote = "origin"

	// tokenUsername is the basic-auth username hosting services accept with an access token
	tokenUsername = "x-access-token"

	defaultCommitMessage = "Sync workspace changes"
)

// Client pulls and pushes a working copy with go-git
type Client struct {
	path    string
	remote  string
	author  object.Signature
	message string

	mu   sync.Mutex
	repo *git.Repository
}

// Option configures a Client
type Option func(*Client)

// WithRemote sets the remote name, DefaultRemote when unset
func WithRemote(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.remote = name
		}
	}
}

// WithAuthor sets the identity used for commits created by Push
func WithAuthor(name, email string) Option {
	return func(c *Client) {
		c.author = object.Signature{Name: name, Email: email}
	}
}

// WithCommitMessage sets the message of commits created by Push
func WithCommitMessage(msg string) Option {
	return func(c *Client) {
		if msg != "" {
			c.message = msg
		}
	}
}

// WithRepository uses an already open repository instead of opening path
func WithRepository(r *git.Repository) Option {
	return func(c *Client) {
		c.repo = r
	}
}

// NewClient creates a transfer client for the working copy at path
func NewClient(path string, opts ...Option) *Client {
	c := &Client{
		path:    path,
		remote:  DefaultRemote,
		author:  object.Signature{Name: "reposync", Email: "reposync@localhost"},
		message: defaultCommitMessage,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) open() (*git.Repository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.repo != nil {
		return c.repo, nil
	}
	r, err := git.PlainOpenWithOptions(c.path, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, backoff.Permanent(syncerr.InvalidInput("workspace is not a git repository", err))
		}
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	c.repo = r
	return r, nil
}

// GitDir returns the git directory of the working copy at path. For a linked
// worktree, whose .git is a file, this is the worktree's private directory
// under the main repository, never a path inside the working tree.
func GitDir(path string) (string, error) {
	r, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to open repository: %w", err)
	}
	st, ok := r.Storer.(*filesystem.Storage)
	if !ok {
		return "", fmt.Errorf("repository at %s is not stored on disk", path)
	}
	return st.Filesystem().Root(), nil
}

// remoteInfo returns the remote's URL and the owner/name parsed from it, when possible
func (c *Client) remoteInfo(r *git.Repository) (string, string) {
	remote, err := r.Remote(c.remote)
	if err != nil || len(remote.Config().URLs) == 0 {
		return "", ""
	}
	u := remote.Config().URLs[0]
	if ref, err := repo.Parse(u); err == nil {
		return u, ref.String()
	}
	return u, ""
}

// Repository returns the owner/name of the configured remote
func (c *Client) Repository() (string, error) {
	r, err := c.open()
	if err != nil {
		return "", err
	}
	remoteURL, name := c.remoteInfo(r)
	if name == "" {
		if remoteURL == "" {
			return "", fmt.Errorf("remote %q is not configured", c.remote)
		}
		return "", fmt.Errorf("cannot derive owner/name from remote URL %q", remoteURL)
	}
	return name, nil
}

// ChangedFiles lists the sorted worktree paths that differ from HEAD,
// including untracked and deleted files. Ignored files are left out.
func (c *Client) ChangedFiles() ([]string, error) {
	r, err := c.open()
	if err != nil {
		return nil, err
	}
	wt, err := r.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	st, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to read worktree status: %w", err)
	}
	files := make([]string, 0, len(st))
	for path, fs := range st {
		if fs.Worktree == git.Unmodified && fs.Staging == git.Unmodified {
			continue
		}
		files = append(files, path)
	}
	slices.Sort(files)
	return files, nil
}

// auth returns token basic auth for HTTP remotes. Other transports use their own credentials.
func auth(remoteURL, credential string) transport.AuthMethod {
	if credential == "" {
		return nil
	}
	if strings.HasPrefix(remoteURL, "https://") || strings.HasPrefix(remoteURL, "http://") {
		return &githttp.BasicAuth{Username: tokenUsername, Password: credential}
	}
	return nil
}

// Pull fetches the remote branch and merges it into the worktree.
// Being already up to date is success.
func (c *Client) Pull(ctx context.Context, credential string) error {
	r, err := c.open()
	if err != nil {
		return err
	}
	wt, err := r.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	remoteURL, name := c.remoteInfo(r)
	a := auth(remoteURL, credential)
	if a != nil {
		slog.DebugContext(ctx, "Using Git HTTP token authentication", "remote", c.remote)
	}

	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName: c.remote,
		Auth:       a,
	})
	return classify("pull", name, err)
}

// Push stages files, commits them when anything changed, and pushes the
// current branch. Only the listed files are staged so that files excluded by
// the size check never reach the remote.
func (c *Client) Push(ctx context.Context, credential string, files []string) error {
	r, err := c.open()
	if err != nil {
		return err
	}
	wt, err := r.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	for _, f := range files {
		if _, err := wt.Add(f); err != nil {
			return backoff.Permanent(syncerr.InvalidInput(fmt.Sprintf("cannot stage %s", f), err))
		}
	}

	st, err := wt.Status()
	if err != nil {
		return fmt.Errorf("failed to read worktree status: %w", err)
	}
	staged := false
	for _, fs := range st {
		if fs.Staging != git.Unmodified && fs.Staging != git.Untracked {
			staged = true
			break
		}
	}
	if staged {
		sig := c.author
		sig.When = time.Now()
		hash, err := wt.Commit(c.message, &git.CommitOptions{Author: &sig})
		if err != nil {
			return fmt.Errorf("failed to commit: %w", err)
		}
		slog.DebugContext(ctx, "Created sync commit", "commit", hash.String(), "files", len(files))
	}

	remoteURL, name := c.remoteInfo(r)
	var remoteOutput bytes.Buffer
	err = r.PushContext(ctx, &git.PushOptions{
		RemoteName: c.remote,
		Auth:       auth(remoteURL, credential),
		Progress:   &remoteOutput,
	})
	if err != nil {
		if msg := remoteErrors(remoteOutput.String()); msg != "" {
			err = fmt.Errorf("%w (remote: %s)", err, msg)
		}
	}
	return classify("push", name, err)
}

// sizeRejections are fragments of the messages hosts send when a push
// carries a file or pack over their limits
var sizeRejections = []string{
	"large files detected",
	"file size limit",
	"exceeds maximum allowed size",
	"request entity too large",
	"status code: 413",
}

func rejectedForSize(msg string) bool {
	msg = strings.ToLower(msg)
	return slices.ContainsFunc(sizeRejections, func(s string) bool {
		return strings.Contains(msg, s)
	})
}

// remoteErrors returns the error lines the remote printed while receiving the push
func remoteErrors(output string) string {
	var lines []string
	for line := range strings.Lines(output) {
		line = strings.TrimSpace(line)
		if strings.Contains(strings.ToLower(line), "error") {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "; ")
}

// classify maps go-git errors onto the sync taxonomy. Failures no retry can
// fix are wrapped with backoff.Permanent; everything else is left retryable.
func classify(op, name string, err error) error {
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
		return nil
	case errors.Is(err, transport.ErrAuthenticationRequired):
		return backoff.Permanent(syncerr.TokenExpired("remote rejected the credential", err).WithRepo(name))
	case errors.Is(err, transport.ErrAuthorizationFailed):
		return backoff.Permanent(syncerr.PermissionDenied(name, err))
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return backoff.Permanent(syncerr.RepositoryNotFound(name, err))
	case errors.Is(err, git.ErrNonFastForwardUpdate), strings.Contains(err.Error(), "non-fast-forward"):
		return backoff.Permanent(&syncerr.Error{
			Kind:    syncerr.KindConflictResolution,
			Message: "local and remote histories diverged",
			Repo:    name,
			Err:     err,
		})
	case errors.Is(err, git.ErrUnstagedChanges):
		return backoff.Permanent(&syncerr.Error{
			Kind:    syncerr.KindConflictResolution,
			Message: "local changes would be overwritten by the pull",
			Repo:    name,
			Err:     err,
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case rejectedForSize(err.Error()):
		return backoff.Permanent(&syncerr.Error{
			Kind:    syncerr.KindFileSizeExceeded,
			Message: "remote rejected the push as too large",
			Repo:    name,
			Err:     err,
		})
	default:
		return fmt.Errorf("git %s failed: %w", op, err)
	}
}
