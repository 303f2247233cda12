package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"

	"github.com/stacklok/reposync/internal/conflict"
)

const (
	// mergeHeadRef is written by git while a merge is in progress
	mergeHeadRef plumbing.ReferenceName = "MERGE_HEAD"

	// stageMerged is the stage recorded for a normal, fully merged index entry
	stageMerged index.Stage = 0
)

// Workspace implements conflict.Workspace on a go-git repository. Unmerged
// files are the index entries with a stage other than 0; ours is stage 2 and
// theirs is stage 3.
type Workspace struct {
	path string

	mu   sync.Mutex
	repo *git.Repository
	fs   billy.Filesystem
}

var _ conflict.Workspace = (*Workspace)(nil)

// NewWorkspace returns a workspace for the working copy at path. The repository
// is opened on first use; a directory that is not a repository reports
// conflict.ErrNotVersioned.
func NewWorkspace(path string) *Workspace {
	return &Workspace{path: path}
}

// NewWorkspaceFromRepository wraps an already open repository, for example one
// on in-memory storage
func NewWorkspaceFromRepository(repo *git.Repository) (*Workspace, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	return &Workspace{repo: repo, fs: wt.Filesystem}, nil
}

func (w *Workspace) open() (*git.Repository, billy.Filesystem, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.repo != nil {
		return w.repo, w.fs, nil
	}

	repo, err := git.PlainOpenWithOptions(w.path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, nil, conflict.ErrNotVersioned
		}
		return nil, nil, fmt.Errorf("failed to open repository at %s: %w", w.path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	w.repo, w.fs = repo, wt.Filesystem
	return w.repo, w.fs, nil
}

func (w *Workspace) index() (*git.Repository, billy.Filesystem, *index.Index, error) {
	repo, fs, err := w.open()
	if err != nil {
		return nil, nil, nil, err
	}
	idx, err := repo.Storer.Index()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read index: %w", err)
	}
	return repo, fs, idx, nil
}

// Conflicts lists paths with unmerged index entries
func (w *Workspace) Conflicts(_ context.Context) ([]string, error) {
	_, _, idx, err := w.index()
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range idx.Entries {
		if e.Stage != stageMerged {
			paths = append(paths, e.Name)
		}
	}
	slices.Sort(paths)
	return slices.Compact(paths), nil
}

func findEntry(idx *index.Index, path string, stage index.Stage) *index.Entry {
	for _, e := range idx.Entries {
		if e.Name == path && e.Stage == stage {
			return e
		}
	}
	return nil
}

// Version reads the blob recorded for path at the side's index stage
func (w *Workspace) Version(_ context.Context, path string, side conflict.Side) ([]byte, error) {
	repo, _, idx, err := w.index()
	if err != nil {
		return nil, err
	}

	e := findEntry(idx, path, index.Stage(side))
	if e == nil {
		return nil, conflict.ErrSideMissing
	}

	blob, err := repo.BlobObject(e.Hash)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s version of %s: %w", side, path, err)
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s version of %s: %w", side, path, err)
	}
	defer func() {
		_ = r.Close()
	}()
	return io.ReadAll(r)
}

// Author returns the author email of the last commit touching path on the
// given side. Ours is HEAD; theirs is MERGE_HEAD when a merge is in progress.
func (w *Workspace) Author(_ context.Context, path string, side conflict.Side) (string, error) {
	repo, _, err := w.open()
	if err != nil {
		return "", err
	}

	var ref *plumbing.Reference
	switch side {
	case conflict.SideOurs:
		ref, err = repo.Head()
	case conflict.SideTheirs:
		ref, err = repo.Reference(mergeHeadRef, true)
	default:
		return "", fmt.Errorf("unknown side %s", side)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", side, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash(), FileName: &path})
	if err != nil {
		return "", fmt.Errorf("failed to read history of %s: %w", path, err)
	}
	defer iter.Close()

	c, err := iter.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", err
	}
	return c.Author.Email, nil
}

// Write replaces the working copy of path
func (w *Workspace) Write(_ context.Context, path string, content []byte) error {
	_, fs, err := w.open()
	if err != nil {
		return err
	}
	if err := util.WriteFile(fs, path, content, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Remove deletes path from the working copy. A missing file is not an error.
func (w *Workspace) Remove(_ context.Context, path string) error {
	_, fs, err := w.open()
	if err != nil {
		return err
	}
	if err := fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// MarkResolved replaces the unmerged entries of path with a single merged
// entry for the current working copy, or drops them when the file was removed
func (w *Workspace) MarkResolved(_ context.Context, path string) error {
	repo, fs, idx, err := w.index()
	if err != nil {
		return err
	}

	mode := filemode.Regular
	for _, stage := range []index.Stage{index.OurMode, index.TheirMode, index.AncestorMode} {
		if e := findEntry(idx, path, stage); e != nil {
			mode = e.Mode
			break
		}
	}

	entries := slices.DeleteFunc(slices.Clone(idx.Entries), func(e *index.Entry) bool {
		return e.Name == path
	})

	content, err := readFile(fs, path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Resolved as a deletion
	case err != nil:
		return fmt.Errorf("failed to read %s: %w", path, err)
	default:
		hash, err := storeBlob(repo, content)
		if err != nil {
			return fmt.Errorf("failed to store %s: %w", path, err)
		}
		now := time.Now()
		entries = append(entries, &index.Entry{
			Name:       path,
			Hash:       hash,
			Mode:       mode,
			Size:       uint32(len(content)),
			CreatedAt:  now,
			ModifiedAt: now,
		})
	}

	slices.SortStableFunc(entries, func(a, b *index.Entry) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return int(a.Stage) - int(b.Stage)
	})
	idx.Entries = entries

	if err := repo.Storer.SetIndex(idx); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}

func storeBlob(repo *git.Repository, content []byte) (plumbing.Hash, error) {
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(content)))

	wr, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := wr.Write(content); err != nil {
		_ = wr.Close()
		return plumbing.ZeroHash, err
	}
	if err := wr.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return repo.Storer.SetEncodedObject(obj)
}

func readFile(fs billy.Filesystem, path string) ([]byte, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return io.ReadAll(f)
}
