package conflict

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/stacklok/reposync/internal/syncerr"
)

//go:generate mockgen -destination=mocks/mock_workspace.go -package=mocks -source=types.go Workspace

// Strategy decides which side of a conflicted file wins
type Strategy string

const (
	// StrategyOurs keeps the local version
	StrategyOurs Strategy = "ours"

	// StrategyTheirs takes the remote version
	StrategyTheirs Strategy = "theirs"

	// StrategyManual leaves the file for the user
	StrategyManual Strategy = "manual"
)

// ParseStrategy accepts ours, theirs or manual in any case.
// Unknown names are rejected rather than defaulted.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyOurs, StrategyTheirs, StrategyManual:
		return st, nil
	default:
		return "", syncerr.InvalidInput(fmt.Sprintf("unknown conflict strategy %q (want ours, theirs or manual)", s), nil)
	}
}

// Side selects one version of a conflicted file
type Side int

const (
	// SideOurs is the local version, index stage 2
	SideOurs Side = 2

	// SideTheirs is the remote version, index stage 3
	SideTheirs Side = 3
)

func (s Side) String() string {
	switch s {
	case SideOurs:
		return "ours"
	case SideTheirs:
		return "theirs"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

var (
	// ErrNotVersioned is returned by a Workspace that is not under version control
	ErrNotVersioned = errors.New("workspace is not under version control")

	// ErrSideMissing is returned by Workspace.Version when the file was deleted on that side
	ErrSideMissing = errors.New("file does not exist on that side")
)

// Workspace inspects and edits a working copy with unmerged files
type Workspace interface {
	// Conflicts lists the workspace-relative paths of unmerged files
	Conflicts(ctx context.Context) ([]string, error)

	// Version returns the content of path on the given side
	Version(ctx context.Context, path string, side Side) ([]byte, error)

	// Author returns who last changed path on the given side, "" when unknown
	Author(ctx context.Context, path string, side Side) (string, error)

	// Write replaces the working copy of path
	Write(ctx context.Context, path string, content []byte) error

	// Remove deletes path from the working copy
	Remove(ctx context.Context, path string) error

	// MarkResolved records path as merged
	MarkResolved(ctx context.Context, path string) error
}

// Record tracks one conflicted file through a session
type Record struct {
	Path         string
	LocalAuthor  string
	RemoteAuthor string
	Strategy     Strategy
	Resolved     bool
}

// Set is a session's conflicts keyed by path
type Set map[string]*Record

// Pending returns the sorted paths that are unresolved and were meant to be
// resolved automatically. A transfer must not run while any remain.
func (s Set) Pending() []string {
	var out []string
	for p, r := range s {
		if !r.Resolved && r.Strategy != StrategyManual {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

// Manual returns the sorted paths left for the user
func (s Set) Manual() []string {
	var out []string
	for p, r := range s {
		if !r.Resolved && r.Strategy == StrategyManual {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

// AllResult summarizes ResolveAll
type AllResult struct {
	Resolved       []string
	ManualRequired []string
	Records        Set
}
