// Package conflict detects unmerged files after a pull and resolves them with
// a fixed strategy.
package conflict

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"slices"

	"github.com/stacklok/reposync/internal/syncerr"
)

// Resolver applies conflict strategies to a Workspace. It holds no state.
type Resolver struct{}

// NewResolver creates a Resolver
func NewResolver() *Resolver {
	return &Resolver{}
}

// Detect returns the unmerged paths in sorted order. Each range over the
// sequence queries the workspace again, so it can be restarted after
// resolving files. A workspace that is not under version control yields
// nothing. Any other failure is yielded once as an error.
func (r *Resolver) Detect(ctx context.Context, ws Workspace) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		paths, err := ws.Conflicts(ctx)
		if err != nil {
			if errors.Is(err, ErrNotVersioned) {
				return
			}
			yield("", err)
			return
		}
		slices.Sort(paths)
		for _, p := range slices.Compact(paths) {
			if !yield(p, nil) {
				return
			}
		}
	}
}

// DetectAll materializes Detect
func (r *Resolver) DetectAll(ctx context.Context, ws Workspace) ([]string, error) {
	var out []string
	for p, err := range r.Detect(ctx, ws) {
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ResolveOne applies strategy to path. It returns false for the manual
// strategy, which never changes the workspace. A failure to read, write or
// mark the file is a syncerr.KindConflictResolution error carrying the path.
func (r *Resolver) ResolveOne(ctx context.Context, ws Workspace, path string, strategy Strategy) (bool, error) {
	var side Side
	switch strategy {
	case StrategyManual:
		return false, nil
	case StrategyOurs:
		side = SideOurs
	case StrategyTheirs:
		side = SideTheirs
	default:
		return false, syncerr.InvalidInput("unknown conflict strategy "+string(strategy), nil)
	}

	content, err := ws.Version(ctx, path, side)
	switch {
	case errors.Is(err, ErrSideMissing):
		// The winning side deleted the file
		if err := ws.Remove(ctx, path); err != nil {
			return false, syncerr.ConflictResolution(path, err)
		}
	case err != nil:
		return false, syncerr.ConflictResolution(path, err)
	default:
		if err := ws.Write(ctx, path, content); err != nil {
			return false, syncerr.ConflictResolution(path, err)
		}
	}

	if err := ws.MarkResolved(ctx, path); err != nil {
		return false, syncerr.ConflictResolution(path, err)
	}

	slog.DebugContext(ctx, "Conflict resolved",
		"path", path,
		"strategy", strategy,
		"side", side)
	return true, nil
}

// ResolveAll applies strategy to every unmerged file. On failure the partial
// result is returned with the error; files after the failing one are left alone.
func (r *Resolver) ResolveAll(ctx context.Context, ws Workspace, strategy Strategy) (AllResult, error) {
	result := AllResult{Records: Set{}}

	for path, err := range r.Detect(ctx, ws) {
		if err != nil {
			return result, syncerr.ConflictResolution("", err)
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		rec := &Record{
			Path:         path,
			LocalAuthor:  author(ctx, ws, path, SideOurs),
			RemoteAuthor: author(ctx, ws, path, SideTheirs),
			Strategy:     strategy,
		}
		result.Records[path] = rec

		resolved, err := r.ResolveOne(ctx, ws, path, strategy)
		if err != nil {
			return result, err
		}
		rec.Resolved = resolved
		if resolved {
			result.Resolved = append(result.Resolved, path)
		} else {
			result.ManualRequired = append(result.ManualRequired, path)
		}
	}

	if len(result.Records) > 0 {
		slog.InfoContext(ctx, "Conflicts processed",
			"strategy", strategy,
			"resolved", len(result.Resolved),
			"manual", len(result.ManualRequired))
	}
	return result, nil
}

// author is best-effort metadata; failures leave it empty
func author(ctx context.Context, ws Workspace, path string, side Side) string {
	a, err := ws.Author(ctx, path, side)
	if err != nil {
		return ""
	}
	return a
}
