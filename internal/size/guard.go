// Package size keeps oversized files out of a push.
//
// A file exceeds the individual limit when it is strictly larger than it. The
// aggregate limit applies to the push as a whole: files are accumulated in the
// order given and a file that would take the running total over the limit is
// flagged instead of counted.
package size

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/reposync/internal/syncerr"
)

const (
	// DefaultIndividualLimit is the largest single file the host accepts
	DefaultIndividualLimit int64 = 100 * humanize.MiByte

	// DefaultAggregateLimit bounds the total size of one push
	DefaultAggregateLimit int64 = 1 * humanize.GiByte

	defaultConcurrency = 8
)

// Strategy decides what happens to flagged files
type Strategy string

const (
	// StrategyExclude drops flagged files from the push
	StrategyExclude Strategy = "exclude"

	// StrategyLFS routes flagged files to large file storage
	StrategyLFS Strategy = "lfs"

	// StrategySplit reports flagged files as needing to be split. No transformation is applied.
	StrategySplit Strategy = "split"
)

// ParseStrategy accepts exclude, lfs or split in any case
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyExclude, StrategyLFS, StrategySplit:
		return st, nil
	default:
		return "", syncerr.InvalidInput(fmt.Sprintf("unknown size strategy %q (want exclude, lfs or split)", s), nil)
	}
}

// Report is the size check result for one file
type Report struct {
	Path                   string
	SizeBytes              int64
	ExceedsIndividualLimit bool
	ExceedsRepoLimit       bool
}

// Flagged reports whether the file breaks either limit
func (r Report) Flagged() bool {
	return r.ExceedsIndividualLimit || r.ExceedsRepoLimit
}

// Validation is the result of Validate
type Validation struct {
	AllValid bool

	// Invalid holds the flagged reports in input order
	Invalid []Report

	// Reports holds every report in input order
	Reports []Report

	// TotalBytes is the size of the files that fit within both limits
	TotalBytes int64
}

// Status summarizes ApplyStrategy
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// Outcome is the result of ApplyStrategy
type Outcome struct {
	Status        Status
	ValidFiles    []string
	ExcludedFiles []string
	LFSFiles      []string
	SplitFiles    []string

	// Ignored holds the paths skipped by ignore patterns
	Ignored []string
}

// PushSet returns the files that should be transferred
func (o Outcome) PushSet() []string {
	out := make([]string, 0, len(o.ValidFiles)+len(o.LFSFiles))
	out = append(out, o.ValidFiles...)
	return append(out, o.LFSFiles...)
}

// Limits are the thresholds in bytes
type Limits struct {
	Individual int64
	Aggregate  int64
}

// DefaultLimits returns the host's default limits
func DefaultLimits() Limits {
	return Limits{Individual: DefaultIndividualLimit, Aggregate: DefaultAggregateLimit}
}

// Guard checks files under a root directory
type Guard struct {
	fs          billy.Filesystem
	limits      Limits
	ignore      []string
	concurrency int
}

// Option configures a Guard
type Option func(*Guard) error

// WithRoot reads files from the directory at path
func WithRoot(path string) Option {
	return func(g *Guard) error {
		g.fs = osfs.New(path)
		return nil
	}
}

// WithFilesystem reads files from fs
func WithFilesystem(fs billy.Filesystem) Option {
	return func(g *Guard) error {
		g.fs = fs
		return nil
	}
}

// WithLimits overrides the default limits. Zero fields keep the defaults.
func WithLimits(l Limits) Option {
	return func(g *Guard) error {
		if l.Individual < 0 || l.Aggregate < 0 {
			return errors.New("size limits must not be negative")
		}
		if l.Individual > 0 {
			g.limits.Individual = l.Individual
		}
		if l.Aggregate > 0 {
			g.limits.Aggregate = l.Aggregate
		}
		return nil
	}
}

// WithIgnore skips paths matching any of the doublestar patterns
func WithIgnore(patterns ...string) Option {
	return func(g *Guard) error {
		for _, p := range patterns {
			if !doublestar.ValidatePattern(p) {
				return fmt.Errorf("invalid ignore pattern %q", p)
			}
		}
		g.ignore = append(g.ignore, patterns...)
		return nil
	}
}

// WithConcurrency bounds the number of concurrent stat calls
func WithConcurrency(n int) Option {
	return func(g *Guard) error {
		if n > 0 {
			g.concurrency = n
		}
		return nil
	}
}

// NewGuard creates a Guard. Without WithRoot or WithFilesystem it reads
// relative to the current directory.
func NewGuard(opts ...Option) (*Guard, error) {
	g := &Guard{
		limits:      DefaultLimits(),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	if g.fs == nil {
		g.fs = osfs.New(".")
	}
	return g, nil
}

// Limits returns the limits in effect
func (g *Guard) Limits() Limits {
	return g.limits
}

func (g *Guard) ignored(path string) bool {
	for _, p := range g.ignore {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}

// filter splits paths into those to check and those skipped by ignore patterns
func (g *Guard) filter(paths []string) (keep, skipped []string) {
	for _, p := range paths {
		if g.ignored(p) {
			skipped = append(skipped, p)
			continue
		}
		keep = append(keep, p)
	}
	return keep, skipped
}

// stat returns the size of every path, concurrently. Missing files are zero.
func (g *Guard) stat(ctx context.Context, paths []string) ([]int64, error) {
	sizes := make([]int64, len(paths))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, p := range paths {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			info, err := g.fs.Stat(p)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				return nil
			case err != nil:
				return fmt.Errorf("failed to stat %s: %w", p, err)
			case info.IsDir():
				return nil
			}
			sizes[i] = info.Size()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return sizes, nil
}

// Validate computes a fresh report for every path not skipped by an ignore pattern
func (g *Guard) Validate(ctx context.Context, paths []string) (Validation, error) {
	keep, _ := g.filter(paths)
	return g.validate(ctx, keep)
}

func (g *Guard) validate(ctx context.Context, paths []string) (Validation, error) {
	sizes, err := g.stat(ctx, paths)
	if err != nil {
		return Validation{}, err
	}

	v := Validation{AllValid: true, Reports: make([]Report, 0, len(paths))}
	for i, p := range paths {
		r := Report{Path: p, SizeBytes: sizes[i]}
		switch {
		case r.SizeBytes > g.limits.Individual:
			r.ExceedsIndividualLimit = true
		case v.TotalBytes+r.SizeBytes > g.limits.Aggregate:
			r.ExceedsRepoLimit = true
		default:
			v.TotalBytes += r.SizeBytes
		}
		if r.Flagged() {
			v.AllValid = false
			v.Invalid = append(v.Invalid, r)
		}
		v.Reports = append(v.Reports, r)
	}
	return v, nil
}

// ApplyStrategy validates paths and partitions them according to strategy.
// With the exclude strategy, flagged files never appear in ValidFiles; if
// every file is flagged the result has StatusError and a
// syncerr.KindFileSizeExceeded error.
func (g *Guard) ApplyStrategy(ctx context.Context, paths []string, strategy Strategy) (Outcome, error) {
	switch strategy {
	case StrategyExclude, StrategyLFS, StrategySplit:
	default:
		return Outcome{Status: StatusError}, syncerr.InvalidInput(fmt.Sprintf("unknown size strategy %q", strategy), nil)
	}

	keep, skipped := g.filter(paths)
	v, err := g.validate(ctx, keep)
	if err != nil {
		return Outcome{Status: StatusError}, err
	}

	out := Outcome{Status: StatusSuccess, Ignored: skipped}
	var flagged []string
	for _, r := range v.Reports {
		if r.Flagged() {
			flagged = append(flagged, r.Path)
			slog.WarnContext(ctx, "File exceeds size limit",
				"path", r.Path,
				"size", humanize.IBytes(uint64(r.SizeBytes)),
				"individual_limit", r.ExceedsIndividualLimit,
				"aggregate_limit", r.ExceedsRepoLimit,
				"strategy", strategy)
			continue
		}
		out.ValidFiles = append(out.ValidFiles, r.Path)
	}

	if len(flagged) == 0 {
		return out, nil
	}

	switch strategy {
	case StrategyExclude:
		out.ExcludedFiles = flagged
		out.Status = StatusPartial
		if len(out.ValidFiles) == 0 {
			out.Status = StatusError
			return out, syncerr.FileSizeExceeded(flagged)
		}
	case StrategyLFS:
		out.LFSFiles = flagged
	case StrategySplit:
		out.SplitFiles = flagged
		out.Status = StatusPartial
	}
	return out, nil
}
