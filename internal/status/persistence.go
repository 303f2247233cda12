package status

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"k8s.io/utils/clock"
	"k8s.io/utils/ptr"

	"github.com/stacklok/reposync/internal/repo"
)

const (
	// StatusFileName is the name of the per-repository status summary
	StatusFileName = "status.json"

	// EventsFileName is the name of the per-repository append-only event log
	EventsFileName = "events.jsonl"

	lockFileName = ".lock"

	// maxWarnings bounds the warnings kept in a status summary
	maxWarnings = 20
)

// StatusPersistence reads and writes per-repository status summaries
//
//nolint:revive // This name is fine
type StatusPersistence interface {
	// SaveStatus saves the status summary for a repository
	SaveStatus(ctx context.Context, repo string, status *RepoStatus) error

	// LoadStatus loads the status summary for a repository.
	// Returns an empty RepoStatus if nothing was recorded yet.
	LoadStatus(ctx context.Context, repo string) (*RepoStatus, error)

	// LoadAllStatus loads the status summaries of every recorded repository keyed by owner/name
	LoadAllStatus(ctx context.Context) (map[string]*RepoStatus, error)
}

// Event is one line of the event log
type Event struct {
	Time    time.Time `json:"time"`
	Type    string    `json:"type"`
	Repo    string    `json:"repo"`
	Kind    string    `json:"kind,omitempty"`
	Message string    `json:"message,omitempty"`
	Attempt *Attempt  `json:"attempt,omitempty"`
}

// Event types
const (
	EventAttempt = "attempt"
	EventError   = "error"
	EventWarning = "warning"
	EventBroken  = "broken"
)

// FileSink is a Sink that persists notifications under basePath/<owner>/<name>/.
// Each repository gets an append-only JSON lines event log and a status summary
// that is rewritten atomically. Writes are serialized within the process by a
// mutex and across processes by a file lock.
type FileSink struct {
	basePath string
	clock    clock.PassiveClock
	mu       sync.Mutex
}

// FileSinkOption configures a FileSink
type FileSinkOption func(*FileSink)

// WithClock sets the clock used for event timestamps
func WithClock(c clock.PassiveClock) FileSinkOption {
	return func(f *FileSink) {
		f.clock = c
	}
}

// NewFileSink creates a file-backed sink rooted at basePath
func NewFileSink(basePath string, opts ...FileSinkOption) *FileSink {
	f := &FileSink{
		basePath: basePath,
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var (
	_ Sink              = (*FileSink)(nil)
	_ StatusPersistence = (*FileSink)(nil)
)

// repoDir resolves the directory for a repository. The name must be a valid
// owner/name reference so that it cannot escape basePath.
func (f *FileSink) repoDir(name string) (string, error) {
	ref, err := repo.Parse(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.basePath, ref.Owner, ref.Name), nil
}

// update appends an event and applies mutate to the status summary under both locks
func (f *FileSink) update(name string, ev Event, mutate func(*RepoStatus)) error {
	dir, err := f.repoDir(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create status directory for repository '%s': %w", name, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	lock := flock.New(filepath.Join(dir, lockFileName))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock status directory for repository '%s': %w", name, err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	if err := appendEvent(filepath.Join(dir, EventsFileName), ev); err != nil {
		return fmt.Errorf("failed to append event for repository '%s': %w", name, err)
	}

	st, err := readStatus(filepath.Join(dir, StatusFileName))
	if err != nil {
		return fmt.Errorf("failed to read status for repository '%s': %w", name, err)
	}
	mutate(st)
	if err := writeStatus(dir, st); err != nil {
		return fmt.Errorf("failed to write status for repository '%s': %w", name, err)
	}
	return nil
}

func (f *FileSink) report(ctx context.Context, method, name string, err error) {
	if err != nil {
		slog.WarnContext(ctx, "File sink could not record notification",
			"method", method,
			"repo", name,
			"error", err)
	}
}

// RecordAttempt appends the attempt to the event log and updates the summary phase
func (f *FileSink) RecordAttempt(ctx context.Context, attempt Attempt) {
	ev := Event{Time: f.clock.Now(), Type: EventAttempt, Repo: attempt.Repo, Attempt: &attempt}
	err := f.update(attempt.Repo, ev, func(st *RepoStatus) {
		st.LastSession = attempt.Session
		st.LastAttempt = ptr.To(attempt.StartedAt)
		st.AttemptCount = attempt.Number
		switch attempt.Status {
		case AttemptInProgress:
			st.Phase = SyncPhaseSyncing
		case AttemptSuccess:
			st.Phase = SyncPhaseComplete
			st.Message = ""
			st.LastErrorKind = ""
			st.LastSyncTime = attempt.CompletedAt
		case AttemptFailed:
			st.Phase = SyncPhaseFailed
			st.Message = attempt.Error
		}
	})
	f.report(ctx, "RecordAttempt", attempt.Repo, err)
}

// RecordError appends the error and marks the summary failed
func (f *FileSink) RecordError(ctx context.Context, name, kind, message string) {
	ev := Event{Time: f.clock.Now(), Type: EventError, Repo: name, Kind: kind, Message: message}
	err := f.update(name, ev, func(st *RepoStatus) {
		st.Phase = SyncPhaseFailed
		st.LastErrorKind = kind
		st.Message = message
	})
	f.report(ctx, "RecordError", name, err)
}

// RecordWarning appends the warning and keeps the most recent ones in the summary
func (f *FileSink) RecordWarning(ctx context.Context, name, message string) {
	ev := Event{Time: f.clock.Now(), Type: EventWarning, Repo: name, Message: message}
	err := f.update(name, ev, func(st *RepoStatus) {
		st.Warnings = append(st.Warnings, message)
		if n := len(st.Warnings); n > maxWarnings {
			st.Warnings = st.Warnings[n-maxWarnings:]
		}
	})
	f.report(ctx, "RecordWarning", name, err)
}

// MarkBroken sets the broken marker. BrokenSince keeps the first time it was set.
func (f *FileSink) MarkBroken(ctx context.Context, name string) {
	now := f.clock.Now()
	ev := Event{Time: now, Type: EventBroken, Repo: name}
	err := f.update(name, ev, func(st *RepoStatus) {
		if !st.Broken {
			st.BrokenSince = ptr.To(now)
		}
		st.Broken = true
	})
	f.report(ctx, "MarkBroken", name, err)
}

// ClearBroken removes the broken marker, typically after the user re-linked the repository
func (f *FileSink) ClearBroken(_ context.Context, name string) error {
	ev := Event{Time: f.clock.Now(), Type: EventBroken, Repo: name, Message: "cleared"}
	return f.update(name, ev, func(st *RepoStatus) {
		st.Broken = false
		st.BrokenSince = nil
	})
}

// SaveStatus replaces the status summary for a repository
func (f *FileSink) SaveStatus(_ context.Context, name string, status *RepoStatus) error {
	dir, err := f.repoDir(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create status directory for repository '%s': %w", name, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	lock := flock.New(filepath.Join(dir, lockFileName))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock status directory for repository '%s': %w", name, err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	if err := writeStatus(dir, status); err != nil {
		return fmt.Errorf("failed to write status for repository '%s': %w", name, err)
	}
	return nil
}

// LoadStatus loads the status summary for a repository
func (f *FileSink) LoadStatus(_ context.Context, name string) (*RepoStatus, error) {
	dir, err := f.repoDir(name)
	if err != nil {
		return nil, err
	}
	st, err := readStatus(filepath.Join(dir, StatusFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read status for repository '%s': %w", name, err)
	}
	return st, nil
}

// LoadAllStatus walks basePath/<owner>/<name> and loads every summary found
func (f *FileSink) LoadAllStatus(ctx context.Context) (map[string]*RepoStatus, error) {
	result := make(map[string]*RepoStatus)

	owners, err := os.ReadDir(f.basePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to read status directory: %w", err)
	}

	for _, owner := range owners {
		if !owner.IsDir() {
			continue
		}
		names, err := os.ReadDir(filepath.Join(f.basePath, owner.Name()))
		if err != nil {
			continue
		}
		for _, n := range names {
			if !n.IsDir() {
				continue
			}
			key := owner.Name() + "/" + n.Name()
			st, err := f.LoadStatus(ctx, key)
			if err != nil {
				// Skip unreadable entries so one corrupt file does not hide the rest
				continue
			}
			result[key] = st
		}
	}

	return result, nil
}

// Events reads the event log for a repository in the order it was written
func (f *FileSink) Events(_ context.Context, name string) ([]Event, error) {
	dir, err := f.repoDir(name)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path is built from basePath and a validated owner/name
	data, err := os.ReadFile(filepath.Join(dir, EventsFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read events for repository '%s': %w", name, err)
	}

	var events []Event
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return events, fmt.Errorf("failed to decode events for repository '%s': %w", name, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func appendEvent(path string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	// #nosec G304 -- path is built from basePath and a validated owner/name
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func readStatus(path string) (*RepoStatus, error) {
	// #nosec G304 -- path is built from basePath and a validated owner/name
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Nothing recorded yet
			return &RepoStatus{}, nil
		}
		return nil, err
	}
	var st RepoStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func writeStatus(dir string, st *RepoStatus) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	filePath := filepath.Join(dir, StatusFileName)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	return nil
}
