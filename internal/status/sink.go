// Package status provides the data model for sync attempts and the progress
// sinks that receive them.
package status

import (
	"context"
	"fmt"
	"log/slog"
)

//go:generate mockgen -destination=mocks/mock_sink.go -package=mocks -source=sink.go Sink

// Sink receives progress notifications from the sync engine.
// Implementations must be safe for concurrent use. Methods have no error
// returns; a failing sink never fails a sync.
type Sink interface {
	// RecordAttempt is called when an attempt starts and again when it finishes
	RecordAttempt(ctx context.Context, attempt Attempt)

	// RecordError is called once for each fatal error surfaced to the caller
	RecordError(ctx context.Context, repo string, kind string, message string)

	// RecordWarning is called for non-fatal conditions worth showing to the user
	RecordWarning(ctx context.Context, repo string, message string)

	// MarkBroken flags the repository as needing user action (re-link or re-authorize)
	MarkBroken(ctx context.Context, repo string)
}

// NopSink discards every notification
type NopSink struct{}

func (NopSink) RecordAttempt(context.Context, Attempt)              {}
func (NopSink) RecordError(context.Context, string, string, string) {}
func (NopSink) RecordWarning(context.Context, string, string)       {}
func (NopSink) MarkBroken(context.Context, string)                  {}

type multiSink []Sink

// Multi fans notifications out to every sink in order. Nil sinks are skipped.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) RecordAttempt(ctx context.Context, attempt Attempt) {
	for _, s := range m {
		s.RecordAttempt(ctx, attempt)
	}
}

func (m multiSink) RecordError(ctx context.Context, repo, kind, message string) {
	for _, s := range m {
		s.RecordError(ctx, repo, kind, message)
	}
}

func (m multiSink) RecordWarning(ctx context.Context, repo, message string) {
	for _, s := range m {
		s.RecordWarning(ctx, repo, message)
	}
}

func (m multiSink) MarkBroken(ctx context.Context, repo string) {
	for _, s := range m {
		s.MarkBroken(ctx, repo)
	}
}

type safeSink struct {
	inner Sink
}

// Safe wraps a sink so that a panic inside it is logged and swallowed
func Safe(s Sink) Sink {
	if s == nil {
		return NopSink{}
	}
	if _, ok := s.(safeSink); ok {
		return s
	}
	return safeSink{inner: s}
}

func (s safeSink) guard(method string) {
	if r := recover(); r != nil {
		slog.Error("Progress sink panicked",
			"method", method,
			"panic", fmt.Sprint(r))
	}
}

func (s safeSink) RecordAttempt(ctx context.Context, attempt Attempt) {
	defer s.guard("RecordAttempt")
	s.inner.RecordAttempt(ctx, attempt)
}

func (s safeSink) RecordError(ctx context.Context, repo, kind, message string) {
	defer s.guard("RecordError")
	s.inner.RecordError(ctx, repo, kind, message)
}

func (s safeSink) RecordWarning(ctx context.Context, repo, message string) {
	defer s.guard("RecordWarning")
	s.inner.RecordWarning(ctx, repo, message)
}

func (s safeSink) MarkBroken(ctx context.Context, repo string) {
	defer s.guard("MarkBroken")
	s.inner.MarkBroken(ctx, repo)
}

// LogSink writes notifications to a structured logger
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink logging through logger, or slog.Default() when nil
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (l *LogSink) RecordAttempt(ctx context.Context, attempt Attempt) {
	args := []any{
		"repo", attempt.Repo,
		"session", attempt.Session,
		"attempt", attempt.Number,
		"status", attempt.Status,
	}
	switch attempt.Status {
	case AttemptFailed:
		l.logger.WarnContext(ctx, "Sync attempt failed", append(args, "error", attempt.Error)...)
	case AttemptSuccess:
		if attempt.CompletedAt != nil {
			args = append(args, "duration", attempt.CompletedAt.Sub(attempt.StartedAt))
		}
		l.logger.InfoContext(ctx, "Sync attempt succeeded", args...)
	default:
		l.logger.DebugContext(ctx, "Sync attempt started", args...)
	}
}

func (l *LogSink) RecordError(ctx context.Context, repo, kind, message string) {
	l.logger.ErrorContext(ctx, "Sync failed",
		"repo", repo,
		"kind", kind,
		"message", message)
}

func (l *LogSink) RecordWarning(ctx context.Context, repo, message string) {
	l.logger.WarnContext(ctx, "Sync warning",
		"repo", repo,
		"message", message)
}

func (l *LogSink) MarkBroken(ctx context.Context, repo string) {
	l.logger.WarnContext(ctx, "Repository marked as broken", "repo", repo)
}
