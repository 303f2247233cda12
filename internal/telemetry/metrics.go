package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the meter name of the sync instruments
	SyncMetricsMeterName = "github.com/stacklok/reposync/sync"

	// MetricSyncDuration is the histogram of whole-operation durations
	MetricSyncDuration = "reposync_sync_duration_seconds"

	// MetricSyncAttempts counts finished transfer attempts
	MetricSyncAttempts = "reposync_sync_attempts_total"

	// MetricSyncErrors counts fatal errors surfaced to the caller
	MetricSyncErrors = "reposync_sync_errors_total"

	// MetricFilesExcluded counts files dropped from pushes by the size check
	MetricFilesExcluded = "reposync_files_excluded_total"

	// MetricConflicts counts conflicted files by outcome
	MetricConflicts = "reposync_conflicts_total"

	// MetricBrokenRepositories counts repositories flagged as needing user action
	MetricBrokenRepositories = "reposync_repositories_broken_total"
)

// SyncMetrics holds the sync instruments. A nil *SyncMetrics records nothing.
type SyncMetrics struct {
	duration metric.Float64Histogram
	attempts metric.Int64Counter
	errors   metric.Int64Counter
	excluded metric.Int64Counter
	conflict metric.Int64Counter
	broken   metric.Int64Counter
}

// NewSyncMetrics creates the sync instruments. A nil provider yields nil metrics.
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}
	meter := provider.Meter(SyncMetricsMeterName)

	duration, err := meter.Float64Histogram(MetricSyncDuration,
		metric.WithDescription("Duration of sync operations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}
	attempts, err := meter.Int64Counter(MetricSyncAttempts,
		metric.WithDescription("Number of finished transfer attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}
	errs, err := meter.Int64Counter(MetricSyncErrors,
		metric.WithDescription("Number of failed sync operations by error kind"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}
	excluded, err := meter.Int64Counter(MetricFilesExcluded,
		metric.WithDescription("Number of files left out of a push for exceeding size limits"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, err
	}
	conflict, err := meter.Int64Counter(MetricConflicts,
		metric.WithDescription("Number of conflicted files by resolution outcome"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, err
	}
	broken, err := meter.Int64Counter(MetricBrokenRepositories,
		metric.WithDescription("Number of times a repository was marked as broken"),
		metric.WithUnit("{repository}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		duration: duration,
		attempts: attempts,
		errors:   errs,
		excluded: excluded,
		conflict: conflict,
		broken:   broken,
	}, nil
}

// RecordSyncDuration records how long an operation took
func (m *SyncMetrics) RecordSyncDuration(ctx context.Context, repo, operation string, d time.Duration, success bool) {
	if m == nil {
		return
	}
	m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("repo", repo),
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	))
}

// RecordAttempt counts a finished attempt
func (m *SyncMetrics) RecordAttempt(ctx context.Context, repo, outcome string) {
	if m == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("repo", repo),
		attribute.String("status", outcome),
	))
}

// RecordError counts a fatal error by kind
func (m *SyncMetrics) RecordError(ctx context.Context, repo, kind string) {
	if m == nil {
		return
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("repo", repo),
		attribute.String("kind", kind),
	))
}

// RecordExcluded counts files excluded from a push
func (m *SyncMetrics) RecordExcluded(ctx context.Context, repo string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.excluded.Add(ctx, int64(n), metric.WithAttributes(attribute.String("repo", repo)))
}

// RecordConflicts counts conflicted files with the given outcome (resolved or manual)
func (m *SyncMetrics) RecordConflicts(ctx context.Context, repo, outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.conflict.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("repo", repo),
		attribute.String("outcome", outcome),
	))
}

// RecordBroken counts a repository being marked as broken
func (m *SyncMetrics) RecordBroken(ctx context.Context, repo string) {
	if m == nil {
		return
	}
	m.broken.Add(ctx, 1, metric.WithAttributes(attribute.String("repo", repo)))
}
