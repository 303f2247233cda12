package telemetry

import (
	"context"

	"github.com/stacklok/reposync/internal/status"
)

// MetricsSink is a status.Sink that counts attempts and broken repositories.
// Fatal errors are counted by the orchestrator itself, so RecordError is a no-op.
type MetricsSink struct {
	status.NopSink
	metrics *SyncMetrics
}

var _ status.Sink = (*MetricsSink)(nil)

// NewMetricsSink returns a sink recording to m. A nil m records nothing.
func NewMetricsSink(m *SyncMetrics) *MetricsSink {
	return &MetricsSink{metrics: m}
}

// RecordAttempt counts finished attempts. In-progress records are ignored.
func (s *MetricsSink) RecordAttempt(ctx context.Context, attempt status.Attempt) {
	if attempt.Status == status.AttemptInProgress {
		return
	}
	s.metrics.RecordAttempt(ctx, attempt.Repo, string(attempt.Status))
}

func (s *MetricsSink) MarkBroken(ctx context.Context, repo string) {
	s.metrics.RecordBroken(ctx, repo)
}
