package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by sync spans
const (
	AttrRepo             = attribute.Key("repo.name")
	AttrOperation        = attribute.Key("sync.operation")
	AttrAttempts         = attribute.Key("sync.attempts")
	AttrErrorKind        = attribute.Key("sync.error_kind")
	AttrConflictStrategy = attribute.Key("conflict.strategy")
	AttrConflictCount    = attribute.Key("conflict.count")
	AttrSizeStrategy     = attribute.Key("size.strategy")
	AttrFileCount        = attribute.Key("file.count")
	AttrExcludedCount    = attribute.Key("file.excluded_count")
	AttrAccessReason     = attribute.Key("access.reason")
	AttrTokenRefreshed   = attribute.Key("token.refreshed")
)

// StartSpan starts a span when tracer is non-nil and otherwise returns the
// span already in ctx, which is a no-op when there is none.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks it failed. The status description
// stays generic so that credentials in error text never reach the span status.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
