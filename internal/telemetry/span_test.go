package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func TestStartSpan_NilTracer(t *testing.T) {
	t.Parallel()

	ctx, span := StartSpan(context.Background(), nil, "sync.Pull")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	assert.False(t, span.SpanContext().IsValid())
	assert.NotPanics(t, func() { span.End() })
}

func TestStartSpan_RecordsAttributes(t *testing.T) {
	t.Parallel()

	tp, recorder := newTestTracerProvider(t)

	_, span := StartSpan(context.Background(), tp.Tracer("test"), "sync.Push",
		trace.WithAttributes(AttrRepo.String("acme/widgets"), AttrFileCount.Int(3)))
	RecordError(span, errors.New("push rejected for token ghp_secret"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "sync.Push", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "operation failed", spans[0].Status().Description)
	assert.Contains(t, spans[0].Attributes(), AttrRepo.String("acme/widgets"))
	require.Len(t, spans[0].Events(), 1)
}

func TestRecordError_Nil(t *testing.T) {
	t.Parallel()

	tp, recorder := newTestTracerProvider(t)
	_, span := tp.Tracer("test").Start(context.Background(), "ok")
	RecordError(span, nil)
	RecordError(nil, errors.New("ignored"))
	span.End()

	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, codes.Unset, recorder.Ended()[0].Status().Code)
}
