package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		config      *Config
		wantSDKTP   bool
		wantSDKMP   bool
		errContains string
	}{
		{
			name: "nil config",
		},
		{
			name:   "disabled",
			config: &Config{Enabled: false, Tracing: &TracingConfig{Enabled: true}},
		},
		{
			name: "enabled with both signals off",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: false},
				Metrics: &MetricsConfig{Enabled: false},
			},
		},
		{
			name: "tracing only",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: 1},
			},
			wantSDKTP: true,
		},
		{
			name: "both signals",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true},
				Metrics: &MetricsConfig{Enabled: true},
			},
			wantSDKTP: true,
			wantSDKMP: true,
		},
		{
			name: "invalid sampling",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: 1.5},
			},
			errContains: "invalid telemetry configuration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			tel, err := New(ctx,
				WithTelemetryConfig(tt.config),
				WithProviderOptions(
					WithSpanExporter(tracetest.NewInMemoryExporter()),
					WithMetricReader(sdkmetric.NewManualReader()),
				),
			)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)

			if tt.wantSDKTP {
				assert.IsType(t, &sdktrace.TracerProvider{}, tel.TracerProvider())
			} else {
				assert.IsType(t, tracenoop.TracerProvider{}, tel.TracerProvider())
			}
			if tt.wantSDKMP {
				assert.IsType(t, &sdkmetric.MeterProvider{}, tel.MeterProvider())
			} else {
				assert.IsType(t, metricnoop.MeterProvider{}, tel.MeterProvider())
			}
			assert.NotNil(t, tel.Tracer("test"))

			require.NoError(t, tel.Shutdown(ctx))
		})
	}
}

func TestNewTracerProvider_ExportsSpans(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	exp := tracetest.NewInMemoryExporter()
	tp, err := NewTracerProvider(ctx,
		WithTracingConfig(&TracingConfig{Enabled: true, Sampling: 1}),
		WithSpanExporter(exp),
		WithServiceName("reposync-test"),
	)
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(ctx, "sync")
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "sync", spans[0].Name)

	sdk, ok := tp.(*sdktrace.TracerProvider)
	require.True(t, ok)
	require.NoError(t, sdk.Shutdown(ctx))
}

func TestNewMeterProvider_OTLPExporter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// The OTLP HTTP exporter connects lazily so construction succeeds without a collector
	mp, err := NewMeterProvider(ctx,
		WithMetricsConfig(&MetricsConfig{Enabled: true}),
		WithEndpoint("127.0.0.1:4318"),
		WithInsecure(true),
	)
	require.NoError(t, err)
	sdk, ok := mp.(*sdkmetric.MeterProvider)
	require.True(t, ok)

	shutdownCtx, cancel := context.WithCancel(ctx)
	cancel()
	_ = sdk.Shutdown(shutdownCtx)
}
