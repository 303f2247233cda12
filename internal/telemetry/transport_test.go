package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, recorder
}

func TestTransport_SpansAndMetrics(t *testing.T) {
	t.Parallel()

	traceparents := make(chan string, 2)
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparents <- r.Header.Get("traceparent")
		if r.URL.Path == "/user" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	server.Config.SetKeepAlivesEnabled(false)
	server.Start()
	t.Cleanup(server.Close)

	tp, recorder := newTestTracerProvider(t)
	mp, reader := newTestMeterProvider(t)
	hm, err := NewHTTPMetrics(mp)
	require.NoError(t, err)

	transport := NewTransport(nil, tp, hm)
	transport.propagator = propagation.TraceContext{}
	client := &http.Client{Transport: transport}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/repos/acme/widgets", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.NotEmpty(t, <-traceparents, "trace context is propagated")
	assert.Empty(t, req.Header.Get("traceparent"), "the caller's request is not modified")

	req, err = http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/user", nil)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "GET /repos/{owner}/{name}", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "GET /user", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)

	got := collect(t, reader, HTTPMetricsMeterName)
	assert.Equal(t, int64(1), counterValue(t, got[MetricHTTPRequests], attribute.String("status_code", "200")))
	assert.Equal(t, int64(1), counterValue(t, got[MetricHTTPRequests], attribute.String("status_code", "401")))
	assert.Zero(t, counterValue(t, got[MetricHTTPRequests], attribute.String("route", "/repos/acme/widgets")),
		"repository names never become labels")
}

type failingRoundTripper struct{}

func (failingRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestTransport_TransportError(t *testing.T) {
	t.Parallel()

	tp, recorder := newTestTracerProvider(t)
	mp, reader := newTestMeterProvider(t)
	hm, err := NewHTTPMetrics(mp)
	require.NoError(t, err)

	client := &http.Client{Transport: NewTransport(failingRoundTripper{}, tp, hm)}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://example.invalid/user", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	got := collect(t, reader, HTTPMetricsMeterName)
	assert.Equal(t, int64(1), counterValue(t, got[MetricHTTPRequests], attribute.String("status_code", "error")))
}

func TestTransport_Disabled(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	client := &http.Client{Transport: NewTransport(nil, nil, nil)}
	resp, err := client.Get(server.URL + "/user")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRouteOf(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"/user":                     "/user",
		"/repos/acme/widgets":       "/repos/{owner}/{name}",
		"/api/v3/repos/acme/widget": "/repos/{owner}/{name}",
		"/api/v3/user":              "/user",
		"/orgs/acme":                "unknown_route",
		"/":                         "unknown_route",
	}
	for path, want := range tests {
		assert.Equal(t, want, routeOf(path), path)
	}
}
