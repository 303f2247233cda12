package telemetry

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// HTTPMetricsMeterName is the meter name of the host API client instruments
	HTTPMetricsMeterName = "github.com/stacklok/reposync/hostapi"

	// HTTPTracerName is the tracer name of host API client spans
	HTTPTracerName = "github.com/stacklok/reposync/hostapi"

	// MetricHTTPRequestDuration is the histogram of host API request durations
	MetricHTTPRequestDuration = "reposync_hostapi_request_duration_seconds"

	// MetricHTTPRequests counts host API requests
	MetricHTTPRequests = "reposync_hostapi_requests_total"
)

// HTTPMetrics holds the host API client instruments. A nil *HTTPMetrics records nothing.
type HTTPMetrics struct {
	requestDuration metric.Float64Histogram
	requestsTotal   metric.Int64Counter
}

// NewHTTPMetrics creates the client instruments. A nil provider yields nil metrics.
func NewHTTPMetrics(provider metric.MeterProvider) (*HTTPMetrics, error) {
	if provider == nil {
		return nil, nil
	}
	meter := provider.Meter(HTTPMetricsMeterName)

	requestDuration, err := meter.Float64Histogram(MetricHTTPRequestDuration,
		metric.WithDescription("Duration of host API requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}
	requestsTotal, err := meter.Int64Counter(MetricHTTPRequests,
		metric.WithDescription("Total number of host API requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	return &HTTPMetrics{requestDuration: requestDuration, requestsTotal: requestsTotal}, nil
}

// Transport instruments outgoing host API requests with a client span and
// request metrics, and propagates the trace context in the request headers.
type Transport struct {
	base       http.RoundTripper
	tracer     trace.Tracer
	metrics    *HTTPMetrics
	propagator propagation.TextMapPropagator
}

// NewTransport wraps base, http.DefaultTransport when nil. A nil provider
// disables spans and nil metrics disable measurements.
func NewTransport(base http.RoundTripper, provider trace.TracerProvider, metrics *HTTPMetrics) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &Transport{
		base:       base,
		metrics:    metrics,
		propagator: otel.GetTextMapPropagator(),
	}
	if provider != nil {
		t.tracer = provider.Tracer(HTTPTracerName)
	}
	return t
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	route := routeOf(req.URL.Path)
	start := time.Now()

	var span trace.Span
	if t.tracer != nil {
		ctx, span = t.tracer.Start(ctx, fmt.Sprintf("%s %s", req.Method, route),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(req.Method),
				semconv.ServerAddress(req.URL.Hostname()),
				semconv.HTTPRouteKey.String(route),
			),
		)
		defer span.End()

		// RoundTrippers must not modify the caller's request
		req = req.Clone(ctx)
		t.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
	}

	resp, err := t.base.RoundTrip(req)

	statusCode := "error"
	if resp != nil {
		statusCode = strconv.Itoa(resp.StatusCode)
	}
	if t.metrics != nil {
		attrs := metric.WithAttributes(
			attribute.String("method", req.Method),
			attribute.String("route", route),
			attribute.String("status_code", statusCode),
		)
		t.metrics.requestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		t.metrics.requestsTotal.Add(ctx, 1, attrs)
	}

	if span != nil {
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, "request failed")
		case resp.StatusCode >= 400:
			span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))
			span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		default:
			span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))
			span.SetStatus(codes.Ok, "")
		}
	}
	return resp, err
}

// routeOf collapses a host API path to a fixed pattern so that repository
// names never become metric labels. Base URL prefixes such as /api/v3 are kept
// out of the pattern.
func routeOf(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	n := len(parts)
	switch {
	case n >= 1 && parts[n-1] == "user":
		return "/user"
	case n >= 3 && parts[n-3] == "repos":
		return "/repos/{owner}/{name}"
	default:
		return "unknown_route"
	}
}
