package middleware

import (
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "ingest/http"

// Probe endpoints scraped by the orchestrator and Prometheus.
var untracedPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

type httpInstruments struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	duration   metric.Float64Histogram
	total      metric.Int64Counter
}

// Tracing opens a server span per request, continuing the caller's trace when
// one is propagated, and records request metrics keyed by the matched route
// pattern. /health and /metrics pass through untouched.
func Tracing(next http.Handler) http.Handler {
	return newTracing(otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator())(next)
}

func newTracing(tp trace.TracerProvider, mp metric.MeterProvider, prop propagation.TextMapPropagator) func(http.Handler) http.Handler {
	meter := mp.Meter(instrumentationName)
	inst := httpInstruments{
		tracer:     tp.Tracer(instrumentationName),
		propagator: prop,
	}
	inst.duration, _ = meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	inst.total, _ = meter.Int64Counter("http.server.request.total",
		metric.WithDescription("Total HTTP requests"),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if untracedPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			inst.serve(next, w, r)
		})
	}
}

func (inst httpInstruments) serve(next http.Handler, w http.ResponseWriter, r *http.Request) {
	ctx := inst.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := inst.tracer.Start(ctx, r.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.request.method", r.Method)),
	)
	defer span.End()

	start := time.Now()
	wrapped := wrapResponseWriter(w)
	req := r.WithContext(ctx)
	next.ServeHTTP(wrapped, req)

	// ServeMux records the matched pattern on the request it was handed.
	route := req.Pattern
	if route == "" {
		route = "unmatched"
	}

	status := wrapped.status
	if status == 0 {
		status = http.StatusOK
	}

	name := route
	if !strings.Contains(route, " ") {
		name = r.Method + " " + route
	}
	span.SetName(name)
	span.SetAttributes(
		attribute.String("http.route", route),
		attribute.Int("http.response.status_code", status),
	)
	if status >= 500 {
		span.SetStatus(codes.Error, http.StatusText(status))
	}

	attrs := metric.WithAttributes(
		attribute.String("http.request.method", r.Method),
		attribute.String("http.route", route),
		attribute.Int("http.response.status_code", status),
	)
	inst.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	inst.total.Add(ctx, 1, attrs)
}
