package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type Config struct {
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	// Dedicated metrics listener; empty disables it and /metrics is only
	// served by the API mux.
	MetricsPort string
	// Skip the OTLP trace exporter. Metrics are still collected.
	DisableTracing bool
}

// Provider owns the meter and tracer providers installed globally by Init.
type Provider struct {
	registry      *prom.Registry
	shutdownFuncs []func(context.Context) error
	metricsServer *http.Server
}

// Init sets up OpenTelemetry with Prometheus metrics and OTLP trace export.
// Shutdown must be called on application exit.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{registry: prom.NewRegistry()}

	// Schemaless so the merge never conflicts with the schema of the SDK's
	// default resource.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return p, fmt.Errorf("failed to create resource: %w", err)
	}

	promExporter, err := prometheus.New(prometheus.WithRegisterer(p.registry))
	if err != nil {
		return p, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(meterProvider)
	p.shutdownFuncs = append(p.shutdownFuncs, meterProvider.Shutdown)

	if !cfg.DisableTracing {
		traceExporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return p, fmt.Errorf("failed to create trace exporter: %w", err)
		}

		tracerProvider := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(traceExporter,
				sdktrace.WithBatchTimeout(5*time.Second),
			),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		)
		otel.SetTracerProvider(tracerProvider)
		p.shutdownFuncs = append(p.shutdownFuncs, tracerProvider.Shutdown)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.MetricsPort != "" {
		p.metricsServer = &http.Server{
			Addr:         ":" + cfg.MetricsPort,
			Handler:      p.metricsMux(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go p.serveMetrics()
	}

	log.Printf("OpenTelemetry initialized (metrics=:%s, traces=%s, tracing=%t)",
		cfg.MetricsPort, cfg.OTLPEndpoint, !cfg.DisableTracing)

	return p, nil
}

// MetricsHandler exposes the collected metrics in Prometheus text format.
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.metricsServer != nil {
		if err := p.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

func (p *Provider) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.MetricsHandler())
	return mux
}

func (p *Provider) serveMetrics() {
	log.Printf("Metrics server listening on %s/metrics", p.metricsServer.Addr)
	if err := p.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("Metrics server error: %v", err)
	}
}
