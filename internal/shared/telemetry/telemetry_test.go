package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit_MetricsHandlerExportsCounters(t *testing.T) {
	ctx := context.Background()

	p, err := Init(ctx, Config{
		ServiceName:    "ingest-test",
		Environment:    "test",
		DisableTracing: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	counter, err := otel.Meter("ingest/test").Int64Counter("ingest_test_events")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	rr := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ingest_test_events")
}

func TestInit_ResourceCarriesServiceAttributes(t *testing.T) {
	p, err := Init(context.Background(), Config{
		ServiceName:    "ingest-resource",
		Environment:    "staging",
		DisableTracing: true,
	})
	require.NoError(t, err, "service attributes must merge with the SDK default resource")
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	rr := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Contains(t, rr.Body.String(), `service_name="ingest-resource"`)
}
