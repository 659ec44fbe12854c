package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// newCollector starts a fake OTLP/HTTP collector and returns its host:port
func newCollector(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return strings.TrimPrefix(server.URL, "http://")
}

func TestNew_NoOp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []Option
	}{
		{name: "no config", opts: nil},
		{name: "disabled", opts: []Option{WithTelemetryConfig(&Config{Enabled: false})}},
		{name: "enabled without signals", opts: []Option{WithTelemetryConfig(&Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: false},
			Metrics: &MetricsConfig{Enabled: false},
		})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tel, err := New(context.Background(), tt.opts...)
			require.NoError(t, err)

			_, ok := tel.TracerProvider().(tracenoop.TracerProvider)
			assert.True(t, ok, "expected no-op tracer provider")
			_, ok = tel.MeterProvider().(noop.MeterProvider)
			assert.True(t, ok, "expected no-op meter provider")
			assert.Nil(t, tel.MetricsHandler())
			require.NoError(t, tel.Shutdown(context.Background()))
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), WithTelemetryConfig(&Config{
		Enabled: true,
		Tracing: &TracingConfig{Enabled: true, Sampling: 2},
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid telemetry configuration")
}

func TestNew_TracingExportsSpans(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tel, err := New(context.Background(),
		WithTelemetryConfig(&Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: true, Sampling: 1.0},
		}),
		WithServiceVersion("v0.4.0"),
		WithTraceExporter(exporter),
	)
	require.NoError(t, err)

	_, ok := tel.TracerProvider().(*sdktrace.TracerProvider)
	require.True(t, ok, "expected SDK tracer provider")

	_, span := tel.Tracer("test").Start(context.Background(), "coalescer.flush")
	span.End()
	require.NoError(t, tel.Shutdown(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "coalescer.flush", spans[0].Name)

	var version string
	for _, attr := range spans[0].Resource.Attributes() {
		if attr.Key == "service.version" {
			version = attr.Value.AsString()
		}
	}
	assert.Equal(t, "v0.4.0", version)
}

func TestNew_OTLPMetrics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tel, err := New(ctx, WithTelemetryConfig(&Config{
		Enabled:  true,
		Endpoint: newCollector(t),
		Insecure: true,
		Metrics:  &MetricsConfig{Enabled: true},
	}))
	require.NoError(t, err)

	_, ok := tel.MeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, ok, "expected SDK meter provider")
	assert.Nil(t, tel.MetricsHandler(), "prometheus handler is opt-in")
	require.NoError(t, tel.Shutdown(ctx))
}

func TestNew_PrometheusMetrics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tel, err := New(ctx,
		WithTelemetryConfig(&Config{
			Enabled: true,
			Metrics: &MetricsConfig{Enabled: true, Prometheus: true, DisableOTLP: true},
		}),
		WithPrometheusRegistry(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(ctx) })

	metrics, err := NewSyncMetrics(tel.MeterProvider())
	require.NoError(t, err)
	metrics.RecordRetry(ctx, "update")

	handler := tel.MetricsHandler()
	require.NotNil(t, handler)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "thv_docsync_retries_total")
}

func TestNewMeterProvider_PrometheusRequiresRegisterer(t *testing.T) {
	t.Parallel()

	_, err := NewMeterProvider(context.Background(),
		WithMetricsConfig(&MetricsConfig{Enabled: true, Prometheus: true, DisableOTLP: true}),
	)
	require.Error(t, err)
}
