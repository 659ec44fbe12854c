package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Getters(t *testing.T) {
	t.Parallel()

	empty := &Config{}
	assert.Equal(t, DefaultServiceName, empty.GetServiceName())
	assert.Equal(t, "unknown", empty.GetServiceVersion())
	assert.Equal(t, DefaultEndpoint, empty.GetEndpoint())

	set := &Config{ServiceName: "docsync-eu", ServiceVersion: "v1.2.3", Endpoint: "otel:4318"}
	assert.Equal(t, "docsync-eu", set.GetServiceName())
	assert.Equal(t, "v1.2.3", set.GetServiceVersion())
	assert.Equal(t, "otel:4318", set.GetEndpoint())
}

func TestTracingConfig_GetSampling(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, DefaultSampling, (&TracingConfig{}).GetSampling(), 0)
	assert.InDelta(t, 0.5, (&TracingConfig{Sampling: 0.5}).GetSampling(), 0)
	assert.InDelta(t, 1.0, (&TracingConfig{Sampling: 1.0}).GetSampling(), 0)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{name: "nil config", config: nil},
		{name: "disabled ignores invalid sections", config: &Config{
			Tracing: &TracingConfig{Enabled: true, Sampling: 5},
		}},
		{name: "valid full config", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: true, Sampling: 0.25},
			Metrics: &MetricsConfig{Enabled: true, Prometheus: true},
		}},
		{name: "sampling above one", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: true, Sampling: 1.1},
		}, wantErr: "tracing: sampling must be between"},
		{name: "negative sampling", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: true, Sampling: -0.1},
		}, wantErr: "tracing: sampling must be between"},
		{name: "disabled tracing skips sampling check", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: false, Sampling: 3},
		}},
		{name: "prometheus only", config: &Config{
			Enabled: true,
			Metrics: &MetricsConfig{Enabled: true, Prometheus: true, DisableOTLP: true},
		}},
		{name: "no exporter left", config: &Config{
			Enabled: true,
			Metrics: &MetricsConfig{Enabled: true, DisableOTLP: true},
		}, wantErr: "metrics: disableOTLP requires prometheus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.config.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}
