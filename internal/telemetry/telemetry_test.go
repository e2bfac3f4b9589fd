package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"

	"github.com/behole/institutionalized/config"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func shutdown(t *testing.T, p *Providers) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
}

func TestInit_Disabled(t *testing.T) {
	restoreGlobals(t)

	p, err := Init(config.TelemetryConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.Enabled())

	obs, err := p.Observer()
	require.NoError(t, err)
	assert.Nil(t, obs)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_Enabled(t *testing.T) {
	tests := []struct {
		name     string
		insecure bool
	}{
		{name: "plaintext collector", insecure: true},
		{name: "tls collector", insecure: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restoreGlobals(t)
			p, err := Init(config.TelemetryConfig{
				Enabled:      true,
				OTLPEndpoint: "localhost:4317",
				Insecure:     tt.insecure,
				ServiceName:  "deliberate-test",
				SampleRate:   0.5,
			}, zaptest.NewLogger(t))
			require.NoError(t, err)
			shutdown(t, p)
			assert.True(t, p.Enabled())

			obs, err := p.Observer()
			require.NoError(t, err)
			assert.NotNil(t, obs)

			_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
			_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
			assert.True(t, tpIsSDK)
			assert.True(t, mpIsSDK)
		})
	}
}

func TestProviders_ShutdownNil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, p.Enabled())
}

func TestBuildVersion(t *testing.T) {
	assert.NotEmpty(t, buildVersion())
}
