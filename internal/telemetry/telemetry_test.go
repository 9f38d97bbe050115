package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/inkflow/config"
)

func keepGlobals(t *testing.T) {
	t.Helper()
	tp, mp, prop := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(prop)
	})
}

func shutdownSoon(t *testing.T, p *Providers) {
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
}

func TestInit_DisabledLeavesGlobalsAlone(t *testing.T) {
	keepGlobals(t)
	before := otel.GetTracerProvider()

	p, err := Init(config.TelemetryConfig{}, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.Same(t, before, otel.GetTracerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_EnabledInstallsSDK(t *testing.T) {
	keepGlobals(t)

	p, err := Init(config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "inkflow-test",
		SampleRate:   1,
	}, "1.4.0", nil)
	require.NoError(t, err)
	shutdownSoon(t, p)

	require.NotNil(t, p.tp)
	require.NotNil(t, p.mp)
	assert.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider())
	assert.ElementsMatch(t, []string{"traceparent", "tracestate", "baggage"}, otel.GetTextMapPropagator().Fields())

	_, span := otel.Tracer("inkflow/test").Start(context.Background(), "generation.page")
	assert.True(t, span.SpanContext().IsSampled())
	span.End()
}

func TestNewTracerProvider_Sampling(t *testing.T) {
	tests := []struct {
		name    string
		rate    float64
		parent  bool
		sampled bool
	}{
		{"always", 1, false, true},
		{"never", 0, false, false},
		{"sampled parent wins over zero rate", 0, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := tracetest.NewInMemoryExporter()
			tp := newTracerProvider(sdktrace.NewSimpleSpanProcessor(exp), resource.Empty(), tt.rate)
			defer func() { _ = tp.Shutdown(context.Background()) }()

			ctx := context.Background()
			if tt.parent {
				ctx = trace.ContextWithRemoteSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
					TraceID:    trace.TraceID{1},
					SpanID:     trace.SpanID{1},
					TraceFlags: trace.FlagsSampled,
					Remote:     true,
				}))
			}
			_, span := tp.Tracer("t").Start(ctx, "image.generate")
			span.End()

			if tt.sampled {
				assert.Len(t, exp.GetSpans(), 1)
			} else {
				assert.Empty(t, exp.GetSpans())
			}
		})
	}
}

func TestProviders_ShutdownNil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestBuildVersion_TestBinary(t *testing.T) {
	// go test 产物的 Main.Version 为 "(devel)"
	assert.Equal(t, "dev", buildVersion())
}
