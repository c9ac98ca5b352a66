package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInstrumentsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))

	inst, err := NewInstruments(tp, mp)
	require.NoError(t, err)

	ctx := context.Background()
	_, span := inst.Tracer.Start(ctx, "sync.run")
	span.End()
	inst.Devices.Add(ctx, 2, metric.WithAttributes(attribute.String("status", "ok")))
	inst.DeltasCredited.Add(ctx, 2000, metric.WithAttributes(attribute.String("metric", "solar_wh")))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["wattmint.sync.devices"])
	assert.True(t, names["wattmint.sync.deltas_credited"])
	require.Len(t, spans.Ended(), 1)
	assert.Equal(t, "sync.run", spans.Ended()[0].Name())
}
