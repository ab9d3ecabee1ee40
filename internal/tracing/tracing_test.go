package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitDisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "smartalerts"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartSpan(context.Background(), "anomaly.Detect", attribute.String("device_id", "srv-1"))
	EndSpan(span, errors.New("store unavailable"))

	_, ok := StartSpan(context.Background(), "service.Cleanup")
	EndSpan(ok, nil)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "anomaly.Detect", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("device_id", "srv-1"))
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
}
