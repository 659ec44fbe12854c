package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordingTracer(t *testing.T) (*tracetest.SpanRecorder, trace.Tracer) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return recorder, tp.Tracer("docsync-test")
}

func attrMap(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestStartSpan_FlushAttributes(t *testing.T) {
	t.Parallel()

	recorder, tracer := recordingTracer(t)

	ctx, flush := StartSpan(context.Background(), tracer, "coalescer.flush",
		trace.WithAttributes(AttrBatchSize.Int(3)))
	_, store := StartSpan(ctx, tracer, "memory.Update",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(AttrStoreType.String("memory"), AttrDocumentID.String("doc-1")))
	store.End()
	flush.SetAttributes(AttrFlushRequeued.Bool(true))
	flush.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	storeSpan, flushSpan := spans[0], spans[1]
	assert.Equal(t, "memory.Update", storeSpan.Name())
	assert.Equal(t, trace.SpanKindClient, storeSpan.SpanKind())
	assert.Equal(t, flushSpan.SpanContext().SpanID(), storeSpan.Parent().SpanID())

	storeAttrs := attrMap(storeSpan.Attributes())
	assert.Equal(t, "memory", storeAttrs[AttrStoreType].AsString())
	assert.Equal(t, "doc-1", storeAttrs[AttrDocumentID].AsString())

	flushAttrs := attrMap(flushSpan.Attributes())
	assert.Equal(t, int64(3), flushAttrs[AttrBatchSize].AsInt64())
	assert.True(t, flushAttrs[AttrFlushRequeued].AsBool())
}

func TestStartSpan_NilTracer(t *testing.T) {
	t.Parallel()

	t.Run("without a parent the span is a no-op", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		got, span := StartSpan(ctx, nil, "coalescer.entity")
		assert.Equal(t, ctx, got)
		assert.False(t, span.SpanContext().IsValid())
		assert.NotPanics(t, func() {
			span.SetAttributes(AttrEntityID.String("u1"))
			RecordError(span, errors.New("ignored"))
			span.End()
		})
	})

	t.Run("with a parent the parent span is returned", func(t *testing.T) {
		t.Parallel()

		recorder, tracer := recordingTracer(t)
		ctx, parent := tracer.Start(context.Background(), "http.request")

		_, child := StartSpan(ctx, nil, "coalescer.ensure")
		assert.Equal(t, parent.SpanContext(), child.SpanContext())
		parent.End()

		require.Len(t, recorder.Ended(), 1)
		assert.Equal(t, "http.request", recorder.Ended()[0].Name())
	})
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus codes.Code
		wantEvents int
	}{
		{name: "nil error leaves the span untouched", wantStatus: codes.Unset},
		{
			name:       "error keeps details out of the status",
			err:        errors.New("dial tcp 10.0.0.7:5432: connection refused"),
			wantStatus: codes.Error,
			wantEvents: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			recorder, tracer := recordingTracer(t)
			_, span := tracer.Start(context.Background(), "postgres.Probe")
			RecordError(span, tt.err)
			span.End()

			ended := recorder.Ended()
			require.Len(t, ended, 1)
			assert.Equal(t, tt.wantStatus, ended[0].Status().Code)
			require.Len(t, ended[0].Events(), tt.wantEvents)
			if tt.err != nil {
				assert.Equal(t, "operation failed", ended[0].Status().Description)
				assert.Equal(t, "exception", ended[0].Events()[0].Name)
				assert.NotContains(t, ended[0].Status().Description, "10.0.0.7")
			}
		})
	}

	assert.NotPanics(t, func() { RecordError(nil, errors.New("no span")) })
}
