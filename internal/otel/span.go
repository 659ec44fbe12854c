// Package otel provides OpenTelemetry instrumentation utilities for the document sync service.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by every span the sync pipeline emits.
const (
	AttrEntityID      = attribute.Key("entity.id")
	AttrDocumentID    = attribute.Key("document.id")
	AttrStoreType     = attribute.Key("store.type")
	AttrBatchSize     = attribute.Key("batch.size")
	AttrFieldCount    = attribute.Key("patch.field_count")
	AttrResultCount   = attribute.Key("result.count")
	AttrFlushRequeued = attribute.Key("flush.requeued")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns a no-op span.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records an error on a span and sets the span status to error.
// It safely handles nil spans and nil errors. The status description stays
// generic so store addresses and payloads only show up in span events.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
