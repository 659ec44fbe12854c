// Package telemetry provides OpenTelemetry instrumentation for the document sync service.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/stacklok/toolhive-docsync/sync"
)

// Entity outcomes recorded per flush pass
const (
	OutcomeUpdated  = "updated"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
	OutcomeRequeued = "requeued"
)

// SyncMetrics holds the OpenTelemetry instruments for the write-back pipeline.
// A nil *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	flushDuration  metric.Float64Histogram
	entityOutcomes metric.Int64Counter
	retries        metric.Int64Counter
	probes         metric.Int64Counter
	cacheLookups   metric.Int64Counter
	pending        metric.Int64Gauge
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	flushDuration, err := meter.Float64Histogram(
		"thv_docsync_flush_duration_seconds",
		metric.WithDescription("Duration of flush passes in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	entityOutcomes, err := meter.Int64Counter(
		"thv_docsync_entities_total",
		metric.WithDescription("Entities processed by flush passes, by outcome"),
		metric.WithUnit("{entity}"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"thv_docsync_retries_total",
		metric.WithDescription("Retried remote operations"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	probes, err := meter.Int64Counter(
		"thv_docsync_connection_probes_total",
		metric.WithDescription("Connection probes issued against the document store"),
		metric.WithUnit("{probe}"),
	)
	if err != nil {
		return nil, err
	}

	cacheLookups, err := meter.Int64Counter(
		"thv_docsync_cache_lookups_total",
		metric.WithDescription("Document cache lookups, by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	pending, err := meter.Int64Gauge(
		"thv_docsync_pending_entities",
		metric.WithDescription("Entities with queued, unflushed changes"),
		metric.WithUnit("{entity}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		flushDuration:  flushDuration,
		entityOutcomes: entityOutcomes,
		retries:        retries,
		probes:         probes,
		cacheLookups:   cacheLookups,
		pending:        pending,
	}, nil
}

// RecordFlush records the duration of a flush pass. interrupted is true when
// the pass stopped early because the store became unreachable.
func (m *SyncMetrics) RecordFlush(ctx context.Context, duration time.Duration, interrupted bool) {
	if m == nil || m.flushDuration == nil {
		return
	}
	m.flushDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.Bool("interrupted", interrupted)))
}

// RecordEntityOutcome counts count entities that ended a flush pass with outcome
func (m *SyncMetrics) RecordEntityOutcome(ctx context.Context, outcome string, count int) {
	if m == nil || m.entityOutcomes == nil || count <= 0 {
		return
	}
	m.entityOutcomes.Add(ctx, int64(count),
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordPending records the current size of the pending set
func (m *SyncMetrics) RecordPending(ctx context.Context, count int) {
	if m == nil || m.pending == nil {
		return
	}
	m.pending.Record(ctx, int64(count))
}

// RecordRetry counts one retried remote operation
func (m *SyncMetrics) RecordRetry(ctx context.Context, operation string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordProbe counts one connection probe and its result
func (m *SyncMetrics) RecordProbe(ctx context.Context, connected bool) {
	if m == nil || m.probes == nil {
		return
	}
	m.probes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("connected", connected)))
}

// RecordCacheLookup counts one document cache lookup
func (m *SyncMetrics) RecordCacheLookup(ctx context.Context, result string) {
	if m == nil || m.cacheLookups == nil {
		return
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
