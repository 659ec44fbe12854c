package app

import (
	"github.com/stacklok/toolhive-docsync/internal/cache"
	"github.com/stacklok/toolhive-docsync/internal/docstore"
	"github.com/stacklok/toolhive-docsync/internal/health"
	"github.com/stacklok/toolhive-docsync/internal/retry"
	"github.com/stacklok/toolhive-docsync/internal/service"
	"github.com/stacklok/toolhive-docsync/internal/sync/coalescer"
	"github.com/stacklok/toolhive-docsync/internal/telemetry"
)

// AppComponents groups all application components. There is exactly one
// instance of each per process.
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Store is the remote document store
	Store docstore.Store

	// Cache holds the last known document per entity
	Cache *cache.DocumentCache

	// Monitor gates remote writes on store reachability
	Monitor *health.Monitor

	// Retry wraps every remote call
	Retry *retry.Executor

	// Coalescer batches and flushes entity updates
	Coalescer *coalescer.Coalescer

	// SyncService backs the HTTP API
	SyncService service.SyncService

	// Telemetry owns the tracer and meter providers
	Telemetry *telemetry.Telemetry
}
