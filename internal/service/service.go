// Package service provides the operations the HTTP API exposes on top of the
// sync layer.
package service

import (
	"context"
	"errors"

	"github.com/stacklok/toolhive-docsync/internal/docstore"
	"github.com/stacklok/toolhive-docsync/internal/health"
	"github.com/stacklok/toolhive-docsync/internal/sync/coalescer"
)

// ErrNotReady is returned by CheckReadiness while the document store is unreachable
var ErrNotReady = errors.New("document store is not reachable")

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks -source=service.go SyncService

// SyncService defines the interface for entity sync operations
type SyncService interface {
	// CheckReadiness reports whether the document store is currently reachable
	CheckReadiness(ctx context.Context) error

	// QueueUpdate schedules patch to be written to the entity's document
	QueueUpdate(ctx context.Context, id string, patch docstore.Patch) error

	// Ensure writes patch immediately, creating the document if needed
	Ensure(ctx context.Context, id string, patch docstore.Patch) (*docstore.Document, error)

	// Forget drops pending changes and cached state for the entity
	Forget(ctx context.Context, id string) bool

	// Status returns a snapshot of the sync pipeline
	Status(ctx context.Context) SyncStatus
}

// SyncStatus is a snapshot of the coalescer and the connection monitor
type SyncStatus struct {
	Coalescer  coalescer.Status       `json:"coalescer"`
	Connection health.ConnectionState `json:"connection"`
}

type syncService struct {
	coalescer *coalescer.Coalescer
	monitor   *health.Monitor
	probe     health.ProbeFunc
}

var _ SyncService = (*syncService)(nil)

// New creates a SyncService. probe is the store liveness check used for readiness.
func New(c *coalescer.Coalescer, m *health.Monitor, probe health.ProbeFunc) SyncService {
	return &syncService{coalescer: c, monitor: m, probe: probe}
}

func (s *syncService) CheckReadiness(ctx context.Context) error {
	if !s.monitor.CheckConnection(ctx, s.probe) {
		return ErrNotReady
	}
	return nil
}

func (s *syncService) QueueUpdate(_ context.Context, id string, patch docstore.Patch) error {
	return s.coalescer.QueueUpdate(id, patch)
}

func (s *syncService) Ensure(ctx context.Context, id string, patch docstore.Patch) (*docstore.Document, error) {
	return s.coalescer.Ensure(ctx, id, patch)
}

func (s *syncService) Forget(_ context.Context, id string) bool {
	return s.coalescer.Forget(id)
}

func (s *syncService) Status(_ context.Context) SyncStatus {
	return SyncStatus{
		Coalescer:  s.coalescer.Status(),
		Connection: s.monitor.State(),
	}
}
