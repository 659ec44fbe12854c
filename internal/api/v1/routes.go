// Package v1 provides the entity sync endpoints.
package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/toolhive-docsync/internal/api/common"
	"github.com/stacklok/toolhive-docsync/internal/docstore"
	"github.com/stacklok/toolhive-docsync/internal/health"
	"github.com/stacklok/toolhive-docsync/internal/service"
	"github.com/stacklok/toolhive-docsync/internal/sync/coalescer"
)

const entityIDParam = "id"

// QueuedResponse acknowledges a queued update
type QueuedResponse struct {
	ID      string `json:"id"`
	Pending int    `json:"pending"`
}

// Routes defines the v1 routes with dependency injection
type Routes struct {
	service service.SyncService
}

// Router creates a new router for the v1 API
func Router(svc service.SyncService) http.Handler {
	routes := &Routes{service: svc}

	r := chi.NewRouter()
	r.Route("/entities/{id}", func(r chi.Router) {
		r.Patch("/", routes.queueUpdate)
		r.Put("/", routes.ensure)
		r.Delete("/", routes.forget)
	})
	r.Get("/sync/status", routes.status)

	return r
}

// queueUpdate handles PATCH /api/v1/entities/{id}
func (rr *Routes) queueUpdate(w http.ResponseWriter, r *http.Request) {
	id, patch, ok := readEntityRequest(w, r)
	if !ok {
		return
	}

	if err := rr.service.QueueUpdate(r.Context(), id, patch); err != nil {
		writeSyncError(w, r, id, err)
		return
	}

	status := rr.service.Status(r.Context())
	common.WriteJSONResponse(w, QueuedResponse{ID: id, Pending: status.Coalescer.Pending}, http.StatusAccepted)
}

// ensure handles PUT /api/v1/entities/{id}
func (rr *Routes) ensure(w http.ResponseWriter, r *http.Request) {
	id, patch, ok := readEntityRequest(w, r)
	if !ok {
		return
	}

	doc, err := rr.service.Ensure(r.Context(), id, patch)
	if err != nil {
		writeSyncError(w, r, id, err)
		return
	}
	common.WriteJSONResponse(w, doc, http.StatusOK)
}

// forget handles DELETE /api/v1/entities/{id}
func (rr *Routes) forget(w http.ResponseWriter, r *http.Request) {
	id, err := common.EntityIDParam(r, entityIDParam)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	rr.service.Forget(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

// status handles GET /api/v1/sync/status
func (rr *Routes) status(w http.ResponseWriter, r *http.Request) {
	common.WriteJSONResponse(w, rr.service.Status(r.Context()), http.StatusOK)
}

func readEntityRequest(w http.ResponseWriter, r *http.Request) (string, docstore.Patch, bool) {
	id, err := common.EntityIDParam(r, entityIDParam)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return "", nil, false
	}
	patch, err := common.DecodePatch(w, r)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return "", nil, false
	}
	return id, patch, true
}

func writeSyncError(w http.ResponseWriter, r *http.Request, id string, err error) {
	switch {
	case docstore.IsValidation(err):
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
	case docstore.IsNotFound(err):
		common.WriteErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, health.ErrConnectionUnavailable):
		common.WriteErrorResponse(w, "document store is unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, coalescer.ErrStopped):
		common.WriteErrorResponse(w, "sync service is shutting down", http.StatusServiceUnavailable)
	default:
		slog.ErrorContext(r.Context(), "Entity sync request failed", "entity_id", id, "error", err)
		common.WriteErrorResponse(w, "failed to sync entity", http.StatusBadGateway)
	}
}
