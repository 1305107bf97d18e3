package handlers

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"taller-core/core/dispatch"
	"taller-core/core/metrics"
	"taller-core/core/store"
)

type DispatchHandler struct {
	dispatcher *dispatch.Dispatcher
	routes     store.RoutesStore
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func NewDispatchHandler(dispatcher *dispatch.Dispatcher, routes store.RoutesStore, m *metrics.Metrics, logger zerolog.Logger) *DispatchHandler {
	return &DispatchHandler{dispatcher: dispatcher, routes: routes, metrics: m, logger: logger}
}

type assignNextRequest struct {
	TechnicianID int64 `json:"technician_id" validate:"required,gt=0"`
}

// AssignNext pops the oldest queued incident the technician is routed for.
func (h *DispatchHandler) AssignNext(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "auth.unauthorized", "missing actor")
		return
	}
	var req assignNextRequest
	if !decodeValid(w, r, &req) {
		return
	}
	incidentID, err := h.dispatcher.AssignNext(r.Context(), req.TechnicianID, actor.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.metrics.AssignmentDispatched()
	writeJSON(w, http.StatusOK, map[string]any{
		"incident_id":   incidentID,
		"technician_id": req.TechnicianID,
	})
}

type autoAssignRequest struct {
	ProductFamily   string `json:"product_family" validate:"required"`
	ServiceCenterID int64  `json:"service_center_id" validate:"required,gt=0"`
}

// AutoAssign levels load for one queue: it picks the eligible technician with
// the fewest active assignments and dispatches the queue head to them.
func (h *DispatchHandler) AutoAssign(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "auth.unauthorized", "missing actor")
		return
	}
	var req autoAssignRequest
	if !decodeValid(w, r, &req) {
		return
	}
	family := strings.ToLower(strings.TrimSpace(req.ProductFamily))
	techID, err := h.dispatcher.PickForQueue(r.Context(), family, req.ServiceCenterID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	incidentID, err := h.dispatcher.AssignNext(r.Context(), techID, actor.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.metrics.AssignmentDispatched()
	writeJSON(w, http.StatusOK, map[string]any{
		"incident_id":   incidentID,
		"technician_id": techID,
	})
}

func (h *DispatchHandler) Queues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": h.dispatcher.QueueDepths()})
}

func (h *DispatchHandler) ActiveCount(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "request.invalid_id", "invalid technician id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"technician_id": id,
		"active":        h.dispatcher.ActiveCount(id),
	})
}

func (h *DispatchHandler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	items, err := h.routes.ListRoutes(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type addRouteRequest struct {
	TechnicianID    int64  `json:"technician_id" validate:"required,gt=0"`
	ProductFamily   string `json:"product_family" validate:"required"`
	ServiceCenterID int64  `json:"service_center_id" validate:"required,gt=0"`
}

func (h *DispatchHandler) AddRoute(w http.ResponseWriter, r *http.Request) {
	var req addRouteRequest
	if !decodeValid(w, r, &req) {
		return
	}
	route := &store.TechnicianRoute{
		TechnicianID:    req.TechnicianID,
		ProductFamily:   strings.ToLower(strings.TrimSpace(req.ProductFamily)),
		ServiceCenterID: req.ServiceCenterID,
	}
	if _, err := h.routes.AddRoute(r.Context(), route); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, route)
}

func (h *DispatchHandler) DeleteRoute(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "request.invalid_id", "invalid route id")
		return
	}
	if err := h.routes.DeleteRoute(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}
