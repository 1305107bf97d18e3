package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"taller-core/core/dispatch"
	"taller-core/core/incidents"
	"taller-core/core/metrics"
	"taller-core/core/store"
)

type IncidentsHandler struct {
	svc        *incidents.Service
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func NewIncidentsHandler(svc *incidents.Service, dispatcher *dispatch.Dispatcher, m *metrics.Metrics, logger zerolog.Logger) *IncidentsHandler {
	return &IncidentsHandler{svc: svc, dispatcher: dispatcher, metrics: m, logger: logger}
}

type createIncidentRequest struct {
	ProductFamily   string `json:"product_family" validate:"required"`
	ServiceCenterID int64  `json:"service_center_id" validate:"required,gt=0"`
	WantsShipping   bool   `json:"wants_shipping"`
}

func (h *IncidentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "auth.unauthorized", "missing actor")
		return
	}
	var req createIncidentRequest
	if !decodeValid(w, r, &req) {
		return
	}
	inc, err := h.svc.Create(r.Context(), incidents.CreateInput{
		ProductFamily:   strings.ToLower(strings.TrimSpace(req.ProductFamily)),
		ServiceCenterID: req.ServiceCenterID,
		WantsShipping:   req.WantsShipping,
	}, actor.ID, actor.Role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inc)
}

func (h *IncidentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "request.invalid_id", "invalid incident id")
		return
	}
	inc, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *IncidentsHandler) GetByCode(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(urlParam(r, "code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "request.invalid_code", "invalid incident code")
		return
	}
	inc, err := h.svc.GetByCode(r.Context(), code)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.IncidentFilter{
		State:         strings.ToLower(strings.TrimSpace(q.Get("state"))),
		ProductFamily: strings.ToLower(strings.TrimSpace(q.Get("product_family"))),
		Limit:         parseIntDefault(q.Get("limit"), 100),
		Offset:        parseIntDefault(q.Get("offset"), 0),
	}
	if raw := strings.TrimSpace(q.Get("state_in")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if clean := strings.ToLower(strings.TrimSpace(part)); clean != "" {
				filter.StateIn = append(filter.StateIn, clean)
			}
		}
	}
	if id := int64(parseIntDefault(q.Get("service_center_id"), 0)); id > 0 {
		filter.ServiceCenterID = id
	}
	if id := int64(parseIntDefault(q.Get("technician_id"), 0)); id > 0 {
		filter.AssignedTechID = id
	}
	items, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type transitionRequest struct {
	State string `json:"state" validate:"required"`
	Note  string `json:"note"`
}

// Transition applies one lifecycle step. Permission checks belong to the
// service so that the observation note is appended even when the move is
// rejected, which is why no permission guard sits on this route.
func (h *IncidentsHandler) Transition(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "auth.unauthorized", "missing actor")
		return
	}
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "request.invalid_id", "invalid incident id")
		return
	}
	var req transitionRequest
	if !decodeValid(w, r, &req) {
		return
	}
	target := incidents.State(strings.ToLower(strings.TrimSpace(req.State)))
	inc, err := h.svc.RequestTransition(r.Context(), id, target, actor.ID, actor.Role, strings.TrimSpace(req.Note))
	if err != nil {
		if errors.Is(err, incidents.ErrPermissionDenied) || errors.Is(err, incidents.ErrInvalidTransition) {
			h.metrics.TransitionDenied()
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *IncidentsHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "request.invalid_id", "invalid incident id")
		return
	}
	entries, err := h.svc.History(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *IncidentsHandler) Observations(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "request.invalid_id", "invalid incident id")
		return
	}
	obs, err := h.svc.Observations(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": obs})
}

type transferRequest struct {
	ServiceCenterID int64 `json:"service_center_id" validate:"required,gt=0"`
}

// Transfer moves the incident to another center and relocates any pending
// queue entry. The record update commits first; the queue move follows and
// tolerates the incident not being queued.
func (h *IncidentsHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "auth.unauthorized", "missing actor")
		return
	}
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "request.invalid_id", "invalid incident id")
		return
	}
	var req transferRequest
	if !decodeValid(w, r, &req) {
		return
	}
	inc, err := h.svc.TransferCenter(r.Context(), id, req.ServiceCenterID, actor.ID, actor.Role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.dispatcher.Transfer(id, req.ServiceCenterID); err != nil && !errors.Is(err, dispatch.ErrNotQueued) {
		h.logger.Error().Err(err).Int64("incident", id).Msg("queue transfer failed")
	}
	writeJSON(w, http.StatusOK, inc)
}
