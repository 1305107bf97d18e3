package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"taller-core/core/escalation"
	"taller-core/core/metrics"
)

type EscalationHandler struct {
	escalator *escalation.Escalator
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

func NewEscalationHandler(escalator *escalation.Escalator, m *metrics.Metrics, logger zerolog.Logger) *EscalationHandler {
	return &EscalationHandler{escalator: escalator, metrics: m, logger: logger}
}

// Notify records one customer contact attempt and advances the tier ladder.
func (h *EscalationHandler) Notify(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "request.invalid_id", "invalid incident id")
		return
	}
	status, err := h.escalator.RecordNotification(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.metrics.EscalationRecorded(strconv.Itoa(status.Tier))
	writeJSON(w, http.StatusOK, status)
}

// Respond marks the current tier answered, freezing further escalation.
func (h *EscalationHandler) Respond(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "request.invalid_id", "invalid incident id")
		return
	}
	status, err := h.escalator.RecordResponse(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *EscalationHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "request.invalid_id", "invalid incident id")
		return
	}
	status, err := h.escalator.IncidentStatus(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Counts aggregates notifiable incidents per tier, computed on demand.
func (h *EscalationHandler) Counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.escalator.CountsByTier(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
