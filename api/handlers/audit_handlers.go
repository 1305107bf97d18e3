package handlers

import (
	"net/http"
	"strings"
	"time"

	"taller-core/core/store"
)

type AuditHandler struct {
	audits store.AuditStore
}

func NewAuditHandler(audits store.AuditStore) *AuditHandler {
	return &AuditHandler{audits: audits}
}

func (h *AuditHandler) Query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.AuditFilter{
		Table:   strings.TrimSpace(q.Get("table")),
		Action:  strings.ToLower(strings.TrimSpace(q.Get("action"))),
		ActorID: int64(parseIntDefault(q.Get("actor_id"), 0)),
		AfterID: int64(parseIntDefault(q.Get("after_id"), 0)),
		Limit:   parseIntDefault(q.Get("limit"), 0),
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "request.invalid_time", "from must be RFC3339")
			return
		}
		filter.From = t
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "request.invalid_time", "to must be RFC3339")
			return
		}
		filter.To = t
	}
	entries, err := h.audits.Query(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *AuditHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "request.invalid_id", "invalid audit entry id")
		return
	}
	entry, err := h.audits.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
