package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"taller-core/core/auth"
	"taller-core/core/dispatch"
	"taller-core/core/incidents"
	"taller-core/core/store"
)

var validate = validator.New()

func urlParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

func idParam(r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(urlParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// decodeValid decodes the JSON body into dst and runs struct validation.
// A false return means the error response has already been written.
func decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "request.malformed_body", "invalid JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "request.validation_failed", err.Error())
		return false
	}
	return true
}

func currentActor(r *http.Request) (auth.Actor, bool) {
	actor, err := auth.FromContext(r.Context())
	return actor, err == nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// writeServiceError maps domain sentinels onto stable HTTP error codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource.not_found", "not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "resource.conflict", "concurrent modification, retry")
	case errors.Is(err, incidents.ErrInvalidTransition):
		writeError(w, http.StatusUnprocessableEntity, "incidents.invalid_transition", "transition not allowed from current state")
	case errors.Is(err, incidents.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "auth.forbidden", "permission denied")
	case errors.Is(err, incidents.ErrUnknownState):
		writeError(w, http.StatusBadRequest, "incidents.unknown_state", "unknown lifecycle state")
	case errors.Is(err, dispatch.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, "dispatch.capacity_exceeded", "technician capacity exhausted")
	case errors.Is(err, dispatch.ErrEmptyQueue):
		writeError(w, http.StatusNotFound, "dispatch.queue_empty", "no dispatchable work for the request")
	case errors.Is(err, dispatch.ErrNotQueued):
		writeError(w, http.StatusNotFound, "dispatch.not_queued", "incident is not queued")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "server error")
	}
}
