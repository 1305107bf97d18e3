package handlers

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"taller-core/core/rbac"
	"taller-core/core/store"
)

type PermissionsHandler struct {
	resolver  *rbac.Resolver
	overrides store.PermissionsStore
	logger    zerolog.Logger
}

func NewPermissionsHandler(resolver *rbac.Resolver, overrides store.PermissionsStore, logger zerolog.Logger) *PermissionsHandler {
	return &PermissionsHandler{resolver: resolver, overrides: overrides, logger: logger}
}

func (h *PermissionsHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": rbac.Catalog()})
}

// Effective resolves the permission set a user holds under a given role.
// The role is a query parameter because role membership lives in the
// surrounding identity platform, not in this service.
func (h *PermissionsHandler) Effective(w http.ResponseWriter, r *http.Request) {
	userID, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "request.invalid_id", "invalid user id")
		return
	}
	role := rbac.Role(strings.TrimSpace(r.URL.Query().Get("role")))
	if !rbac.KnownRole(role) {
		writeError(w, http.StatusBadRequest, "rbac.unknown_role", "unknown role")
		return
	}
	codes, err := h.resolver.EffectiveCodes(r.Context(), userID, role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"role":        role,
		"permissions": codes,
	})
}

func (h *PermissionsHandler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	userID, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "request.invalid_id", "invalid user id")
		return
	}
	items, err := h.overrides.ListOverrides(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type overrideRequest struct {
	PermissionCode string `json:"permission_code" validate:"required"`
	Denied         bool   `json:"denied"`
}

// PutOverride stores a per-user grant or denial. The write replaces any
// existing row for the code, so the newest decision always wins.
func (h *PermissionsHandler) PutOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "request.invalid_id", "invalid user id")
		return
	}
	var req overrideRequest
	if !decodeValid(w, r, &req) {
		return
	}
	code := rbac.Permission(strings.TrimSpace(req.PermissionCode))
	if !rbac.KnownPermission(code) {
		writeError(w, http.StatusBadRequest, "rbac.unknown_permission", "unknown permission code")
		return
	}
	override := &store.PermissionOverride{
		UserID:         userID,
		PermissionCode: string(code),
		Denied:         req.Denied,
	}
	if err := h.overrides.UpsertOverride(r.Context(), override); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, override)
}

func (h *PermissionsHandler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "request.invalid_id", "invalid user id")
		return
	}
	code := strings.TrimSpace(urlParam(r, "code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "request.invalid_code", "invalid permission code")
		return
	}
	if err := h.overrides.DeleteOverride(r.Context(), userID, code); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": code})
}
