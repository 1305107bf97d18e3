package api

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"time"

	"taller-core/core/auth"
	"taller-core/core/rbac"
)

const (
	actorIDHeader   = "X-Actor-Id"
	actorRoleHeader = "X-Actor-Role"
)

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Str("method", r.Method).Str("path", r.URL.Path).
					Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("handler panic")
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		evt := s.logger.Info()
		if rec.status >= http.StatusInternalServerError {
			evt = s.logger.Error()
		}
		actor := int64(0)
		if a, err := auth.FromContext(r.Context()); err == nil {
			actor = a.ID
		}
		evt.Str("method", r.Method).Str("path", r.URL.Path).Int("status", rec.status).
			Int("bytes", rec.size).Dur("dur", time.Since(start)).Int64("actor", actor).Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// withActor resolves the caller from the trusted identity headers set by the
// fronting platform. Requests without a valid actor never reach a handler.
func (s *Server) withActor(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := auth.ParseActor(r.Header.Get(actorIDHeader), r.Header.Get(actorRoleHeader))
		if err != nil {
			s.logger.Warn().Str("method", r.Method).Str("path", r.URL.Path).Err(err).Msg("actor rejected")
			writeJSON(w, http.StatusUnauthorized, errorBody("auth.unauthorized", "missing or invalid actor identity"))
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
	}
}

func (s *Server) requirePermission(perm rbac.Permission) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			actor, err := auth.FromContext(r.Context())
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody("auth.unauthorized", "missing actor"))
				return
			}
			ok, err := s.resolver.HasPermission(r.Context(), actor.ID, actor.Role, perm)
			if err != nil {
				s.logger.Error().Err(err).Int64("actor", actor.ID).Msg("permission resolution failed")
				writeJSON(w, http.StatusInternalServerError, errorBody("auth.resolution_failed", "permission resolution failed"))
				return
			}
			if !ok {
				s.logger.Warn().Str("method", r.Method).Str("path", r.URL.Path).
					Int64("actor", actor.ID).Str("role", string(actor.Role)).Str("need", string(perm)).Msg("permission denied")
				writeJSON(w, http.StatusForbidden, errorBody("auth.forbidden", "permission denied"))
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}

func (s *Server) requireAnyPermission(perms ...rbac.Permission) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			actor, err := auth.FromContext(r.Context())
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody("auth.unauthorized", "missing actor"))
				return
			}
			ok, err := s.resolver.HasAny(r.Context(), actor.ID, actor.Role, perms...)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, errorBody("auth.resolution_failed", "permission resolution failed"))
				return
			}
			if !ok {
				writeJSON(w, http.StatusForbidden, errorBody("auth.forbidden", "permission denied"))
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorBody(code, message string) map[string]any {
	return map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
}
