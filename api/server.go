package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"taller-core/api/handlers"
	"taller-core/config"
	"taller-core/core/dispatch"
	"taller-core/core/escalation"
	"taller-core/core/incidents"
	"taller-core/core/metrics"
	"taller-core/core/rbac"
	"taller-core/core/store"
)

type ServerDeps struct {
	IncidentsSvc     *incidents.Service
	Dispatcher       *dispatch.Dispatcher
	Escalator        *escalation.Escalator
	Resolver         *rbac.Resolver
	PermissionsStore store.PermissionsStore
	RoutesStore      store.RoutesStore
	AuditStore       store.AuditStore
	Metrics          *metrics.Metrics
}

type Server struct {
	cfg      *config.AppConfig
	logger   zerolog.Logger
	resolver *rbac.Resolver
	metrics  *metrics.Metrics
	handlers routeHandlers
	srv      *http.Server
}

type routeHandlers struct {
	incidents   *handlers.IncidentsHandler
	dispatch    *handlers.DispatchHandler
	escalation  *handlers.EscalationHandler
	audit       *handlers.AuditHandler
	permissions *handlers.PermissionsHandler
}

func NewServer(cfg *config.AppConfig, deps ServerDeps, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		resolver: deps.Resolver,
		metrics:  deps.Metrics,
	}
	s.handlers = routeHandlers{
		incidents:   handlers.NewIncidentsHandler(deps.IncidentsSvc, deps.Dispatcher, deps.Metrics, logger),
		dispatch:    handlers.NewDispatchHandler(deps.Dispatcher, deps.RoutesStore, deps.Metrics, logger),
		escalation:  handlers.NewEscalationHandler(deps.Escalator, deps.Metrics, logger),
		audit:       handlers.NewAuditHandler(deps.AuditStore),
		permissions: handlers.NewPermissionsHandler(deps.Resolver, deps.PermissionsStore, logger),
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.jsonMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	actor := s.withActor
	require := s.requirePermission
	h := s.handlers

	// Transition and create requests go unguarded past the actor check: the
	// lifecycle service owns those permission decisions so that side effects
	// of a denied request (observation notes) still happen.
	r.MethodFunc(http.MethodPost, "/api/incidents", actor(h.incidents.Create))
	r.MethodFunc(http.MethodGet, "/api/incidents", actor(require(rbac.PermViewIncidents)(h.incidents.List)))
	r.MethodFunc(http.MethodGet, "/api/incidents/{id:[0-9]+}", actor(require(rbac.PermViewIncidents)(h.incidents.Get)))
	r.MethodFunc(http.MethodGet, "/api/incidents/code/{code}", actor(require(rbac.PermViewIncidents)(h.incidents.GetByCode)))
	r.MethodFunc(http.MethodPost, "/api/incidents/{id:[0-9]+}/transitions", actor(h.incidents.Transition))
	r.MethodFunc(http.MethodGet, "/api/incidents/{id:[0-9]+}/history", actor(require(rbac.PermViewIncidents)(h.incidents.History)))
	r.MethodFunc(http.MethodGet, "/api/incidents/{id:[0-9]+}/observations", actor(require(rbac.PermViewIncidents)(h.incidents.Observations)))
	r.MethodFunc(http.MethodPost, "/api/incidents/{id:[0-9]+}/transfer", actor(h.incidents.Transfer))

	r.MethodFunc(http.MethodPost, "/api/incidents/{id:[0-9]+}/notifications", actor(require(rbac.PermNotifyCustomers)(h.escalation.Notify)))
	r.MethodFunc(http.MethodPost, "/api/incidents/{id:[0-9]+}/notifications/response", actor(require(rbac.PermNotifyCustomers)(h.escalation.Respond)))
	r.MethodFunc(http.MethodGet, "/api/incidents/{id:[0-9]+}/escalation", actor(require(rbac.PermViewIncidents)(h.escalation.Status)))
	r.MethodFunc(http.MethodGet, "/api/escalations/counts", actor(require(rbac.PermViewIncidents)(h.escalation.Counts)))

	r.MethodFunc(http.MethodPost, "/api/dispatch/assignments", actor(require(rbac.PermAssignTechnicians)(h.dispatch.AssignNext)))
	r.MethodFunc(http.MethodPost, "/api/dispatch/auto", actor(require(rbac.PermAssignTechnicians)(h.dispatch.AutoAssign)))
	r.MethodFunc(http.MethodGet, "/api/dispatch/queues", actor(s.requireAnyPermission(rbac.PermManageQueue, rbac.PermAssignTechnicians)(h.dispatch.Queues)))
	r.MethodFunc(http.MethodGet, "/api/dispatch/technicians/{id:[0-9]+}/active", actor(s.requireAnyPermission(rbac.PermManageQueue, rbac.PermAssignTechnicians)(h.dispatch.ActiveCount)))
	r.MethodFunc(http.MethodGet, "/api/routes", actor(require(rbac.PermManageQueue)(h.dispatch.ListRoutes)))
	r.MethodFunc(http.MethodPost, "/api/routes", actor(require(rbac.PermManageQueue)(h.dispatch.AddRoute)))
	r.MethodFunc(http.MethodDelete, "/api/routes/{id:[0-9]+}", actor(require(rbac.PermManageQueue)(h.dispatch.DeleteRoute)))

	r.MethodFunc(http.MethodGet, "/api/permissions/catalog", actor(h.permissions.Catalog))
	r.MethodFunc(http.MethodGet, "/api/users/{id:[0-9]+}/permissions", actor(require(rbac.PermManageOverrides)(h.permissions.Effective)))
	r.MethodFunc(http.MethodGet, "/api/users/{id:[0-9]+}/overrides", actor(require(rbac.PermManageOverrides)(h.permissions.ListOverrides)))
	r.MethodFunc(http.MethodPut, "/api/users/{id:[0-9]+}/overrides", actor(require(rbac.PermManageOverrides)(h.permissions.PutOverride)))
	r.MethodFunc(http.MethodDelete, "/api/users/{id:[0-9]+}/overrides/{code}", actor(require(rbac.PermManageOverrides)(h.permissions.DeleteOverride)))

	r.MethodFunc(http.MethodGet, "/api/audit", actor(require(rbac.PermViewAuditLog)(h.audit.Query)))
	r.MethodFunc(http.MethodGet, "/api/audit/{id:[0-9]+}", actor(require(rbac.PermViewAuditLog)(h.audit.Get)))

	return r
}

func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
