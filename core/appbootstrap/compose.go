package appbootstrap

import (
	"database/sql"
	"strconv"

	"github.com/rs/zerolog"

	"taller-core/api"
	"taller-core/config"
	"taller-core/core/audit"
	"taller-core/core/dispatch"
	"taller-core/core/escalation"
	"taller-core/core/events"
	"taller-core/core/incidents"
	"taller-core/core/metrics"
	"taller-core/core/rbac"
	"taller-core/core/store"
)

type runtimeComposition struct {
	serverDeps api.ServerDeps
	bus        *events.Bus
	dispatcher *dispatch.Dispatcher
	sweeper    *escalation.Sweeper
	metrics    *metrics.Metrics
}

func composeRuntime(cfg *config.AppConfig, db *sql.DB, logger zerolog.Logger) *runtimeComposition {
	incidentsStore := store.NewIncidentsStore(db)
	permissionsStore := store.NewPermissionsStore(db)
	routesStore := store.NewRoutesStore(db)
	notificationsStore := store.NewNotificationsStore(db)
	auditStore := store.NewAuditStore(db)

	resolver := rbac.NewResolver(permissionsStore)
	recorder := audit.NewRecorder(auditStore, logger)
	bus := events.NewBus(cfg.Dispatch.EventBuffer, logger)
	m := metrics.New(cfg.Metrics)

	incidentsSvc := incidents.NewService(cfg, incidentsStore, resolver, recorder, bus, logger)
	dispatcher := dispatch.NewDispatcher(routesStore, incidentsStore, incidentsSvc, cfg.Dispatch.MaxAssignments, logger)
	escalator := escalation.NewEscalator(notificationsStore, incidentsStore, logger)
	sweeper := escalation.NewSweeper(cfg.Escalation, escalator, logger)

	bus.Subscribe("dispatcher", dispatcher.HandleEvent)
	bus.Subscribe("escalator", escalator.HandleEvent)
	bus.Subscribe("metrics", func(ev events.TransitionEvent) {
		m.TransitionApplied(ev.ToState)
		for _, depth := range dispatcher.QueueDepths() {
			m.SetQueueDepth(depth.ProductFamily, strconv.FormatInt(depth.ServiceCenterID, 10), depth.Depth)
		}
	})

	return &runtimeComposition{
		serverDeps: api.ServerDeps{
			IncidentsSvc:     incidentsSvc,
			Dispatcher:       dispatcher,
			Escalator:        escalator,
			Resolver:         resolver,
			PermissionsStore: permissionsStore,
			RoutesStore:      routesStore,
			AuditStore:       auditStore,
			Metrics:          m,
		},
		bus:        bus,
		dispatcher: dispatcher,
		sweeper:    sweeper,
		metrics:    m,
	}
}
