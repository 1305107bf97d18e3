package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

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

type apiFixture struct {
	handler    http.Handler
	overrides  store.PermissionsStore
	routes     store.RoutesStore
	bus        *events.Bus
	dispatcher *dispatch.Dispatcher
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver:   "sqlite",
		DBPath:     filepath.Join(t.TempDir(), "taller.db"),
		ListenAddr: "127.0.0.1:0",
		Incidents:  config.IncidentsConfig{CodeFormat: "INC-%06d", ConflictRetries: 1},
		Dispatch:   config.DispatchConfig{MaxAssignments: 3, EventBuffer: 16},
		Metrics:    config.MetricsConfig{Enabled: false},
	}
	db, err := store.NewDB(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, cfg.DBDriver, zerolog.Nop()); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	incidentsStore := store.NewIncidentsStore(db)
	overrides := store.NewPermissionsStore(db)
	routes := store.NewRoutesStore(db)
	notifications := store.NewNotificationsStore(db)
	audits := store.NewAuditStore(db)

	resolver := rbac.NewResolver(overrides)
	recorder := audit.NewRecorder(audits, zerolog.Nop())
	bus := events.NewBus(cfg.Dispatch.EventBuffer, zerolog.Nop())
	t.Cleanup(bus.Close)
	m := metrics.New(cfg.Metrics)

	svc := incidents.NewService(cfg, incidentsStore, resolver, recorder, bus, zerolog.Nop())
	dispatcher := dispatch.NewDispatcher(routes, incidentsStore, svc, cfg.Dispatch.MaxAssignments, zerolog.Nop())
	escalator := escalation.NewEscalator(notifications, incidentsStore, zerolog.Nop())

	server := NewServer(cfg, ServerDeps{
		IncidentsSvc:     svc,
		Dispatcher:       dispatcher,
		Escalator:        escalator,
		Resolver:         resolver,
		PermissionsStore: overrides,
		RoutesStore:      routes,
		AuditStore:       audits,
		Metrics:          m,
	}, zerolog.Nop())
	return &apiFixture{handler: server.Router(), overrides: overrides, routes: routes, bus: bus, dispatcher: dispatcher}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, actorID int64, role string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if actorID > 0 {
		req.Header.Set("X-Actor-Id", fmt.Sprintf("%d", actorID))
		req.Header.Set("X-Actor-Role", role)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error.Code
}

func TestRequestsWithoutActorRejected(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/incidents", nil, 0, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/incidents", nil, 1, "janitor")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown role status = %d", rec.Code)
	}
}

func TestCreateAndFetchIncident(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/incidents", map[string]any{
		"product_family":    "laptops",
		"service_center_id": 1,
	}, 1, "front_desk")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rec.Code, rec.Body.String())
	}
	var inc store.Incident
	if err := json.Unmarshal(rec.Body.Bytes(), &inc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inc.Code != "INC-000001" || inc.State != "registered" {
		t.Fatalf("incident = %+v", inc)
	}

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/incidents/%d", inc.ID), nil, 1, "front_desk")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/incidents/code/INC-000001", nil, 1, "front_desk")
	if rec.Code != http.StatusOK {
		t.Fatalf("get by code status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/incidents/999", nil, 1, "front_desk")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "resource.not_found" {
		t.Fatalf("missing incident status = %d code=%s", rec.Code, errorCode(t, rec))
	}
}

func TestCreateValidation(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/incidents", map[string]any{"service_center_id": 1}, 1, "front_desk")
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "request.validation_failed" {
		t.Fatalf("status = %d code=%s", rec.Code, errorCode(t, rec))
	}
	// Creating is a service-level permission, not a role label check.
	rec = f.do(t, http.MethodPost, "/api/incidents", map[string]any{"product_family": "laptops", "service_center_id": 1}, 2, "technician")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("technician create status = %d", rec.Code)
	}
}

func TestTransitionEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	created := f.do(t, http.MethodPost, "/api/incidents", map[string]any{"product_family": "laptops", "service_center_id": 1}, 1, "front_desk")
	var inc store.Incident
	_ = json.Unmarshal(created.Body.Bytes(), &inc)
	path := fmt.Sprintf("/api/incidents/%d/transitions", inc.ID)

	rec := f.do(t, http.MethodPost, path, map[string]any{"state": "in_diagnosis"}, 2, "technician")
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "auth.forbidden" {
		t.Fatalf("denied status = %d code=%s", rec.Code, errorCode(t, rec))
	}
	rec = f.do(t, http.MethodPost, path, map[string]any{"state": "in_diagnosis", "note": "bench 3"}, 3, "shop_lead")
	if rec.Code != http.StatusOK {
		t.Fatalf("allowed status = %d body=%s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, path, map[string]any{"state": "delivered"}, 3, "admin")
	if rec.Code != http.StatusUnprocessableEntity || errorCode(t, rec) != "incidents.invalid_transition" {
		t.Fatalf("invalid edge status = %d code=%s", rec.Code, errorCode(t, rec))
	}
	rec = f.do(t, http.MethodPost, path, map[string]any{"state": "smashed"}, 3, "admin")
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "incidents.unknown_state" {
		t.Fatalf("unknown state status = %d code=%s", rec.Code, errorCode(t, rec))
	}

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/incidents/%d/history", inc.ID), nil, 1, "front_desk")
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/incidents/%d/observations", inc.ID), nil, 1, "front_desk")
	if rec.Code != http.StatusOK {
		t.Fatalf("observations status = %d", rec.Code)
	}
}

func TestPermissionGuardHonorsOverrides(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.overrides.UpsertOverride(context.Background(), &store.PermissionOverride{
		UserID: 9, PermissionCode: "view_incidents", Denied: true,
	}); err != nil {
		t.Fatalf("override: %v", err)
	}
	rec := f.do(t, http.MethodGet, "/api/incidents", nil, 9, "front_desk")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("denied view status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/incidents", nil, 10, "front_desk")
	if rec.Code != http.StatusOK {
		t.Fatalf("peer view status = %d", rec.Code)
	}
}

func TestAuditEndpointGuard(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/audit", nil, 1, "front_desk")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("front_desk audit status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/audit", nil, 2, "quality")
	if rec.Code != http.StatusOK {
		t.Fatalf("quality audit status = %d", rec.Code)
	}
}

func TestOverrideAdministration(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPut, "/api/users/7/overrides", map[string]any{
		"permission_code": "approve_budget",
	}, 1, "regional_supervisor")
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d body=%s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPut, "/api/users/7/overrides", map[string]any{
		"permission_code": "launch_rockets",
	}, 1, "regional_supervisor")
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "rbac.unknown_permission" {
		t.Fatalf("unknown code status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/users/7/permissions?role=technician", nil, 1, "regional_supervisor")
	if rec.Code != http.StatusOK {
		t.Fatalf("effective status = %d", rec.Code)
	}
	var body struct {
		Permissions []string `json:"permissions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	found := false
	for _, p := range body.Permissions {
		if p == "approve_budget" {
			found = true
		}
	}
	if !found {
		t.Fatalf("granted override missing from %v", body.Permissions)
	}
	rec = f.do(t, http.MethodDelete, "/api/users/7/overrides/approve_budget", nil, 1, "regional_supervisor")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	// Only override managers may touch overrides.
	rec = f.do(t, http.MethodPut, "/api/users/7/overrides", map[string]any{"permission_code": "approve_budget"}, 2, "technician")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("technician put status = %d", rec.Code)
	}
}

func TestDispatchEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	if _, err := f.routes.AddRoute(ctx, &store.TechnicianRoute{TechnicianID: 5, ProductFamily: "laptops", ServiceCenterID: 1}); err != nil {
		t.Fatalf("route: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/api/dispatch/assignments", map[string]any{"technician_id": 5}, 1, "shop_lead")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "dispatch.queue_empty" {
		t.Fatalf("empty queue status = %d code=%s", rec.Code, errorCode(t, rec))
	}

	created := f.do(t, http.MethodPost, "/api/incidents", map[string]any{"product_family": "laptops", "service_center_id": 1}, 1, "front_desk")
	var inc store.Incident
	_ = json.Unmarshal(created.Body.Bytes(), &inc)
	// The dispatcher is fed directly here; in the composed service the
	// event bus does this on the committed transition.
	f.dispatcher.Enqueue(inc.ID, "laptops", 1, inc.UpdatedAt)

	rec = f.do(t, http.MethodPost, "/api/dispatch/assignments", map[string]any{"technician_id": 5}, 1, "shop_lead")
	if rec.Code != http.StatusOK {
		t.Fatalf("assign status = %d body=%s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodGet, "/api/dispatch/technicians/5/active", nil, 1, "shop_lead")
	if rec.Code != http.StatusOK {
		t.Fatalf("active status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/dispatch/queues", nil, 2, "technician")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("technician queues status = %d", rec.Code)
	}
}

func TestHealthzOpen(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil, 0, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}
