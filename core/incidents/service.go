package incidents

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"taller-core/config"
	"taller-core/core/audit"
	"taller-core/core/events"
	"taller-core/core/rbac"
	"taller-core/core/store"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrUnknownState      = errors.New("unknown state")
)

// Service owns the incident lifecycle. All state changes go through
// RequestTransition; other components only read.
type Service struct {
	cfg      *config.AppConfig
	store    store.IncidentsStore
	resolver *rbac.Resolver
	recorder *audit.Recorder
	bus      *events.Bus
	logger   zerolog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewService(cfg *config.AppConfig, incidentsStore store.IncidentsStore, resolver *rbac.Resolver, recorder *audit.Recorder, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    incidentsStore,
		resolver: resolver,
		recorder: recorder,
		bus:      bus,
		logger:   logger,
		locks:    map[int64]*sync.Mutex{},
	}
}

// lockFor serializes mutations per incident id. Entries are evicted once the
// incident reaches a terminal state.
func (s *Service) lockFor(id int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// evictLock reclaims the per-incident mutex. Terminal incidents accept no
// further state writes, so a stale reference still held by a racer is
// harmless.
func (s *Service) evictLock(id int64) {
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
}

type CreateInput struct {
	ProductFamily   string
	ServiceCenterID int64
	WantsShipping   bool
}

// Create registers a new incident at front-desk intake.
func (s *Service) Create(ctx context.Context, in CreateInput, actorID int64, role rbac.Role) (*store.Incident, error) {
	ok, err := s.resolver.HasPermission(ctx, actorID, role, rbac.PermRegisterIncidents)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPermissionDenied
	}
	inc := &store.Incident{
		State:           string(StateRegistered),
		ProductFamily:   in.ProductFamily,
		ServiceCenterID: in.ServiceCenterID,
		WantsShipping:   in.WantsShipping,
		CreatedBy:       actorID,
	}
	if _, err := s.store.CreateIncident(ctx, inc, s.cfg.Incidents.CodeFormat); err != nil {
		return nil, err
	}
	s.recorder.RecordChangeAsync(ctx, "incidents", inc.ID, audit.ActionInsert, actorID, nil, incidentSnapshot(inc))
	s.logger.Info().Int64("incident", inc.ID).Str("code", inc.Code).Msg("incident registered")
	return inc, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*store.Incident, error) {
	return s.store.GetIncident(ctx, id)
}

func (s *Service) GetByCode(ctx context.Context, code string) (*store.Incident, error) {
	return s.store.GetIncidentByCode(ctx, code)
}

func (s *Service) List(ctx context.Context, filter store.IncidentFilter) ([]store.Incident, error) {
	return s.store.ListIncidents(ctx, filter)
}

func (s *Service) History(ctx context.Context, id int64) ([]store.HistoryEntry, error) {
	if _, err := s.store.GetIncident(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListHistory(ctx, id)
}

func (s *Service) Observations(ctx context.Context, id int64) ([]store.Observation, error) {
	if _, err := s.store.GetIncident(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListObservations(ctx, id)
}

// RequestTransition validates and applies one lifecycle transition.
//
// Free-text notes are appended to the observation log whether or not the
// transition succeeds, as long as the incident exists. Repeating an
// already-applied transition (target == current) is a no-op success and does
// not grow history.
func (s *Service) RequestTransition(ctx context.Context, incidentID int64, target State, actorID int64, role rbac.Role, note string) (*store.Incident, error) {
	if !ValidState(target) {
		return nil, ErrUnknownState
	}
	lock := s.lockFor(incidentID)
	lock.Lock()
	defer lock.Unlock()

	inc, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if note != "" {
		if _, err := s.store.AddObservation(ctx, &store.Observation{IncidentID: incidentID, ActorID: actorID, Note: note}); err != nil {
			s.logger.Error().Err(err).Int64("incident", incidentID).Msg("observation append failed")
		}
	}
	retries := s.cfg.Incidents.ConflictRetries
	for {
		updated, err := s.applyTransition(ctx, inc, target, actorID, role)
		if errors.Is(err, store.ErrConflict) && retries > 0 {
			retries--
			inc, err = s.store.GetIncident(ctx, incidentID)
			if err != nil {
				return nil, err
			}
			continue
		}
		if err == nil && target.Terminal() {
			s.evictLock(incidentID)
		}
		return updated, err
	}
}

func (s *Service) applyTransition(ctx context.Context, inc *store.Incident, target State, actorID int64, role rbac.Role) (*store.Incident, error) {
	current := State(inc.State)
	if current == target {
		return inc, nil
	}
	required, declared := RequiredPermissions(current, target)
	if !declared {
		return nil, ErrInvalidTransition
	}
	allowed, err := s.resolver.HasAny(ctx, actorID, role, required...)
	if err != nil {
		return nil, err
	}
	if !allowed {
		s.logger.Warn().Int64("incident", inc.ID).Int64("actor", actorID).Str("role", string(role)).
			Str("from", string(current)).Str("to", string(target)).Msg("transition denied")
		return nil, ErrPermissionDenied
	}
	updated, err := s.store.UpdateIncidentState(ctx, inc.ID, string(current), string(target), actorID, inc.Version)
	if err != nil {
		return nil, err
	}
	before := map[string]any{"state": string(current), "updated_at": inc.UpdatedAt}
	after := map[string]any{"state": string(target), "updated_at": updated.UpdatedAt}
	s.recorder.RecordChangeAsync(ctx, "incidents", inc.ID, audit.ActionUpdate, actorID, before, after)
	s.bus.Publish(events.TransitionEvent{
		IncidentID:      inc.ID,
		IncidentCode:    inc.Code,
		FromState:       string(current),
		ToState:         string(target),
		ProductFamily:   inc.ProductFamily,
		ServiceCenterID: inc.ServiceCenterID,
		ActorID:         actorID,
	})
	s.logger.Info().Int64("incident", inc.ID).Str("from", string(current)).Str("to", string(target)).
		Int64("actor", actorID).Msg("transition applied")
	return updated, nil
}

// AssignTechnician stamps the technician on the incident. Used by the
// dispatcher after a successful queue pop; a nil technician clears the field.
func (s *Service) AssignTechnician(ctx context.Context, incidentID int64, technicianID *int64, actorID int64) error {
	lock := s.lockFor(incidentID)
	lock.Lock()
	defer lock.Unlock()
	inc, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	if err := s.store.SetAssignedTechnician(ctx, incidentID, technicianID); err != nil {
		return err
	}
	before := map[string]any{"assigned_technician_id": idValue(inc.AssignedTechnicianID)}
	after := map[string]any{"assigned_technician_id": idValue(technicianID)}
	s.recorder.RecordChangeAsync(ctx, "incidents", incidentID, audit.ActionUpdate, actorID, before, after)
	return nil
}

// TransferCenter moves the incident to another service center. The queue-side
// move is handled by the dispatcher from the caller, after this commits.
func (s *Service) TransferCenter(ctx context.Context, incidentID, toCenter, actorID int64, role rbac.Role) (*store.Incident, error) {
	ok, err := s.resolver.HasPermission(ctx, actorID, role, rbac.PermTransferIncidents)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPermissionDenied
	}
	lock := s.lockFor(incidentID)
	lock.Lock()
	defer lock.Unlock()
	inc, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc.ServiceCenterID == toCenter {
		return inc, nil
	}
	if err := s.store.SetServiceCenter(ctx, incidentID, toCenter); err != nil {
		return nil, err
	}
	before := map[string]any{"service_center_id": inc.ServiceCenterID}
	after := map[string]any{"service_center_id": toCenter}
	s.recorder.RecordChangeAsync(ctx, "incidents", incidentID, audit.ActionUpdate, actorID, before, after)
	return s.store.GetIncident(ctx, incidentID)
}

func incidentSnapshot(inc *store.Incident) map[string]any {
	return map[string]any{
		"code":                   inc.Code,
		"state":                  inc.State,
		"product_family":         inc.ProductFamily,
		"service_center_id":      inc.ServiceCenterID,
		"assigned_technician_id": idValue(inc.AssignedTechnicianID),
		"wants_shipping":         inc.WantsShipping,
		"updated_at":             inc.UpdatedAt,
	}
}

func idValue(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
