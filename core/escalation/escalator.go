package escalation

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"taller-core/core/events"
	"taller-core/core/incidents"
	"taller-core/core/store"
)

const maxTier = 3

// Status is the escalation view for one incident.
type Status struct {
	IncidentID    int64 `json:"incident_id"`
	Tier          int   `json:"tier"`
	Responded     bool  `json:"responded"`
	MandatoryCall bool  `json:"mandatory_call"`
}

// Escalator tracks the three-tier customer notification ladder. Tiers only
// move up, capped at 3; an unanswered tier 3 flags a mandatory phone call.
type Escalator struct {
	notifications store.NotificationsStore
	incidents     store.IncidentsStore
	logger        zerolog.Logger

	mu sync.Mutex
}

func NewEscalator(notifications store.NotificationsStore, incidentsStore store.IncidentsStore, logger zerolog.Logger) *Escalator {
	return &Escalator{notifications: notifications, incidents: incidentsStore, logger: logger}
}

func notifiableStates() []string {
	return []string{
		string(incidents.StateRepaired),
		string(incidents.StateReadyForPickup),
		string(incidents.StateInDelivery),
	}
}

// HandleEvent creates the tier-1 notification when a unit becomes repaired.
func (e *Escalator) HandleEvent(ev events.TransitionEvent) {
	if incidents.State(ev.ToState) != incidents.StateRepaired {
		return
	}
	if _, err := e.RecordNotification(context.Background(), ev.IncidentID); err != nil {
		e.logger.Error().Err(err).Int64("incident", ev.IncidentID).Msg("tier-1 notification failed")
	}
}

// RecordNotification advances the incident one tier: 0→1, 1→2, 2→3 while
// unresponded. At tier 3 unresponded it sets the mandatory-call flag instead
// of advancing. Incidents no longer in a notifiable state are skipped as a
// no-op, which absorbs races between delivery confirmation and a pending
// escalation sweep.
func (e *Escalator) RecordNotification(ctx context.Context, incidentID int64) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inc, err := e.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return Status{}, err
	}
	if !incidents.State(inc.State).Notifiable() {
		return e.statusLocked(ctx, incidentID)
	}
	latest, err := e.notifications.LatestForIncident(ctx, incidentID)
	if err != nil {
		return Status{}, err
	}
	switch {
	case latest == nil:
		if _, err := e.notifications.AddNotification(ctx, &store.NotificationRecord{IncidentID: incidentID, Tier: 1}); err != nil {
			return Status{}, err
		}
	case latest.Responded:
		// Customer already answered the current tier; nothing to escalate.
	case latest.Tier < maxTier:
		if _, err := e.notifications.AddNotification(ctx, &store.NotificationRecord{IncidentID: incidentID, Tier: latest.Tier + 1}); err != nil {
			return Status{}, err
		}
	default:
		if err := e.notifications.SetMandatoryCall(ctx, incidentID); err != nil {
			return Status{}, err
		}
	}
	return e.statusLocked(ctx, incidentID)
}

// RecordResponse marks the current tier as answered. It does not change the
// tier or the incident lifecycle.
func (e *Escalator) RecordResponse(ctx context.Context, incidentID int64) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.incidents.GetIncident(ctx, incidentID); err != nil {
		return Status{}, err
	}
	if err := e.notifications.MarkResponded(ctx, incidentID); err != nil {
		return Status{}, err
	}
	return e.statusLocked(ctx, incidentID)
}

// IncidentStatus returns the current tier view for one incident.
func (e *Escalator) IncidentStatus(ctx context.Context, incidentID int64) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.incidents.GetIncident(ctx, incidentID); err != nil {
		return Status{}, err
	}
	return e.statusLocked(ctx, incidentID)
}

func (e *Escalator) statusLocked(ctx context.Context, incidentID int64) (Status, error) {
	st := Status{IncidentID: incidentID}
	latest, err := e.notifications.LatestForIncident(ctx, incidentID)
	if err != nil {
		return Status{}, err
	}
	if latest != nil {
		st.Tier = latest.Tier
		st.Responded = latest.Responded
	}
	call, err := e.notifications.MandatoryCall(ctx, incidentID)
	if err != nil {
		return Status{}, err
	}
	st.MandatoryCall = call
	return st, nil
}

// CountsByTier aggregates incidents eligible for notification by current
// tier. Always computed from storage, never cached.
func (e *Escalator) CountsByTier(ctx context.Context) (store.TierCounts, error) {
	return e.notifications.CountsByTier(ctx, notifiableStates())
}
