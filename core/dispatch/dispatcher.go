package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"taller-core/core/events"
	"taller-core/core/incidents"
	"taller-core/core/store"
)

var (
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrEmptyQueue       = errors.New("empty queue")
	ErrNotQueued        = errors.New("incident not queued")
)

// Assigner stamps the technician on the incident after a queue pop. The
// incident service implements it.
type Assigner interface {
	AssignTechnician(ctx context.Context, incidentID int64, technicianID *int64, actorID int64) error
}

type queueKey struct {
	Family string
	Center int64
}

type entry struct {
	IncidentID int64
	EnqueuedAt time.Time
}

type QueueDepth struct {
	ProductFamily   string `json:"product_family"`
	ServiceCenterID int64  `json:"service_center_id"`
	Depth           int    `json:"depth"`
}

// Dispatcher keeps ordered, capacity-bounded FIFO queues per
// (product family, service center) plus per-technician active assignment
// counts. Queues are maintained incrementally from transition events rather
// than rescanned. One mutex guards all queue and counter state; pops are
// atomic, so concurrent technicians cannot violate FIFO order.
type Dispatcher struct {
	routes         store.RoutesStore
	incidents      store.IncidentsStore
	assigner       Assigner
	logger         zerolog.Logger
	maxAssignments int

	mu     sync.Mutex
	queues map[queueKey][]entry
	active map[int64]map[int64]struct{}
	holder map[int64]int64 // incident -> technician currently working it
}

func NewDispatcher(routes store.RoutesStore, incidentsStore store.IncidentsStore, assigner Assigner, maxAssignments int, logger zerolog.Logger) *Dispatcher {
	if maxAssignments <= 0 {
		maxAssignments = 1
	}
	return &Dispatcher{
		routes:         routes,
		incidents:      incidentsStore,
		assigner:       assigner,
		logger:         logger,
		maxAssignments: maxAssignments,
		queues:         map[queueKey][]entry{},
		active:         map[int64]map[int64]struct{}{},
		holder:         map[int64]int64{},
	}
}

// Rebuild reloads queues and active counts from storage after a restart.
func (d *Dispatcher) Rebuild(ctx context.Context) error {
	dispatchable := []string{string(incidents.StateInDiagnosis), string(incidents.StateRepaired)}
	list, err := d.incidents.ListIncidents(ctx, store.IncidentFilter{StateIn: dispatchable})
	if err != nil {
		return err
	}
	working, err := d.incidents.ListIncidents(ctx, store.IncidentFilter{
		StateIn: []string{string(incidents.StateInDiagnosis), string(incidents.StateAwaitingParts),
			string(incidents.StateAwaitingApproval), string(incidents.StateInRepair)},
	})
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queues = map[queueKey][]entry{}
	d.active = map[int64]map[int64]struct{}{}
	d.holder = map[int64]int64{}
	for _, inc := range list {
		// A diagnosis unit with a technician stamp is already being worked
		// on. A repaired unit keeps its stamp from the workshop phase but
		// still belongs in the pickup queue.
		if inc.State == string(incidents.StateInDiagnosis) && inc.AssignedTechnicianID != nil {
			continue
		}
		d.insertLocked(queueKey{inc.ProductFamily, inc.ServiceCenterID}, entry{inc.ID, inc.UpdatedAt})
	}
	for _, inc := range working {
		if inc.AssignedTechnicianID == nil {
			continue
		}
		tech := *inc.AssignedTechnicianID
		if d.active[tech] == nil {
			d.active[tech] = map[int64]struct{}{}
		}
		d.active[tech][inc.ID] = struct{}{}
		d.holder[inc.ID] = tech
	}
	return nil
}

// HandleEvent maintains queues from committed transitions. Registered as an
// event-bus subscriber; failures here never affect the transition itself.
func (d *Dispatcher) HandleEvent(ev events.TransitionEvent) {
	from := incidents.State(ev.FromState)
	to := incidents.State(ev.ToState)
	if from.Dispatchable() && !to.Dispatchable() {
		d.Dequeue(ev.IncidentID)
	}
	if to.Dispatchable() && !from.Dispatchable() {
		d.Enqueue(ev.IncidentID, ev.ProductFamily, ev.ServiceCenterID, ev.At)
	}
	if workConcluded(to) {
		d.release(ev.IncidentID)
	}
}

// workConcluded reports that the holding technician's slot frees up.
func workConcluded(s incidents.State) bool {
	switch s {
	case incidents.StateRepaired, incidents.StateDelivered, incidents.StateCancelled,
		incidents.StateClosed, incidents.StateWarrantyExchange, incidents.StateCreditNote:
		return true
	}
	return false
}

// Enqueue places the incident in FIFO position for its family and center.
// Re-enqueueing an already queued incident is a no-op.
func (d *Dispatcher) Enqueue(incidentID int64, family string, centerID int64, enqueuedAt time.Time) {
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now().UTC()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	key := queueKey{family, centerID}
	for _, e := range d.queues[key] {
		if e.IncidentID == incidentID {
			return
		}
	}
	d.insertLocked(key, entry{incidentID, enqueuedAt})
}

// insertLocked keeps the queue ordered by (enqueuedAt, incidentID) ascending.
func (d *Dispatcher) insertLocked(key queueKey, e entry) {
	q := d.queues[key]
	pos := sort.Search(len(q), func(i int) bool {
		if q[i].EnqueuedAt.Equal(e.EnqueuedAt) {
			return q[i].IncidentID > e.IncidentID
		}
		return q[i].EnqueuedAt.After(e.EnqueuedAt)
	})
	q = append(q, entry{})
	copy(q[pos+1:], q[pos:])
	q[pos] = e
	d.queues[key] = q
}

// Dequeue removes the incident from whichever queue holds it. Removing a
// non-existent entry is a no-op.
func (d *Dispatcher) Dequeue(incidentID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, q := range d.queues {
		for i, e := range q {
			if e.IncidentID == incidentID {
				d.queues[key] = append(q[:i], q[i+1:]...)
				return
			}
		}
	}
}

func (d *Dispatcher) release(incidentID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tech, ok := d.holder[incidentID]
	if !ok {
		return
	}
	delete(d.holder, incidentID)
	if set := d.active[tech]; set != nil {
		delete(set, incidentID)
	}
}

// AssignNext pops the oldest entry the technician is routed for, capacity
// permitting, and stamps the assignment on the incident.
func (d *Dispatcher) AssignNext(ctx context.Context, technicianID, actorID int64) (int64, error) {
	routes, err := d.routes.ListRoutesForTechnician(ctx, technicianID)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	if len(d.active[technicianID]) >= d.maxAssignments {
		d.mu.Unlock()
		return 0, ErrCapacityExceeded
	}
	bestKey, bestIdx := queueKey{}, -1
	var best entry
	for _, route := range routes {
		key := queueKey{route.ProductFamily, route.ServiceCenterID}
		q := d.queues[key]
		if len(q) == 0 {
			continue
		}
		head := q[0]
		if bestIdx == -1 || head.EnqueuedAt.Before(best.EnqueuedAt) ||
			(head.EnqueuedAt.Equal(best.EnqueuedAt) && head.IncidentID < best.IncidentID) {
			bestKey, bestIdx, best = key, 0, head
		}
	}
	if bestIdx == -1 {
		d.mu.Unlock()
		return 0, ErrEmptyQueue
	}
	d.queues[bestKey] = d.queues[bestKey][1:]
	if d.active[technicianID] == nil {
		d.active[technicianID] = map[int64]struct{}{}
	}
	d.active[technicianID][best.IncidentID] = struct{}{}
	d.holder[best.IncidentID] = technicianID
	d.mu.Unlock()

	if err := d.assigner.AssignTechnician(ctx, best.IncidentID, &technicianID, actorID); err != nil {
		// Roll the pop back so the entry is not lost.
		d.mu.Lock()
		delete(d.holder, best.IncidentID)
		if set := d.active[technicianID]; set != nil {
			delete(set, best.IncidentID)
		}
		d.insertLocked(bestKey, best)
		d.mu.Unlock()
		return 0, err
	}
	d.logger.Info().Int64("incident", best.IncidentID).Int64("technician", technicianID).Msg("assignment dispatched")
	return best.IncidentID, nil
}

// PickForQueue chooses the eligible technician with the fewest active
// assignments for a family and center, ties broken by ascending id. Returns
// ErrCapacityExceeded when every eligible technician is at capacity and
// ErrEmptyQueue when nobody is routed for the key.
func (d *Dispatcher) PickForQueue(ctx context.Context, family string, centerID int64) (int64, error) {
	routes, err := d.routes.ListRoutes(ctx)
	if err != nil {
		return 0, err
	}
	var eligible []int64
	for _, route := range routes {
		if route.ProductFamily == family && route.ServiceCenterID == centerID {
			eligible = append(eligible, route.TechnicianID)
		}
	}
	if len(eligible) == 0 {
		return 0, ErrEmptyQueue
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i] < eligible[j] })
	d.mu.Lock()
	defer d.mu.Unlock()
	bestTech, bestLoad := int64(0), -1
	for _, tech := range eligible {
		load := len(d.active[tech])
		if load >= d.maxAssignments {
			continue
		}
		if bestLoad == -1 || load < bestLoad {
			bestTech, bestLoad = tech, load
		}
	}
	if bestLoad == -1 {
		return 0, ErrCapacityExceeded
	}
	return bestTech, nil
}

// Transfer moves a queued incident to another service center as one atomic
// operation: the entry is never observable in both queues or in neither.
func (d *Dispatcher) Transfer(incidentID int64, toCenter int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, q := range d.queues {
		for i, e := range q {
			if e.IncidentID != incidentID {
				continue
			}
			d.queues[key] = append(q[:i], q[i+1:]...)
			d.insertLocked(queueKey{key.Family, toCenter}, entry{incidentID, time.Now().UTC()})
			return nil
		}
	}
	return ErrNotQueued
}

// ActiveCount returns the technician's current active-assignment count.
func (d *Dispatcher) ActiveCount(technicianID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active[technicianID])
}

// QueueDepths snapshots current queue sizes for reporting and metrics.
func (d *Dispatcher) QueueDepths() []QueueDepth {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]QueueDepth, 0, len(d.queues))
	for key, q := range d.queues {
		if len(q) == 0 {
			continue
		}
		out = append(out, QueueDepth{ProductFamily: key.Family, ServiceCenterID: key.Center, Depth: len(q)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductFamily != out[j].ProductFamily {
			return out[i].ProductFamily < out[j].ProductFamily
		}
		return out[i].ServiceCenterID < out[j].ServiceCenterID
	})
	return out
}
