package incidents

import "taller-core/core/rbac"

// State is the closed lifecycle set for a repair incident.
type State string

const (
	StateRegistered       State = "registered"
	StateInDiagnosis      State = "in_diagnosis"
	StateAwaitingParts    State = "awaiting_parts"
	StateAwaitingApproval State = "awaiting_approval"
	StateInRepair         State = "in_repair"
	StateRepaired         State = "repaired"
	StateReadyForPickup   State = "ready_for_pickup"
	StateInDelivery       State = "in_delivery"
	StateDelivered        State = "delivered"
	StateCancelled        State = "cancelled"
	StateClosed           State = "closed"
	StateWarrantyExchange State = "warranty_exchange"
	StateCreditNote       State = "credit_note"
)

// edge annotates a declared successor with the permission codes that may
// drive it (any one suffices).
type edge struct {
	to    State
	anyOf []rbac.Permission
}

var transitions = map[State][]edge{
	StateRegistered: {
		{StateInDiagnosis, []rbac.Permission{rbac.PermAssignTechnicians}},
		{StateCancelled, []rbac.Permission{rbac.PermCancelIncidents}},
	},
	StateInDiagnosis: {
		{StateAwaitingParts, []rbac.Permission{rbac.PermOrderParts}},
		{StateAwaitingApproval, []rbac.Permission{rbac.PermRequestApproval}},
		{StateInRepair, []rbac.Permission{rbac.PermRepairIncidents}},
		{StateWarrantyExchange, []rbac.Permission{rbac.PermApproveExchanges}},
		{StateCancelled, []rbac.Permission{rbac.PermCancelIncidents}},
	},
	StateAwaitingParts: {
		{StateInRepair, []rbac.Permission{rbac.PermRepairIncidents}},
		{StateCancelled, []rbac.Permission{rbac.PermCancelIncidents}},
	},
	StateAwaitingApproval: {
		{StateInRepair, []rbac.Permission{rbac.PermApproveBudget, rbac.PermRepairIncidents}},
		{StateCreditNote, []rbac.Permission{rbac.PermIssueCreditNotes}},
		{StateCancelled, []rbac.Permission{rbac.PermCancelIncidents}},
	},
	StateInRepair: {
		{StateRepaired, []rbac.Permission{rbac.PermRepairIncidents}},
		{StateAwaitingParts, []rbac.Permission{rbac.PermOrderParts}},
		{StateWarrantyExchange, []rbac.Permission{rbac.PermApproveExchanges}},
	},
	StateRepaired: {
		{StateReadyForPickup, []rbac.Permission{rbac.PermNotifyCustomers}},
		{StateInDelivery, []rbac.Permission{rbac.PermDispatchShipments}},
	},
	StateReadyForPickup: {
		{StateDelivered, []rbac.Permission{rbac.PermDeliverIncidents}},
		{StateClosed, []rbac.Permission{rbac.PermCloseIncidents}},
	},
	StateInDelivery: {
		{StateDelivered, []rbac.Permission{rbac.PermDeliverIncidents}},
	},
	StateWarrantyExchange: {
		{StateClosed, []rbac.Permission{rbac.PermCloseIncidents}},
	},
	StateCreditNote: {
		{StateClosed, []rbac.Permission{rbac.PermCloseIncidents}},
	},
}

// ValidState reports membership in the closed state set.
func ValidState(s State) bool {
	switch s {
	case StateRegistered, StateInDiagnosis, StateAwaitingParts, StateAwaitingApproval,
		StateInRepair, StateRepaired, StateReadyForPickup, StateInDelivery,
		StateDelivered, StateCancelled, StateClosed, StateWarrantyExchange, StateCreditNote:
		return true
	}
	return false
}

// Terminal states are retained forever and accept no further transitions.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateCancelled || s == StateClosed
}

// Dispatchable states are routed through the work queues: a fresh diagnosis
// waits for a technician, a repaired unit waits for pickup/shipping handling.
func (s State) Dispatchable() bool {
	return s == StateInDiagnosis || s == StateRepaired
}

// Notifiable states are those where a customer notification still makes
// sense; escalation is a no-op outside of them.
func (s State) Notifiable() bool {
	return s == StateRepaired || s == StateReadyForPickup || s == StateInDelivery
}

// Successors returns the declared targets from a state, in table order.
func Successors(from State) []State {
	edges := transitions[from]
	out := make([]State, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.to)
	}
	return out
}

// RequiredPermissions returns the any-of permission list for the edge, and
// whether the edge is declared at all.
func RequiredPermissions(from, to State) ([]rbac.Permission, bool) {
	for _, e := range transitions[from] {
		if e.to == to {
			return e.anyOf, true
		}
	}
	return nil, false
}
