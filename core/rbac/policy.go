package rbac

// Permission is a capability code checked against a role baseline plus
// per-user overrides.
type Permission string

const (
	PermRegisterIncidents Permission = "register_incidents"
	PermViewIncidents     Permission = "view_incidents"
	PermAssignTechnicians Permission = "assign_technicians"
	PermDiagnoseIncidents Permission = "diagnose_incidents"
	PermRepairIncidents   Permission = "repair_incidents"
	PermOrderParts        Permission = "order_parts"
	PermRequestApproval   Permission = "request_approval"
	PermApproveBudget     Permission = "approve_budget"
	PermApproveExchanges  Permission = "approve_exchanges"
	PermIssueCreditNotes  Permission = "issue_credit_notes"
	PermNotifyCustomers   Permission = "notify_customers"
	PermDispatchShipments Permission = "dispatch_shipments"
	PermDeliverIncidents  Permission = "deliver_incidents"
	PermTransferIncidents Permission = "transfer_incidents"
	PermCancelIncidents   Permission = "cancel_incidents"
	PermCloseIncidents    Permission = "close_incidents"
	PermManageQueue       Permission = "manage_queue"
	PermManageOverrides   Permission = "manage_overrides"
	PermViewAuditLog      Permission = "view_audit_log"
)

// PermissionInfo describes a catalog entry, grouped by functional module.
type PermissionInfo struct {
	Code   Permission `json:"code"`
	Name   string     `json:"name"`
	Module string     `json:"module"`
}

// Catalog returns every active permission code. Order matches declaration and
// is stable across calls.
func Catalog() []PermissionInfo {
	return []PermissionInfo{
		{PermRegisterIncidents, "Register incidents", "intake"},
		{PermViewIncidents, "View incidents", "intake"},
		{PermAssignTechnicians, "Assign technicians", "workshop"},
		{PermDiagnoseIncidents, "Diagnose incidents", "workshop"},
		{PermRepairIncidents, "Repair incidents", "workshop"},
		{PermOrderParts, "Order parts", "workshop"},
		{PermRequestApproval, "Request budget approval", "workshop"},
		{PermApproveBudget, "Approve budget", "workshop"},
		{PermApproveExchanges, "Approve warranty exchanges", "workshop"},
		{PermIssueCreditNotes, "Issue credit notes", "customer_service"},
		{PermNotifyCustomers, "Notify customers", "customer_service"},
		{PermDispatchShipments, "Dispatch shipments", "logistics"},
		{PermDeliverIncidents, "Confirm delivery", "logistics"},
		{PermTransferIncidents, "Transfer between centers", "logistics"},
		{PermCancelIncidents, "Cancel incidents", "intake"},
		{PermCloseIncidents, "Close incidents", "customer_service"},
		{PermManageQueue, "Manage dispatch queues", "workshop"},
		{PermManageOverrides, "Manage permission overrides", "admin"},
		{PermViewAuditLog, "View audit log", "admin"},
	}
}

// Role is one of the fixed organizational roles. Unknown values resolve to an
// empty baseline, never an error.
type Role string

const (
	RoleFrontDesk                 Role = "front_desk"
	RoleTechnician                Role = "technician"
	RoleShopLead                  Role = "shop_lead"
	RoleLogistics                 Role = "logistics"
	RoleLogisticsLead             Role = "logistics_lead"
	RoleCustomerService           Role = "customer_service"
	RoleCustomerServiceSupervisor Role = "customer_service_supervisor"
	RoleQuality                   Role = "quality"
	RoleQualitySupervisor         Role = "quality_supervisor"
	RoleAdvisor                   Role = "advisor"
	RoleAdmin                     Role = "admin"
	RoleCenterManager             Role = "center_manager"
	RoleRegionalSupervisor        Role = "regional_supervisor"
)

var allRoles = []Role{
	RoleFrontDesk, RoleTechnician, RoleShopLead, RoleLogistics, RoleLogisticsLead,
	RoleCustomerService, RoleCustomerServiceSupervisor, RoleQuality, RoleQualitySupervisor,
	RoleAdvisor, RoleAdmin, RoleCenterManager, RoleRegionalSupervisor,
}

// KnownRole reports whether the value is part of the closed role set.
func KnownRole(role Role) bool {
	for _, r := range allRoles {
		if r == role {
			return true
		}
	}
	return false
}

// KnownPermission reports whether the code belongs to the catalog.
func KnownPermission(code Permission) bool {
	for _, info := range Catalog() {
		if info.Code == code {
			return true
		}
	}
	return false
}

// DefaultGrants is the static role baseline. Admin is handled as a wildcard
// by the resolver and carries no explicit rows here.
func DefaultGrants() map[Role][]Permission {
	return map[Role][]Permission{
		RoleFrontDesk: {
			PermRegisterIncidents, PermViewIncidents, PermCancelIncidents, PermDeliverIncidents,
		},
		RoleTechnician: {
			PermViewIncidents, PermDiagnoseIncidents, PermRepairIncidents, PermOrderParts, PermRequestApproval,
		},
		RoleShopLead: {
			PermViewIncidents, PermDiagnoseIncidents, PermRepairIncidents, PermOrderParts,
			PermRequestApproval, PermAssignTechnicians, PermApproveExchanges, PermManageQueue,
		},
		RoleLogistics: {
			PermViewIncidents, PermDispatchShipments, PermDeliverIncidents, PermTransferIncidents,
		},
		RoleLogisticsLead: {
			PermViewIncidents, PermDispatchShipments, PermDeliverIncidents, PermTransferIncidents, PermManageQueue,
		},
		RoleCustomerService: {
			PermViewIncidents, PermNotifyCustomers,
		},
		RoleCustomerServiceSupervisor: {
			PermViewIncidents, PermNotifyCustomers, PermCloseIncidents, PermIssueCreditNotes,
		},
		RoleQuality: {
			PermViewIncidents, PermViewAuditLog,
		},
		RoleQualitySupervisor: {
			PermViewIncidents, PermViewAuditLog, PermApproveBudget,
		},
		RoleAdvisor: {
			PermViewIncidents, PermRequestApproval,
		},
		RoleCenterManager: {
			PermViewIncidents, PermAssignTechnicians, PermApproveBudget, PermCloseIncidents,
			PermCancelIncidents, PermTransferIncidents, PermManageQueue, PermViewAuditLog,
		},
		RoleRegionalSupervisor: {
			PermViewIncidents, PermViewAuditLog, PermTransferIncidents, PermManageOverrides,
		},
	}
}
