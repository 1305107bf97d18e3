package rbac

import (
	"context"
	"sort"
	"sync"

	"taller-core/core/store"
)

// Resolver computes effective permission sets: role baseline plus per-user
// grant/deny overrides. The baseline is cached in-process and reloadable;
// overrides are read per call.
type Resolver struct {
	overrides store.PermissionsStore

	mu       sync.RWMutex
	baseline map[Role]map[Permission]struct{}
	universe map[Permission]struct{}
}

func NewResolver(overrides store.PermissionsStore) *Resolver {
	r := &Resolver{overrides: overrides}
	r.reload()
	return r
}

func (r *Resolver) reload() {
	baseline := make(map[Role]map[Permission]struct{})
	for role, perms := range DefaultGrants() {
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		baseline[role] = set
	}
	universe := make(map[Permission]struct{})
	for _, info := range Catalog() {
		universe[info.Code] = struct{}{}
	}
	r.mu.Lock()
	r.baseline = baseline
	r.universe = universe
	r.mu.Unlock()
}

// Invalidate rebuilds the cached baseline after an administrative edit.
func (r *Resolver) Invalidate() {
	r.reload()
}

// EffectivePermissions resolves the permission set for a user. Admin is a
// wildcard over the full catalog and ignores overrides. Unknown roles yield
// an empty baseline; overrides still apply on top of it.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID int64, role Role) (map[Permission]struct{}, error) {
	r.mu.RLock()
	if role == RoleAdmin {
		out := make(map[Permission]struct{}, len(r.universe))
		for p := range r.universe {
			out[p] = struct{}{}
		}
		r.mu.RUnlock()
		return out, nil
	}
	base := r.baseline[role]
	out := make(map[Permission]struct{}, len(base))
	for p := range base {
		out[p] = struct{}{}
	}
	r.mu.RUnlock()

	rows, err := r.overrides.ListOverrides(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		code := Permission(row.PermissionCode)
		if row.Denied {
			delete(out, code)
			continue
		}
		out[code] = struct{}{}
	}
	return out, nil
}

// EffectiveCodes is EffectivePermissions flattened into a sorted slice, for
// callers that render the set.
func (r *Resolver) EffectiveCodes(ctx context.Context, userID int64, role Role) ([]Permission, error) {
	set, err := r.EffectivePermissions(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *Resolver) HasPermission(ctx context.Context, userID int64, role Role, code Permission) (bool, error) {
	if role == RoleAdmin {
		return true, nil
	}
	set, err := r.EffectivePermissions(ctx, userID, role)
	if err != nil {
		return false, err
	}
	_, ok := set[code]
	return ok, nil
}

func (r *Resolver) HasAny(ctx context.Context, userID int64, role Role, codes ...Permission) (bool, error) {
	if role == RoleAdmin {
		return len(codes) > 0, nil
	}
	set, err := r.EffectivePermissions(ctx, userID, role)
	if err != nil {
		return false, err
	}
	for _, code := range codes {
		if _, ok := set[code]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) HasAll(ctx context.Context, userID int64, role Role, codes ...Permission) (bool, error) {
	if role == RoleAdmin {
		return true, nil
	}
	set, err := r.EffectivePermissions(ctx, userID, role)
	if err != nil {
		return false, err
	}
	for _, code := range codes {
		if _, ok := set[code]; !ok {
			return false, nil
		}
	}
	return true, nil
}
