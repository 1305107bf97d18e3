package rbac

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"taller-core/config"
	"taller-core/core/store"
)

func newTestResolver(t *testing.T) (*Resolver, store.PermissionsStore) {
	t.Helper()
	cfg := &config.AppConfig{DBDriver: "sqlite", DBPath: filepath.Join(t.TempDir(), "taller.db")}
	db, err := store.NewDB(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, cfg.DBDriver, zerolog.Nop()); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	overrides := store.NewPermissionsStore(db)
	return NewResolver(overrides), overrides
}

func TestBaselinePermissions(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	ok, err := resolver.HasPermission(ctx, 1, RoleFrontDesk, PermRegisterIncidents)
	if err != nil || !ok {
		t.Fatalf("front_desk register = %v err=%v", ok, err)
	}
	ok, _ = resolver.HasPermission(ctx, 1, RoleFrontDesk, PermRepairIncidents)
	if ok {
		t.Fatal("front_desk must not repair")
	}
}

func TestAdminWildcard(t *testing.T) {
	resolver, overrides := newTestResolver(t)
	ctx := context.Background()

	for _, info := range Catalog() {
		ok, err := resolver.HasPermission(ctx, 42, RoleAdmin, info.Code)
		if err != nil || !ok {
			t.Fatalf("admin missing %s: ok=%v err=%v", info.Code, ok, err)
		}
	}
	// A denial row cannot strip anything from admin.
	if err := overrides.UpsertOverride(ctx, &store.PermissionOverride{UserID: 42, PermissionCode: string(PermViewIncidents), Denied: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	ok, _ := resolver.HasPermission(ctx, 42, RoleAdmin, PermViewIncidents)
	if !ok {
		t.Fatal("admin must ignore denials")
	}
}

func TestDenyOverrideRemovesBaselineGrant(t *testing.T) {
	resolver, overrides := newTestResolver(t)
	ctx := context.Background()

	if err := overrides.UpsertOverride(ctx, &store.PermissionOverride{UserID: 7, PermissionCode: string(PermRegisterIncidents), Denied: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	ok, err := resolver.HasPermission(ctx, 7, RoleFrontDesk, PermRegisterIncidents)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ok {
		t.Fatal("denial must beat the role baseline")
	}
	// Other users with the same role keep the grant.
	ok, _ = resolver.HasPermission(ctx, 8, RoleFrontDesk, PermRegisterIncidents)
	if !ok {
		t.Fatal("override leaked to another user")
	}
}

func TestGrantOverrideAddsPermission(t *testing.T) {
	resolver, overrides := newTestResolver(t)
	ctx := context.Background()

	if err := overrides.UpsertOverride(ctx, &store.PermissionOverride{UserID: 7, PermissionCode: string(PermApproveBudget)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	ok, err := resolver.HasPermission(ctx, 7, RoleTechnician, PermApproveBudget)
	if err != nil || !ok {
		t.Fatalf("grant not applied: ok=%v err=%v", ok, err)
	}
}

func TestLatestOverrideWins(t *testing.T) {
	resolver, overrides := newTestResolver(t)
	ctx := context.Background()

	if err := overrides.UpsertOverride(ctx, &store.PermissionOverride{UserID: 7, PermissionCode: string(PermViewIncidents), Denied: true}); err != nil {
		t.Fatalf("deny: %v", err)
	}
	if err := overrides.UpsertOverride(ctx, &store.PermissionOverride{UserID: 7, PermissionCode: string(PermViewIncidents)}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	rows, err := overrides.ListOverrides(ctx, 7)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].Denied {
		t.Fatalf("rows = %+v", rows)
	}
	ok, _ := resolver.HasPermission(ctx, 7, RoleTechnician, PermViewIncidents)
	if !ok {
		t.Fatal("latest grant must win")
	}
}

func TestUnknownRoleHasEmptyBaseline(t *testing.T) {
	resolver, _ := newTestResolver(t)
	codes, err := resolver.EffectiveCodes(context.Background(), 1, Role("intern"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(codes) != 0 {
		t.Fatalf("codes = %v", codes)
	}
}
