package store

import (
	"context"
	"testing"
	"time"
)

func seedIncident(t *testing.T, stores *testStores, state string, center int64) int64 {
	t.Helper()
	inc := &Incident{State: state, ProductFamily: "laptops", ServiceCenterID: center, CreatedBy: 1}
	if _, err := stores.Incidents.CreateIncident(context.Background(), inc, "INC-%06d"); err != nil {
		t.Fatalf("seed incident: %v", err)
	}
	return inc.ID
}

func TestNotificationTierLadder(t *testing.T) {
	stores := newTestDB(t)
	ctx := context.Background()
	id := seedIncident(t, stores, "repaired", 1)

	latest, err := stores.Notifications.LatestForIncident(ctx, id)
	if err != nil || latest != nil {
		t.Fatalf("expected no records, got %+v err=%v", latest, err)
	}
	for tier := 1; tier <= 3; tier++ {
		if _, err := stores.Notifications.AddNotification(ctx, &NotificationRecord{IncidentID: id, Tier: tier}); err != nil {
			t.Fatalf("add tier %d: %v", tier, err)
		}
	}
	latest, err = stores.Notifications.LatestForIncident(ctx, id)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Tier != 3 || latest.Responded {
		t.Fatalf("latest = %+v", latest)
	}

	if err := stores.Notifications.MarkResponded(ctx, id); err != nil {
		t.Fatalf("respond: %v", err)
	}
	latest, _ = stores.Notifications.LatestForIncident(ctx, id)
	if !latest.Responded {
		t.Fatalf("latest not responded: %+v", latest)
	}
}

func TestMandatoryCallFlag(t *testing.T) {
	stores := newTestDB(t)
	ctx := context.Background()
	id := seedIncident(t, stores, "repaired", 1)

	flag, err := stores.Notifications.MandatoryCall(ctx, id)
	if err != nil || flag {
		t.Fatalf("flag before set = %v err=%v", flag, err)
	}
	if err := stores.Notifications.SetMandatoryCall(ctx, id); err != nil {
		t.Fatalf("set: %v", err)
	}
	// Setting twice is idempotent.
	if err := stores.Notifications.SetMandatoryCall(ctx, id); err != nil {
		t.Fatalf("set again: %v", err)
	}
	flag, err = stores.Notifications.MandatoryCall(ctx, id)
	if err != nil || !flag {
		t.Fatalf("flag after set = %v err=%v", flag, err)
	}
}

func TestListUnrespondedFiltersByStateAndAge(t *testing.T) {
	stores := newTestDB(t)
	ctx := context.Background()
	repaired := seedIncident(t, stores, "repaired", 1)
	delivered := seedIncident(t, stores, "delivered", 1)
	answered := seedIncident(t, stores, "ready_for_pickup", 1)

	old := time.Now().UTC().Add(-48 * time.Hour)
	if _, err := stores.Notifications.AddNotification(ctx, &NotificationRecord{IncidentID: repaired, Tier: 1, SentAt: old}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := stores.Notifications.AddNotification(ctx, &NotificationRecord{IncidentID: delivered, Tier: 1, SentAt: old}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := stores.Notifications.AddNotification(ctx, &NotificationRecord{IncidentID: answered, Tier: 1, SentAt: old}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := stores.Notifications.MarkResponded(ctx, answered); err != nil {
		t.Fatalf("respond: %v", err)
	}

	due, err := stores.Notifications.ListUnresponded(ctx, []string{"repaired", "ready_for_pickup", "in_delivery"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(due) != 1 || due[0].IncidentID != repaired {
		t.Fatalf("due = %+v", due)
	}
}

func TestCountsByTier(t *testing.T) {
	stores := newTestDB(t)
	ctx := context.Background()
	states := []string{"repaired", "ready_for_pickup", "in_delivery"}

	// One incident never notified, one at tier 1, one escalated to tier 2.
	seedIncident(t, stores, "repaired", 1)
	tier1 := seedIncident(t, stores, "ready_for_pickup", 1)
	tier2 := seedIncident(t, stores, "in_delivery", 2)
	if _, err := stores.Notifications.AddNotification(ctx, &NotificationRecord{IncidentID: tier1, Tier: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	for tier := 1; tier <= 2; tier++ {
		if _, err := stores.Notifications.AddNotification(ctx, &NotificationRecord{IncidentID: tier2, Tier: tier}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	// Out-of-scope state must not count.
	seedIncident(t, stores, "registered", 1)

	counts, err := stores.Notifications.CountsByTier(ctx, states)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Tier0 != 1 || counts.Tier1 != 1 || counts.Tier2 != 1 || counts.Tier3 != 0 {
		t.Fatalf("counts = %+v", counts)
	}
}
