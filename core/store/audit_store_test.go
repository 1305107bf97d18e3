package store

import (
	"context"
	"testing"
)

func TestAuditQueryLimitClamping(t *testing.T) {
	stores := newTestDB(t)
	ctx := context.Background()
	for i := 0; i < 120; i++ {
		entry := &AuditEntry{Table: "incidents", RecordID: int64(i + 1), Action: "update", ActorID: 9}
		if _, err := stores.Audit.Append(ctx, entry); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	rows, err := stores.Audit.Query(ctx, AuditFilter{Table: "incidents"})
	if err != nil {
		t.Fatalf("query default: %v", err)
	}
	if len(rows) != 100 {
		t.Fatalf("default limit returned %d rows", len(rows))
	}

	// A request above the cap clamps to the cap instead of falling back to
	// the default.
	rows, err = stores.Audit.Query(ctx, AuditFilter{Table: "incidents", Limit: 1000})
	if err != nil {
		t.Fatalf("query over cap: %v", err)
	}
	if len(rows) != 120 {
		t.Fatalf("over-cap limit returned %d rows", len(rows))
	}

	rows, err = stores.Audit.Query(ctx, AuditFilter{Table: "incidents", AfterID: rows[99].ID, Limit: 1000})
	if err != nil {
		t.Fatalf("query cursor: %v", err)
	}
	if len(rows) != 20 || rows[0].RecordID != 101 {
		t.Fatalf("cursor page = %d rows, first record %d", len(rows), rows[0].RecordID)
	}
}
