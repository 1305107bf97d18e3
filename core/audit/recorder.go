package audit

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/rs/zerolog"

	"taller-core/core/store"
)

const (
	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Recorder computes before/after diffs and appends them to the audit store.
// Entries are immutable once written.
type Recorder struct {
	store  store.AuditStore
	logger zerolog.Logger
	// fieldOrder fixes the reported order of changed fields per table,
	// matching field declaration order. Unknown keys sort last.
	fieldOrder map[string][]string
}

func NewRecorder(auditStore store.AuditStore, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  auditStore,
		logger: logger,
		fieldOrder: map[string][]string{
			"incidents": {"code", "state", "product_family", "service_center_id", "assigned_technician_id", "wants_shipping", "updated_at"},
		},
	}
}

// RecordChange writes one audit entry for a mutation. For updates,
// changedFields is exactly the set of top-level keys whose values differ; a
// key missing on one side counts as different from an explicit null. Inserts
// and deletes carry the full snapshot and an empty changedFields by
// convention.
func (r *Recorder) RecordChange(ctx context.Context, table string, recordID int64, action string, actorID int64, before, after map[string]any) (*store.AuditEntry, error) {
	entry := &store.AuditEntry{
		Table:         table,
		RecordID:      recordID,
		Action:        action,
		ActorID:       actorID,
		Before:        before,
		After:         after,
		ChangedFields: []string{},
	}
	if action == ActionUpdate {
		entry.ChangedFields = r.changedFields(table, before, after)
	}
	if _, err := r.store.Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// RecordChangeAsync logs and swallows the error: audit writes that trail a
// committed mutation must not fail the caller.
func (r *Recorder) RecordChangeAsync(ctx context.Context, table string, recordID int64, action string, actorID int64, before, after map[string]any) {
	if _, err := r.RecordChange(ctx, table, recordID, action, actorID, before, after); err != nil {
		r.logger.Error().Err(err).Str("table", table).Int64("record", recordID).Msg("audit append failed")
	}
}

func (r *Recorder) Get(ctx context.Context, id int64) (*store.AuditEntry, error) {
	return r.store.Get(ctx, id)
}

func (r *Recorder) Query(ctx context.Context, filter store.AuditFilter) ([]store.AuditEntry, error) {
	return r.store.Query(ctx, filter)
}

func (r *Recorder) changedFields(table string, before, after map[string]any) []string {
	changed := map[string]struct{}{}
	for key, bv := range before {
		av, ok := after[key]
		if !ok || !equalValues(bv, av) {
			changed[key] = struct{}{}
		}
	}
	for key := range after {
		if _, ok := before[key]; !ok {
			changed[key] = struct{}{}
		}
	}
	return r.orderFields(table, changed)
}

func (r *Recorder) orderFields(table string, changed map[string]struct{}) []string {
	out := make([]string, 0, len(changed))
	for _, field := range r.fieldOrder[table] {
		if _, ok := changed[field]; ok {
			out = append(out, field)
			delete(changed, field)
		}
	}
	rest := make([]string, 0, len(changed))
	for field := range changed {
		rest = append(rest, field)
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// equalValues compares through JSON so numeric types coming from different
// sources (int64 vs float64 after a decode round-trip) compare by value.
func equalValues(a, b any) bool {
	ra, err := json.Marshal(a)
	if err != nil {
		return false
	}
	rb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ra) == string(rb)
}
